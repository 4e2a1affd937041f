// Package e2e provides end-to-end tests running a complete hoplite server
// over real connections.
package e2e

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/rsesek/hoplite/adapters/random"
	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/modules/notes"
)

// TestE2E_NotesFlow tests a request flow through every layer:
// 1. Start hoplite with the notes module, a file cache and a template watcher
// 2. Create a note over HTTP/1.1
// 3. Render the listing, with one shipped template overridden on disk
// 4. Edit the override and see the page follow
// 5. Check the cache files, metrics and h2c
func TestE2E_NotesFlow(t *testing.T) {
	dir := t.TempDir()
	tplDir := filepath.Join(dir, "templates")
	header := filepath.Join(tplDir, "notes", "header.tpl")
	writeFile(t, header, `<h1>My notes: {%= .count | int %}</h1>`, time.Now())

	// 1. Start hoplite
	addr := startServer(t, fmt.Sprintf(`
server:
  h2c: true
database:
  dsn: %s
templates:
  dir: %s
  watch: true
  cache:
    path: %s/
metrics:
  enabled: true
`, filepath.Join(dir, "e2e.db"), tplDir, filepath.Join(dir, "cache")))
	base := "http://" + addr

	client := &http.Client{Timeout: 5 * time.Second}

	// 2. Create a note
	form := url.Values{"title": {"Buy milk"}, "body": {"two litres"}}
	req, _ := http.NewRequest(http.MethodPut, base+"/notes", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body: %s", resp.StatusCode, body)
	}
	var created map[string]any
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("decode created note: %v", err)
	}
	if created["title"] != "Buy milk" || created["id"] != float64(1) {
		t.Errorf("created = %v", created)
	}

	// 3. Listing uses the override
	page := getBody(t, client, base+"/notes")
	if !strings.Contains(page, "<h1>My notes: 1</h1>") {
		t.Errorf("listing does not use the header on disk:\n%s", page)
	}
	if !strings.Contains(page, `<a href="/notes/1">Buy milk</a>`) {
		t.Errorf("listing missing the note:\n%s", page)
	}

	// 4. Edit the override; the new file is renamed into place with a newer mtime
	tmp := filepath.Join(dir, "header.tmp")
	writeFile(t, tmp, `<h2>Edited {%= .count | int %}</h2>`, time.Now().Add(2*time.Second))
	if err := os.Rename(tmp, header); err != nil {
		t.Fatalf("replace header: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(getBody(t, client, base+"/notes"), "<h2>Edited 1</h2>") {
		if time.Now().After(deadline) {
			t.Fatal("listing did not pick up the edited template")
		}
		time.Sleep(50 * time.Millisecond)
	}

	// 5. Cache files, metrics, h2c
	for _, name := range []string{"notes/list", "notes/header"} {
		if _, err := os.Stat(filepath.Join(dir, "cache", name+".phpi")); err != nil {
			t.Errorf("cache file for %s: %v", name, err)
		}
	}

	metrics := getBody(t, client, base+"/metrics")
	if !strings.Contains(metrics, `hoplite_requests_total{method="PUT"`) {
		t.Errorf("metrics missing request counts:\n%s", metrics)
	}

	h2 := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
	resp, err = h2.Get(base + "/notes/1?format=json")
	if err != nil {
		t.Fatalf("h2c request: %v", err)
	}
	body = readBody(t, resp)
	if resp.Proto != "HTTP/2.0" {
		t.Errorf("proto = %s, want HTTP/2.0", resp.Proto)
	}
	if !strings.Contains(body, `"slug"`) {
		t.Errorf("h2c body = %s", body)
	}
}

// TestE2E_ConfigReload tests that routes follow the config file while the
// server runs.
func TestE2E_ConfigReload(t *testing.T) {
	dir := t.TempDir()
	cfgTemplate := `
database:
  dsn: %s
templates:
  cache:
    mode: none
routes:
  - pattern: "%s"
    target: "notes"
`
	dsn := filepath.Join(dir, "reload.db")
	cfgPath := filepath.Join(dir, "hoplite.yaml")
	writeFile(t, cfgPath, fmt.Sprintf(cfgTemplate, dsn, "memo//"), time.Now())

	addr := serve(t, cfgPath)
	client := &http.Client{Timeout: 5 * time.Second}

	if got := status(t, client, "http://"+addr+"/memo?format=json"); got != http.StatusOK {
		t.Fatalf("memo status = %d, want 200", got)
	}

	writeFile(t, cfgPath, fmt.Sprintf(cfgTemplate, dsn, "journal//"), time.Now())

	deadline := time.Now().Add(5 * time.Second)
	for status(t, client, "http://"+addr+"/journal?format=json") != http.StatusOK {
		if time.Now().After(deadline) {
			t.Fatal("journal route not installed after config change")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := status(t, client, "http://"+addr+"/memo?format=json"); got != http.StatusNotFound {
		t.Errorf("memo status after reload = %d, want 404", got)
	}
}

func startServer(t *testing.T, cfg string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hoplite.yaml")
	writeFile(t, path, cfg, time.Now())
	return serve(t, path)
}

func serve(t *testing.T, cfgPath string) string {
	t.Helper()
	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgPath,
		Modules: []bootstrap.Module{
			notes.New(notes.WithRandom(random.NewFake().WithValues([]byte("abcdefgh")))),
		},
		Registry:  prometheus.NewRegistry(),
		LogOutput: io.Discard,
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func getBody(t *testing.T, client *http.Client, u string) string {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	return readBody(t, resp)
}

func status(t *testing.T, client *http.Client, u string) int {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	readBody(t, resp)
	return resp.StatusCode
}
