package filecache_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/adapters/filecache"
	"github.com/rsesek/hoplite/adapters/idgen"
)

func setup(t *testing.T) (afero.Fs, *filecache.Backend) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/cache", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return fsys, filecache.New(fsys, "/cache/")
}

func countFiles(t *testing.T, fsys afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fsys, "/cache")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestBackend_Path(t *testing.T) {
	_, b := setup(t)
	if got := b.Path("cache_test"); got != "/cache/cache_test.phpi" {
		t.Errorf("Path = %q", got)
	}

	b = filecache.New(afero.NewMemMapFs(), "/c/", filecache.WithExt(".tpl.go"))
	if got := b.Path("x"); got != "/c/x.tpl.go" {
		t.Errorf("Path with ext = %q", got)
	}
}

func TestBackend_CacheCompiled(t *testing.T) {
	fsys, b := setup(t)
	ctx := context.Background()
	now := time.Now()

	if countFiles(t, fsys) != 0 {
		t.Fatal("cache dir should start empty")
	}

	if _, ok, err := b.Get(ctx, "cache_test", now); ok || err != nil {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}

	want := "This is a test."
	if err := b.Put(ctx, "cache_test", now, []byte(want)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n := countFiles(t, fsys); n != 1 {
		t.Errorf("files after Put = %d, want 1", n)
	}

	got, err := afero.ReadFile(fsys, "/cache/cache_test.phpi")
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if string(got) != want {
		t.Errorf("cache file = %q, want %q", got, want)
	}
}

func TestBackend_CacheHit(t *testing.T) {
	fsys, b := setup(t)
	ctx := context.Background()

	path := "/cache/cache_test.phpi"
	if err := afero.WriteFile(fsys, path, []byte("Cache hit!"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, _ := fsys.Stat(path)

	data, ok, err := b.Get(ctx, "cache_test", info.ModTime())
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if string(data) != "Cache hit!" {
		t.Errorf("data = %q", data)
	}
}

func TestBackend_CacheMiss(t *testing.T) {
	fsys, b := setup(t)
	ctx := context.Background()

	if err := afero.WriteFile(fsys, "/cache/cache_test.phpi", []byte("Invalid template data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, ok, _ := b.Get(ctx, "cache_test", time.Now().Add(time.Minute)); ok {
		t.Error("entry older than the source must be a miss")
	}
}

func TestBackend_StampsSourceTime(t *testing.T) {
	_, b := setup(t)
	ctx := context.Background()

	source := time.Date(2024, 3, 1, 12, 0, 0, int(100*time.Millisecond), time.UTC)
	if err := b.Put(ctx, "page", source, []byte("compiled")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	tests := []struct {
		name    string
		modTime time.Time
		hit     bool
	}{
		{"same time", source, true},
		{"older source", source.Add(-time.Hour), true},
		{"sub-second older", source.Add(-50 * time.Millisecond), true},
		{"sub-second newer", source.Add(800 * time.Millisecond), false},
		{"newer source", source.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "page", tt.modTime)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if ok != tt.hit {
				t.Errorf("hit = %v, want %v", ok, tt.hit)
			}
		})
	}
}

func TestBackend_NestedName(t *testing.T) {
	fsys, b := setup(t)
	ctx := context.Background()

	if err := b.Put(ctx, "admin/users", time.Now(), []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ok, _ := afero.Exists(fsys, "/cache/admin/users.phpi"); !ok {
		t.Error("expected nested cache file")
	}
}

func TestBackend_PutFailure(t *testing.T) {
	b := filecache.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/cache/")
	if err := b.Put(context.Background(), "x", time.Now(), []byte("x")); err == nil {
		t.Error("expected error writing to a read-only filesystem")
	}
}

func TestBackend_TempFileRenamed(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ids := idgen.NewSequential("w")
	b := filecache.New(fsys, "/cache/", filecache.WithIDGenerator(ids))

	for i := 0; i < 2; i++ {
		if err := b.Put(context.Background(), "page", time.Now(), []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if n := countFiles(t, fsys); n != 1 {
		t.Errorf("files in cache dir = %d, want 1", n)
	}
	if ok, _ := afero.Exists(fsys, "/cache/page.phpi.w2.tmp"); ok {
		t.Error("temporary file left behind")
	}
}
