package filter_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rsesek/hoplite/domain/filter"
)

func testSources() filter.Sources {
	return filter.Sources{
		Get: map[string]any{
			"gint":   "12",
			"gfloat": "3.14",
			"gstr":   ` "Hello World" `,
			"ghtml":  `<blink>"Hello World"</blink>`,
			"gbool":  "True",
		},
		Post: map[string]any{
			"pstr":   `<script type="text/javascript"> alert("Hello world"); </script>`,
			"pbool":  "YES",
			"parray": []any{"13", 15, "19", "22.23"},
		},
	}
}

func newInput(t *testing.T, def filter.Type) *filter.Input {
	t.Helper()
	in, err := filter.NewInput(testSources(), def)
	if err != nil {
		t.Fatalf("NewInput failed: %v", err)
	}
	return in
}

func TestNewInput_DefaultMode(t *testing.T) {
	in := newInput(t, filter.TypeStr)
	if got := in.In["gstr"]; got != `"Hello World"` {
		t.Errorf("gstr = %#v", got)
	}
	if got := in.In["parray"]; !reflect.DeepEqual(got, []any{"13", "15", "19", "22.23"}) {
		t.Errorf("parray = %#v", got)
	}

	raw := newInput(t, filter.TypeRaw)
	if _, ok := raw.In["gstr"]; ok {
		t.Error("raw mode should not populate In")
	}
}

func TestInput_Clean(t *testing.T) {
	in := newInput(t, filter.TypeStr)

	got, err := in.Clean("gint", filter.TypeInt)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if got != int64(12) || in.In["gint"] != int64(12) {
		t.Errorf("gint = %#v / %#v", got, in.In["gint"])
	}

	got, _ = in.Clean("ghtml", filter.TypeHTML)
	if got != `&lt;blink&gt;&quot;Hello World&quot;&lt;/blink&gt;` {
		t.Errorf("ghtml = %#v", got)
	}
}

func TestInput_CleanMap(t *testing.T) {
	in := newInput(t, filter.TypeStr)

	err := in.CleanMap(map[string]filter.Type{
		"gfloat": filter.TypeFloat,
		"pbool":  filter.TypeBool,
		"gbool":  filter.TypeBool,
	})
	if err != nil {
		t.Fatalf("CleanMap failed: %v", err)
	}
	if in.In["gfloat"] != 3.14 {
		t.Errorf("gfloat = %#v", in.In["gfloat"])
	}
	if in.In["pbool"] != true || in.In["gbool"] != true {
		t.Errorf("bools = %#v, %#v", in.In["pbool"], in.In["gbool"])
	}
}

func TestInput_InputCleanDeep(t *testing.T) {
	in := newInput(t, filter.TypeStr)

	got, err := in.InputCleanDeep(filter.SourcePost, "parray", filter.TypeUint)
	if err != nil {
		t.Fatalf("InputCleanDeep failed: %v", err)
	}
	want := []any{int64(13), int64(15), int64(19), int64(22)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parray = %#v, want %#v", got, want)
	}
	if !reflect.DeepEqual(in.In["parray"], want) {
		t.Errorf("In[parray] = %#v", in.In["parray"])
	}
}

func TestInput_Errors(t *testing.T) {
	in := newInput(t, filter.TypeRaw)

	if _, err := in.InputClean(filter.SourcePost, "parray", filter.TypeStr); !errors.Is(err, filter.ErrInput) {
		t.Errorf("non-scalar error = %v, want ErrInput", err)
	}
	if _, err := in.InputClean("x", "gint", filter.TypeInt); !errors.Is(err, filter.ErrInput) {
		t.Errorf("unknown source error = %v, want ErrInput", err)
	}
	if _, err := in.Clean("gint", filter.Type(99)); !errors.Is(err, filter.ErrInput) {
		t.Errorf("unknown type error = %v, want ErrInput", err)
	}
}

func TestSanitizeScalar_Uint(t *testing.T) {
	got, err := filter.SanitizeScalar("-5", filter.TypeUint)
	if err != nil || got != int64(0) {
		t.Errorf("SanitizeScalar(-5, uint) = %#v, %v", got, err)
	}
}

func TestParseType(t *testing.T) {
	if typ, err := filter.ParseType(" HTML "); err != nil || typ != filter.TypeHTML {
		t.Errorf("ParseType = %v, %v", typ, err)
	}
	if _, err := filter.ParseType("blob"); !errors.Is(err, filter.ErrInput) {
		t.Errorf("ParseType(blob) error = %v", err)
	}
}
