package settings

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/roam/internal/serializer"
)

type layout struct {
	Columns int      `json:"columns" yaml:"columns"`
	Panels  []string `json:"panels" yaml:"panels"`
}

type mode string

func mustLookup(t *testing.T, c *Cache, key string) Value {
	t.Helper()
	v, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("Expected key %q to be cached", key)
	}
	return v
}

func TestAbsentCacheReads(t *testing.T) {
	c := NewCache(nil)

	if c.Materialized() {
		t.Error("New cache should be absent")
	}
	if c.KeyExists("a") || c.SubKeyExists("group", "a") {
		t.Error("Absent cache should have no keys")
	}
	if got := Read(c, "a", 7); got != 7 {
		t.Errorf("Read = %d, want default 7", got)
	}
	if got := ReadSub(c, "group", "a", "def"); got != "def" {
		t.Errorf("ReadSub = %q, want default", got)
	}
	if c.Snapshot() != nil {
		t.Error("Absent cache should snapshot as nil")
	}

	doc, err := c.Document()
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if string(doc) != "{}" {
		t.Errorf("Document = %s, want {}", doc)
	}
}

func TestEmptyCacheIsDistinctFromAbsent(t *testing.T) {
	c := NewCache(nil)
	c.Init()

	if !c.Materialized() || c.Len() != 0 {
		t.Fatalf("Init should give an empty cache (materialized=%v len=%d)", c.Materialized(), c.Len())
	}
	if c.Snapshot() == nil {
		t.Error("Empty cache should snapshot as an empty map")
	}
	if got := Read(c, "a", 7); got != 7 {
		t.Errorf("Read = %d, want default 7", got)
	}

	c.Reset()
	if c.Materialized() {
		t.Error("Reset should make the cache absent")
	}
}

func TestSaveReadRoundTrip(t *testing.T) {
	for _, s := range []serializer.Serializer{serializer.JSON{}, serializer.YAML{}} {
		c := NewCache(s)

		for key, value := range map[string]any{
			"count":   42,
			"ratio":   0.75,
			"enabled": true,
			"name":    "ada",
			"mode":    mode("dark"),
		} {
			if err := Save(c, key, value); err != nil {
				t.Fatalf("Save(%s) failed: %v", key, err)
			}
		}
		want := layout{Columns: 3, Panels: []string{"left", "right"}}
		if err := Save(c, "layout", want); err != nil {
			t.Fatalf("Save(layout) failed: %v", err)
		}

		if got := Read(c, "count", 0); got != 42 {
			t.Errorf("count = %d", got)
		}
		if got := Read(c, "ratio", 0.0); got != 0.75 {
			t.Errorf("ratio = %v", got)
		}
		if !Read(c, "enabled", false) {
			t.Error("enabled = false")
		}
		if got := Read(c, "name", ""); got != "ada" {
			t.Errorf("name = %q", got)
		}
		if got := Read(c, "mode", mode("")); got != "dark" {
			t.Errorf("mode = %q", got)
		}
		if diff := cmp.Diff(want, Read(c, "layout", layout{})); diff != "" {
			t.Errorf("layout mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestPrimitivesAreStoredRaw(t *testing.T) {
	c := NewCache(nil)
	if err := Save(c, "count", 42); err != nil {
		t.Fatal(err)
	}
	if err := Save(c, "layout", layout{Columns: 1}); err != nil {
		t.Fatal(err)
	}

	v := mustLookup(t, c, "count")
	if v.Kind() != KindPrimitive || v.Raw() != 42 {
		t.Errorf("count stored as %s %v", v.Kind(), v.Raw())
	}

	v = mustLookup(t, c, "layout")
	if v.Kind() != KindSerialized || v.Text() != `{"columns":1,"panels":null}` {
		t.Errorf("layout stored as %s %q", v.Kind(), v.Text())
	}
}

func TestReadCoercionFallback(t *testing.T) {
	c := NewCache(nil)

	// Raw strings that are not valid JSON fall back to coercion
	c.Put("plain", Serialized("hello"))
	if got := Read(c, "plain", ""); got != "hello" {
		t.Errorf("plain = %q", got)
	}

	// Numbers stored as text still read as numbers
	c.Put("digits", Serialized("42"))
	if got := Read(c, "digits", 0); got != 42 {
		t.Errorf("digits as int = %d", got)
	}
	if got := Read(c, "digits", ""); got != "42" {
		t.Errorf("digits as string = %q", got)
	}

	// Primitives read as other primitive types
	c.Put("n", Primitive(int64(5)))
	if got := Read(c, "n", ""); got != "5" {
		t.Errorf("n as string = %q", got)
	}
	if got := Read(c, "n", 0.0); got != 5.0 {
		t.Errorf("n as float = %v", got)
	}

	// Nothing works: default
	if got := Read(c, "plain", layout{Columns: 9}); got.Columns != 9 {
		t.Errorf("plain as layout = %+v, want default", got)
	}
	if got := Read(c, "plain", -1); got != -1 {
		t.Errorf("plain as int = %d, want default", got)
	}
}

func TestReadLiteralNullText(t *testing.T) {
	c := NewCache(nil)

	// A raw string "null" arrives from the remote as serialized text
	c.Put("word", Serialized("null"))
	if got := Read(c, "word", "def"); got != "null" {
		t.Errorf("word = %q, want the raw text", got)
	}
	if got := Read(c, "word", 7); got != 7 {
		t.Errorf("word as int = %d, want default", got)
	}
	if got := Read(c, "word", layout{Columns: 9}); got.Columns != 9 {
		t.Errorf("word as layout = %+v, want default", got)
	}

	// Nillable targets still decode null
	if got := Read(c, "word", []string{"def"}); got != nil {
		t.Errorf("word as slice = %v, want nil", got)
	}

	if err := SaveComposite(c, "g", map[string]string{"a": "x"}); err != nil {
		t.Fatal(err)
	}
	mustLookup(t, c, "g").Composite().Set("n", "null")
	if got := ReadSub(c, "g", "n", "def"); got != "null" {
		t.Errorf("sub-key n = %q, want the raw text", got)
	}
}

func TestReadOverflowGivesDefault(t *testing.T) {
	c := NewCache(nil)
	if err := Save(c, "n", 300); err != nil {
		t.Fatal(err)
	}
	if got := Read(c, "n", int8(-1)); got != -1 {
		t.Errorf("300 as int8 = %d, want default", got)
	}
	if got := Read(c, "n", int16(-1)); got != 300 {
		t.Errorf("300 as int16 = %d", got)
	}
}

func TestCompositeSaveRead(t *testing.T) {
	c := NewCache(nil)

	if err := SaveComposite(c, "window", map[string]int{"width": 800, "height": 600}); err != nil {
		t.Fatal(err)
	}
	if !c.KeyExists("window") || !c.SubKeyExists("window", "width") {
		t.Fatal("Composite keys missing after save")
	}
	if c.SubKeyExists("window", "depth") {
		t.Error("Unexpected sub-key depth")
	}
	if got := ReadSub(c, "window", "width", 0); got != 800 {
		t.Errorf("width = %d", got)
	}

	// Second save overwrites only the named sub-key
	if err := SaveComposite(c, "window", map[string]int{"width": 1024}); err != nil {
		t.Fatal(err)
	}
	if got := ReadSub(c, "window", "width", 0); got != 1024 {
		t.Errorf("width after overwrite = %d", got)
	}
	if got := ReadSub(c, "window", "height", 0); got != 600 {
		t.Errorf("height after overwrite = %d", got)
	}

	// Structured entries are serialized
	if err := SaveComposite(c, "panes", map[string]layout{"main": {Columns: 2}}); err != nil {
		t.Fatal(err)
	}
	if got := ReadSub(c, "panes", "main", layout{}); got.Columns != 2 {
		t.Errorf("panes/main = %+v", got)
	}

	// Missing links give the default
	if ReadSub(c, "missing", "width", 5) != 5 || ReadSub(c, "window", "missing", 5) != 5 {
		t.Error("Missing composite links should give the default")
	}

	// Non-composite key is not a composite
	if err := Save(c, "scalar", 1); err != nil {
		t.Fatal(err)
	}
	if c.SubKeyExists("scalar", "x") || ReadSub(c, "scalar", "x", 3) != 3 {
		t.Error("A scalar should not behave like a composite")
	}
}

func TestCompositeOrderAndWire(t *testing.T) {
	comp := NewComposite()
	comp.Set("zeta", `"z"`)
	comp.Set("alpha", `1`)
	comp.Set("zeta", `"zz"`)

	if diff := cmp.Diff([]string{"zeta", "alpha"}, comp.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	data, err := json.Marshal(comp)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if want := `{"zeta":"\"zz\"","alpha":"1"}`; string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}

	back := NewComposite()
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if diff := cmp.Diff(comp.Keys(), back.Keys()); diff != "" {
		t.Errorf("order lost (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(comp.Entries(), back.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	// Hand-edited entries that are not strings are re-encoded
	odd := NewComposite()
	if err := odd.UnmarshalJSON([]byte(`{"n": 3, "b": true}`)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if text, ok := odd.Get("n"); !ok || text != "3" {
		t.Errorf("n = %q, %v", text, ok)
	}

	if err := NewComposite().UnmarshalJSON([]byte(`[1,2]`)); err == nil {
		t.Error("Expected error for non-object composite")
	}
}

func TestCompositeWholeRead(t *testing.T) {
	c := NewCache(nil)
	if err := SaveComposite(c, "g", map[string]string{"a": "x"}); err != nil {
		t.Fatal(err)
	}

	entries := Read(c, "g", map[string]string(nil))
	if diff := cmp.Diff(map[string]string{"a": `"x"`}, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	comp := Read[*Composite](c, "g", nil)
	if comp == nil || comp.Len() != 1 {
		t.Fatalf("Read as *Composite = %v", comp)
	}

	if got := Read(c, "g", 0); got != 0 {
		t.Errorf("composite as int = %d, want default", got)
	}
}

func TestRemove(t *testing.T) {
	c := NewCache(nil)
	if c.Remove("a") {
		t.Error("Remove on an absent cache reported a removal")
	}

	if !c.AddIfAbsent("a", Primitive(1)) || c.AddIfAbsent("a", Primitive(2)) {
		t.Fatal("AddIfAbsent should only store the first value")
	}
	if got := Read(c, "a", 0); got != 1 {
		t.Errorf("a = %d", got)
	}

	if !c.Remove("a") || c.KeyExists("a") {
		t.Error("Remove did not delete a")
	}
	if c.Remove("a") {
		t.Error("Second Remove reported a removal")
	}

	if err := SaveComposite(c, "g", map[string]int{"x": 1, "y": 2}); err != nil {
		t.Fatal(err)
	}
	if !c.RemoveSub("g", "x") {
		t.Fatal("RemoveSub did not find g/x")
	}
	if c.SubKeyExists("g", "x") || !c.SubKeyExists("g", "y") {
		t.Error("RemoveSub touched the wrong entries")
	}
	if c.RemoveSub("g", "x") || c.RemoveSub("missing", "x") || c.RemoveSub("a", "x") {
		t.Error("RemoveSub reported a removal for a missing entry")
	}

	// The composite stays when its last entry goes
	c.RemoveSub("g", "y")
	if !c.KeyExists("g") {
		t.Error("Empty composite was dropped")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	c := NewCache(nil)
	for _, err := range []error{
		Save(c, "count", 3),
		Save(c, "name", "ada"),
		Save(c, "layout", layout{Columns: 2}),
		SaveComposite(c, "window", map[string]string{"title": "main"}),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}

	doc, err := c.Document()
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	want := `{"count":3,"layout":"{\"columns\":2,\"panels\":null}","name":"ada","window":{"title":"\"main\""}}`
	if string(doc) != want {
		t.Errorf("document = %s\nwant       %s", doc, want)
	}

	values, err := DecodeDocument(doc)
	if err != nil {
		t.Fatalf("DecodeDocument failed: %v", err)
	}

	other := NewCache(nil)
	other.Replace(values)

	if Read(other, "count", 0) != 3 || Read(other, "name", "") != "ada" {
		t.Error("Primitives lost in round trip")
	}
	if got := Read(other, "layout", layout{}); got.Columns != 2 {
		t.Errorf("layout = %+v", got)
	}
	if got := ReadSub(other, "window", "title", ""); got != "main" {
		t.Errorf("window/title = %q", got)
	}

	for _, k := range c.Keys() {
		a, _ := c.Lookup(k)
		b, _ := other.Lookup(k)
		if !Equal(a, b) {
			t.Errorf("key %s differs after round trip", k)
		}
	}
}

func TestDecodeDocumentEdgeCases(t *testing.T) {
	values, err := DecodeDocument(nil)
	if err != nil || len(values) != 0 {
		t.Fatalf("DecodeDocument(nil) = %v, %v", values, err)
	}

	values, err = DecodeDocument([]byte(`{"gone": null, "f": 1.5, "list": [1,2], "s": "x"}`))
	if err != nil {
		t.Fatalf("DecodeDocument failed: %v", err)
	}
	if _, ok := values["gone"]; ok {
		t.Error("null member should be skipped")
	}
	if v := values["f"]; v.Kind() != KindPrimitive || v.Raw() != 1.5 {
		t.Errorf("f = %s %v", v.Kind(), v.Raw())
	}
	if v := values["list"]; v.Kind() != KindSerialized || v.Text() != "[1,2]" {
		t.Errorf("list = %s %q", v.Kind(), v.Text())
	}
	if v := values["s"]; v.Kind() != KindSerialized || v.Text() != "x" {
		t.Errorf("s = %s %q", v.Kind(), v.Text())
	}

	if _, err := DecodeDocument([]byte(`[1]`)); err == nil {
		t.Error("Expected error for non-object document")
	}
}

func TestParseDocument(t *testing.T) {
	values, err := ParseDocument([]byte(`{"theme": "dark", "width": 800, "list": [1, 2], "editor": {"tab": "4"}}`))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}

	if v := values["theme"]; v.Kind() != KindPrimitive || v.Raw() != "dark" {
		t.Errorf("theme = %s %v", v.Kind(), v.Raw())
	}
	if v := values["width"]; v.Kind() != KindPrimitive || v.Raw() != int64(800) {
		t.Errorf("width = %s %v", v.Kind(), v.Raw())
	}
	if v := values["list"]; v.Kind() != KindSerialized || v.Text() != "[1,2]" {
		t.Errorf("list = %s %q", v.Kind(), v.Text())
	}
	if v := values["editor"]; v.Kind() != KindComposite {
		t.Errorf("editor = %s", v.Kind())
	}
}

func TestFromWireLargeIntegers(t *testing.T) {
	tests := []struct {
		number string
		want   any
	}{
		{"42", int64(42)},
		{"-9223372036854775808", int64(math.MinInt64)},
		{"18446744073709551615", uint64(math.MaxUint64)},
		{"1.5", 1.5},
		{"1e400", nil},
	}
	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			v, err := FromWire(json.Number(tt.number))
			if tt.want == nil {
				if err == nil {
					t.Fatalf("Expected error, got %v", v.Raw())
				}
				return
			}
			if err != nil {
				t.Fatalf("FromWire failed: %v", err)
			}
			if v.Raw() != tt.want {
				t.Errorf("FromWire(%s) = %T %v, want %T %v", tt.number, v.Raw(), v.Raw(), tt.want, tt.want)
			}
		})
	}

	// A uint64 above MaxInt64 compares equal to itself after a round trip
	local := Primitive(uint64(math.MaxUint64))
	doc, err := EncodeDocument(map[string]Value{"big": local})
	if err != nil {
		t.Fatal(err)
	}
	values, err := DecodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(local, values["big"]) {
		t.Errorf("uint64 changed on the wire: %v", values["big"].Raw())
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int widths", Primitive(1), Primitive(int64(1)), true},
		{"float and int", Primitive(1.0), Primitive(int64(1)), true},
		{"different numbers", Primitive(1), Primitive(99), false},
		{"string and number", Primitive("1"), Primitive(1), false},
		{"serialized and raw string", Serialized("x"), Primitive("x"), true},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}

	a := NewComposite()
	a.Set("x", "1")
	a.Set("y", "2")
	b := NewComposite()
	b.Set("y", "2")
	b.Set("x", "1")
	if !Equal(CompositeValue(a), CompositeValue(b)) {
		t.Error("Composites should compare regardless of order")
	}

	b.Set("x", "3")
	if Equal(CompositeValue(a), CompositeValue(b)) {
		t.Error("Composites with different entries compared equal")
	}
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	c := NewCache(nil)
	if err := SaveComposite(c, "g", map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	snap["g"].Composite().Set("a", "99")

	if got := ReadSub(c, "g", "a", 0); got != 1 {
		t.Errorf("cache changed through snapshot: a = %d", got)
	}
}

func TestPrimitivePanicsOnStructured(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for structured primitive")
		}
	}()
	Primitive(layout{})
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		want any
	}{
		{`"dark"`, KindPrimitive, "dark"},
		{`800`, KindPrimitive, int64(800)},
		{`1.5`, KindPrimitive, 1.5},
		{`true`, KindPrimitive, true},
		{` 7 `, KindPrimitive, int64(7)},
		{`{ "columns": 2 }`, KindSerialized, `{"columns":2}`},
		{`[1, 2]`, KindSerialized, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseJSON([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseJSON failed: %v", err)
			}
			if v.Kind() != tt.kind {
				t.Fatalf("kind = %s, want %s", v.Kind(), tt.kind)
			}
			got := v.Raw()
			if tt.kind == KindSerialized {
				got = v.Text()
			}
			if got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}

	for _, bad := range []string{``, `null`, `{nope`, `1 garbage`, `1 2`, `{"a":1}x`} {
		if _, err := ParseJSON([]byte(bad)); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
