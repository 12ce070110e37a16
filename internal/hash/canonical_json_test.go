package hash

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCanonicalJSONDeterministic(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}
	ha, _, err := HashCanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _, err := HashCanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected equal digests, got %s vs %s", ha, hb)
	}
	if !strings.HasPrefix(ha, "sha256:") || len(ha) != len("sha256:")+64 {
		t.Fatalf("digest format = %q", ha)
	}
}

func TestCanonicalJSONRawMessage(t *testing.T) {
	cases := map[string]string{
		`{ "z": [1, 2.50, {"b": null, "a": true}], "a": "x" }`: `{"a":"x","z":[1,2.50,{"a":true,"b":null}]}`,
		`[]`:                       `[]`,
		`{}`:                       `{}`,
		`"plain"`:                  `"plain"`,
		`12345678901234567890123`:  `12345678901234567890123`,
		`{"nested":{"k":[false]}}`: `{"nested":{"k":[false]}}`,
	}
	for in, want := range cases {
		got, err := CanonicalJSON(json.RawMessage(in))
		if err != nil {
			t.Fatalf("CanonicalJSON(%s): %v", in, err)
		}
		if string(got) != want {
			t.Errorf("CanonicalJSON(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestCanonicalJSONRejectsMalformed(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":1} {"b":2}`, `nope`} {
		if _, err := CanonicalJSON(json.RawMessage(in)); err == nil {
			t.Errorf("CanonicalJSON(%q): expected error", in)
		}
	}
}

func TestCanonicalJSONStructs(t *testing.T) {
	type inner struct {
		Z int    `json:"z"`
		A string `json:"a"`
	}
	got, err := CanonicalJSON(struct {
		Inner inner           `json:"inner"`
		Raw   json.RawMessage `json:"raw,omitempty"`
	}{Inner: inner{Z: 1, A: "q"}, Raw: json.RawMessage(`{"y":1,"x":2}`)})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"inner":{"a":"q","z":1},"raw":{"x":2,"y":1}}` {
		t.Fatalf("got %s", got)
	}
}

func TestCanonicalJSONUnmarshalable(t *testing.T) {
	if _, err := CanonicalJSON(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
}
