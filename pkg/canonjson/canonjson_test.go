package canonjson

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeSortsKeysAtEveryLevel(t *testing.T) {
	in := map[string]any{
		"zeta": 1,
		"alpha": map[string]any{
			"nested_z": true,
			"nested_a": "x",
		},
	}
	out, err := EncodeString(in)
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	want := `{"alpha":{"nested_a":"x","nested_z":true},"zeta":1}`
	if out != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	in := map[string]any{
		"b": []any{1, 2, 3},
		"a": map[string]any{"k2": "v2", "k1": "v1"},
		"c": nil,
	}
	first, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("iteration %d produced different bytes", i)
		}
	}
}

func TestEncodePreservesArrayOrder(t *testing.T) {
	in := map[string]any{"turns": []any{"second offer", "first offer", "third offer"}}
	out, err := EncodeString(in)
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	want := `{"turns":["second offer","first offer","third offer"]}`
	if out != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestEncodeEscapesNonASCII(t *testing.T) {
	out, err := EncodeString(map[string]any{"price": "€4.50"})
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if out != `{"price":"\u20ac4.50"}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
	if strings.ContainsRune(out, '€') {
		t.Fatalf("raw non-ASCII rune leaked into output")
	}
}

func TestEncodeEscapesAstralPlane(t *testing.T) {
	out, err := EncodeString("deal \U0001F4B0")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	// U+1F4B0 encodes as the surrogate pair d83d/dcb0
	if out != `"deal \ud83d\udcb0"` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestEncodeControlCharacters(t *testing.T) {
	out, err := EncodeString("a\nb\tcd")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if out != `"a\nb\tc\u0001d"` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestEncodeStructNormalizes(t *testing.T) {
	type entry struct {
		Speaker string `json:"speaker"`
		Message string `json:"message"`
	}
	out, err := EncodeString(entry{Speaker: "buyer", Message: "hi"})
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if out != `{"message":"hi","speaker":"buyer"}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestEncodeNumberLiteralsStable(t *testing.T) {
	in := map[string]any{"agreed_price": json.Number("3.25"), "quantity": json.Number("100")}
	out, err := EncodeString(in)
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if out != `{"agreed_price":3.25,"quantity":100}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestEncodeOutputIsValidJSON(t *testing.T) {
	in := map[string]any{
		"compromise": map[string]any{"status": "pending_mediator_review"},
		"entries":    []any{map[string]any{"speaker": "a", "message": "über offer"}},
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}
