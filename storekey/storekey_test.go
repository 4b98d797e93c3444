package storekey

import (
	"errors"
	"testing"
)

func TestKeyWithoutArgumentsIsBareName(t *testing.T) {
	for _, args := range []map[string]any{nil, {}} {
		got, err := Key("user", args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "user" {
			t.Fatalf("expected bare name, got %q", got)
		}
	}
}

func TestKeyIgnoresArgumentOrder(t *testing.T) {
	a := map[string]any{"first": 10, "after": "c1", "filter": map[string]any{"z": true, "a": []any{1, 2}}}
	b := map[string]any{"filter": map[string]any{"a": []any{1, 2}, "z": true}, "after": "c1", "first": 10}

	keyA, err := Key("feed", a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keyB, err := Key("feed", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keyA != keyB {
		t.Fatalf("expected equal keys\n a: %s\n b: %s", keyA, keyB)
	}
	want := `feed({"after":"c1","filter":{"a":[1,2],"z":true},"first":10})`
	if keyA != want {
		t.Fatalf("unexpected key\nwant: %s\n got: %s", want, keyA)
	}
}

func TestKeyDistinguishesArguments(t *testing.T) {
	cases := []struct {
		name string
		a, b map[string]any
	}{
		{name: "different values", a: map[string]any{"x": 1}, b: map[string]any{"x": 2}},
		{name: "absent versus null", a: map[string]any{}, b: map[string]any{"x": nil}},
		{name: "string versus number", a: map[string]any{"x": "1"}, b: map[string]any{"x": 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keyA, errA := Key("field", tc.a)
			keyB, errB := Key("field", tc.b)
			if errA != nil || errB != nil {
				t.Fatalf("unexpected errors: %v %v", errA, errB)
			}
			if keyA == keyB {
				t.Fatalf("expected different keys, both %q", keyA)
			}
		})
	}
}

func TestKeyRejectsCyclicArguments(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	_, err := Key("node", map[string]any{"input": cyclic})
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if serr.Field != "node" {
		t.Fatalf("expected field name on error, got %q", serr.Field)
	}
	if !errors.Is(err, ErrCyclicValue) {
		t.Fatalf("expected cyclic value cause, got %v", serr.Err)
	}
}

func TestKeyAllowsSharedNonCyclicValues(t *testing.T) {
	shared := map[string]any{"v": 1}
	got, err := Key("pair", map[string]any{"left": shared, "right": shared})
	if err != nil {
		t.Fatalf("shared values are not cycles: %v", err)
	}
	if got != `pair({"left":{"v":1},"right":{"v":1}})` {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestKeyRejectsUnencodableValues(t *testing.T) {
	_, err := Key("f", map[string]any{"fn": func() {}})
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}
