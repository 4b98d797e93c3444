package normcache

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestExtractRestoreRoundTrip(t *testing.T) {
	source := New()
	mustWrite(t, source, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	snapshot := source.Extract(false)

	target := New()
	if err := target.Restore(snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := target.Extract(false); !reflect.DeepEqual(got, snapshot) {
		t.Fatalf("restored store differs:\nwant: %#v\n got: %#v", snapshot, got)
	}
	got, err := target.ReadQuery(ReadOptions{Query: userQuery})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, userData("1", "Ann")) {
		t.Fatalf("unexpected read after restore %v", got)
	}
}

func TestExtractIsDetached(t *testing.T) {
	c := New()
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	snapshot := c.Extract(false)
	snapshot["User:1"]["name"] = "Mallory"
	if name := c.Extract(false)["User:1"]["name"]; name != "Ann" {
		t.Fatalf("mutating an extract changed the store: %v", name)
	}
}

func TestRestoreJSON(t *testing.T) {
	source := New()
	q := Query(Object("user", Leaf("__typename"), Leaf("id"), Leaf("age")))
	mustWrite(t, source, WriteOptions{Query: q, Data: map[string]any{
		"user": map[string]any{"__typename": "User", "id": "1", "age": 30},
	}})
	raw, err := json.Marshal(source.Extract(false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	target := New()
	if err := target.RestoreJSON(raw); err != nil {
		t.Fatalf("restore json: %v", err)
	}
	got, err := target.ReadQuery(ReadOptions{Query: q})
	if err != nil || got == nil {
		t.Fatalf("read after restore: %v %v", got, err)
	}
	if age := got["user"].(map[string]any)["age"]; age != json.Number("30") {
		t.Fatalf("expected numbers to survive as json.Number, got %#v", age)
	}

	if err := target.RestoreJSON([]byte(`{"broken"`)); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("expected ErrInvalidResult for malformed json, got %v", err)
	}
}

func TestRestoreRejectsBadReferences(t *testing.T) {
	c := New()
	cases := []Snapshot{
		{RootQueryID: {"user": map[string]any{"__ref": 7}}},
		{RootQueryID: {"user": map[string]any{"__ref": ""}}},
		{"": {"name": "x"}},
	}
	for i, snapshot := range cases {
		if err := c.Restore(snapshot); !errors.Is(err, ErrInvalidResult) {
			t.Fatalf("case %d: expected ErrInvalidResult, got %v", i, err)
		}
	}
}

func TestRestoreKeepsRefLookalikes(t *testing.T) {
	c := New()
	lookalike := map[string]any{"__ref": "User:1", "extra": true}
	if err := c.Restore(Snapshot{"Doc:1": {"meta": lookalike}}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := c.Extract(false)["Doc:1"]["meta"]; !reflect.DeepEqual(got, lookalike) {
		t.Fatalf("expected plain object to survive, got %#v", got)
	}
}

func TestRestoreKeepsOptimisticLayers(t *testing.T) {
	c := New()
	err := c.RecordOptimisticTransaction("pending", func(tx *Transaction) error {
		return tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Pending")})
	})
	if err != nil {
		t.Fatalf("optimistic: %v", err)
	}
	rec := &recorder{}
	defer mustWatch(t, c, WatchOptions{Query: userQuery}, rec.callback)()

	source := New()
	mustWrite(t, source, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	if err := c.Restore(source.Extract(false)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected restore to notify the base watch, got %d", rec.count())
	}
	got, _ := c.ReadQuery(ReadOptions{Query: userQuery, Optimistic: true})
	if name := got["user"].(map[string]any)["name"]; name != "Pending" {
		t.Fatalf("expected optimistic layer to survive restore, got %v", name)
	}
}
