package normcache

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTransactionAbortDiscardsWrites(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	err := c.PerformTransaction(func(tx *Transaction) error {
		if err := tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if len(c.Extract(false)) != 0 {
		t.Fatalf("aborted transaction left records: %v", c.Extract(false))
	}
}

func TestTransactionIgnoredWriteErrorStillAborts(t *testing.T) {
	c := New()
	var second error
	err := c.PerformTransaction(func(tx *Transaction) error {
		_ = tx.WriteQuery(WriteOptions{Query: userQuery, Data: map[string]any{"user": 42}})
		second = tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
		return nil
	})
	if !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("expected the first write error, got %v", err)
	}
	if !errors.Is(second, ErrInvalidTransaction) {
		t.Fatalf("expected writes after a failure to be refused, got %v", second)
	}
	if len(c.Extract(false)) != 0 {
		t.Fatalf("aborted transaction left records")
	}
}

func TestTransactionReadsItsOwnWrites(t *testing.T) {
	c := New()
	err := c.PerformTransaction(func(tx *Transaction) error {
		if err := tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")}); err != nil {
			return err
		}
		got, err := tx.ReadQuery(ReadOptions{Query: userQuery})
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, userData("1", "Ann")) {
			t.Errorf("transaction read mismatch: %v", got)
		}
		if len(c.stack.Snapshot()) != 0 {
			t.Errorf("staged writes visible outside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestTransactionUseAfterReturn(t *testing.T) {
	c := New()
	var leaked *Transaction
	if err := c.PerformTransaction(func(tx *Transaction) error {
		leaked = tx
		return nil
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	err := leaked.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
	if _, err := leaked.ReadQuery(ReadOptions{Query: userQuery}); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction on read, got %v", err)
	}
}

func TestTransactionPanicReleasesLock(t *testing.T) {
	c := New()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = c.PerformTransaction(func(tx *Transaction) error {
			_ = tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
			panic("boom")
		})
	}()

	if len(c.Extract(false)) != 0 {
		t.Fatalf("panicking transaction committed records")
	}
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("2", "Bo")})
}

// runWithin fails the test when fn does not return before the deadline.
func runWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call did not return within %s", d)
	}
}

func TestTransactionAllowsCacheCallsFromFunction(t *testing.T) {
	c := New()
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})

	var committed, staged any
	var txErr error
	runWithin(t, 2*time.Second, func() {
		txErr = c.PerformTransaction(func(tx *Transaction) error {
			if err := tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Staged")}); err != nil {
				return err
			}
			got, err := c.ReadQuery(ReadOptions{Query: userQuery})
			if err != nil {
				return err
			}
			committed = got["user"].(map[string]any)["name"]
			mine, err := tx.ReadQuery(ReadOptions{Query: userQuery})
			if err != nil {
				return err
			}
			staged = mine["user"].(map[string]any)["name"]
			return c.WriteQuery(WriteOptions{Query: userQuery, Data: userData("2", "Nested")})
		})
	})
	if txErr != nil {
		t.Fatalf("transaction: %v", txErr)
	}
	if committed != "Ann" || staged != "Staged" {
		t.Fatalf("expected committed Ann and staged Staged, got %v and %v", committed, staged)
	}
	snapshot := c.Extract(false)
	if snapshot["User:1"]["name"] != "Staged" || snapshot["User:2"]["name"] != "Nested" {
		t.Fatalf("expected both writes committed, got %v", snapshot)
	}
}

func TestTransactionFailsWhenLayerRemovedDuringRun(t *testing.T) {
	c := New()
	var err error
	runWithin(t, 2*time.Second, func() {
		err = c.RecordOptimisticTransaction("a", func(tx *Transaction) error {
			if err := tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "A")}); err != nil {
				return err
			}
			return c.RemoveOptimistic("a")
		})
	})
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
	if got := c.Extract(true); len(got) != 0 {
		t.Fatalf("removed layer left records %v", got)
	}
	if err := c.RecordOptimisticTransaction("a", func(*Transaction) error { return nil }); err != nil {
		t.Fatalf("layer id should be reusable: %v", err)
	}
}

func TestTransactionFailsWhenResetDuringRun(t *testing.T) {
	c := New()
	var err error
	runWithin(t, 2*time.Second, func() {
		err = c.PerformTransaction(func(tx *Transaction) error {
			if err := tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "Ann")}); err != nil {
				return err
			}
			c.Reset()
			return nil
		})
	})
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
	if len(c.Extract(false)) != 0 {
		t.Fatalf("writes staged before reset were committed")
	}
}

func TestTransactionRequiresFunction(t *testing.T) {
	c := New()
	if err := c.PerformTransaction(nil); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestOptimisticLayerShadowsAndRemoves(t *testing.T) {
	c := New()
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})

	err := c.RecordOptimisticTransaction("rename", func(tx *Transaction) error {
		if tx.LayerID() != "rename" {
			t.Errorf("unexpected layer id %q", tx.LayerID())
		}
		return tx.WriteFragment(FragmentOptions{
			ID:       "User:1",
			Fragment: Fragment("Name", "User", Leaf("name")),
			Data:     map[string]any{"name": "Pending"},
		})
	})
	if err != nil {
		t.Fatalf("optimistic: %v", err)
	}

	optimistic, err := c.ReadQuery(ReadOptions{Query: userQuery, Optimistic: true})
	if err != nil {
		t.Fatalf("optimistic read: %v", err)
	}
	if !reflect.DeepEqual(optimistic, userData("1", "Pending")) {
		t.Fatalf("optimistic read should see the whole shadowed entity, got %v", optimistic)
	}
	base, err := c.ReadQuery(ReadOptions{Query: userQuery})
	if err != nil {
		t.Fatalf("base read: %v", err)
	}
	if !reflect.DeepEqual(base, userData("1", "Ann")) {
		t.Fatalf("base read leaked optimistic data: %v", base)
	}
	if name := c.Extract(true)["User:1"]["name"]; name != "Pending" {
		t.Fatalf("optimistic extract mismatch: %v", name)
	}

	if err := c.RemoveOptimistic("rename"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	after, err := c.ReadQuery(ReadOptions{Query: userQuery, Optimistic: true})
	if err != nil {
		t.Fatalf("read after remove: %v", err)
	}
	if !reflect.DeepEqual(after, userData("1", "Ann")) {
		t.Fatalf("expected base data after removal, got %v", after)
	}
}

func TestOptimisticLayerIDErrors(t *testing.T) {
	c := New()
	noop := func(*Transaction) error { return nil }
	if err := c.RecordOptimisticTransaction("a", noop); err != nil {
		t.Fatalf("first layer: %v", err)
	}
	if err := c.RecordOptimisticTransaction("a", noop); !errors.Is(err, ErrDuplicateLayerID) {
		t.Fatalf("expected ErrDuplicateLayerID, got %v", err)
	}
	if err := c.RemoveOptimistic("missing"); !errors.Is(err, ErrUnknownLayerID) {
		t.Fatalf("expected ErrUnknownLayerID, got %v", err)
	}
	if err := c.RecordOptimisticTransaction("", noop); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction for empty id, got %v", err)
	}
}

func TestFailedOptimisticTransactionLeavesNoLayer(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	if err := c.RecordOptimisticTransaction("a", func(*Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if err := c.RemoveOptimistic("a"); !errors.Is(err, ErrUnknownLayerID) {
		t.Fatalf("failed transaction left its layer behind: %v", err)
	}
	if err := c.RecordOptimisticTransaction("a", func(*Transaction) error { return nil }); err != nil {
		t.Fatalf("layer id should be reusable: %v", err)
	}
}

func TestRemovingLowerLayerKeepsUpper(t *testing.T) {
	c := New()
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	layer := func(id, name string) {
		t.Helper()
		err := c.RecordOptimisticTransaction(id, func(tx *Transaction) error {
			return tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", name)})
		})
		if err != nil {
			t.Fatalf("layer %s: %v", id, err)
		}
	}
	layer("a", "A")
	layer("b", "B")

	if err := c.RemoveOptimistic("a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	got, _ := c.ReadQuery(ReadOptions{Query: userQuery, Optimistic: true})
	if name := got["user"].(map[string]any)["name"]; name != "B" {
		t.Fatalf("expected layer b to remain visible, got %v", name)
	}
	if err := c.RemoveOptimistic("b"); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	got, _ = c.ReadQuery(ReadOptions{Query: userQuery, Optimistic: true})
	if name := got["user"].(map[string]any)["name"]; name != "Ann" {
		t.Fatalf("expected base after removing every layer, got %v", name)
	}
}

func TestRemovingLayerRollsBackItsFields(t *testing.T) {
	c := New()
	full := Query(Object("user", Leaf("__typename"), Leaf("id"), Leaf("name"), Leaf("email")))
	emailOnly := Query(Object("user", Leaf("__typename"), Leaf("id"), Leaf("email")))
	mustWrite(t, c, WriteOptions{Query: full, Data: map[string]any{
		"user": map[string]any{"__typename": "User", "id": "1", "name": "Ann", "email": "ann@base"},
	}})

	err := c.RecordOptimisticTransaction("a", func(tx *Transaction) error {
		return tx.WriteQuery(WriteOptions{Query: emailOnly, Data: map[string]any{
			"user": map[string]any{"__typename": "User", "id": "1", "email": "pending@a"},
		}})
	})
	if err != nil {
		t.Fatalf("layer a: %v", err)
	}
	err = c.RecordOptimisticTransaction("b", func(tx *Transaction) error {
		return tx.WriteQuery(WriteOptions{Query: userQuery, Data: userData("1", "B")})
	})
	if err != nil {
		t.Fatalf("layer b: %v", err)
	}

	if err := c.RemoveOptimistic("a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	got, err := c.ReadQuery(ReadOptions{Query: full, Optimistic: true})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	user := got["user"].(map[string]any)
	if user["email"] != "ann@base" {
		t.Fatalf("expected email from the base after removing a, got %v", user["email"])
	}
	if user["name"] != "B" {
		t.Fatalf("expected layer b to stay visible, got %v", user["name"])
	}
}

func TestResetDropsEverything(t *testing.T) {
	c := New()
	mustWrite(t, c, WriteOptions{Query: userQuery, Data: userData("1", "Ann")})
	_ = c.RecordOptimisticTransaction("a", func(*Transaction) error { return nil })
	c.Reset()
	if len(c.Extract(true)) != 0 {
		t.Fatalf("reset left records")
	}
	if err := c.RemoveOptimistic("a"); !errors.Is(err, ErrUnknownLayerID) {
		t.Fatalf("reset left layers: %v", err)
	}
}
