package store

import (
	"context"
	"testing"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if err := s.Put(ctx, "widgets", "a", widget{Name: "a", Count: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got widget
	found, err := s.Get(ctx, "widgets", "a", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got.Count != 1 {
		t.Fatalf("unexpected value: found=%v got=%+v", found, got)
	}

	found, err = s.Get(ctx, "widgets", "missing", &got)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if found {
		t.Fatalf("expected missing key to be absent")
	}
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if err := s.InsertIfAbsent(ctx, "widgets", "a", widget{Name: "a"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertIfAbsent(ctx, "widgets", "a", widget{Name: "b"})
	if err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	var got widget
	if _, err := s.Get(ctx, "widgets", "a", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "a" {
		t.Fatalf("second insert must not have overwritten the first: %+v", got)
	}
}

func TestScanOrdersByKey(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, "widgets", k, widget{Name: k}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	var order []string
	err := s.Scan(ctx, "widgets", func(key string, raw []byte) error {
		order = append(order, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected sorted order, got %v", order)
	}
}

func TestDelete(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_ = s.Put(ctx, "widgets", "a", widget{Name: "a"})
	if err := s.Delete(ctx, "widgets", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var got widget
	found, err := s.Get(ctx, "widgets", "a", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("expected key to be gone after delete")
	}
}
