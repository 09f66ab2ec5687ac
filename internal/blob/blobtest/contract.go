// Package blobtest holds the behaviour every blob.Store backend must share.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"labcore/internal/blob"
)

// Exercise runs the common Put/Get/Head/List/Delete contract against store.
func Exercise(t *testing.T, store blob.Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "outbox/a.json", strings.NewReader(`{"n":1}`), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "outbox/a.json" || info.Size != 7 {
		t.Fatalf("put info: %+v", info)
	}
	if _, err := store.Put(ctx, "outbox/a.json", strings.NewReader("x"), blob.PutOptions{}); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("second put: expected ErrExists, got %v", err)
	}
	if _, err := store.Put(ctx, "outbox/b.json", strings.NewReader(`{}`), blob.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if _, err := store.Put(ctx, "other/c.json", strings.NewReader(`{}`), blob.PutOptions{}); err != nil {
		t.Fatalf("put c: %v", err)
	}

	got, rc, err := store.Get(ctx, "outbox/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"n":1}` || got.ContentType != "application/json" {
		t.Fatalf("get: %q %+v", body, got)
	}
	if head, err := store.Head(ctx, "outbox/a.json"); err != nil || head.Size != 7 {
		t.Fatalf("head: %+v %v", head, err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("head missing: %v", err)
	}

	list, err := store.List(ctx, "outbox/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "outbox/a.json" || list[1].Key != "outbox/b.json" {
		t.Fatalf("list: %+v", list)
	}

	if ok, err := store.Delete(ctx, "outbox/a.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "outbox/a.json"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if list, _ := store.List(ctx, ""); len(list) != 2 {
		t.Fatalf("list after delete: %+v", list)
	}
}
