package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labcore/internal/blob"
	"labcore/internal/blob/blobtest"
)

func TestStoreContract(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	blobtest.Exercise(t, s)
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("v"), blob.PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestStoreWritesSidecar(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := s.Put(context.Background(), "a/b.json", strings.NewReader("{}"), blob.PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag == "" || s.Root() != root || s.Driver() != blob.DriverFilesystem {
		t.Fatalf("info: %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b.json.meta")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	head, err := s.Head(context.Background(), "a/b.json")
	if err != nil || head.Metadata["k"] != "v" {
		t.Fatalf("head: %+v %v", head, err)
	}
}
