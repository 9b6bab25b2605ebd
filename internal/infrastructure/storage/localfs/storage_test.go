package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveThenOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	store, err := New(dir)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	if err := store.Save(context.Background(), "evaluation-q1.xlsx", strings.NewReader("payload")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := store.Open(context.Background(), "evaluation-q1.xlsx")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", body)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the saved file, got %d entries", len(entries))
	}
}

func TestSaveRejectsPathKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	for _, key := range []string{"", "..", "../escape.xlsx", "nested/file.xlsx"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestSaveHonorsCanceledContext(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, "a.xlsx", strings.NewReader("x")); err == nil {
		t.Fatal("expected context error")
	}
}
