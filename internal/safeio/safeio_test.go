package safeio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveRejectsEscapes(t *testing.T) {
	fs, err := NewDataFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDataFS: %v", err)
	}
	for _, p := range []string{"../outside", "/etc/passwd", "a/../../b", ""} {
		if _, err := fs.Resolve(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	fs, err := NewDataFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDataFS: %v", err)
	}
	if err := fs.WriteFileAtomic("reg/ids.json", []byte(`["a1"]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.WriteFileAtomic("reg/ids.json", []byte(`["a1","b2"]`)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := fs.ReadFile("reg/ids.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `["a1","b2"]` {
		t.Fatalf("unexpected content: %s", got)
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(fs.Root(), "reg"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("stray temp file: %s", e.Name())
		}
	}
}

func TestAppendLine(t *testing.T) {
	fs, err := NewDataFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDataFS: %v", err)
	}
	if err := fs.AppendLine("conv/ab12.ndjson", []byte(`{"seq":1}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fs.AppendLine("conv/ab12.ndjson", []byte(`{"seq":2}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := fs.ReadFile("conv/ab12.ndjson")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\"seq\":1}\n{\"seq\":2}\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
