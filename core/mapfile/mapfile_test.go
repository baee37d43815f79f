package mapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMapsContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("<html>hi</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(f.Bytes()) != "<html>hi</html>" || f.Len() != 15 {
		t.Errorf("Unexpected mapping %q (len %d)", f.Bytes(), f.Len())
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if f.Bytes() != nil || f.Len() != 0 {
		t.Error("Mapping still visible after Close")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("Expected empty mapping, got %d", f.Len())
	}
	f.Close()
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing.html")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := Open(dir); err == nil {
		t.Error("Expected error for directory")
	}
}
