package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.zip")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := FileMD5(path)
	if err != nil {
		t.Fatalf("FileMD5 failed: %v", err)
	}
	if want := "5d41402abc4b2a76b9719d911017c592"; got != want {
		t.Fatalf("FileMD5=%s want=%s", got, want)
	}

	fromReader, err := Reader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	if fromReader != got {
		t.Fatalf("Reader=%s want=%s", fromReader, got)
	}
}

func TestFileMD5Missing(t *testing.T) {
	if _, err := FileMD5(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"ABC", "abc", true},
		{"abc", "abd", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Fatalf("Equal(%q,%q)=%t want=%t", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBytes(t *testing.T) {
	if got, want := Bytes([]byte("hello")), "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"; got != want {
		t.Fatalf("Bytes=%s want=%s", got, want)
	}
}
