// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modhost/modhost/internal/testutil"
)

func TestExtractSampleArchive(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "stage")
	data := testutil.NewArchive().
		Module(t, "", testutil.SampleManifest("sample", "1.0.0")).
		Dir("lib/native").
		File("lib/native/helper.txt", []byte("helper")).
		Bytes(t)

	if err := Extract(data, dest, DefaultExtractOptions()); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for _, rel := range []string{ManifestFileName, "lib/sample.so", "lib/native/helper.txt"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected %s to be extracted: %v", rel, err)
		}
	}
}

func TestExtractRejectsUnsafeEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(b *testutil.ArchiveBuilder)
	}{
		{name: "parent traversal", build: func(b *testutil.ArchiveBuilder) { b.File("../evil.txt", []byte("x")) }},
		{name: "nested traversal", build: func(b *testutil.ArchiveBuilder) { b.File("lib/../../evil.txt", []byte("x")) }},
		{name: "absolute", build: func(b *testutil.ArchiveBuilder) { b.File("/evil.txt", []byte("x")) }},
		{name: "drive letter", build: func(b *testutil.ArchiveBuilder) { b.File("C:/evil.txt", []byte("x")) }},
		{name: "backslash traversal", build: func(b *testutil.ArchiveBuilder) { b.File(`..\evil.txt`, []byte("x")) }},
		{name: "percent encoded", build: func(b *testutil.ArchiveBuilder) { b.File("%2e%2e/evil.txt", []byte("x")) }},
		{name: "symlink", build: func(b *testutil.ArchiveBuilder) { b.Symlink("lib/link", "/etc/passwd") }},
		{
			name: "duplicate entry",
			build: func(b *testutil.ArchiveBuilder) {
				b.File("lib/dup.so", []byte("a")).File("lib/dup.so", []byte("b"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			parent := t.TempDir()
			dest := filepath.Join(parent, "stage", "inner")

			b := testutil.NewArchive().Module(t, "", testutil.SampleManifest("sample", "1.0.0"))
			tt.build(b)

			err := Extract(b.Bytes(t), dest, DefaultExtractOptions())
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
			}
			if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
				t.Errorf("partial extraction left behind at %s", dest)
			}
			for _, escaped := range []string{
				filepath.Join(parent, "evil.txt"),
				filepath.Join(parent, "stage", "evil.txt"),
			} {
				if _, statErr := os.Stat(escaped); statErr == nil {
					t.Errorf("entry escaped to %s", escaped)
				}
			}
		})
	}
}

func TestExtractLimits(t *testing.T) {
	t.Parallel()

	t.Run("entries", func(t *testing.T) {
		t.Parallel()
		data := testutil.NewArchive().
			File("a", []byte("1")).File("b", []byte("2")).File("c", []byte("3")).
			Bytes(t)
		err := Extract(data, filepath.Join(t.TempDir(), "x"), ExtractOptions{MaxEntries: 2})
		if !errors.Is(err, ErrArchiveTooLarge) {
			t.Errorf("Extract() error = %v, want ErrArchiveTooLarge", err)
		}
	})

	t.Run("bytes", func(t *testing.T) {
		t.Parallel()
		dest := filepath.Join(t.TempDir(), "x")
		data := testutil.NewArchive().
			File("a", bytes.Repeat([]byte("a"), 64)).
			File("b", bytes.Repeat([]byte("b"), 64)).
			Bytes(t)
		err := Extract(data, dest, ExtractOptions{MaxBytes: 100})
		if !errors.Is(err, ErrArchiveTooLarge) {
			t.Errorf("Extract() error = %v, want ErrArchiveTooLarge", err)
		}
		if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
			t.Error("partial extraction left behind")
		}
	})
}

func TestExtractInvalidArchive(t *testing.T) {
	t.Parallel()

	err := Extract([]byte("definitely not a zip"), filepath.Join(t.TempDir(), "x"), DefaultExtractOptions())
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("Extract() error = %v, want ErrInvalidArchive", err)
	}
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	got, err := SafeJoin(root, "lib/./a.so")
	if err != nil {
		t.Fatalf("SafeJoin() error = %v", err)
	}
	if want := filepath.Join(root, "lib", "a.so"); got != want {
		t.Errorf("SafeJoin() = %q, want %q", got, want)
	}

	for _, name := range []string{"", "a\x00b", "..", "a/../..", "/x", "D:x", "%2E%2E/x", `lib\..\..\x`} {
		if _, err := SafeJoin(root, name); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("SafeJoin(%q) error = %v, want ErrUnsafePath", name, err)
		}
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLocateManifest(t *testing.T) {
	t.Parallel()

	t.Run("at root", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{ManifestFileName: "{}"})
		if err := LocateManifest(root); err != nil {
			t.Errorf("LocateManifest() error = %v", err)
		}
	})

	t.Run("single wrapping folder", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"sample/" + ManifestFileName: "{}",
			"sample/lib/sample.so":       "bin",
		})
		if err := LocateManifest(root); err != nil {
			t.Fatalf("LocateManifest() error = %v", err)
		}
		for _, rel := range []string{ManifestFileName, "lib/sample.so"} {
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
				t.Errorf("%s not promoted: %v", rel, err)
			}
		}
		if _, err := os.Stat(filepath.Join(root, "sample")); !os.IsNotExist(err) {
			t.Error("wrapping folder should be gone")
		}
	})

	t.Run("wrapper named like a child", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"lib/" + ManifestFileName: "{}",
			"lib/lib/sample.so":       "bin",
		})
		if err := LocateManifest(root); err != nil {
			t.Fatalf("LocateManifest() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "lib", "sample.so")); err != nil {
			t.Errorf("lib/sample.so not promoted: %v", err)
		}
	})

	missing := map[string]map[string]string{
		"loose file beside folder": {"readme.txt": "hi", "sample/" + ManifestFileName: "{}"},
		"two folders":              {"a/" + ManifestFileName: "{}", "b/x": "y"},
		"nested too deep":          {"a/b/" + ManifestFileName: "{}"},
		"two loose files":          {"readme.txt": "hi", "other.txt": "x"},
	}
	for name, files := range missing {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			writeTree(t, root, files)
			err := LocateManifest(root)
			if !errors.Is(err, ErrMissingManifest) {
				t.Fatalf("LocateManifest() error = %v, want ErrMissingManifest", err)
			}
			if !strings.Contains(err.Error(), "missing manifest.json") {
				t.Errorf("message = %q", err)
			}
		})
	}
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		ManifestFileName:        string(testutil.ManifestJSON(t, testutil.SampleManifest("sample", "1.0.0"))),
		"lib/sample.so":         "binary",
		"lib/sample.deps.json":  `{"libraries": {}}`,
		"assets/nested/data.js": "data",
	})

	var buf bytes.Buffer
	if err := Pack(src, &buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := Extract(buf.Bytes(), dest, DefaultExtractOptions()); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	m, err := ReadManifest(dest)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if err := m.Validate(ValidateOptions{LibDir: filepath.Join(dest, LibDirName)}); err != nil {
		t.Errorf("packed module does not validate: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "assets", "nested", "data.js"))
	if err != nil || string(got) != "data" {
		t.Errorf("nested file = %q, %v", got, err)
	}
}

func TestPackFileRequiresManifest(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"lib/sample.so": "binary"})
	out := filepath.Join(t.TempDir(), "sample.zip")

	_, err := PackFile(src, out)
	if !errors.Is(err, ErrMissingManifest) {
		t.Fatalf("PackFile() error = %v, want ErrMissingManifest", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("failed PackFile left an archive behind")
	}
}
