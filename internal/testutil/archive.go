// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io/fs"
	"testing"
	"time"
)

type (
	// ArchiveBuilder assembles an in-memory zip. Entries are written in the
	// order they are added, names are used verbatim.
	ArchiveBuilder struct {
		entries []archiveEntry
	}

	archiveEntry struct {
		name string
		body []byte
		mode fs.FileMode
	}

	// ManifestFixture is the JSON shape written by ManifestJSON.
	ManifestFixture struct {
		ID           string              `json:"id"`
		Name         string              `json:"name"`
		Version      string              `json:"version"`
		Entry        EntryFixture        `json:"entry"`
		Host         *HostFixture        `json:"host,omitempty"`
		Dependencies []DependencyFixture `json:"dependencies,omitempty"`
	}

	// EntryFixture mirrors the manifest entry block.
	EntryFixture struct {
		Assembly string `json:"assembly"`
		Type     string `json:"type"`
	}

	// HostFixture mirrors the manifest host block.
	HostFixture struct {
		Min string `json:"min,omitempty"`
		Max string `json:"max,omitempty"`
	}

	// DependencyFixture mirrors a manifest dependency.
	DependencyFixture struct {
		ID    string `json:"id"`
		Range string `json:"range"`
	}
)

// NewArchive returns an empty builder.
func NewArchive() *ArchiveBuilder {
	return &ArchiveBuilder{}
}

// File adds a regular file entry.
func (b *ArchiveBuilder) File(name string, body []byte) *ArchiveBuilder {
	b.entries = append(b.entries, archiveEntry{name: name, body: body, mode: 0o644})
	return b
}

// Dir adds a directory entry. A trailing slash is appended when missing.
func (b *ArchiveBuilder) Dir(name string) *ArchiveBuilder {
	if name == "" || name[len(name)-1] != '/' {
		name += "/"
	}
	b.entries = append(b.entries, archiveEntry{name: name, mode: fs.ModeDir | 0o755})
	return b
}

// Symlink adds a symbolic link entry pointing at target.
func (b *ArchiveBuilder) Symlink(name, target string) *ArchiveBuilder {
	b.entries = append(b.entries, archiveEntry{name: name, body: []byte(target), mode: fs.ModeSymlink | 0o777})
	return b
}

// Module adds manifest.json plus lib/<assembly> under prefix ("" for the archive root).
func (b *ArchiveBuilder) Module(t testing.TB, prefix string, m ManifestFixture) *ArchiveBuilder {
	t.Helper()
	b.File(prefix+"manifest.json", ManifestJSON(t, m))
	if m.Entry.Assembly != "" {
		b.File(prefix+"lib/"+m.Entry.Assembly, []byte("\x7fELF-fixture"))
	}
	return b
}

// Bytes serializes the archive.
func (b *ArchiveBuilder) Bytes(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range b.entries {
		header := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: modified}
		header.SetMode(e.mode)
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.name, err)
		}
		if len(e.body) > 0 {
			if _, err := w.Write(e.body); err != nil {
				t.Fatalf("failed to write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	return buf.Bytes()
}

// ManifestJSON renders m as manifest.json content.
func ManifestJSON(t testing.TB, m ManifestFixture) []byte {
	t.Helper()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	return data
}

// SampleManifest returns a valid uploaded-module manifest for id@version.
func SampleManifest(id, version string) ManifestFixture {
	return ManifestFixture{
		ID:      id,
		Name:    id + " module",
		Version: version,
		Entry:   EntryFixture{Assembly: id + ".so", Type: id + ".Module"},
	}
}

// SampleArchive is a valid archive for id@version with the manifest at the root.
func SampleArchive(t testing.TB, id, version string) []byte {
	t.Helper()
	return NewArchive().Module(t, "", SampleManifest(id, version)).Bytes(t)
}
