// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"
)

const testSchema = `
#Doc: {
	name:  string
	count: *1 | int
	tags: *[] | [...string]
}
`

type testDoc struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("json input with defaults", func(t *testing.T) {
		t.Parallel()
		doc, err := Decode[testDoc]([]byte(testSchema), []byte(`{"name": "x"}`), "#Doc", "doc.json", true)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if doc.Name != "x" || doc.Count != 1 || len(doc.Tags) != 0 {
			t.Errorf("Decode() = %+v", doc)
		}
	})

	t.Run("type mismatch names the field", func(t *testing.T) {
		t.Parallel()
		_, err := Decode[testDoc]([]byte(testSchema), []byte(`{"name": 3}`), "#Doc", "doc.json", true)
		if err == nil {
			t.Fatal("Decode() expected error")
		}
		if !strings.Contains(err.Error(), "doc.json") || !strings.Contains(err.Error(), "name") {
			t.Errorf("error %q should mention file and field", err)
		}
	})

	t.Run("missing required field when concrete", func(t *testing.T) {
		t.Parallel()
		if _, err := Decode[testDoc]([]byte(testSchema), []byte(`{}`), "#Doc", "doc.json", true); err == nil {
			t.Fatal("Decode() expected error for missing name")
		}
	})

	t.Run("oversized input", func(t *testing.T) {
		t.Parallel()
		big := make([]byte, DefaultMaxFileSize+1)
		if _, err := Decode[testDoc]([]byte(testSchema), big, "#Doc", "big.json", true); err == nil {
			t.Fatal("Decode() expected size error")
		}
	})
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	if got := formatPath([]string{"dependencies", "0", "id"}); got != "dependencies[0].id" {
		t.Errorf("formatPath() = %q", got)
	}
	if got := formatPath(nil); got != "" {
		t.Errorf("formatPath(nil) = %q", got)
	}
}
