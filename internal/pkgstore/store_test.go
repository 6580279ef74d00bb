// SPDX-License-Identifier: MPL-2.0

package pkgstore

import (
	"context"
	"os"
	"testing"

	"github.com/modhost/modhost/pkg/hostmod"
)

func newLayout(t *testing.T) hostmod.Layout {
	t.Helper()
	l, err := hostmod.NewLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Ensure(); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestFSStorePutIsCreateOnly(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	s := NewFSStore(l)
	ctx := context.Background()

	stored, err := s.Put(ctx, "sample", "1.0.0", "zip", []byte("first"))
	if err != nil || !stored {
		t.Fatalf("Put() = %v, %v; want stored", stored, err)
	}
	stored, err = s.Put(ctx, "sample", "1.0.0", "zip", []byte("second"))
	if err != nil || stored {
		t.Fatalf("second Put() = %v, %v; want skipped", stored, err)
	}

	got, err := os.ReadFile(l.PackagePath("sample", "1.0.0", "zip"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first" {
		t.Errorf("archive = %q, existing archive must not be overwritten", got)
	}
}

func TestFSStoreHasAndDelete(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	s := NewFSStore(l)
	ctx := context.Background()

	for _, v := range []string{"1.0.0", "2.0.0"} {
		if _, err := s.Put(ctx, "sample", v, "zip", []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	if ok, err := s.Has(ctx, "sample", "1.0.0"); err != nil || !ok {
		t.Fatalf("Has(1.0.0) = %v, %v", ok, err)
	}
	if ok, _ := s.Has(ctx, "sample", "1.0"); ok {
		t.Error("Has() matched a version prefix")
	}

	if err := s.Delete(ctx, "sample", "1.0.0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := s.Has(ctx, "sample", "1.0.0"); ok {
		t.Error("1.0.0 still retained after Delete()")
	}
	if ok, _ := s.Has(ctx, "sample", "2.0.0"); !ok {
		t.Error("Delete() removed another version")
	}

	if err := s.Delete(ctx, "sample", "2.0.0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(l.PackageDir("sample")); !os.IsNotExist(err) {
		t.Error("empty package directory should be removed")
	}

	if err := s.Delete(ctx, "missing", "1.0.0"); err != nil {
		t.Errorf("Delete() of a missing archive error = %v", err)
	}
}

func TestFSStoreDeleteModule(t *testing.T) {
	t.Parallel()

	l := newLayout(t)
	s := NewFSStore(l)
	ctx := context.Background()

	if _, err := s.Put(ctx, "sample", "1.0.0", "zip", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteModule(ctx, "sample"); err != nil {
		t.Fatalf("DeleteModule() error = %v", err)
	}
	if _, err := os.Stat(l.PackageDir("sample")); !os.IsNotExist(err) {
		t.Error("package directory still present")
	}
}
