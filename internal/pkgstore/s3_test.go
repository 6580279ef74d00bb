// SPDX-License-Identifier: MPL-2.0

package pkgstore

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeObjects is an in-memory ObjectAPI.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("bucket unavailable")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeObjects) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func TestS3MirrorPutAndDelete(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	m := NewS3Mirror(NewFSStore(newLayout(t)), objects, MirrorConfig{Bucket: "archives", Prefix: "/modhost/"}, nil)
	ctx := context.Background()

	for _, v := range []string{"1.0.0", "1.0.1"} {
		stored, err := m.Put(ctx, "sample", v, "zip", []byte(v))
		if err != nil || !stored {
			t.Fatalf("Put(%s) = %v, %v", v, stored, err)
		}
	}
	if _, err := m.Put(ctx, "other", "1.0.0", "zip", []byte("o")); err != nil {
		t.Fatal(err)
	}

	want := []string{"modhost/other/1.0.0.zip", "modhost/sample/1.0.0.zip", "modhost/sample/1.0.1.zip"}
	if got := objects.keys(); !slices.Equal(got, want) {
		t.Fatalf("mirrored keys = %v, want %v", got, want)
	}

	// Retained archives are not re-uploaded.
	objects.failPut = true
	if stored, err := m.Put(ctx, "sample", "1.0.0", "zip", []byte("again")); err != nil || stored {
		t.Errorf("repeat Put() = %v, %v", stored, err)
	}

	if err := m.Delete(ctx, "sample", "1.0.0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	want = []string{"modhost/other/1.0.0.zip", "modhost/sample/1.0.1.zip"}
	if got := objects.keys(); !slices.Equal(got, want) {
		t.Fatalf("after Delete keys = %v, want %v", got, want)
	}

	if err := m.DeleteModule(ctx, "sample"); err != nil {
		t.Fatalf("DeleteModule() error = %v", err)
	}
	if got := objects.keys(); !slices.Equal(got, []string{"modhost/other/1.0.0.zip"}) {
		t.Errorf("after DeleteModule keys = %v", got)
	}
	if ok, _ := m.Has(ctx, "sample", "1.0.1"); ok {
		t.Error("local archive survived DeleteModule()")
	}
}

func TestS3MirrorFailureDoesNotFailPut(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	objects.failPut = true
	m := NewS3Mirror(NewFSStore(newLayout(t)), objects, MirrorConfig{Bucket: "archives"}, nil)

	stored, err := m.Put(context.Background(), "sample", "1.0.0", "zip", []byte("x"))
	if err != nil || !stored {
		t.Fatalf("Put() = %v, %v; mirror failure must not fail the local store", stored, err)
	}
	if ok, _ := m.Has(context.Background(), "sample", "1.0.0"); !ok {
		t.Error("archive not retained locally")
	}
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := NewS3Client(context.Background(), MirrorConfig{}); err == nil {
		t.Error("NewS3Client() accepted an empty bucket")
	}
}
