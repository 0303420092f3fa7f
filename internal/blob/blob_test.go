package blob_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"marketline/internal/blob"
)

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCheckZip(t *testing.T) {
	valid := zipBytes(t)

	if err := blob.CheckZip(valid, "work.zip", "application/zip", 0); err != nil {
		t.Fatalf("valid archive rejected: %v", err)
	}
	// Content type parameters are fine, the media type is what counts.
	if err := blob.CheckZip(valid, "work.zip", "application/zip; charset=binary", 0); err != nil {
		t.Fatalf("content type with params rejected: %v", err)
	}

	if err := blob.CheckZip(valid, "work.rar", "application/zip", 0); !errors.Is(err, blob.ErrInvalidArchive) {
		t.Fatalf("wrong extension: got %v", err)
	}
	if err := blob.CheckZip(valid, "work.zip", "text/plain", 0); !errors.Is(err, blob.ErrInvalidArchive) {
		t.Fatalf("wrong content type: got %v", err)
	}
	if err := blob.CheckZip([]byte("nope"), "work.zip", "application/zip", 0); !errors.Is(err, blob.ErrInvalidArchive) {
		t.Fatalf("non-zip payload: got %v", err)
	}
	if err := blob.CheckZip(valid, "work.zip", "application/zip", 4); !errors.Is(err, blob.ErrTooLarge) {
		t.Fatalf("oversized payload: got %v", err)
	}
}

func TestDiskStoreRoundTrip(t *testing.T) {
	store, err := blob.NewDiskStore(t.TempDir(), "http://localhost:8080", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	data := zipBytes(t)
	ref, err := store.Put(context.Background(), data, "proj-1/task-1")
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Open(ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("stored bytes differ")
	}

	link, err := store.SignedURL(ref, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("expires param: %v", err)
	}
	if q.Get("ref") != ref {
		t.Fatalf("ref param = %q, want %q", q.Get("ref"), ref)
	}
	if !store.VerifySignedRef(ref, expires, q.Get("sig")) {
		t.Fatal("fresh signature did not verify")
	}

	// Tampered ref fails.
	if store.VerifySignedRef(ref+"x", expires, q.Get("sig")) {
		t.Fatal("tampered ref verified")
	}
	// Expired link fails.
	store.Now = func() time.Time { return now.Add(11 * time.Minute) }
	if store.VerifySignedRef(ref, expires, q.Get("sig")) {
		t.Fatal("expired link verified")
	}
}

func TestDiskStoreMissingObject(t *testing.T) {
	store, err := blob.NewDiskStore(t.TempDir(), "http://localhost:8080", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Open("nope/missing.zip"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("open missing: got %v", err)
	}
	if _, err := store.SignedURL("nope/missing.zip", time.Minute); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("sign missing: got %v", err)
	}
}
