package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DiskStore keeps objects on the local filesystem under Root. Download
// URLs carry an HMAC over (ref, expiry) so they can be handed to a client
// and verified later without consulting storage.
type DiskStore struct {
	Root    string
	BaseURL string
	Secret  []byte
	Now     func() time.Time
}

func NewDiskStore(root, baseURL string, secret []byte) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{Root: root, BaseURL: strings.TrimSuffix(baseURL, "/"), Secret: secret, Now: time.Now}, nil
}

func (s *DiskStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Put writes the object under pathHint with a random suffix so repeated
// submissions for the same task never collide.
func (s *DiskStore) Put(ctx context.Context, data []byte, pathHint string) (string, error) {
	ref := path.Join(pathHint, uuid.New().String()+".zip")
	full := filepath.Join(s.Root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob store: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("blob store: %w", err)
	}
	return ref, nil
}

// Open returns the object bytes for a reference.
func (s *DiskStore) Open(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(ref)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// SignedURL returns an expiring download link for the reference.
func (s *DiskStore) SignedURL(ref string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(filepath.Join(s.Root, filepath.FromSlash(ref))); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("ref", ref)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(ref, expires))
	return s.BaseURL + "/blobs?" + q.Encode(), nil
}

// VerifySignedRef checks the signature and expiry produced by SignedURL.
func (s *DiskStore) VerifySignedRef(ref string, expires int64, sig string) bool {
	if s.now().Unix() > expires {
		return false
	}
	return hmac.Equal([]byte(s.sign(ref, expires)), []byte(sig))
}

func (s *DiskStore) sign(ref string, expires int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	fmt.Fprintf(mac, "%s\n%d", ref, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
