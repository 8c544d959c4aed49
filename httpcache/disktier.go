package httpcache

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/emberfox-browser/netcore/zerortt"
)

// diskEntry is CacheEntry's on-disk JSON shape; http.Header and time.Time
// need no special treatment under encoding/json, so this only exists to
// keep CacheEntry's in-memory pinned counter (never persisted) out of the
// wire format.
type diskEntry struct {
	Fingerprint     string              `json:"fingerprint"`
	Status          int                 `json:"status"`
	Header          http.Header         `json:"header"`
	Body            []byte              `json:"body"`
	Vary            []string            `json:"vary"`
	RequestTime     time.Time           `json:"request_time"`
	ResponseTime    time.Time           `json:"response_time"`
	ExplicitExpiry  time.Time           `json:"explicit_expiry"`
	ETag            string              `json:"etag"`
	LastModified    string              `json:"last_modified"`
	CacheControl    map[string]string   `json:"cache_control"`
	HitCount        int                 `json:"hit_count"`
	LastAccess      time.Time           `json:"last_access"`
	OriginalSize    int                 `json:"original_size"`
	Compressed      string              `json:"compressed"`
	IntegrityDigest [32]byte            `json:"integrity_digest"`
}

// DiskTier is spec.md §4.6's second tier and §6's `cache/` directory: one
// file per entry (no separate index file; an entry is found by its
// fingerprint-derived path), file mode 0600, AEAD-encrypted at rest with a
// key scoped to the directory (derived via HKDF from a SecretStore, the
// same construction zerortt.Store.Save uses for tickets.enc — reused
// directly rather than re-implemented, since both are "one directory, one
// derived AEAD key, atomic tmp-then-rename writes").
type DiskTier struct {
	dir     string
	secrets zerortt.SecretStore
}

var diskHKDFInfo = []byte("netcore httpcache disk-tier v1")

// NewDiskTier returns a tier rooted at dir (created with 0700 if absent).
func NewDiskTier(dir string, secrets zerortt.SecretStore) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &DiskTier{dir: dir, secrets: secrets}, nil
}

func (t *DiskTier) path(fingerprint string) string {
	return filepath.Join(t.dir, hex.EncodeToString([]byte(fingerprint))[:2], fingerprint+".entry")
}

func (t *DiskTier) deriveKey() ([]byte, error) {
	master, err := t.secrets.MasterKey()
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, diskHKDFInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Set persists entry under fingerprint, encrypting the whole JSON-encoded
// record with a directory-scoped AEAD key and writing via tmp-then-rename
// for crash safety.
func (t *DiskTier) Set(fingerprint string, entry *CacheEntry) error {
	de := diskEntry{
		Fingerprint: fingerprint, Status: entry.Status, Header: entry.Header,
		Body: entry.Body, Vary: entry.Vary,
		RequestTime: entry.RequestTime, ResponseTime: entry.ResponseTime,
		ExplicitExpiry: entry.ExplicitExpiry, ETag: entry.ETag, LastModified: entry.LastModified,
		CacheControl: entry.CacheControl, HitCount: entry.HitCount, LastAccess: entry.LastAccess,
		OriginalSize: entry.OriginalSize, Compressed: entry.Compressed,
		IntegrityDigest: entry.IntegrityDigest,
	}
	plain, err := json.Marshal(de)
	if err != nil {
		return err
	}

	key, err := t.deriveKey()
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	ciphertext := aead.Seal(nonce, nonce, plain, nil)

	p := t.path(fingerprint)
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Get decrypts and returns the entry for fingerprint, verifying its
// integrity digest; a verification failure or decrypt error is treated as
// a miss (spec.md §7: "cache errors ... treat as miss; log; never
// propagate").
func (t *DiskTier) Get(fingerprint string) (*CacheEntry, bool) {
	ciphertext, err := os.ReadFile(t.path(fingerprint))
	if err != nil {
		return nil, false
	}
	key, err := t.deriveKey()
	if err != nil {
		return nil, false
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, false
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, false
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, false
	}

	var de diskEntry
	if err := json.Unmarshal(plain, &de); err != nil {
		return nil, false
	}
	entry := &CacheEntry{
		Fingerprint: de.Fingerprint, Status: de.Status, Header: de.Header,
		Body: de.Body, Vary: de.Vary,
		RequestTime: de.RequestTime, ResponseTime: de.ResponseTime,
		ExplicitExpiry: de.ExplicitExpiry, ETag: de.ETag, LastModified: de.LastModified,
		CacheControl: de.CacheControl, HitCount: de.HitCount, LastAccess: de.LastAccess,
		OriginalSize: de.OriginalSize, Compressed: de.Compressed,
		IntegrityDigest: de.IntegrityDigest,
	}
	if !entry.verifyDigest() {
		return nil, false
	}
	return entry, true
}

// Delete removes fingerprint's entry file, if present.
func (t *DiskTier) Delete(fingerprint string) error {
	err := os.Remove(t.path(fingerprint))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Has reports whether fingerprint has a file on disk, without decrypting it.
func (t *DiskTier) Has(fingerprint string) bool {
	_, err := os.Stat(t.path(fingerprint))
	return err == nil
}
