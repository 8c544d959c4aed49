package zerortt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

func unixTime(sec int64) time.Time { return time.Unix(sec, 0) }

// persistedTicket is Ticket's on-disk shape: accepted/rejected are exported
// here (Ticket keeps them unexported since callers must go through
// onAccepted/onRejected to keep successRate's bookkeeping honest).
type persistedTicket struct {
	Origin         string    `json:"origin"`
	Opaque         []byte    `json:"opaque"`
	IssuedAt       int64     `json:"issued_at"`
	Expiry         int64     `json:"expiry"`
	ALPN           string    `json:"alpn"`
	BasePriority   float64   `json:"base_priority"`
	Accepted       int       `json:"accepted"`
	Rejected       int       `json:"rejected"`
	AllowedMethods []string  `json:"allowed_methods,omitempty"`
}

// hkdfInfo labels the key-derivation step so a master key reused elsewhere
// never accidentally collides with this file's derived key.
var hkdfInfo = []byte("netcore zerortt tickets.enc v1")

// deriveFileKey narrows a SecretStore's master key down to an AEAD key
// scoped to this one persistence use, the standard HKDF-SHA256 expand step.
func deriveFileKey(master []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Save encrypts and atomically persists the store's current tickets to
// path (conventionally "tickets.enc"). It tmp-writes then renames, the same
// crash-safety pattern the teacher's bytebufferpool-backed frame writers
// rely on at the wire level, applied here to the filesystem.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	list := make([]persistedTicket, 0, len(s.tickets))
	for _, t := range s.tickets {
		list = append(list, persistedTicket{
			Origin: t.Origin, Opaque: t.Opaque,
			IssuedAt: t.IssuedAt.Unix(), Expiry: t.Expiry.Unix(),
			ALPN: t.ALPN, BasePriority: t.BasePriority,
			Accepted: t.accepted, Rejected: t.rejected,
			AllowedMethods: t.AllowedMethods,
		})
	}
	s.mu.Unlock()

	plain, err := json.Marshal(list)
	if err != nil {
		return err
	}

	master, err := s.secrets.MasterKey()
	if err != nil {
		return err
	}
	key, err := deriveFileKey(master)
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

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load decrypts and restores tickets persisted by Save, replacing the
// store's in-memory contents. A missing file is not an error: it just
// means this is the first run.
func (s *Store) Load(path string) error {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	master, err := s.secrets.MasterKey()
	if err != nil {
		return err
	}
	key, err := deriveFileKey(master)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	if len(ciphertext) < aead.NonceSize() {
		return errors.New("zerortt: ticket file truncated")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return err
	}

	var list []persistedTicket
	if err := json.Unmarshal(plain, &list); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = make(map[string][]*Ticket, len(list))
	for _, pt := range list {
		t := &Ticket{
			Origin: pt.Origin, Opaque: pt.Opaque,
			IssuedAt: unixTime(pt.IssuedAt), Expiry: unixTime(pt.Expiry),
			ALPN: pt.ALPN, BasePriority: pt.BasePriority,
			accepted: pt.Accepted, rejected: pt.Rejected,
			AllowedMethods: pt.AllowedMethods,
		}
		s.tickets[t.Origin] = append(s.tickets[t.Origin], t)
	}
	return nil
}
