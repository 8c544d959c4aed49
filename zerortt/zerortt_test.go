package zerortt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfox-browser/netcore/netlog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(FileSecretStore{Path: filepath.Join(t.TempDir(), "secret")}, netlog.Discard())
}

func TestTicketRanking(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	low := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 1.0, Expiry: now.Add(time.Hour)}
	high := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 5.0, Expiry: now.Add(time.Hour)}
	s.Add(low)
	s.Add(high)

	got := s.TakeFor("example.com", "h2")
	require.NotNil(t, got)
	assert.Same(t, high, got)
}

func TestTicketUnusableAfterThreeRejections(t *testing.T) {
	s := newTestStore(t)
	tk := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 1.0, Expiry: time.Now().Add(time.Hour)}
	s.Add(tk)

	for i := 0; i < MaxRejections; i++ {
		s.OnRejected(tk)
	}
	assert.Nil(t, s.TakeFor("example.com", "h2"))
}

func TestTicketExpiryIsPruned(t *testing.T) {
	s := newTestStore(t)
	expired := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 1.0, Expiry: time.Now().Add(-time.Minute)}
	s.Add(expired)
	assert.Nil(t, s.TakeFor("example.com", "h2"))
}

func TestSuccessRateAffectsRanking(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	seasoned := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 10.0, Expiry: now.Add(time.Hour)}
	seasoned.onRejected()
	seasoned.onRejected() // 0 accepted of 2 tried: success rate 0, still usable

	fresh := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 10.0, Expiry: now.Add(time.Hour)}

	s.Add(seasoned)
	s.Add(fresh)

	got := s.TakeFor("example.com", "h2")
	assert.Same(t, fresh, got, "fresh ticket with 1.0 default success rate should outrank a twice-rejected one at equal base priority")
}

func TestALPNIsolation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	h2 := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 1.0, Expiry: now.Add(time.Hour)}
	s.Add(h2)

	assert.Nil(t, s.TakeFor("example.com", "h3"))
	assert.Same(t, h2, s.TakeFor("example.com", "h2"))
}

func TestMethodAllowedDefaultsToIdempotent(t *testing.T) {
	tk := &Ticket{}
	assert.True(t, tk.MethodAllowed("GET"))
	assert.True(t, tk.MethodAllowed("HEAD"))
	assert.False(t, tk.MethodAllowed("POST"))
}

func TestMarkPriorityCapsPrecomputedHeaders(t *testing.T) {
	tk := &Ticket{BasePriority: 1.0}
	for i := 0; i < maxPrecomputedHeaders+3; i++ {
		tk.MarkPriority(string(rune('a'+i)), []byte("block"), 2.0)
	}
	assert.LessOrEqual(t, len(tk.precomputedHeaders), maxPrecomputedHeaders)
	assert.Equal(t, 2.0, tk.BasePriority)
}

func TestReplayGuardRejectsDuplicateNonce(t *testing.T) {
	g := &replayGuard{}
	nonce := []byte("abc123")
	assert.True(t, g.Observe(1, nonce))
	assert.False(t, g.Observe(1, nonce))
}

func TestReplayGuardAcceptsDistinctSequence(t *testing.T) {
	g := &replayGuard{}
	assert.True(t, g.Observe(1, []byte("one")))
	assert.True(t, g.Observe(2, []byte("two")))
}

func TestStoreCheckReplayPerOrigin(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.CheckReplay("a.com", 1, []byte("n")))
	assert.False(t, s.CheckReplay("a.com", 1, []byte("n")))
	assert.True(t, s.CheckReplay("b.com", 1, []byte("n")), "distinct origin has its own replay window")
}

func TestOnRejectedBacksOffAndResetsOnAccept(t *testing.T) {
	s := newTestStore(t)
	tk := &Ticket{Origin: "example.com", ALPN: "h2", BasePriority: 1.0, Expiry: time.Now().Add(time.Hour)}
	s.Add(tk)

	first := s.OnRejected(tk)
	second := s.OnRejected(tk)
	assert.Greater(t, second, first, "backoff should widen between successive rejections")

	s.OnAccepted(tk)
	third := s.OnRejected(tk)
	assert.Equal(t, first, third, "a successful accept should reset the backoff to its floor")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := FileSecretStore{Path: filepath.Join(dir, "secret")}
	s1 := NewStore(secrets, netlog.Discard())

	tk := &Ticket{
		Origin: "example.com", ALPN: "h2", BasePriority: 3.0,
		Opaque: []byte{1, 2, 3}, IssuedAt: time.Now(), Expiry: time.Now().Add(time.Hour),
	}
	s1.Add(tk)
	tk.onAccepted()

	path := filepath.Join(dir, "tickets.enc")
	require.NoError(t, s1.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	s2 := NewStore(secrets, netlog.Discard())
	require.NoError(t, s2.Load(path))

	got := s2.TakeFor("example.com", "h2")
	require.NotNil(t, got)
	assert.Equal(t, tk.Origin, got.Origin)
	assert.Equal(t, tk.Opaque, got.Opaque)
	assert.Equal(t, 1, got.accepted)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Load(filepath.Join(t.TempDir(), "nonexistent.enc")))
}
