package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordquizzle/wordquizzle/internal/account"
	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/pool"
	"github.com/wordquizzle/wordquizzle/internal/dictionary"
	"github.com/wordquizzle/wordquizzle/internal/match"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// fakeStore resolves usernames to the datagram sockets the test controls.
type fakeStore struct {
	mu        sync.Mutex
	addresses map[string]*net.UDPAddr
	friends   map[string]map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		addresses: make(map[string]*net.UDPAddr),
		friends:   make(map[string]map[string]bool),
	}
}

func (s *fakeStore) befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.friends[a] == nil {
		s.friends[a] = make(map[string]bool)
	}
	if s.friends[b] == nil {
		s.friends[b] = make(map[string]bool)
	}
	s.friends[a][b] = true
	s.friends[b][a] = true
}

func (s *fakeStore) AddressOf(username string) (*net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[username]
	if !ok {
		// Wrapped so the error mapping is pinned to errors.Is matching.
		return nil, fmt.Errorf("resolving %s: %w", username, account.ErrNotLogged)
	}
	return addr, nil
}

func (s *fakeStore) AreFriends(username, friend string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends[username][friend], nil
}

func (s *fakeStore) Login(string, string, net.IP, int) error { return nil }
func (s *fakeStore) Logout(string) error                     { return nil }
func (s *fakeStore) AddFriend(string, string) error          { return nil }
func (s *fakeStore) Friends(string) ([]string, error)        { return nil, nil }
func (s *fakeStore) Score(string) (int, error)               { return 0, nil }
func (s *fakeStore) CreditScore(string, int) error           { return nil }
func (s *fakeStore) Ranking(string) ([]account.RankingEntry, error) {
	return nil, nil
}

type stubTranslator struct{}

func (stubTranslator) Translations(_ context.Context, word string) ([]string, error) {
	return nil, errors.New("no translation available")
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// startServer boots a rendezvous server on an ephemeral port, wired to the
// fake store and a real match engine.
func startServer(t *testing.T, store *fakeStore, requestTimeout time.Duration) *Server {
	t.Helper()

	cfg := &core.Config{Hostname: "127.0.0.1"}
	cfg.RendezvousServer.Port = 0
	cfg.RendezvousServer.RequestTimeout = requestTimeout
	cfg.Game.WordsPerMatch = 1
	cfg.Game.TimePerWord = time.Minute
	cfg.Game.WinScore = 3
	cfg.Game.LoseScore = -1

	path := filepath.Join(t.TempDir(), "dictionary")
	require.NoError(t, os.WriteFile(path, []byte("1\ncasa\n"), 0o644))
	dict, err := dictionary.Load(path)
	require.NoError(t, err)

	workers := pool.New(2)
	server := &Server{
		Name:   "RENDEZVOUS",
		Config: cfg,
		Logger: testLogger(),
		Store:  store,
		Engine: match.NewEngine(cfg, dict, stubTranslator{}, testLogger()),
		Pool:   workers,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	require.NoError(t, server.Start(ctx, &wg))
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		workers.Shutdown()
	})

	return server
}

// client is one party's datagram socket, registered in the store under their
// username.
func client(t *testing.T, store *fakeStore, username string) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store.mu.Lock()
	store.addresses[username] = conn.LocalAddr().(*net.UDPAddr)
	store.mu.Unlock()

	return conn
}

func send(t *testing.T, conn *net.UDPConn, server *Server, message string) {
	t.Helper()
	_, err := conn.WriteToUDP([]byte(message), server.Addr().(*net.UDPAddr))
	require.NoError(t, err)
}

func receive(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	buffer := make([]byte, protocol.MaxRequestLength)
	n, err := conn.Read(buffer)
	require.NoError(t, err, "no datagram arrived")
	return string(buffer[:n])
}

// receiveNothing asserts that no datagram arrives within a short window.
func receiveNothing(t *testing.T, conn *net.UDPConn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	buffer := make([]byte, protocol.MaxRequestLength)
	n, err := conn.Read(buffer)
	if err == nil {
		t.Fatalf("unexpected datagram %q", buffer[:n])
	}
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "read failed with %v", err)
}

func TestChallengeAccepted(t *testing.T) {
	store := newFakeStore()
	server := startServer(t, store, 10*time.Second)
	alice := client(t, store, "alice")
	bob := client(t, store, "bob")
	store.befriend("alice", "bob")

	send(t, alice, server, "sfida alice bob")
	assert.Equal(t, "sfida alice", receive(t, bob))

	// An accept from the challenger must not resolve the negotiation.
	send(t, alice, server, protocol.ChallengeAccepted)
	receiveNothing(t, alice)

	send(t, bob, server, protocol.ChallengeAccepted)
	confirmation := receive(t, bob)
	assert.Equal(t, confirmation, receive(t, alice))
	assert.Regexp(t, `^Ok \d+$`, confirmation)
}

func TestChallengeRefused(t *testing.T) {
	store := newFakeStore()
	server := startServer(t, store, 10*time.Second)
	alice := client(t, store, "alice")
	bob := client(t, store, "bob")
	store.befriend("alice", "bob")

	send(t, alice, server, "sfida alice bob")
	require.Equal(t, "sfida alice", receive(t, bob))

	send(t, bob, server, protocol.ChallengeRefused)
	assert.Equal(t, protocol.ChallengeRefused, receive(t, alice))

	// The negotiation is resolved; a follow-up accept goes nowhere.
	send(t, bob, server, protocol.ChallengeAccepted)
	receiveNothing(t, bob)
	receiveNothing(t, alice)
}

func TestChallengeValidation(t *testing.T) {
	store := newFakeStore()
	server := startServer(t, store, 10*time.Second)
	alice := client(t, store, "alice")
	bob := client(t, store, "bob")

	// Not friends: the challenger alone is told, nothing reaches bob.
	send(t, alice, server, "sfida alice bob")
	assert.Equal(t, protocol.ResponseNotFriends, receive(t, alice))
	receiveNothing(t, bob)

	send(t, alice, server, "sfida alice alice")
	assert.Equal(t, protocol.ResponseSameUser, receive(t, alice))

	send(t, alice, server, "sfida alice carol")
	assert.Equal(t, protocol.ResponseNotLogged, receive(t, alice))

	send(t, alice, server, "sfida alice")
	assert.Equal(t, protocol.ResponseWrongFormat, receive(t, alice))

	send(t, alice, server, "frobnicate")
	assert.Equal(t, protocol.ResponseUnknownRequest, receive(t, alice))
}

func TestLateAcceptTimesOut(t *testing.T) {
	store := newFakeStore()
	server := startServer(t, store, 100*time.Millisecond)
	alice := client(t, store, "alice")
	bob := client(t, store, "bob")
	store.befriend("alice", "bob")

	send(t, alice, server, "sfida alice bob")
	require.Equal(t, "sfida alice", receive(t, bob))

	// Accept after the rendezvous window but within the grace period: both
	// parties are told the request expired instead of getting a match.
	time.Sleep(150 * time.Millisecond)
	send(t, bob, server, protocol.ChallengeAccepted)
	assert.Equal(t, protocol.ResponseChallengeTimeout, receive(t, bob))
	assert.Equal(t, protocol.ResponseChallengeTimeout, receive(t, alice))
}

func TestStrayAcceptIgnored(t *testing.T) {
	store := newFakeStore()
	server := startServer(t, store, 10*time.Second)
	bob := client(t, store, "bob")

	send(t, bob, server, protocol.ChallengeAccepted)
	receiveNothing(t, bob)
}
