// Package account implements the account store consumed by the game and
// rendezvous servers: credentials, the friend graph, the score ledger, and
// the table of logged-in users with their bound datagram addresses.
package account

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wordquizzle/wordquizzle/internal/core/auth"
	"github.com/wordquizzle/wordquizzle/internal/core/data"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrWrongPassword  = errors.New("wrong password")
	ErrAlreadyLogged  = errors.New("user is already logged in")
	ErrNotLogged      = errors.New("user is not logged in")
	ErrAlreadyFriends = errors.New("users are already friends")
	ErrNotFriends     = errors.New("users are not friends")
	ErrSameUser       = errors.New("the two usernames are the same")
)

// Store is the narrow interface through which the game engine and the
// rendezvous protocol consume account state.
type Store interface {
	// Login authenticates the user and binds the datagram address on which
	// they can be reached for challenge notices.
	Login(username, password string, ip net.IP, udpPort int) error
	Logout(username string) error

	AddFriend(username, friend string) error
	Friends(username string) ([]string, error)
	AreFriends(username, friend string) (bool, error)

	Score(username string) (int, error)
	// Ranking returns the user and their friends ordered by descending score.
	Ranking(username string) ([]RankingEntry, error)
	CreditScore(username string, delta int) error

	// AddressOf resolves a logged-in user's bound datagram address.
	AddressOf(username string) (*net.UDPAddr, error)
}

// RankingEntry is one row of a user's ranking view.
type RankingEntry struct {
	Username string
	Score    int
}

// DBStore implements Store on top of the gorm data layer, with the logged-in
// table held in memory since address bindings do not survive a restart.
type DBStore struct {
	db     *gorm.DB
	logger *logrus.Logger

	mu       sync.Mutex
	loggedIn map[string]*net.UDPAddr
}

func NewDBStore(db *gorm.DB, logger *logrus.Logger) *DBStore {
	return &DBStore{
		db:       db,
		logger:   logger,
		loggedIn: make(map[string]*net.UDPAddr),
	}
}

func (s *DBStore) Login(username, password string, ip net.IP, udpPort int) error {
	if _, err := auth.VerifyAccount(s.db, username, password); err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountNotFound):
			return ErrUserNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			return ErrWrongPassword
		default:
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loggedIn[username]; ok {
		return ErrAlreadyLogged
	}
	s.loggedIn[username] = &net.UDPAddr{IP: ip, Port: udpPort}

	s.logger.Infof("logged in %s (udp %s:%d)", username, ip, udpPort)
	return nil
}

func (s *DBStore) Logout(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loggedIn[username]; !ok {
		return ErrNotLogged
	}
	delete(s.loggedIn, username)

	s.logger.Infof("logged out %s", username)
	return nil
}

func (s *DBStore) AddFriend(username, friend string) error {
	if username == friend {
		return ErrSameUser
	}

	a, b, err := s.findPair(username, friend)
	if err != nil {
		return err
	}

	friends, err := data.FriendshipExists(s.db, a, b)
	if err != nil {
		return fmt.Errorf("error checking friendship: %w", err)
	}
	if friends {
		return ErrAlreadyFriends
	}

	return data.CreateFriendship(s.db, a, b)
}

func (s *DBStore) Friends(username string) ([]string, error) {
	account, err := s.find(username)
	if err != nil {
		return nil, err
	}

	friends, err := data.FindFriends(s.db, account)
	if err != nil {
		return nil, fmt.Errorf("error listing friends: %w", err)
	}

	names := make([]string, 0, len(friends))
	for _, f := range friends {
		names = append(names, f.Username)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DBStore) AreFriends(username, friend string) (bool, error) {
	if username == friend {
		return false, ErrSameUser
	}

	a, b, err := s.findPair(username, friend)
	if err != nil {
		return false, err
	}
	return data.FriendshipExists(s.db, a, b)
}

func (s *DBStore) Score(username string) (int, error) {
	account, err := s.find(username)
	if err != nil {
		return 0, err
	}
	return account.Score, nil
}

func (s *DBStore) Ranking(username string) ([]RankingEntry, error) {
	account, err := s.find(username)
	if err != nil {
		return nil, err
	}

	friends, err := data.FindFriends(s.db, account)
	if err != nil {
		return nil, fmt.Errorf("error listing friends: %w", err)
	}

	entries := []RankingEntry{{Username: account.Username, Score: account.Score}}
	for _, f := range friends {
		entries = append(entries, RankingEntry{Username: f.Username, Score: f.Score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})
	return entries, nil
}

func (s *DBStore) CreditScore(username string, delta int) error {
	if err := data.AddToScore(s.db, username, delta); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("error updating score: %w", err)
	}
	return nil
}

func (s *DBStore) AddressOf(username string) (*net.UDPAddr, error) {
	// Make sure the username exists at all before consulting the logged-in
	// table so callers can distinguish not-found from not-logged.
	if _, err := s.find(username); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.loggedIn[username]
	if !ok {
		return nil, ErrNotLogged
	}
	return addr, nil
}

func (s *DBStore) find(username string) (*data.Account, error) {
	account, err := data.FindAccountByUsername(s.db, username)
	if err != nil {
		return nil, fmt.Errorf("error finding account %s: %w", username, err)
	}
	if account == nil {
		return nil, ErrUserNotFound
	}
	return account, nil
}

func (s *DBStore) findPair(u1, u2 string) (*data.Account, *data.Account, error) {
	a, err := s.find(u1)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.find(u2)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
