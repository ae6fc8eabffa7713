// Package match implements the match engine: it owns the set of active
// matches and arbitrates word issuance, translation checking, timeouts, and
// recaps for the two concurrently playing sides of each match.
package match

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/dictionary"
	"github.com/wordquizzle/wordquizzle/internal/oracle"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

var (
	ErrMatchNotFound   = errors.New("no active match with that id")
	ErrUnknownUser     = errors.New("user is not part of the match")
	ErrEndOfMatch      = errors.New("user has exhausted the match's words")
	ErrMatchTimeout    = errors.New("the match time has expired")
	ErrNoWordIssued    = errors.New("no word has been issued to the user yet")
	ErrMatchInProgress = errors.New("the match has not finished yet")
)

// Engine owns all active matches.
type Engine struct {
	config     *core.Config
	dictionary *dictionary.Dictionary
	translator oracle.Translator
	logger     *logrus.Logger

	nextID  atomic.Uint64
	matches sync.Map // match id -> *Match
}

func NewEngine(config *core.Config, dict *dictionary.Dictionary, translator oracle.Translator, logger *logrus.Logger) *Engine {
	return &Engine{
		config:     config,
		dictionary: dict,
		translator: translator,
		logger:     logger,
	}
}

// CreateMatch allocates a fresh match between the two users, drawing the
// challenge words and prefetching each word's accepted translations. A word
// whose lookup fails gets the unmatchable sentinel set so play can continue.
func (e *Engine) CreateMatch(ctx context.Context, userA, userB string) (uint64, error) {
	words := e.dictionary.Pick(e.config.Game.WordsPerMatch)

	translations := make([][]string, len(words))
	for i, word := range words {
		set, err := e.translator.Translations(ctx, word)
		if err != nil {
			e.logger.Warnf("no translations for %q, using sentinel: %v", word, err)
			set = []string{protocol.NoTranslation}
		}
		translations[i] = set
	}

	id := e.nextID.Add(1)
	m := newMatch(id, userA, userB, words, translations,
		e.config.MatchTimeout(), e.config.Game.WinScore, e.config.Game.LoseScore)
	e.matches.Store(id, m)

	e.logger.Infof("created match %d between %s and %s", id, userA, userB)
	return id, nil
}

func (e *Engine) lookup(matchID uint64) (*Match, error) {
	v, ok := e.matches.Load(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}
	return v.(*Match), nil
}

// NextWord returns the next unissued word for the user, advancing their
// cursor. The first call for a match starts its clock.
func (e *Engine) NextWord(matchID uint64, username string) (string, error) {
	m, err := e.lookup(matchID)
	if err != nil {
		return "", err
	}
	return m.nextWord(username)
}

// CheckTranslation validates the user's submission against the accepted set
// for the word last issued to them, updating their match score. It returns
// the correct translation and whether the submission matched.
func (e *Engine) CheckTranslation(matchID uint64, username, submitted string) (string, bool, error) {
	m, err := e.lookup(matchID)
	if err != nil {
		return "", false, err
	}
	return m.checkTranslation(username, submitted)
}

// IsFinished reports whether the match has ended.
func (e *Engine) IsFinished(matchID uint64) (bool, error) {
	m, err := e.lookup(matchID)
	if err != nil {
		return false, err
	}
	return m.IsFinished(), nil
}

// TimeRemaining returns how much match time is left.
func (e *Engine) TimeRemaining(matchID uint64) (time.Duration, error) {
	m, err := e.lookup(matchID)
	if err != nil {
		return 0, err
	}
	return m.TimeRemaining(), nil
}

// WaitFinished blocks until the match has finished or ctx is cancelled.
func (e *Engine) WaitFinished(ctx context.Context, matchID uint64) error {
	m, err := e.lookup(matchID)
	if err != nil {
		return err
	}

	if m.IsFinished() {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recap returns the human-readable summary of a finished match.
func (e *Engine) Recap(matchID uint64) (string, error) {
	m, err := e.lookup(matchID)
	if err != nil {
		return "", err
	}
	return m.Recap()
}

// TakeScoreDeltas hands out both sides' score deltas exactly once so the
// caller can credit the account ledger without double counting.
func (e *Engine) TakeScoreDeltas(matchID uint64) ([2]ScoreDelta, bool) {
	m, err := e.lookup(matchID)
	if err != nil {
		return [2]ScoreDelta{}, false
	}
	return m.takeScoreDeltas()
}

// RecapDelivered records that one side has received the match recap; the
// match is retired once both sides have.
func (e *Engine) RecapDelivered(matchID uint64, username string) error {
	m, err := e.lookup(matchID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.player(username) == nil {
		m.mu.Unlock()
		return ErrUnknownUser
	}
	m.recapsDelivered++
	retire := m.recapsDelivered >= 2
	m.mu.Unlock()

	if retire {
		e.matches.Delete(matchID)
		e.logger.Infof("retired match %d", matchID)
	}
	return nil
}
