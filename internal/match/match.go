package match

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// playerState tracks one side of a match. The two sides' fields are disjoint;
// only the match-level fields are shared between them.
type playerState struct {
	username string
	// Index of the next unissued word; strictly increasing, bounded by the
	// match length.
	cursor int
	// The word most recently issued to this user and its accepted
	// translations. Each side has its own pointer; they are never shared.
	lastWord         string
	lastTranslations []string
	wordIssued       bool
	finished         bool
	score            int
}

// Match is one timed translation contest between two users. The two
// participants' sessions call into the same Match concurrently from different
// worker goroutines, so every mutating method holds the match mutex.
type Match struct {
	id            uint64
	words         []string
	translations  [][]string
	wordsPerMatch int
	timeout       time.Duration
	winScore      int
	loseScore     int

	mu              sync.Mutex
	started         time.Time
	expiry          *time.Timer
	finishedSides   int
	recapsDelivered int
	credited        bool
	players         [2]*playerState

	// Closed when the match finishes, either because both sides are done or
	// because the match timeout elapsed. Recap requests block on this.
	done     chan struct{}
	doneOnce sync.Once
}

func newMatch(id uint64, userA, userB string, words []string, translations [][]string,
	timeout time.Duration, winScore, loseScore int) *Match {
	return &Match{
		id:            id,
		words:         words,
		translations:  translations,
		wordsPerMatch: len(words),
		timeout:       timeout,
		winScore:      winScore,
		loseScore:     loseScore,
		players: [2]*playerState{
			{username: userA},
			{username: userB},
		},
		done: make(chan struct{}),
	}
}

func (m *Match) ID() uint64 { return m.id }

// Users returns the two usernames participating in the match.
func (m *Match) Users() (string, string) {
	return m.players[0].username, m.players[1].username
}

func (m *Match) player(username string) *playerState {
	for _, p := range m.players {
		if p.username == username {
			return p
		}
	}
	return nil
}

// nextWord issues the next unissued word to the user, starting the match
// clock on the very first request.
func (m *Match) nextWord(username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.player(username)
	if p == nil {
		return "", ErrUnknownUser
	}

	// The clock starts when either side asks for the first word.
	if m.started.IsZero() {
		m.started = time.Now()
		m.expiry = time.AfterFunc(m.timeout, m.expire)
	} else if m.elapsedLocked() >= m.timeout {
		m.finishSideLocked(p)
		return "", ErrMatchTimeout
	}

	if p.finished {
		return "", ErrEndOfMatch
	}
	if p.cursor >= m.wordsPerMatch {
		m.finishSideLocked(p)
		return "", ErrEndOfMatch
	}

	p.lastWord = m.words[p.cursor]
	p.lastTranslations = m.translations[p.cursor]
	p.wordIssued = true
	p.cursor++

	return p.lastWord, nil
}

// checkTranslation compares the submitted translation against the accepted
// set for the word last issued to the user and updates their score. Once the
// match has timed out the score is left untouched and the side is finished.
func (m *Match) checkTranslation(username, submitted string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.player(username)
	if p == nil {
		return "", false, ErrUnknownUser
	}
	if !p.wordIssued {
		return "", false, ErrNoWordIssued
	}

	if m.elapsedLocked() >= m.timeout {
		m.finishSideLocked(p)
		return "", false, ErrMatchTimeout
	}

	// Unicode case folding so translations match regardless of the casing
	// the client typed. Casers are stateful, so one is built per call
	// rather than shared between the matches' worker goroutines.
	folder := cases.Fold()

	correct := p.lastTranslations[0]
	matched := false
	folded := folder.String(submitted)
	for _, t := range p.lastTranslations {
		if folder.String(t) == folded {
			correct = t
			matched = true
			break
		}
	}

	if matched {
		p.score += m.winScore
	} else {
		p.score += m.loseScore
	}

	return correct, matched, nil
}

// finishSideLocked marks one side done and wakes recap waiters once both are.
func (m *Match) finishSideLocked(p *playerState) {
	if p.finished {
		return
	}
	p.finished = true
	m.finishedSides++

	if m.finishedSides == 2 {
		if m.expiry != nil {
			m.expiry.Stop()
		}
		m.doneOnce.Do(func() { close(m.done) })
	}
}

// expire wakes recap waiters when the match clock runs out. The per-side
// finished flags stay as they are; queries treat an expired match as finished
// regardless.
func (m *Match) expire() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Match) elapsedLocked() time.Duration {
	if m.started.IsZero() {
		return 0
	}
	return time.Since(m.started)
}

// IsFinished reports whether both sides are done or the match clock ran out.
func (m *Match) IsFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishedSides == 2 || (!m.started.IsZero() && m.elapsedLocked() >= m.timeout)
}

// TimeRemaining returns how much match time is left. A match whose clock has
// not started yet has its full allowance remaining.
func (m *Match) TimeRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.timeout - m.elapsedLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Recap produces the human-readable summary of a finished match.
func (m *Match) Recap() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	finished := m.finishedSides == 2 || (!m.started.IsZero() && m.elapsedLocked() >= m.timeout)
	if !finished {
		return "", ErrMatchInProgress
	}

	elapsed := m.elapsedLocked()
	if elapsed > m.timeout {
		elapsed = m.timeout
	}

	return fmt.Sprintf(
		"Time elapsed since the beginning of the challenge: %d s\n"+
			"User %s scored a total of %d points\n"+
			"User %s scored a total of %d points",
		int(elapsed.Seconds()),
		m.players[0].username, m.players[0].score,
		m.players[1].username, m.players[1].score,
	), nil
}

// ScoreDelta is one side's outcome, used to credit the account ledger.
type ScoreDelta struct {
	Username string
	Score    int
}

// takeScoreDeltas returns both sides' score deltas the first time it is
// called and reports false afterwards, so the ledger is credited exactly once.
func (m *Match) takeScoreDeltas() ([2]ScoreDelta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.credited {
		return [2]ScoreDelta{}, false
	}
	m.credited = true

	return [2]ScoreDelta{
		{Username: m.players[0].username, Score: m.players[0].score},
		{Username: m.players[1].username, Score: m.players[1].score},
	}, true
}
