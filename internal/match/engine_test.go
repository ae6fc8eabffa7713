package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/dictionary"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// stubTranslator serves a fixed translation table; words outside it fail the
// lookup so the engine falls back to the sentinel set.
type stubTranslator struct {
	table map[string][]string
}

func (s stubTranslator) Translations(_ context.Context, word string) ([]string, error) {
	set, ok := s.table[word]
	if !ok {
		return nil, errors.New("no translation available")
	}
	return set, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T, wordsPerMatch int, timePerWord time.Duration) *core.Config {
	t.Helper()
	cfg := &core.Config{}
	cfg.Game.WordsPerMatch = wordsPerMatch
	cfg.Game.TimePerWord = timePerWord
	cfg.Game.WinScore = 3
	cfg.Game.LoseScore = -1
	return cfg
}

func testDictionary(t *testing.T, words ...string) *dictionary.Dictionary {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary")
	contents := fmt.Sprintf("%d\n%s\n", len(words), strings.Join(words, "\n"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	dict, err := dictionary.Load(path)
	require.NoError(t, err)
	return dict
}

func testEngine(t *testing.T, cfg *core.Config, translator stubTranslator) *Engine {
	t.Helper()
	// A single-word dictionary keeps the drawn words deterministic.
	return NewEngine(cfg, testDictionary(t, "casa"), translator, testLogger())
}

func TestCreateMatchAssignsUniqueIDs(t *testing.T) {
	engine := testEngine(t, testConfig(t, 3, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"house"}}})

	const matches = 50
	ids := make(chan uint64, matches)

	var wg sync.WaitGroup
	for i := 0; i < matches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := engine.CreateMatch(context.Background(), "alice", "bob")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "match id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, matches)
}

func TestNextWordExhaustsAfterWordsPerMatch(t *testing.T) {
	engine := testEngine(t, testConfig(t, 3, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"house"}}})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		word, err := engine.NextWord(id, "alice")
		require.NoError(t, err)
		assert.Equal(t, "casa", word)
	}
	_, err = engine.NextWord(id, "alice")
	assert.ErrorIs(t, err, ErrEndOfMatch)

	// The other side's cursor is independent and still has words left.
	_, err = engine.NextWord(id, "bob")
	assert.NoError(t, err)

	_, err = engine.NextWord(id, "mallory")
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = engine.NextWord(id+100, "alice")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestCheckTranslationScoring(t *testing.T) {
	engine := testEngine(t, testConfig(t, 3, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"house", "home"}}})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, _, err = engine.CheckTranslation(id, "alice", "house")
	assert.ErrorIs(t, err, ErrNoWordIssued)

	// Case folding: any accepted translation matches regardless of casing.
	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)
	correct, ok, err := engine.CheckTranslation(id, "alice", "HOME")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "home", correct)

	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)
	correct, ok, err = engine.CheckTranslation(id, "alice", "dog")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "house", correct)

	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)
	_, ok, err = engine.CheckTranslation(id, "alice", "house")
	require.NoError(t, err)
	assert.True(t, ok)

	// +3 for each of the two hits, -1 for the miss.
	finishSide(t, engine, id, "alice")
	finishSide(t, engine, id, "bob")
	deltas, first := engine.TakeScoreDeltas(id)
	require.True(t, first)
	assert.Equal(t, ScoreDelta{Username: "alice", Score: 5}, deltas[0])
	assert.Equal(t, ScoreDelta{Username: "bob", Score: 0}, deltas[1])

	_, again := engine.TakeScoreDeltas(id)
	assert.False(t, again, "score deltas handed out twice")
}

func TestSentinelTranslationNeverMatches(t *testing.T) {
	// The stub has no entry for any word, so every set falls back to the
	// sentinel.
	engine := testEngine(t, testConfig(t, 1, time.Minute), stubTranslator{})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)

	for _, guess := range []string{"casa", "house", "dog"} {
		correct, ok, err := engine.CheckTranslation(id, "alice", guess)
		require.NoError(t, err)
		assert.False(t, ok, "guess %q matched the sentinel", guess)
		assert.Equal(t, protocol.NoTranslation, correct)
	}
}

func TestConcurrentTranslationChecks(t *testing.T) {
	engine := testEngine(t, testConfig(t, 3, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"hoUSe", "HOme"}}})

	// Checks from many matches' worker goroutines fold cases concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id, err := engine.CreateMatch(context.Background(), "alice", "bob")
		require.NoError(t, err)

		for _, username := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(username string) {
				defer wg.Done()
				for _, guess := range []string{"HOUSE", "home", "dog"} {
					_, err := engine.NextWord(id, username)
					assert.NoError(t, err)
					_, ok, err := engine.CheckTranslation(id, username, guess)
					assert.NoError(t, err)
					assert.Equal(t, guess != "dog", ok, "guess %q", guess)
				}
			}(username)
		}
	}
	wg.Wait()
}

func TestMatchTimeout(t *testing.T) {
	engine := testEngine(t, testConfig(t, 2, 20*time.Millisecond),
		stubTranslator{table: map[string][]string{"casa": {"house"}}})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	// After expiry both word issuance and checks are refused and no score
	// moves.
	_, _, err = engine.CheckTranslation(id, "alice", "house")
	assert.ErrorIs(t, err, ErrMatchTimeout)
	_, err = engine.NextWord(id, "bob")
	assert.ErrorIs(t, err, ErrMatchTimeout)

	finished, err := engine.IsFinished(id)
	require.NoError(t, err)
	assert.True(t, finished)

	remaining, err := engine.TimeRemaining(id)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), remaining)

	deltas, first := engine.TakeScoreDeltas(id)
	require.True(t, first)
	assert.Zero(t, deltas[0].Score)
	assert.Zero(t, deltas[1].Score)
}

func TestRecapBlocksUntilFinished(t *testing.T) {
	engine := testEngine(t, testConfig(t, 1, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"house"}}})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = engine.NextWord(id, "alice")
	require.NoError(t, err)
	_, ok, err := engine.CheckTranslation(id, "alice", "house")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = engine.Recap(id)
	assert.ErrorIs(t, err, ErrMatchInProgress)

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, engine.WaitFinished(waitCtx, id), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- engine.WaitFinished(context.Background(), id)
	}()

	finishSide(t, engine, id, "alice")
	finishSide(t, engine, id, "bob")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recap waiter never woke after both sides finished")
	}

	recap, err := engine.Recap(id)
	require.NoError(t, err)
	assert.Contains(t, recap, "Time elapsed since the beginning of the challenge:")
	assert.Contains(t, recap, "User alice scored a total of 3 points")
	assert.Contains(t, recap, "User bob scored a total of 0 points")
}

func TestRecapDeliveredRetiresMatch(t *testing.T) {
	engine := testEngine(t, testConfig(t, 1, time.Minute),
		stubTranslator{table: map[string][]string{"casa": {"house"}}})

	id, err := engine.CreateMatch(context.Background(), "alice", "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, engine.RecapDelivered(id, "mallory"), ErrUnknownUser)

	require.NoError(t, engine.RecapDelivered(id, "alice"))
	_, err = engine.TimeRemaining(id)
	assert.NoError(t, err, "match retired after a single recap delivery")

	require.NoError(t, engine.RecapDelivered(id, "bob"))
	_, err = engine.TimeRemaining(id)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

// finishSide draws a user's remaining words without answering any, so their
// side of the match completes with its score untouched.
func finishSide(t *testing.T, engine *Engine, id uint64, username string) {
	t.Helper()
	for {
		_, err := engine.NextWord(id, username)
		if errors.Is(err, ErrEndOfMatch) {
			return
		}
		require.NoError(t, err)
	}
}
