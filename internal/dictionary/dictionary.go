// Package dictionary loads the word list from which challenge words are drawn.
package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// ErrEmpty is returned when the dictionary file declares or contains no words.
var ErrEmpty = errors.New("dictionary contains no words")

// Dictionary holds the loaded word list.
type Dictionary struct {
	words []string
}

// Load reads a dictionary file: the first line declares the word count and
// every following line holds one word. Fewer words than declared is an error;
// extra lines beyond the declared count are ignored.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dictionary %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, ErrEmpty
	}
	declared, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, fmt.Errorf("error parsing dictionary size %q: %w", scanner.Text(), err)
	}
	if declared <= 0 {
		return nil, ErrEmpty
	}

	words := make([]string, 0, declared)
	for len(words) < declared && scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" {
			continue
		}
		words = append(words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dictionary: %w", err)
	}
	if len(words) < declared {
		return nil, fmt.Errorf("dictionary declares %d words but contains %d", declared, len(words))
	}

	return &Dictionary{words: words}, nil
}

// Size returns the number of loaded words.
func (d *Dictionary) Size() int {
	return len(d.words)
}

// Pick returns n words drawn at random. Words may repeat, matching a draw
// with replacement.
func (d *Dictionary) Pick(n int) []string {
	picked := make([]string, n)
	for i := range picked {
		picked[i] = d.words[rand.Intn(len(d.words))]
	}
	return picked
}
