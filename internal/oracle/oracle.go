// Package oracle looks up the acceptable translations of a challenge word
// from the external translation service.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/wordquizzle/wordquizzle/internal/core"
)

// ErrNoTranslation is returned when the service responds but offers no
// usable translation for the word.
var ErrNoTranslation = errors.New("no translation available")

// Translator returns the ordered, bounded set of acceptable translations for
// a word. Implementations may fail; callers substitute a sentinel so the
// word can never be matched.
type Translator interface {
	Translations(ctx context.Context, word string) ([]string, error)
}

// lookupResponse mirrors the fields we consume from the MyMemory response body.
type lookupResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	Matches []struct {
		Translation string `json:"translation"`
	} `json:"matches"`
}

// MyMemoryClient is a Translator backed by the MyMemory translation API.
type MyMemoryClient struct {
	config *core.Config
	logger *logrus.Logger
	client *http.Client
}

func NewMyMemoryClient(config *core.Config, logger *logrus.Logger) *MyMemoryClient {
	return &MyMemoryClient{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Translations fetches the accepted translations of word, retrying transient
// failures with backoff until the configured request timeout elapses.
func (c *MyMemoryClient) Translations(ctx context.Context, word string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Oracle.RequestTimeout)
	defer cancel()

	url := c.config.TranslationURL(word)

	var translations []string
	backoff := retry.WithMaxDuration(
		c.config.Oracle.RequestTimeout,
		retry.NewFibonacci(250*time.Millisecond),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		translations, err = c.lookup(ctx, url)
		if err != nil {
			c.logger.Debugf("translation lookup for %q failed: %v", word, err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching translations for %q: %w", word, err)
	}
	return translations, nil
}

func (c *MyMemoryClient) lookup(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, retry.RetryableError(fmt.Errorf("service returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing translation response: %w", err)
	}

	max := c.config.Oracle.MaxTranslations
	translations := make([]string, 0, max)
	if parsed.ResponseData.TranslatedText != "" {
		translations = append(translations, parsed.ResponseData.TranslatedText)
	}
	for _, m := range parsed.Matches {
		if len(translations) >= max {
			break
		}
		if m.Translation != "" {
			translations = append(translations, m.Translation)
		}
	}

	if len(translations) == 0 {
		return nil, ErrNoTranslation
	}
	return translations, nil
}
