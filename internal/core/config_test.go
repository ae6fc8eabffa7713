package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testConfigFile = `
hostname: 127.0.0.1
max_connections: 3000
worker_pool_size: 16

database:
  engine: postgres
  host: localhost
  port: 5432
  name: wordquizzle
  username: wq
  password: hunter2
  sslmode: disable

game_server:
  port: 6000

rendezvous_server:
  port: 8001
  request_timeout: 10s

game:
  dictionary_file: dictionary
  words_per_match: 3
  time_per_word: 20s
  win_score: 3
  lose_score: -1

oracle:
  base_url: https://api.mymemory.translated.net/
  language_pair: it|en
  max_translations: 4
  request_timeout: 5s
`

func loadTestConfig(t *testing.T) *Config {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfigFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return LoadConfig(dir)
}

func TestLoadConfig(t *testing.T) {
	config := loadTestConfig(t)

	if config.Hostname != "127.0.0.1" {
		t.Errorf("hostname = %q; expected 127.0.0.1", config.Hostname)
	}
	if config.MaxConnections != 3000 {
		t.Errorf("max_connections = %d; expected 3000", config.MaxConnections)
	}
	if config.RendezvousServer.RequestTimeout != 10*time.Second {
		t.Errorf("request_timeout = %v; expected 10s", config.RendezvousServer.RequestTimeout)
	}
	if config.Game.LoseScore != -1 {
		t.Errorf("lose_score = %d; expected -1", config.Game.LoseScore)
	}
}

func TestDatabaseURL(t *testing.T) {
	config := loadTestConfig(t)

	expected := "host=localhost port=5432 dbname=wordquizzle user=wq password=hunter2 sslmode=disable"
	if diff := cmp.Diff(expected, config.DatabaseURL()); diff != "" {
		t.Errorf("generated URL did not match expected URL\n%s", diff)
	}
}

func TestDerivedValues(t *testing.T) {
	config := loadTestConfig(t)

	if addr := config.GameServerAddress(); addr != "127.0.0.1:6000" {
		t.Errorf("game server address = %q", addr)
	}
	if addr := config.RendezvousAddress(); addr != "127.0.0.1:8001" {
		t.Errorf("rendezvous address = %q", addr)
	}
	if timeout := config.MatchTimeout(); timeout != time.Minute {
		t.Errorf("match timeout = %v; expected 1m", timeout)
	}

	expected := "https://api.mymemory.translated.net/get?q=perch%C3%A9&langpair=it%7Cen"
	if diff := cmp.Diff(expected, config.TranslationURL("perché")); diff != "" {
		t.Errorf("generated URL did not match expected URL\n%s", diff)
	}
}
