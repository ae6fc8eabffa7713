package core

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// WordQuizzle server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent connections the game server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Number of workers processing client requests off the I/O goroutines.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Database struct {
		// Which database engine to use. Options: sqlite, postgres.
		Engine string `mapstructure:"engine"`
		// Filename of the sqlite database (sqlite engine only).
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for wordquizzle.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	GameServer struct {
		// Port on which the game server will listen for client connections.
		Port int `mapstructure:"port"`
	} `mapstructure:"game_server"`

	RendezvousServer struct {
		// UDP port on which the challenge handshake server will listen.
		Port int `mapstructure:"port"`
		// How long a challenged user has to accept before the request expires.
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"rendezvous_server"`

	Game struct {
		// Full (or relative to the config directory) path to the dictionary file.
		DictionaryFile string `mapstructure:"dictionary_file"`
		// Number of words each player must translate per match.
		WordsPerMatch int `mapstructure:"words_per_match"`
		// Time allowed per word; the match timeout is words_per_match times this.
		TimePerWord time.Duration `mapstructure:"time_per_word"`
		// Points awarded for a correct translation.
		WinScore int `mapstructure:"win_score"`
		// Points awarded (usually negative) for an incorrect translation.
		LoseScore int `mapstructure:"lose_score"`
	} `mapstructure:"game"`

	Oracle struct {
		// Base URL of the translation service.
		BaseURL string `mapstructure:"base_url"`
		// Language pair passed to the translation service.
		LanguagePair string `mapstructure:"language_pair"`
		// Maximum number of acceptable translations kept per word.
		MaxTranslations int `mapstructure:"max_translations"`
		// Overall timeout for fetching one word's translations.
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"oracle"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump received datagrams to the logs.
		DatagramLoggingEnabled bool `mapstructure:"datagram_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "WQ"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading config file: %v\n", err)
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: WQ_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s\n", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v\n", err)
		os.Exit(1)
	}
	return config
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// GameServerAddress returns the listen address of the TCP game server.
func (c *Config) GameServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.GameServer.Port)
}

// RendezvousAddress returns the listen address of the UDP handshake server.
func (c *Config) RendezvousAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.RendezvousServer.Port)
}

// MatchTimeout returns the total time each player has to complete a match.
func (c *Config) MatchTimeout() time.Duration {
	return time.Duration(c.Game.WordsPerMatch) * c.Game.TimePerWord
}

// TranslationURL builds the oracle lookup URL for a word.
func (c *Config) TranslationURL(word string) string {
	return fmt.Sprintf("%s/get?q=%s&langpair=%s",
		strings.TrimSuffix(c.Oracle.BaseURL, "/"),
		url.QueryEscape(word),
		url.QueryEscape(c.Oracle.LanguagePair),
	)
}
