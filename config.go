package parley

import "github.com/nyaruka/ezconf"

// Config is our top level configuration object
type Config struct {
	Domain       string `help:"the domain the server is exposed on"`
	Address      string `help:"the network interface address the server will bind to"`
	Port         int    `help:"the port the server will listen on"`
	DB           string `help:"URL describing the postgres database holding users, rooms and messages"`
	JWTSecret    string `help:"the secret used to sign and verify connection tokens"`
	HistoryLimit int    `help:"the number of messages retained per room"`
	SentryDSN    string `help:"the DSN used for logging errors to Sentry"`
	LogLevel     string `help:"the logging level the server should use"`
	Version      string `help:"the version reported by the status endpoints"`
}

// NewConfig returns a new default configuration object
func NewConfig() *Config {
	return &Config{
		Domain:       "localhost",
		Address:      "",
		Port:         8080,
		DB:           "postgres://localhost/parley?sslmode=disable",
		JWTSecret:    "change-me",
		HistoryLimit: 50,
		LogLevel:     "info",
		Version:      "Dev",
	}
}

// LoadConfig loads our configuration from the passed in filename
func LoadConfig(filename string) *Config {
	config := NewConfig()
	loader := ezconf.NewLoader(
		config,
		"parley", "Parley - a room based real-time chat server",
		[]string{filename},
	)

	loader.MustLoad()
	return config
}
