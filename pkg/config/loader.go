package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultHandshakeTTLSeconds is applied whenever the configured TTL is not a
// positive number.
const DefaultHandshakeTTLSeconds = 300

// secretEnvCandidates are checked in order when no handshake secret is set
// through the regular configuration channels. The NEXTAUTH fallback keeps
// the service usable next to the membership web app without duplicating the
// secret in two places.
var secretEnvCandidates = []string{
	"REALTIME_HANDSHAKE_SECRET",
	"SOCKET_HANDSHAKE_SECRET",
	"NEXTAUTH_SECRET",
}

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.address", ":4001")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("handshake.ttlSeconds", DefaultHandshakeTTLSeconds)
	v.SetDefault("bridge.eventPath", "/events")
	v.SetDefault("bridge.ratePerSecond", 50)
	v.SetDefault("bridge.burst", 100)
	v.SetDefault("transport.readTimeout", "60s")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Handshake.Secret == "" {
		cfg.Handshake.Secret = resolveSecretFromEnv()
	}
	if cfg.Handshake.TTLSeconds <= 0 {
		cfg.Handshake.TTLSeconds = DefaultHandshakeTTLSeconds
	}
	if cfg.Bridge.Token == "" {
		cfg.Bridge.Token = os.Getenv("REALTIME_BRIDGE_TOKEN")
	}

	return &cfg, nil
}

func resolveSecretFromEnv() string {
	for _, name := range secretEnvCandidates {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}
