package config

import "time"

type Config struct {
	LogLevel  string          `mapstructure:"logLevel"`
	Server    ServerConfig    `mapstructure:"server"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Transport TransportConfig `mapstructure:"transport"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address"`
	Auth            AuthConfig            `mapstructure:"auth"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	// LegacySessionSecret verifies the session-token JWT cookie accepted on
	// connections that carry no handshake token. Empty disables the fallback.
	LegacySessionSecret string `mapstructure:"legacySessionSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type HandshakeConfig struct {
	Secret     string `mapstructure:"secret"`
	TTLSeconds int    `mapstructure:"ttlSeconds"`
}

type BridgeConfig struct {
	// Token is the shared secret for server-to-server event submission.
	Token string `mapstructure:"token"`
	// EventPath is the ingress route, configurable so deployments can mount
	// it under an existing path prefix.
	EventPath string `mapstructure:"eventPath"`
	// BaseURL is used by the outbound bridge client only.
	BaseURL string `mapstructure:"baseUrl"`
	// RatePerSecond and Burst bound how fast the ingress accepts events.
	RatePerSecond float64 `mapstructure:"ratePerSecond"`
	Burst         int     `mapstructure:"burst"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}
