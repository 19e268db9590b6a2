package config

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// MCConfig configures a Meeting Controller binary.
type MCConfig struct {
	Host string `env:"MC_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"MC_PORT" envDefault:"8082"`

	WebTransportBindAddress string `env:"MC_WEBTRANSPORT_BIND_ADDRESS" envDefault:"0.0.0.0:4433"`

	ID       string `env:"MC_ID"`
	Region   string `env:"MC_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"MC_ENDPOINT"`

	MaxMeetings     int `env:"MC_MAX_MEETINGS" envDefault:"100"`
	MaxParticipants int `env:"MC_MAX_PARTICIPANTS" envDefault:"1000"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	GCBaseURL    string `env:"GC_BASE_URL" envDefault:"http://localhost:8081"`
	ACBaseURL    string `env:"AC_BASE_URL" envDefault:"http://localhost:8080"`
	ClientID     string `env:"MC_CLIENT_ID"`
	ClientSecret string `env:"MC_CLIENT_SECRET"`

	// BindingTokenSecretB64 is the base64-encoded master secret HKDF derives
	// per-meeting binding keys from; must decode to >= 32 bytes.
	BindingTokenSecretB64 string `env:"MC_BINDING_TOKEN_SECRET"`

	BindingTokenTTLSecs int `env:"MC_BINDING_TOKEN_TTL_SECS" envDefault:"30"`
	DisconnectGraceSecs int `env:"MC_DISCONNECT_GRACE_SECS" envDefault:"30"`

	MeetingMailboxNormal int `env:"MC_MEETING_MAILBOX_NORMAL" envDefault:"100"`
	MeetingMailboxHard   int `env:"MC_MEETING_MAILBOX_HARD" envDefault:"500"`

	ConnectionMailboxNormal int `env:"MC_CONNECTION_MAILBOX_NORMAL" envDefault:"50"`
	ConnectionMailboxHard   int `env:"MC_CONNECTION_MAILBOX_HARD" envDefault:"200"`

	// Issuer/ClockSkewSecs/TokenMaxLifetimeSecs mirror AC's token-issuance
	// contract so MC can verify AC-issued bearer tokens (both service tokens
	// from GC and meeting tokens from a joining client) via JWKS.
	Issuer               string `env:"TOKEN_ISSUER" envDefault:"dark-tower-ac"`
	ClockSkewSecs        int    `env:"TOKEN_CLOCK_SKEW_SECS" envDefault:"60"`
	TokenMaxLifetimeSecs int    `env:"TOKEN_MAX_LIFETIME_SECS" envDefault:"3600"`

	DrainTimeoutSecs int `env:"MC_DRAIN_TIMEOUT_SECS" envDefault:"300"`
	SweepIntervalSecs int `env:"MC_SWEEP_INTERVAL_SECS" envDefault:"5"`

	FastHeartbeatIntervalMS          int `env:"MC_FAST_HEARTBEAT_INTERVAL_MS" envDefault:"10000"`
	ComprehensiveHeartbeatIntervalMS int `env:"MC_COMPREHENSIVE_HEARTBEAT_INTERVAL_MS" envDefault:"30000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// LoadMC reads MC configuration from the environment.
func LoadMC() (*MCConfig, error) {
	cfg := &MCConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing MC config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the MC HTTP server should listen on.
func (c *MCConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BindingTokenSecret decodes BindingTokenSecretB64, validating it is at
// least 32 bytes (HKDF input key material floor, per internal/crypto.DeriveKey).
func (c *MCConfig) BindingTokenSecret() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.BindingTokenSecretB64)
	if err != nil {
		return nil, fmt.Errorf("MC_BINDING_TOKEN_SECRET is not valid base64: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("MC_BINDING_TOKEN_SECRET must decode to >= 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate enforces the §8 controller_id/region length bounds and required
// fields.
func (c *MCConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("MC_ID is required")
	}
	if len(c.ID) > 255 {
		return fmt.Errorf("MC_ID must be <= 255 bytes, got %d", len(c.ID))
	}
	if c.Endpoint == "" {
		return fmt.Errorf("MC_ENDPOINT is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("MC_CLIENT_ID and MC_CLIENT_SECRET are required")
	}
	if len(c.Region) > 50 {
		return fmt.Errorf("MC_REGION must be <= 50 bytes, got %d", len(c.Region))
	}
	if _, err := c.BindingTokenSecret(); err != nil {
		return err
	}
	if c.MaxMeetings <= 0 || c.MaxParticipants <= 0 {
		return fmt.Errorf("MC_MAX_MEETINGS and MC_MAX_PARTICIPANTS must be positive")
	}
	if c.MeetingMailboxHard <= c.MeetingMailboxNormal {
		return fmt.Errorf("MC_MEETING_MAILBOX_HARD must exceed MC_MEETING_MAILBOX_NORMAL")
	}
	if c.ConnectionMailboxHard <= c.ConnectionMailboxNormal {
		return fmt.Errorf("MC_CONNECTION_MAILBOX_HARD must exceed MC_CONNECTION_MAILBOX_NORMAL")
	}
	return nil
}
