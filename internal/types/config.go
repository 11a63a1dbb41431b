package types

import (
	"fmt"
	"time"
)

const (
	UserIDHdrName = "x-user-id"

	// GlobalOwner stands in for the user id in pool keys written without a user.
	GlobalOwner = "global"

	// KeyspaceEvents enables keyspace notifications for generic (del), string (set) and expired events.
	KeyspaceEvents = "K$gx"

	MinEntryTTL = time.Minute
)

// PoolConfig drives the cache pool manager.
// EntryTTL is the lifetime of a pool entry; expiry triggers replenishment.
// ConsumeAttempts is how many get-and-delete attempts a read makes before falling back to direct generation.
// ConsumeDelay is the pause between those attempts.
// GenerateTimeout bounds one background replenishment job, generation included.
// Compress stores entries zstd compressed. Readers accept both forms.
type PoolConfig struct {
	EntryTTL        time.Duration
	ConsumeAttempts int
	ConsumeDelay    time.Duration
	GenerateTimeout time.Duration
	Compress        bool
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		EntryTTL:        48 * time.Hour,
		ConsumeAttempts: 3,
		ConsumeDelay:    100 * time.Millisecond,
		GenerateTimeout: 2 * time.Minute,
	}
}

func (c PoolConfig) Validate() error {
	if c.EntryTTL < MinEntryTTL {
		return fmt.Errorf("entry_ttl must be at least %s", MinEntryTTL)
	}
	if c.ConsumeAttempts < 1 {
		return fmt.Errorf("consume_attempts must be at least 1")
	}
	if c.ConsumeDelay < 0 {
		return fmt.Errorf("consume_delay must be non-negative")
	}
	if c.GenerateTimeout <= 0 {
		return fmt.Errorf("generate_timeout must be positive")
	}
	return nil
}

// GeneratorConfig configures the OpenAI compatible question generator.
// An empty APIKey is allowed, every generation then fails with ErrGeneratorConfig.
// ResultPath is an optional JMESPath expression locating the question object in the model output.
// RatePerSecond limits calls to the model; 0 means no limit.
type GeneratorConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	ResultPath    string
	Temperature   float32
	RatePerSecond float64
	Burst         int
	HistoryLimit  int
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Model:        "gpt-3.5-turbo",
		Temperature:  0.8,
		Burst:        1,
		HistoryLimit: 10,
	}
}

func (c GeneratorConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must be non-negative. 0 for no limit")
	}
	if c.RatePerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limited")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be non-negative")
	}
	return nil
}

// ServerConfig configures the HTTP surface.
// RequestTimeout bounds a single request, including the consume retries and direct generation.
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
}

func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}
