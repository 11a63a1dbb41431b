package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"qcache/internal/types"
)

const (
	PortKey           = "PORT"
	RequestTimeoutKey = "REQUEST_TIMEOUT"

	PoolEntryTTLKey        = "POOL_ENTRY_TTL"
	PoolConsumeAttemptsKey = "POOL_CONSUME_ATTEMPTS"
	PoolConsumeDelayKey    = "POOL_CONSUME_DELAY"
	PoolCompressKey        = "POOL_COMPRESS"
	GeneratorTimeoutKey    = "GENERATOR_TIMEOUT"

	OpenAIAPIKeyKey     = "OPENAI_API_KEY"
	OpenAIModelKey      = "OPENAI_MODEL_NAME"
	OpenAIBaseKey       = "OPENAI_API_BASE"
	OpenAIResultPathKey = "OPENAI_RESULT_PATH"
	GeneratorRPSKey     = "GENERATOR_RPS"

	SlotsFileKey       = "SLOTS_FILE"
	PublishTopicARNKey = "PUBLISH_TOPIC_ARN"
)

const (
	DefaultPort           = 8000
	DefaultRequestTimeout = 90 * time.Second
)

// Getenv retrieves the value of the environment variable named by the key, or def when unset or empty.
func Getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func ParseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", types.ErrInvalidConfig, key, v)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", types.ErrInvalidConfig, key, v)
	}
	return i, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", types.ErrInvalidConfig, key, v)
	}
	return f, nil
}

func PoolConfigFromEnv() (types.PoolConfig, error) {
	cfg := types.DefaultPoolConfig()
	var err error
	if cfg.EntryTTL, err = getDuration(PoolEntryTTLKey, cfg.EntryTTL); err != nil {
		return cfg, err
	}
	if cfg.ConsumeAttempts, err = getInt(PoolConsumeAttemptsKey, cfg.ConsumeAttempts); err != nil {
		return cfg, err
	}
	if cfg.ConsumeDelay, err = getDuration(PoolConsumeDelayKey, cfg.ConsumeDelay); err != nil {
		return cfg, err
	}
	if cfg.GenerateTimeout, err = getDuration(GeneratorTimeoutKey, cfg.GenerateTimeout); err != nil {
		return cfg, err
	}
	cfg.Compress = ParseBoolean(Getenv(PoolCompressKey, "false"))
	if err := cfg.Validate(); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "pool")
	}
	return cfg, nil
}

func GeneratorConfigFromEnv() (types.GeneratorConfig, error) {
	cfg := types.DefaultGeneratorConfig()
	cfg.APIKey = os.Getenv(OpenAIAPIKeyKey)
	cfg.Model = Getenv(OpenAIModelKey, cfg.Model)
	cfg.BaseURL = os.Getenv(OpenAIBaseKey)
	cfg.ResultPath = os.Getenv(OpenAIResultPathKey)
	var err error
	if cfg.RatePerSecond, err = getFloat(GeneratorRPSKey, cfg.RatePerSecond); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "generator")
	}
	return cfg, nil
}

func ServerConfigFromEnv() (types.ServerConfig, error) {
	cfg := types.ServerConfig{Port: DefaultPort, RequestTimeout: DefaultRequestTimeout}
	var err error
	if cfg.Port, err = getInt(PortKey, cfg.Port); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = getDuration(RequestTimeoutKey, cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "server")
	}
	return cfg, nil
}
