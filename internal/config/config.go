package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CURVE"

// StateConfig locates a persisted engine state: a JSON file, or a row in Postgres
// keyed by pool id.
type StateConfig struct {
	StateFile string
	PGDSN     string
	PoolID    string
}

// InitConfig holds configuration for the init command.
type InitConfig struct {
	StateConfig
	Sigma         string
	Fee           string
	Maturity      string
	AssetDecimals uint8
	ClaimDecimals uint8
	Asset         string
	Claim         string
	Yield         string
	Strike        string
	PriceHint     string
	Amount        string
	Now           string
	LogLevel      string
}

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	StateConfig
	Op       string
	Amount   string
	At       string
	Index    string
	LogLevel string
}

// SizeConfig holds configuration for the size command.
type SizeConfig struct {
	StateConfig
	Target   string
	Epsilon  string
	Upper    string
	Guess    string
	At       string
	Index    string
	LogLevel string
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Scenario          string
	Out               string
	Errors            string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         uint64
	PGDSN             string
	LogLevel          string
}

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	StateConfig
	RPCURL       string
	IndexToken   string
	Schedules    []string
	Out          string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// MetricsConfig holds configuration for the metrics command.
type MetricsConfig struct {
	StateConfig
	RPCURL        string
	Input         string
	Window        string
	BatchSize     int
	ProgressFile  string
	RecomputeFrom string
	LogLevel      string
}

func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func stateConfig(v *viper.Viper) StateConfig {
	return StateConfig{
		StateFile: v.GetString("state"),
		PGDSN:     v.GetString("pg-dsn"),
		PoolID:    v.GetString("pool"),
	}
}

// LoadInit merges config file, environment variables, and flags into InitConfig.
func LoadInit(cfgFile string, flags *pflag.FlagSet) (InitConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"state":          "./data/state.json",
		"fee":            "0.003",
		"asset-decimals": 18,
		"claim-decimals": 18,
		"price-hint":     "1",
	})
	if err != nil {
		return InitConfig{}, err
	}

	decimals := func(key string) (uint8, error) {
		d := v.GetUint(key)
		if d > 18 {
			return 0, fmt.Errorf("%s must be at most 18, got %d", key, d)
		}
		return uint8(d), nil
	}
	assetDecimals, err := decimals("asset-decimals")
	if err != nil {
		return InitConfig{}, err
	}
	claimDecimals, err := decimals("claim-decimals")
	if err != nil {
		return InitConfig{}, err
	}

	return InitConfig{
		StateConfig:   stateConfig(v),
		Sigma:         v.GetString("sigma"),
		Fee:           v.GetString("fee"),
		Maturity:      v.GetString("maturity"),
		AssetDecimals: assetDecimals,
		ClaimDecimals: claimDecimals,
		Asset:         v.GetString("asset-token"),
		Claim:         v.GetString("claim-token"),
		Yield:         v.GetString("yield-token"),
		Strike:        v.GetString("strike"),
		PriceHint:     v.GetString("price-hint"),
		Amount:        v.GetString("amount"),
		Now:           v.GetString("now"),
		LogLevel:      v.GetString("log-level"),
	}, nil
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"state": "./data/state.json",
		"index": "1",
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		StateConfig: stateConfig(v),
		Op:          v.GetString("op"),
		Amount:      v.GetString("amount"),
		At:          v.GetString("at"),
		Index:       v.GetString("index"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}

// LoadSize merges config file, environment variables, and flags into SizeConfig.
func LoadSize(cfgFile string, flags *pflag.FlagSet) (SizeConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"state":   "./data/state.json",
		"index":   "1",
		"epsilon": "0.0001",
	})
	if err != nil {
		return SizeConfig{}, err
	}

	return SizeConfig{
		StateConfig: stateConfig(v),
		Target:      v.GetString("target"),
		Epsilon:     v.GetString("epsilon"),
		Upper:       v.GetString("upper"),
		Guess:       v.GetString("guess"),
		At:          v.GetString("at"),
		Index:       v.GetString("index"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":                "./data/trades.jsonl",
		"errors":             "./data/step_errors.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"batch-size":         uint64(100),
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		Scenario:          v.GetString("scenario"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		BatchSize:         v.GetUint64("batch-size"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"state":         "./data/state.json",
		"schedule":      []string{"@every 1m"},
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return WatchConfig{}, err
	}

	return WatchConfig{
		StateConfig:  stateConfig(v),
		RPCURL:       v.GetString("rpc"),
		IndexToken:   v.GetString("index-token"),
		Schedules:    getStringSlice(v, "schedule"),
		Out:          v.GetString("out"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

// LoadMetrics merges config file, environment variables, and flags into MetricsConfig.
func LoadMetrics(cfgFile string, flags *pflag.FlagSet) (MetricsConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"batch-size": 1000,
		"window":     "5m",
	})
	if err != nil {
		return MetricsConfig{}, err
	}

	return MetricsConfig{
		StateConfig:   stateConfig(v),
		RPCURL:        v.GetString("rpc"),
		Input:         v.GetString("in"),
		Window:        v.GetString("window"),
		BatchSize:     v.GetInt("batch-size"),
		ProgressFile:  v.GetString("progress-file"),
		RecomputeFrom: v.GetString("recompute-from"),
		LogLevel:      v.GetString("log-level"),
	}, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
