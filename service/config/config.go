package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
)

// providerEnv maps each blockchain to the variable listing its provider
// endpoints and the public endpoints used when the variable is unset.
var providerEnv = map[chain.Blockchain]struct {
	key      string
	defaults string
}{
	chain.Bitcoin:         {"BITCOIN_ESPLORA_URLS", "https://blockstream.info/api,https://mempool.space/api"},
	chain.BitcoinTestnet:  {"BITCOIN_TESTNET_ESPLORA_URLS", "https://blockstream.info/testnet/api,https://mempool.space/testnet/api"},
	chain.Ravencoin:       {"RAVENCOIN_BLOCKBOOK_URLS", "https://blockbook.ravencoin.org"},
	chain.Ethereum:        {"ETHEREUM_RPC_URLS", "https://ethereum-rpc.publicnode.com,https://eth.llamarpc.com"},
	chain.EthereumSepolia: {"ETHEREUM_SEPOLIA_RPC_URLS", "https://ethereum-sepolia-rpc.publicnode.com"},
	chain.Filecoin:        {"FILECOIN_RPC_URLS", "https://api.node.glif.io/rpc/v1"},
	chain.XRP:             {"XRP_RPC_URLS", "https://s1.ripple.com:51234,https://xrplcluster.com"},
	chain.Solana:          {"SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com"},
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr     string
	MetricsAddr    string
	LogLevel       string
	SignSessionTTL time.Duration
	HistoryLimit   int

	// NATS configuration
	NATSEnabled bool
	NATSURL     string

	// Temporal configuration
	TemporalEnabled   bool
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Refresh scheduling
	DefaultRefreshInterval time.Duration
	MinRefreshInterval     time.Duration
	WorkerConcurrency      int

	// Provider configuration
	EnabledChains    []chain.Blockchain
	Providers        map[chain.Blockchain][]string
	ProviderTimeout  time.Duration
	FeeTimeout       time.Duration
	FilecoinRPCToken string
	SolanaFetchDelay time.Duration

	// EthereumTokens are the ERC-20 contracts whose balances are read on
	// every Ethereum refresh.
	EthereumTokens []chain.Token
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{Providers: make(map[chain.Blockchain][]string)}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	if d, err := parseDuration("SIGN_SESSION_TTL", "5m"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SignSessionTTL = d
	}
	if n, err := parseInt("HISTORY_LIMIT", 25); err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryLimit = n
	}

	// NATS configuration
	if b, err := parseBool("NATS_ENABLED", true); err != nil {
		errs = append(errs, err)
	} else {
		cfg.NATSEnabled = b
	}
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	if b, err := parseBool("TEMPORAL_ENABLED", true); err != nil {
		errs = append(errs, err)
	} else {
		cfg.TemporalEnabled = b
	}
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "walletcore-refresh")

	// Refresh scheduling
	if d, err := parseDuration("DEFAULT_REFRESH_INTERVAL", "60s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultRefreshInterval = d
	}
	if d, err := parseDuration("MIN_REFRESH_INTERVAL", "15s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinRefreshInterval = d
	}
	if n, err := parseInt("WORKER_CONCURRENCY", 10); err != nil {
		errs = append(errs, err)
	} else {
		cfg.WorkerConcurrency = n
	}
	if cfg.MinRefreshInterval > cfg.DefaultRefreshInterval {
		errs = append(errs, fmt.Errorf("MIN_REFRESH_INTERVAL (%v) cannot be greater than DEFAULT_REFRESH_INTERVAL (%v)",
			cfg.MinRefreshInterval, cfg.DefaultRefreshInterval))
	}

	// Provider configuration
	if d, err := parseDuration("PROVIDER_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProviderTimeout = d
	}
	if d, err := parseDuration("FEE_TIMEOUT", "5s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.FeeTimeout = d
	}
	if d, err := parseDuration("SOLANA_FETCH_DELAY", "0s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SolanaFetchDelay = d
	}
	cfg.FilecoinRPCToken = os.Getenv("FILECOIN_RPC_TOKEN")

	for _, name := range parseList("ENABLED_CHAINS", "bitcoin,ethereum,filecoin,xrp,solana") {
		b, err := chain.ParseBlockchain(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("ENABLED_CHAINS: %w", err))
			continue
		}
		cfg.EnabledChains = append(cfg.EnabledChains, b)
	}
	for _, b := range cfg.EnabledChains {
		env, ok := providerEnv[b]
		if !ok {
			errs = append(errs, fmt.Errorf("no provider configuration for %s", b))
			continue
		}
		urls := parseList(env.key, env.defaults)
		if len(urls) == 0 {
			errs = append(errs, fmt.Errorf("%s is required when %s is enabled", env.key, b))
			continue
		}
		cfg.Providers[b] = urls
	}

	tokens, err := parseTokens("ETHEREUM_TOKENS")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.EthereumTokens = tokens

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.TemporalEnabled {
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required"))
		}

		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}

		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	}

	if c.NATSEnabled && c.NATSURL == "" {
		errs = append(errs, fmt.Errorf("NATSURL is required when NATS is enabled"))
	}

	if c.MinRefreshInterval > c.DefaultRefreshInterval {
		errs = append(errs, fmt.Errorf("MinRefreshInterval cannot be greater than DefaultRefreshInterval"))
	}

	if c.DefaultRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultRefreshInterval must be at least 1 second"))
	}

	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ProviderTimeout must be positive"))
	}

	if c.FeeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FeeTimeout must be positive"))
	}

	if len(c.EnabledChains) == 0 {
		errs = append(errs, fmt.Errorf("at least one chain must be enabled"))
	}

	for _, b := range c.EnabledChains {
		if len(c.Providers[b]) == 0 {
			errs = append(errs, fmt.Errorf("no providers configured for %s", b))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated variable, dropping blank entries.
func parseList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnvOrDefault(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseTokens reads a list of contract:symbol:decimals entries.
func parseTokens(key string) ([]chain.Token, error) {
	var tokens []chain.Token
	for _, item := range parseList(key, "") {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s: expected contract:symbol:decimals, got %q", key, item)
		}
		decimals, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil || decimals < 0 {
			return nil, fmt.Errorf("%s: invalid decimals in %q", key, item)
		}
		tokens = append(tokens, chain.Token{Contract: parts[0], Symbol: parts[1], Decimals: int32(decimals)})
	}
	return tokens, nil
}

// ParseAmount builds an amount on b from a decimal string. token is a
// contract configured for the chain; empty means the native coin.
func (c *Config) ParseAmount(b chain.Blockchain, value, token string) (chain.Amount, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return chain.Amount{}, chain.ErrInvalidAmount.Withf("amount %q is not a decimal", value)
	}
	if token == "" {
		return chain.NewAmount(b, v), nil
	}
	if b == chain.Ethereum {
		for _, t := range c.EthereumTokens {
			if strings.EqualFold(t.Contract, token) {
				return chain.NewTokenAmount(b, t, v), nil
			}
		}
	}
	return chain.Amount{}, chain.ErrNotSupported.Withf("token %s is not configured on %s", token, b)
}
