package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ratherlabs/rathervault/internal/registry"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	RPCURL      string
	ChainID     int64
	Owner       string
	LogLevel    string
	KeySource   string
	SlippageBps int64
	Deadline    string
	Timeout     string
}

type Settings struct {
	OutputMode      string
	LogLevel        string
	ChainID         int64
	RPCURL          string
	Owner           string
	VaultAccount    string
	Contracts       registry.Contracts
	Pools           []registry.PoolEntry
	SlippageBps     int64
	Deadline        time.Duration
	Timeout         time.Duration
	JournalPath     string
	JournalLockPath string
	KeySource       string
}

type fileConfig struct {
	Output       string `yaml:"output"`
	LogLevel     string `yaml:"log_level"`
	ChainID      *int64 `yaml:"chain_id"`
	RPCURL       string `yaml:"rpc_url"`
	Owner        string `yaml:"owner"`
	VaultAccount string `yaml:"vault_account"`
	SlippageBps  *int64 `yaml:"slippage_bps"`
	Deadline     string `yaml:"deadline"`
	Timeout      string `yaml:"timeout"`
	Contracts    struct {
		Router      string `yaml:"router"`
		Factory     string `yaml:"factory"`
		ChefV1      string `yaml:"chef_v1"`
		ChefV2      string `yaml:"chef_v2"`
		WETH        string `yaml:"weth"`
		RewardToken string `yaml:"reward_token"`
	} `yaml:"contracts"`
	Pools []struct {
		Variant string `yaml:"variant"`
		LPToken string `yaml:"lp_token"`
		PoolID  uint64 `yaml:"pool_id"`
	} `yaml:"pools"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Signer struct {
		KeySource string `yaml:"key_source"`
	} `yaml:"signer"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	// Chain defaults fill whatever the layers above left empty.
	if defaults, ok := registry.DefaultContracts(settings.ChainID); ok {
		mergeContracts(&settings.Contracts, defaults)
	}
	settings.Pools = append(settings.Pools, registry.DefaultPools(settings.ChainID)...)
	if rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, settings.ChainID); err == nil {
		settings.RPCURL = rpcURL
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.SlippageBps < 0 || settings.SlippageBps >= 10_000 {
		return Settings{}, fmt.Errorf("slippage_bps must be in [0, 10000)")
	}
	if settings.Deadline <= 0 {
		settings.Deadline = 20 * time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 2 * time.Minute
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	journalPath, lockPath, err := defaultJournalPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		LogLevel:        "info",
		ChainID:         1,
		SlippageBps:     50,
		Deadline:        20 * time.Minute,
		Timeout:         2 * time.Minute,
		JournalPath:     journalPath,
		JournalLockPath: lockPath,
		KeySource:       "auto",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "rathervault", "config.yaml"), nil
}

func defaultJournalPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "rathervault")
	return filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Owner != "" {
		settings.Owner = cfg.Owner
	}
	if cfg.VaultAccount != "" {
		settings.VaultAccount = cfg.VaultAccount
	}
	if cfg.SlippageBps != nil {
		settings.SlippageBps = *cfg.SlippageBps
	}
	if cfg.Deadline != "" {
		d, err := time.ParseDuration(cfg.Deadline)
		if err != nil {
			return fmt.Errorf("config deadline: %w", err)
		}
		settings.Deadline = d
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	settings.Contracts = registry.Contracts{
		Router:      firstNonEmpty(cfg.Contracts.Router, settings.Contracts.Router),
		Factory:     firstNonEmpty(cfg.Contracts.Factory, settings.Contracts.Factory),
		ChefV1:      firstNonEmpty(cfg.Contracts.ChefV1, settings.Contracts.ChefV1),
		ChefV2:      firstNonEmpty(cfg.Contracts.ChefV2, settings.Contracts.ChefV2),
		WETH:        firstNonEmpty(cfg.Contracts.WETH, settings.Contracts.WETH),
		RewardToken: firstNonEmpty(cfg.Contracts.RewardToken, settings.Contracts.RewardToken),
	}
	for _, p := range cfg.Pools {
		settings.Pools = append(settings.Pools, registry.PoolEntry{
			Variant: strings.ToLower(p.Variant),
			LPToken: p.LPToken,
			PoolID:  p.PoolID,
		})
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	if cfg.Signer.KeySource != "" {
		settings.KeySource = strings.ToLower(cfg.Signer.KeySource)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("RATHER_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("RATHER_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("RATHER_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("RATHER_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("RATHER_OWNER"); v != "" {
		settings.Owner = v
	}
	if v := os.Getenv("RATHER_VAULT_ACCOUNT"); v != "" {
		settings.VaultAccount = v
	}
	if v := os.Getenv("RATHER_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("RATHER_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Deadline = d
		}
	}
	if v := os.Getenv("RATHER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("RATHER_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("RATHER_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
	if v := os.Getenv("RATHER_KEY_SOURCE"); v != "" {
		settings.KeySource = strings.ToLower(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.Owner) != "" {
		settings.Owner = strings.TrimSpace(flags.Owner)
	}
	if flags.KeySource != "" {
		settings.KeySource = strings.ToLower(flags.KeySource)
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.Deadline != "" {
		d, err := time.ParseDuration(flags.Deadline)
		if err != nil {
			return fmt.Errorf("parse --deadline: %w", err)
		}
		settings.Deadline = d
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func mergeContracts(dst *registry.Contracts, defaults registry.Contracts) {
	dst.Router = firstNonEmpty(dst.Router, defaults.Router)
	dst.Factory = firstNonEmpty(dst.Factory, defaults.Factory)
	dst.ChefV1 = firstNonEmpty(dst.ChefV1, defaults.ChefV1)
	dst.ChefV2 = firstNonEmpty(dst.ChefV2, defaults.ChefV2)
	dst.WETH = firstNonEmpty(dst.WETH, defaults.WETH)
	dst.RewardToken = firstNonEmpty(dst.RewardToken, defaults.RewardToken)
}

// SetOwner rewrites the owner address in the config file, creating the file
// when it does not exist yet. Ownership transfer keeps exactly one owner: the
// previous value is overwritten, never appended. Returns the path written.
func SetOwner(configPath, owner string) (string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return "", err
	}
	var cfg fileConfig
	if buf, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return "", fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read config: %w", err)
	}
	cfg.Owner = owner

	buf, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("encode config yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
