package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPageSize     = 50
	DefaultPollInterval = 3 * time.Second
	defaultConfigDir    = "ledgerchat"
	defaultConfigFile   = "config.json"
)

// Config holds client configuration.
type Config struct {
	RPCURL        string            `json:"rpc_url,omitempty"`
	Package       string            `json:"package,omitempty"`
	Address       string            `json:"address,omitempty"`
	AIAddress     string            `json:"ai_address,omitempty"`
	LedgerPath    string            `json:"ledger,omitempty"`
	PageSize      int               `json:"page_size,omitempty"`
	PollInterval  Duration          `json:"poll_interval,omitempty"`
	TriggerTokens []string          `json:"trigger_tokens,omitempty"`
	Aliases       map[string]string `json:"aliases,omitempty"`
}

// Duration is a time.Duration encoded as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:      DefaultPageSize,
		PollInterval:  Duration(DefaultPollInterval),
		TriggerTokens: append([]string(nil), DefaultTriggerTokens...),
		Aliases:       map[string]string{},
	}
}

// ConfigPath returns the location of the user config file.
func ConfigPath() (string, error) {
	if path := os.Getenv("LEDGERCHAT_CONFIG"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", defaultConfigDir, defaultConfigFile), nil
}

// LoadConfig layers defaults, the JSON config file, .env and the environment.
func LoadConfig() (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// WriteConfig writes cfg to the user config file.
func WriteConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the values the sync engine depends on.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", time.Duration(c.PollInterval))
	}
	return nil
}

// ResolveAlias maps a name or address to an address.
func (c Config) ResolveAlias(ref string) string {
	if IsAddress(ref) {
		return ref
	}
	name := strings.ToLower(strings.TrimPrefix(ref, "@"))
	if name == "ai" && c.AIAddress != "" {
		return c.AIAddress
	}
	return c.Aliases[name]
}

// MentionAliases returns alias lookups including "ai" for the AI address.
func (c Config) MentionAliases() map[string]string {
	aliases := make(map[string]string, len(c.Aliases)+1)
	for name, addr := range c.Aliases {
		aliases[strings.ToLower(name)] = addr
	}
	if c.AIAddress != "" {
		if _, ok := aliases["ai"]; !ok {
			aliases["ai"] = c.AIAddress
		}
	}
	return aliases
}

func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if file.RPCURL != "" {
		cfg.RPCURL = file.RPCURL
	}
	if file.Package != "" {
		cfg.Package = file.Package
	}
	if file.Address != "" {
		cfg.Address = file.Address
	}
	if file.AIAddress != "" {
		cfg.AIAddress = file.AIAddress
	}
	if file.LedgerPath != "" {
		cfg.LedgerPath = file.LedgerPath
	}
	if file.PageSize != 0 {
		cfg.PageSize = file.PageSize
	}
	if file.PollInterval != 0 {
		cfg.PollInterval = file.PollInterval
	}
	if len(file.TriggerTokens) > 0 {
		cfg.TriggerTokens = file.TriggerTokens
	}
	for name, addr := range file.Aliases {
		cfg.Aliases[strings.ToLower(name)] = addr
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if value := os.Getenv("LEDGERCHAT_RPC_URL"); value != "" {
		cfg.RPCURL = value
	}
	if value := os.Getenv("LEDGERCHAT_PACKAGE"); value != "" {
		cfg.Package = value
	}
	if value := os.Getenv("LEDGERCHAT_ADDRESS"); value != "" {
		cfg.Address = value
	}
	if value := os.Getenv("LEDGERCHAT_AI_ADDRESS"); value != "" {
		cfg.AIAddress = value
	}
	if value := os.Getenv("LEDGERCHAT_LEDGER"); value != "" {
		cfg.LedgerPath = value
	}
	if value := os.Getenv("LEDGERCHAT_PAGE_SIZE"); value != "" {
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("LEDGERCHAT_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = size
	}
	if value := os.Getenv("LEDGERCHAT_POLL_INTERVAL"); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("LEDGERCHAT_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = Duration(interval)
	}
	if value := os.Getenv("LEDGERCHAT_TRIGGER_TOKENS"); value != "" {
		var tokens []string
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				tokens = append(tokens, token)
			}
		}
		cfg.TriggerTokens = tokens
	}
	return nil
}
