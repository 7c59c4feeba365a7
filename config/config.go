package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payai/crypto"

	"github.com/BurntSushi/toml"
)

// Environment variables consulted by the daemon and the CLI.
const (
	EnvName          = "PAYAI_ENV"
	EnvKeyPassphrase = "PAYAI_KEY_PASS"
)

const (
	defaultRPCAddress      = "127.0.0.1:8545"
	defaultDataDir         = "./payai-data"
	defaultNetworkName     = "payai-local"
	defaultMaxSkewSeconds  = 120
	defaultRequestsPerMin  = 120
	defaultBurst           = 20
	defaultReplayWindowSec = 600
)

type Config struct {
	RPCAddress        string       `toml:"RPCAddress"`
	DataDir           string       `toml:"DataDir"`
	NetworkName       string       `toml:"NetworkName"`
	DefaultAdmin      string       `toml:"DefaultAdmin"`
	AdminKeystorePath string       `toml:"AdminKeystorePath"`
	FeeVaultReserve   uint64       `toml:"FeeVaultReserve"`
	LogFile           string       `toml:"LogFile"`
	RPC               RPCConfig    `toml:"RPC"`
	Genesis           []Allocation `toml:"Genesis"`
}

// RPCConfig bounds how the JSON-RPC server admits instructions.
// TrustedProxies are peer IPs whose X-Forwarded-For header identifies the
// client for rate limiting.
type RPCConfig struct {
	MaxSkewSeconds      int64    `toml:"MaxSkewSeconds"`
	RequestsPerMinute   float64  `toml:"RequestsPerMinute"`
	Burst               int      `toml:"Burst"`
	ReplayWindowSeconds int64    `toml:"ReplayWindowSeconds"`
	TrustedProxies      []string `toml:"TrustedProxies"`
}

// Allocation credits a ledger balance when the data directory is first
// created.
type Allocation struct {
	Address string `toml:"Address"`
	Balance uint64 `toml:"Balance"`
}

// MaxSkew is the accepted distance between an instruction timestamp and the
// node clock.
func (r RPCConfig) MaxSkew() time.Duration {
	return time.Duration(r.MaxSkewSeconds) * time.Second
}

// ReplayWindow is how long a submitted instruction hash is remembered.
func (r RPCConfig) ReplayWindow() time.Duration {
	return time.Duration(r.ReplayWindowSeconds) * time.Second
}

// DefaultAdminIdentity decodes the deployment administrator.
func (c *Config) DefaultAdminIdentity() ([20]byte, error) {
	id, err := crypto.ParseIdentity(strings.TrimSpace(c.DefaultAdmin))
	if err != nil {
		return [20]byte{}, fmt.Errorf("DefaultAdmin: %w", err)
	}
	return id, nil
}

// GenesisBalances decodes the configured allocations. Repeated addresses are
// summed.
func (c *Config) GenesisBalances() (map[[20]byte]uint64, error) {
	out := make(map[[20]byte]uint64, len(c.Genesis))
	for i, alloc := range c.Genesis {
		id, err := crypto.ParseIdentity(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("Genesis[%d]: %w", i, err)
		}
		sum := out[id] + alloc.Balance
		if sum < alloc.Balance {
			return nil, fmt.Errorf("Genesis[%d]: balance overflow for %s", i, alloc.Address)
		}
		out[id] = sum
	}
	return out, nil
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a freshly generated administrator keystore.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
	if cfg.RPC.MaxSkewSeconds == 0 {
		cfg.RPC.MaxSkewSeconds = defaultMaxSkewSeconds
	}
	if cfg.RPC.RequestsPerMinute == 0 {
		cfg.RPC.RequestsPerMinute = defaultRequestsPerMin
	}
	if cfg.RPC.Burst == 0 {
		cfg.RPC.Burst = defaultBurst
	}
	if cfg.RPC.ReplayWindowSeconds == 0 {
		cfg.RPC.ReplayWindowSeconds = defaultReplayWindowSec
	}
}

// createDefault creates and saves a default configuration file. The generated
// administrator key is protected with PAYAI_KEY_PASS.
func createDefault(path string) (*Config, error) {
	passphrase := os.Getenv(EnvKeyPassphrase)
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("config %s not found; set %s to generate a default administrator keystore", path, EnvKeyPassphrase)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		DefaultAdmin:      key.PubKey().Address().String(),
		AdminKeystorePath: keystorePath,
		Genesis:           []Allocation{},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
