package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"payai/crypto"
)

func testIdentity(fill byte) string {
	var id [20]byte
	for i := range id {
		id[i] = fill
	}
	return crypto.FormatIdentity(id)
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesSettings(t *testing.T) {
	admin := testIdentity(0xAD)
	buyer := testIdentity(0x10)
	path := writeConfig(t, fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
NetworkName = "payai-test"
DefaultAdmin = "%s"
FeeVaultReserve = 25
LogFile = "payaid.log"

[RPC]
MaxSkewSeconds = 30
RequestsPerMinute = 60.0
Burst = 5
ReplayWindowSeconds = 300
TrustedProxies = ["10.0.0.1"]

[[Genesis]]
Address = "%s"
Balance = 1000

[[Genesis]]
Address = "%s"
Balance = 500
`, admin, buyer, buyer))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.NetworkName != "payai-test" || cfg.FeeVaultReserve != 25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.RPC.TrustedProxies) != 1 || cfg.RPC.TrustedProxies[0] != "10.0.0.1" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.RPC.TrustedProxies)
	}
	if cfg.RPC.MaxSkew().Seconds() != 30 || cfg.RPC.Burst != 5 || cfg.RPC.ReplayWindow().Seconds() != 300 {
		t.Fatalf("unexpected rpc config: %+v", cfg.RPC)
	}
	adminID, err := cfg.DefaultAdminIdentity()
	if err != nil {
		t.Fatalf("admin identity: %v", err)
	}
	if crypto.FormatIdentity(adminID) != admin {
		t.Fatalf("admin mismatch: %s", crypto.FormatIdentity(adminID))
	}
	balances, err := cfg.GenesisBalances()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected merged allocation, got %d entries", len(balances))
	}
	for _, bal := range balances {
		if bal != 1500 {
			t.Fatalf("expected summed balance 1500, got %d", bal)
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("DefaultAdmin = %q\n", testIdentity(0xAD)))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != defaultRPCAddress || cfg.DataDir != defaultDataDir || cfg.NetworkName != defaultNetworkName {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RPC.MaxSkewSeconds != defaultMaxSkewSeconds || cfg.RPC.ReplayWindowSeconds != defaultReplayWindowSec {
		t.Fatalf("rpc defaults not applied: %+v", cfg.RPC)
	}
	if cfg.FeeVaultReserve != 0 {
		t.Fatalf("fee vault reserve should default to 0, got %d", cfg.FeeVaultReserve)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("DefaultAdmin = %q\nValidatorKey = \"abc\"\n", testIdentity(0xAD)))
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv(EnvKeyPassphrase, "s3cret")
	dir := t.TempDir()
	path := filepath.Join(dir, "node", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("create default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, "s3cret")
	if err != nil {
		t.Fatalf("load admin keystore: %v", err)
	}
	if key.PubKey().Address().String() != cfg.DefaultAdmin {
		t.Fatalf("default admin does not match keystore")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DefaultAdmin != cfg.DefaultAdmin || reloaded.RPCAddress != cfg.RPCAddress {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{DefaultAdmin: testIdentity(0xAD)}
		applyDefaults(cfg)
		return cfg
	}
	if err := ValidateConfig(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"missing admin":  func(c *Config) { c.DefaultAdmin = "" },
		"foreign prefix": func(c *Config) { c.DefaultAdmin = crypto.NewAddress("nhb", make([]byte, 20)).String() },
		"negative burst": func(c *Config) { c.RPC.Burst = -1 },
		"window too long": func(c *Config) {
			c.RPC.ReplayWindowSeconds = MaxReplayWindowSeconds + 1
		},
		"window shorter than skew": func(c *Config) {
			c.RPC.MaxSkewSeconds = 100
			c.RPC.ReplayWindowSeconds = 50
		},
		"window shorter than twice skew": func(c *Config) {
			c.RPC.MaxSkewSeconds = 60
			c.RPC.ReplayWindowSeconds = 100
		},
		"bad trusted proxy": func(c *Config) { c.RPC.TrustedProxies = []string{"10.0.0.0/8"} },
		"skew disabled":     func(c *Config) { c.RPC.MaxSkewSeconds = 0 },
		"bad genesis":       func(c *Config) { c.Genesis = []Allocation{{Address: "nope", Balance: 1}} },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := ValidateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadDefaultRequiresPassphrase(t *testing.T) {
	t.Setenv(EnvKeyPassphrase, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), EnvKeyPassphrase) {
		t.Fatalf("expected passphrase error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("config written without passphrase")
	}
}
