package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values other packages query after
// startup merges flags, env and file.
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config for the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of the configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Addr returns the listen address, combining Address and Port when the
// address itself carries no port.
func (c *Config) Addr() string {
	a := c.Server.Address
	if a == "" {
		a = ":8080"
	}
	if _, _, err := net.SplitHostPort(a); err == nil {
		return a
	}
	if c.Server.Port > 0 {
		return net.JoinHostPort(a, strconv.Itoa(c.Server.Port))
	}
	return a
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}

// ParseCommandFlags parses the command-line flags shared by the server
// binary. setFlags records which were explicitly provided so they can win
// over env and file values.
func ParseCommandFlags() (addr, dbPath, cfgPath string, setFlags map[string]bool) {
	a := flag.String("addr", ":8080", "listen address")
	d := flag.String("db", "./data", "path to the pebble database directory")
	c := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *a, *d, *c, setFlags
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// COMMHUB_CONFIG, then ./commhub.yaml when present.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet && flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("COMMHUB_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("commhub.yaml"); err == nil {
		return "commhub.yaml"
	}
	return flagPath
}

// LoadEffective loads the config file (when present) and overlays
// environment variables. It returns the effective config, the signing key
// set, and whether any env override was applied.
func LoadEffective(path string) (*Config, map[string]struct{}, bool, error) {
	cfg := &Config{}
	if path != "" {
		if c, err := Load(path); err == nil {
			cfg = c
		} else if !os.IsNotExist(err) {
			return nil, nil, false, err
		}
	}
	envUsed := applyEnvOverrides(cfg)

	keys := map[string]struct{}{}
	for _, k := range cfg.Security.SigningKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	return cfg, keys, envUsed, nil
}

func applyEnvOverrides(cfg *Config) bool {
	used := false
	if v := os.Getenv("COMMHUB_ADDR"); v != "" {
		cfg.Server.Address = v
		used = true
	}
	if v := os.Getenv("COMMHUB_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
		used = true
	}
	if v := os.Getenv("COMMHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
		used = true
	}
	if v := os.Getenv("COMMHUB_SIGNING_KEYS"); v != "" {
		cfg.Security.SigningKeys = splitList(v)
		used = true
	}
	if v := os.Getenv("COMMHUB_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.RateLimit.RPS = f
			used = true
		}
	}
	if v := os.Getenv("COMMHUB_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimit.Burst = n
			used = true
		}
	}
	return used
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
