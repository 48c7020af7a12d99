// Package config loads the server configuration: yaml file, environment
// overrides, then command-line flags, in increasing precedence.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Chat struct {
		// PageSize bounds message subscriptions and list reads.
		PageSize int `yaml:"page_size"`
		// TypingTTLMillis is how long a typing flag lives unrefreshed.
		TypingTTLMillis int `yaml:"typing_ttl_ms"`
		MaxTextLen      int `yaml:"max_text_len"`
		MaxImageRefLen  int `yaml:"max_image_ref_len"`
		MaxSystemLen    int `yaml:"max_system_len"`
	} `yaml:"chat"`
	Security struct {
		APIKeys struct {
			Backend     []string `yaml:"backend"`
			Frontend    []string `yaml:"frontend"`
			AllowUnauth bool     `yaml:"allow_unauth"`
		} `yaml:"api_keys"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Sweep struct {
		Enabled bool `yaml:"enabled"`
		// Cron schedule for the typing sweeper; default every minute.
		Cron string `yaml:"cron"`
	} `yaml:"sweep"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// TypingTTL returns the typing expiry as a duration (default 3s).
func (c *Config) TypingTTL() time.Duration {
	if c.Chat.TypingTTLMillis <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Chat.TypingTTLMillis) * time.Millisecond
}

// Load reads a yaml config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with which flags were explicitly set.
func ParseCommandFlags() (addr, dbPath, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "tree store path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies EVENTSNAP_* environment overrides onto cfg
// and reports whether any were used.
func LoadEnvOverrides(cfg *Config) bool {
	used := false
	parseList := func(v string) []string {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("EVENTSNAP_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("EVENTSNAP_DB_PATH"); v != "" {
		used = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("EVENTSNAP_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Chat.PageSize = n
		}
	}
	if v := os.Getenv("EVENTSNAP_TYPING_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Chat.TypingTTLMillis = n
		}
	}
	if v := os.Getenv("EVENTSNAP_API_BACKEND_KEYS"); v != "" {
		used = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("EVENTSNAP_API_FRONTEND_KEYS"); v != "" {
		used = true
		cfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := os.Getenv("EVENTSNAP_ALLOW_UNAUTH"); v != "" {
		used = true
		cfg.Security.APIKeys.AllowUnauth = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EVENTSNAP_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			used = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("EVENTSNAP_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("EVENTSNAP_SWEEP_CRON"); v != "" {
		used = true
		cfg.Sweep.Enabled = true
		cfg.Sweep.Cron = v
	}
	if v := os.Getenv("EVENTSNAP_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	return used
}

// Effective holds the merged result of file + env + flags handed to the
// app.
type Effective struct {
	Config  Config
	Addr    string
	DBPath  string
	Sources []string
}

// Resolve merges config sources in precedence order: defaults, file,
// env, explicit flags.
func Resolve(addrFlag, dbFlag, cfgPath string, setFlags map[string]bool) (Effective, error) {
	var eff Effective
	cfg := &Config{}
	if cfgPath != "" {
		if loaded, err := Load(cfgPath); err == nil {
			cfg = loaded
			eff.Sources = append(eff.Sources, "file:"+cfgPath)
		} else if setFlags["config"] {
			// an explicitly named config file must exist
			return eff, err
		}
	}
	if LoadEnvOverrides(cfg) {
		eff.Sources = append(eff.Sources, "env")
	}
	eff.Addr = cfg.Addr()
	if setFlags["addr"] {
		eff.Addr = addrFlag
		eff.Sources = append(eff.Sources, "flag:addr")
	}
	eff.DBPath = cfg.Storage.DBPath
	if eff.DBPath == "" || setFlags["db"] {
		eff.DBPath = dbFlag
	}
	eff.Config = *cfg
	return eff, nil
}
