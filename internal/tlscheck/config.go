package tlscheck

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_8_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/38.0.2125.111 Safari/537.36"

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// Self is the address peers know this instance by. When empty the
		// Host header of the inbound request is used.
		Self         string `yaml:"self"`
		SharedSecret string `yaml:"sharedSecret"`
	} `yaml:"server"`

	Cache struct {
		TTL string `yaml:"ttl"`
		// RAMEntries bounds the in-process tier in front of the store. Zero
		// disables it.
		RAMEntries *int `yaml:"ramEntries"`

		ttlDur time.Duration
	} `yaml:"cache"`

	Storage struct {
		Backend string `yaml:"backend"`
		LevelDB struct {
			Path string `yaml:"path"`
		} `yaml:"leveldb"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			TLS      bool   `yaml:"tls"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Federation struct {
		Servers      []string `yaml:"servers"`
		MaxRecursion *int     `yaml:"maxRecursion"`
		Parallel     bool     `yaml:"parallel"`
		Scheme       string   `yaml:"scheme"`
		PeerTimeout  string   `yaml:"peerTimeout"`

		peerTimeoutDur time.Duration
	} `yaml:"federation"`

	Probe struct {
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"userAgent"`
		// MaxBody caps how much of a probed response is read before the
		// connection is dropped.
		MaxBody string `yaml:"maxBody"`

		timeoutDur   time.Duration
		maxBodyBytes int64
	} `yaml:"probe"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

// DefaultConfig returns the configuration used when a key is left out of the
// file. Values match a federation of one with a ten day cache.
func DefaultConfig() Config {
	var cfg Config
	if err := cfg.normalize(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Self = strings.TrimSpace(cfg.Server.Self)

	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "240h"
	}
	d, err := time.ParseDuration(cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("cache.ttl: must be positive, got %s", cfg.Cache.TTL)
	}
	cfg.Cache.ttlDur = d
	if cfg.Cache.RAMEntries == nil {
		n := 10000
		cfg.Cache.RAMEntries = &n
	}
	if *cfg.Cache.RAMEntries < 0 {
		return fmt.Errorf("cache.ramEntries: must not be negative")
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	switch cfg.Storage.Backend {
	case "leveldb", "memory", "redis":
	default:
		return fmt.Errorf("storage.backend: %w: %q", ErrUnknownBackend, cfg.Storage.Backend)
	}
	if cfg.Storage.LevelDB.Path == "" {
		cfg.Storage.LevelDB.Path = "./data/leveldb"
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "localhost:6379"
	}

	servers := make([]string, 0, len(cfg.Federation.Servers))
	for i, s := range cfg.Federation.Servers {
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("federation.servers[%d]: empty address", i)
		}
		if strings.Contains(s, "://") {
			return fmt.Errorf("federation.servers[%d]: want host:port without scheme, got %q", i, s)
		}
		servers = append(servers, s)
	}
	cfg.Federation.Servers = servers
	if cfg.Federation.MaxRecursion == nil {
		n := 3
		cfg.Federation.MaxRecursion = &n
	}
	if *cfg.Federation.MaxRecursion < 0 {
		return fmt.Errorf("federation.maxRecursion: must not be negative")
	}
	if cfg.Federation.Scheme == "" {
		cfg.Federation.Scheme = "http"
	}
	cfg.Federation.Scheme = strings.TrimSuffix(strings.ToLower(cfg.Federation.Scheme), "://")
	if cfg.Federation.Scheme != "http" && cfg.Federation.Scheme != "https" {
		return fmt.Errorf("federation.scheme: want http or https, got %q", cfg.Federation.Scheme)
	}
	if cfg.Federation.PeerTimeout == "" {
		cfg.Federation.PeerTimeout = "10s"
	}
	if cfg.Federation.peerTimeoutDur, err = parsePositive(cfg.Federation.PeerTimeout); err != nil {
		return fmt.Errorf("federation.peerTimeout: %w", err)
	}

	if cfg.Probe.Timeout == "" {
		cfg.Probe.Timeout = "2s"
	}
	if cfg.Probe.timeoutDur, err = parsePositive(cfg.Probe.Timeout); err != nil {
		return fmt.Errorf("probe.timeout: %w", err)
	}
	if cfg.Probe.UserAgent == "" {
		cfg.Probe.UserAgent = defaultUserAgent
	}
	if cfg.Probe.MaxBody == "" {
		cfg.Probe.MaxBody = "64kb"
	}
	if cfg.Probe.maxBodyBytes, err = parseByteSize(cfg.Probe.MaxBody); err != nil {
		return fmt.Errorf("probe.maxBody: %w", err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format: want text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.LogStatsEvery != "" {
		if cfg.Logging.logStatsEveryDur, err = parsePositive(cfg.Logging.LogStatsEvery); err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
	}
	return nil
}

func parsePositive(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// CoordinatorConfig freezes the federation part of cfg.
func (cfg Config) CoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Federation:   append([]string(nil), cfg.Federation.Servers...),
		CacheTTL:     cfg.Cache.ttlDur,
		MaxRecursion: *cfg.Federation.MaxRecursion,
		Parallel:     cfg.Federation.Parallel,
		PeerTimeout:  cfg.Federation.peerTimeoutDur,
	}
}
