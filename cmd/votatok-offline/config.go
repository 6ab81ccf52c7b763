package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	offlinecache "github.com/votatok/offline-cache"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`
	Queue  QueueConfig  `yaml:"queue"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	Origin string `yaml:"origin"`
	// Hostname of the origin, if Origin is just an address.
	Host string `yaml:"host"`
}

type CacheConfig struct {
	// SQLite file name, `memory` for an in-memory db.
	DB      string `yaml:"db"`
	Version string `yaml:"version"`
	// Overrides the names derived from Version.
	Names                offlinecache.CacheNames `yaml:"names"`
	Manifest             []string                `yaml:"manifest"`
	APIPrefix            string                  `yaml:"apiPrefix"`
	HoldUntilSkipWaiting bool                    `yaml:"holdUntilSkipWaiting"`
}

type QueueConfig struct {
	// leveldb, redis or memory
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	RedisURL     string `yaml:"redisUrl"`
	RedisPrefix  string `yaml:"redisPrefix"`
	RetainFailed bool   `yaml:"retainFailed"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Trace bool   `yaml:"trace"`
}

const (
	backendLevelDB = "leveldb"
	backendRedis   = "redis"
	backendMemory  = "memory"
)

// LoadConfig reads the YAML config file. Missing values are not defaulted here.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFlags builds the configuration from the config file, the flags and the environment.
// Flags override the file, the environment fills in what is still missing.
func ParseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("votatok-offline", flag.ContinueOnError)
	var (
		configPath   = fs.String("config", os.Getenv("VOTATOK_CONFIG"), "Path to the YAML config file")
		origin       = fs.String("origin", "", "Origin URL to proxy to")
		host         = fs.String("host", "", "Hostname of origin")
		port         = fs.Int("port", 0, "Port to listen on")
		db           = fs.String("db", "", "Cache DB file name (use 'memory' for in-memory db)")
		version      = fs.String("cache-version", "", "Version tag of the cache generations")
		backend      = fs.String("queue", "", "Deferred action store: leveldb, redis or memory")
		queuePath    = fs.String("queue-path", "", "LevelDB directory for deferred actions")
		redisURL     = fs.String("redis-url", "", "Redis URL for deferred actions")
		retainFailed = fs.Bool("retain-failed", false, "Keep deferred actions whose replay failed")
		hold         = fs.Bool("hold", false, "Stay installed until a SKIP_WAITING message")
		trace        = fs.Bool("vv", false, "Verbosity: trace logging")
		logFile      = fs.String("log-file", "", "Log file to use (in addition to stdout)")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var cfg Config
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.Server.Origin = *origin
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "db":
			cfg.Cache.DB = *db
		case "cache-version":
			cfg.Cache.Version = *version
		case "queue":
			cfg.Queue.Backend = *backend
		case "queue-path":
			cfg.Queue.Path = *queuePath
		case "redis-url":
			cfg.Queue.RedisURL = *redisURL
		case "retain-failed":
			cfg.Queue.RetainFailed = *retainFailed
		case "hold":
			cfg.Cache.HoldUntilSkipWaiting = *hold
		case "vv":
			cfg.Log.Trace = *trace
		case "log-file":
			cfg.Log.File = *logFile
		}
	})

	// fall back to environment variables
	if cfg.Server.Origin == "" {
		cfg.Server.Origin = os.Getenv("VOTATOK_ORIGIN")
	}
	if cfg.Queue.RedisURL == "" {
		cfg.Queue.RedisURL = os.Getenv("REDIS_URL")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")
	if c.Cache.DB == "" {
		c.Cache.DB = "cache.db"
	}
	if c.Cache.Version == "" {
		c.Cache.Version = offlinecache.DefaultVersion
	}
	defaults := offlinecache.DefaultCacheNames(c.Cache.Version)
	if c.Cache.Names.Static == "" {
		c.Cache.Names.Static = defaults.Static
	}
	if c.Cache.Names.API == "" {
		c.Cache.Names.API = defaults.API
	}
	if c.Cache.Names.Image == "" {
		c.Cache.Names.Image = defaults.Image
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = backendLevelDB
		if c.Queue.RedisURL != "" {
			c.Queue.Backend = backendRedis
		}
	}
	if c.Queue.Path == "" {
		c.Queue.Path = "queue.db"
	}
	if c.Queue.RedisPrefix == "" {
		c.Queue.RedisPrefix = "votatok:offline:"
	}
}

func (c Config) Validate() error {
	if c.Server.Origin == "" {
		return errors.New("server.origin is required (use -origin or VOTATOK_ORIGIN env)")
	}
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.origin: unsupported scheme %q", u.Scheme)
	}
	if u.Path != "" {
		return fmt.Errorf("server.origin: origins with paths are not supported")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	names := c.Cache.Names
	if names.Static == names.API || names.Static == names.Image || names.API == names.Image {
		return fmt.Errorf("cache.names must be distinct, got %+v", names)
	}
	for i, asset := range c.Cache.Manifest {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("cache.manifest[%d]: %q is not an absolute path", i, asset)
		}
	}
	switch c.Queue.Backend {
	case backendLevelDB, backendMemory:
	case backendRedis:
		if c.Queue.RedisURL == "" {
			return errors.New("queue.redisUrl is required for the redis backend (use -redis-url or REDIS_URL env)")
		}
	default:
		return fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend)
	}
	return nil
}

// OriginURL returns the parsed origin. Validate must have passed.
func (c Config) OriginURL() url.URL {
	u, _ := url.Parse(c.Server.Origin)
	return *u
}
