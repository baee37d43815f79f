package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes environment overrides, e.g. LAI_PORT or LAI_TRIG_MODE.
const EnvPrefix = "LAI"

var (
	ErrInvalidPort     = errors.New("config: port must be in 1024..65535")
	ErrInvalidTrigMode = errors.New("config: trig mode must be in 0..3")
	ErrInvalidPoolSize = errors.New("config: thread, connection and db pool sizes must be positive")
	ErrInvalidEnv      = errors.New("config: env must be development or production")
)

// Config holds all application configuration.
type Config struct {
	Port      int  `config:"port"`
	TrigMode  int  `config:"trig.mode"`
	TimeoutMS int  `config:"timeout.ms"`
	OptLinger bool `config:"opt.linger"`
	ThreadNum int  `config:"thread.num"`
	MaxConns  int  `config:"max.conns"`

	SrcDir    string `config:"src.dir"`
	UserDB    string `config:"user.db"`
	DBPoolNum int    `config:"db.pool.num"`

	LogLevel string `config:"log.level"`
	Env      string `config:"env"`

	GOGC        int   `config:"gogc"`
	MemoryLimit int64 `config:"memory.limit"`

	ConfigFile string `config:"-"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:      8092,
		TrigMode:  3,
		TimeoutMS: 60000,
		OptLinger: false,
		ThreadNum: 8,
		MaxConns:  65536,
		SrcDir:    "./resource",
		UserDB:    "./data/users",
		DBPoolNum: 10,
		LogLevel:  "info",
		Env:       "development",
	}
}

// New loads configuration from the command line, exiting on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load builds a Config from defaults, then the config file, then LAI_*
// environment variables, then flags given explicitly in args.
func Load(args []string) (*Config, error) {
	// First pass: syntax check and the config file location.
	pre := Default()
	fs := newFlagSet(pre)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := NewManager()
	env.LoadFromEnv(EnvPrefix)
	if pre.ConfigFile == "" {
		pre.ConfigFile = env.GetString("config")
	}

	cfg := Default()
	cfg.ConfigFile = pre.ConfigFile
	if cfg.ConfigFile != "" {
		file := NewManager()
		if err := file.LoadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
		if err := file.Unmarshal("", cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Second pass: flags bound to the merged values only change what was given.
	fs = newFlagSet(cfg)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("webserver", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port (1024-65535)")
	fs.IntVar(&cfg.TrigMode, "trig", cfg.TrigMode, "Trigger mode: 0 LT+LT, 1 LT+ET, 2 ET+LT, 3 ET+ET (listen+conn)")
	fs.IntVar(&cfg.TimeoutMS, "timeout", cfg.TimeoutMS, "Idle connection timeout in milliseconds (0 disables)")
	fs.BoolVar(&cfg.OptLinger, "linger", cfg.OptLinger, "Graceful close with SO_LINGER")
	fs.IntVar(&cfg.ThreadNum, "threads", cfg.ThreadNum, "Worker pool size")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent client connections")
	fs.StringVar(&cfg.SrcDir, "src", cfg.SrcDir, "Static resource directory")
	fs.StringVar(&cfg.UserDB, "user-db", cfg.UserDB, "User database directory")
	fs.IntVar(&cfg.DBPoolNum, "db-pool", cfg.DBPoolNum, "User database session pool size")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.IntVar(&cfg.GOGC, "gogc", cfg.GOGC, "GC target percentage (0 keeps the runtime default)")
	fs.Int64Var(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "Soft memory limit in bytes (0 = none)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "JSON or YAML config file")

	return fs
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.TrigMode < 0 || c.TrigMode > 3 {
		return fmt.Errorf("%w: %d", ErrInvalidTrigMode, c.TrigMode)
	}
	if c.ThreadNum <= 0 || c.MaxConns <= 0 || c.DBPoolNum <= 0 {
		return ErrInvalidPoolSize
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("%w: %q", ErrInvalidEnv, c.Env)
	}
	return nil
}

// IsProduction reports whether Env is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
