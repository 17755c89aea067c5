package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Exchange describes where the exchange lives and how to talk to it.
type Exchange struct {
	URL             string
	PairID          int64
	RequestTimeout  time.Duration
	RequestInterval time.Duration // minimum gap between requests per session; 0 disables
}

// Bots configures the two trading participants.
type Bots struct {
	RandomUser       string
	CounterUser      string
	UniqueIdentities bool // append a short random suffix so reruns do not collide
	RandomInterval   time.Duration
	CounterInterval  time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Seed             int64 // 0 seeds from the clock
}

// Monitor configures the optional event/stats HTTP server.
type Monitor struct {
	Addr          string // empty disables the server
	StatsInterval time.Duration
}

// Log configures the zap logger.
type Log struct {
	Level string
	File  string
}

type Config struct {
	Exchange Exchange
	Bots     Bots
	Monitor  Monitor
	Log      Log

	warnings []string
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			URL:            "http://localhost:8080",
			PairID:         5,
			RequestTimeout: 10 * time.Second,
		},
		Bots: Bots{
			RandomUser:      "random_user",
			CounterUser:     "algorithmic_user",
			RandomInterval:  3 * time.Second,
			CounterInterval: 3 * time.Second,
			BackoffMin:      250 * time.Millisecond,
			BackoffMax:      10 * time.Second,
		},
		Monitor: Monitor{
			StatsInterval: 30 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load starts from Default, applies an optional .env file and then the
// process environment. Priority: ENV > .env file > defaults.
// Unparseable values are skipped and reported through Warnings.
func Load(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.URL = getEnv("EXCHANGE_URL", cfg.Exchange.URL)
	cfg.Exchange.PairID = cfg.parseIntEnv("PAIR_ID", cfg.Exchange.PairID)
	cfg.Exchange.RequestTimeout = cfg.parseMillisEnv("REQUEST_TIMEOUT_MS", cfg.Exchange.RequestTimeout)
	cfg.Exchange.RequestInterval = cfg.parseMillisEnv("REQUEST_INTERVAL_MS", cfg.Exchange.RequestInterval)

	cfg.Bots.RandomUser = getEnv("RANDOM_USER", cfg.Bots.RandomUser)
	cfg.Bots.CounterUser = getEnv("COUNTER_USER", cfg.Bots.CounterUser)
	cfg.Bots.UniqueIdentities = cfg.parseBoolEnv("UNIQUE_IDENTITIES", cfg.Bots.UniqueIdentities)
	cfg.Bots.RandomInterval = cfg.parseMillisEnv("RANDOM_INTERVAL_MS", cfg.Bots.RandomInterval)
	cfg.Bots.CounterInterval = cfg.parseMillisEnv("COUNTER_INTERVAL_MS", cfg.Bots.CounterInterval)
	cfg.Bots.BackoffMin = cfg.parseMillisEnv("BACKOFF_MIN_MS", cfg.Bots.BackoffMin)
	cfg.Bots.BackoffMax = cfg.parseMillisEnv("BACKOFF_MAX_MS", cfg.Bots.BackoffMax)
	cfg.Bots.Seed = cfg.parseIntEnv("RANDOM_SEED", cfg.Bots.Seed)

	cfg.Monitor.Addr = getEnv("MONITOR_ADDR", cfg.Monitor.Addr)
	cfg.Monitor.StatsInterval = cfg.parseMillisEnv("STATS_INTERVAL_MS", cfg.Monitor.StatsInterval)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	return cfg
}

// BindFlags registers a flag for every setting, defaulting to the current
// values, so command-line flags override the environment.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Exchange.URL, "exchange-url", c.Exchange.URL, "base address of the exchange API")
	fs.Int64Var(&c.Exchange.PairID, "pair", c.Exchange.PairID, "pair id to trade")
	fs.DurationVar(&c.Exchange.RequestTimeout, "request-timeout", c.Exchange.RequestTimeout, "upper bound for a single request")
	fs.DurationVar(&c.Exchange.RequestInterval, "request-interval", c.Exchange.RequestInterval, "minimum gap between requests per participant (0 = unthrottled)")

	fs.StringVar(&c.Bots.RandomUser, "random-user", c.Bots.RandomUser, "identity of the random trader")
	fs.StringVar(&c.Bots.CounterUser, "counter-user", c.Bots.CounterUser, "identity of the counter-order trader")
	fs.BoolVar(&c.Bots.UniqueIdentities, "unique-identities", c.Bots.UniqueIdentities, "append a random suffix to each identity")
	fs.DurationVar(&c.Bots.RandomInterval, "random-interval", c.Bots.RandomInterval, "pause between random orders")
	fs.DurationVar(&c.Bots.CounterInterval, "counter-interval", c.Bots.CounterInterval, "pause between counter-order rounds")
	fs.DurationVar(&c.Bots.BackoffMin, "backoff-min", c.Bots.BackoffMin, "first retry delay when no price or orders are available")
	fs.DurationVar(&c.Bots.BackoffMax, "backoff-max", c.Bots.BackoffMax, "retry delay ceiling")
	fs.Int64Var(&c.Bots.Seed, "seed", c.Bots.Seed, "seed for the random trader (0 = clock)")

	fs.StringVar(&c.Monitor.Addr, "monitor-addr", c.Monitor.Addr, "listen address for the event/stats server (empty = disabled)")
	fs.DurationVar(&c.Monitor.StatsInterval, "stats-interval", c.Monitor.StatsInterval, "how often per-bot stats are logged")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "debug, info, warn or error")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "also append logs to this file")
}

// Validate reports every setting that would keep the bots from running.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Exchange.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("exchange url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("exchange url %q must be an absolute http(s) address", c.Exchange.URL))
	}
	if c.Exchange.PairID <= 0 {
		errs = append(errs, fmt.Errorf("pair id must be positive, got %d", c.Exchange.PairID))
	}
	if c.Exchange.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Exchange.RequestInterval < 0 {
		errs = append(errs, errors.New("request interval must not be negative"))
	}
	if c.Bots.RandomUser == "" || c.Bots.CounterUser == "" {
		errs = append(errs, errors.New("both participant identities are required"))
	} else if c.Bots.RandomUser == c.Bots.CounterUser {
		errs = append(errs, fmt.Errorf("participants need distinct identities, both are %q", c.Bots.RandomUser))
	}
	if c.Bots.RandomInterval <= 0 || c.Bots.CounterInterval <= 0 {
		errs = append(errs, errors.New("trading intervals must be positive"))
	}
	if c.Bots.BackoffMin <= 0 || c.Bots.BackoffMax < c.Bots.BackoffMin {
		errs = append(errs, fmt.Errorf("backoff range %s..%s is invalid", c.Bots.BackoffMin, c.Bots.BackoffMax))
	}
	if c.Monitor.StatsInterval <= 0 {
		errs = append(errs, errors.New("stats interval must be positive"))
	}
	return errors.Join(errs...)
}

// Identities returns the registration names for the random and counter
// traders, suffixed when UniqueIdentities is set.
func (c Config) Identities() (random, counter string) {
	random, counter = c.Bots.RandomUser, c.Bots.CounterUser
	if c.Bots.UniqueIdentities {
		suffix := uuid.NewString()[:8]
		random += "-" + suffix
		counter += "-" + suffix
	}
	return random, counter
}

// Warnings lists environment values that were ignored during Load.
func (c Config) Warnings() []string {
	return c.warnings
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) parseIntEnv(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		c.warn(key, value, err, defaultValue)
		return defaultValue
	}
	return parsed
}

func (c *Config) parseMillisEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		if err == nil {
			err = errors.New("negative duration")
		}
		c.warn(key, value, err, defaultValue)
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		c.warn(key, value, err, defaultValue)
		return defaultValue
	}
	return parsed
}

func (c *Config) warn(key, value string, err error, fallback any) {
	c.warnings = append(c.warnings, fmt.Sprintf("invalid %s value %s: %v, falling back to %v", key, value, err, fallback))
}
