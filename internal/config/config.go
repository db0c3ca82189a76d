package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Push      PushConfig
	WhatsApp  WhatsAppConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
	// Secret is the bearer token required by the trigger endpoints.
	Secret string
}

type DatabaseConfig struct {
	PostgresURL string
	AutoMigrate bool
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type DispatchConfig struct {
	BatchSize int
	Lease     time.Duration
	// RunTimeout cancels a run still working at the deadline; zero means
	// the run is bounded by the caller only.
	RunTimeout    time.Duration
	PushFanOut    int
	ClientTimeout time.Duration
}

// PushConfig holds the VAPID identity. Empty keys are allowed at load time;
// push delivery then fails closed.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             time.Duration
}

type WhatsAppConfig struct {
	APIURL string
}

type LogConfig struct {
	Level string
}

func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
			Secret:  str("DISPATCH_SECRET"),
		},
		Database: DatabaseConfig{
			PostgresURL: str("POSTGRES_URL"),
			AutoMigrate: flag("DB_AUTO_MIGRATE", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:  flag("SCHED_ENABLED", false),
			Interval: seconds(num("SCHED_INTERVAL_SECONDS", 60)),
		},
		Dispatch: DispatchConfig{
			BatchSize:     num("DISPATCH_BATCH_SIZE", 50),
			Lease:         seconds(num("DISPATCH_LEASE_SECONDS", 300)),
			RunTimeout:    seconds(num("DISPATCH_RUN_TIMEOUT_SECONDS", 0)),
			PushFanOut:    num("PUSH_FANOUT_CONCURRENCY", 4),
			ClientTimeout: seconds(num("HTTP_CLIENT_TIMEOUT_SECONDS", 10)),
		},
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:         getEnv("VAPID_SUBJECT", "mailto:notifications@gymtime.app"),
			TTL:             seconds(num("PUSH_TTL_SECONDS", 86400)),
		},
		WhatsApp: WhatsAppConfig{
			APIURL: strings.TrimRight(getEnv("WHATSAPP_API_URL", "https://api.twilio.com"), "/"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, errDB := getEnvInt("REDIS_DB", 0)
	ttl, errTTL := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      seconds(ttl),
	}, errors.Join(errDB, errTTL)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Lease <= 0 {
		errs = append(errs, errors.New("DISPATCH_LEASE_SECONDS must be > 0"))
	}
	if cfg.Dispatch.RunTimeout < 0 {
		errs = append(errs, errors.New("DISPATCH_RUN_TIMEOUT_SECONDS must be >= 0"))
	}
	if cfg.Dispatch.PushFanOut <= 0 {
		errs = append(errs, errors.New("PUSH_FANOUT_CONCURRENCY must be > 0"))
	}
	if cfg.Dispatch.ClientTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_CLIENT_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Push.TTL <= 0 {
		errs = append(errs, errors.New("PUSH_TTL_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
