package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Telegram Bot API
	TelegramToken   string
	TelegramAPIURL  string
	TelegramTimeout time.Duration // per-send timeout; keeps a hung Bot API from stalling a tick

	// Scheduler
	TickInterval      time.Duration // rule materialization + dispatch cadence
	ReconcileInterval time.Duration // meeting lifecycle sweep cadence
	TickLockTTL       time.Duration

	// Meetings
	MeetingGrace   time.Duration // how long after scheduled_at a meeting counts as over
	ReminderLead   time.Duration // how long before scheduled_at the reminder fires
	LocalUTCOffset time.Duration // zone assumed for zone-less scheduled times
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "mentorhub",
		DBPassword: "",
		DBName:     "mentorhub",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		TelegramAPIURL:  "https://api.telegram.org",
		TelegramTimeout: 10 * time.Second,

		TickInterval:      time.Minute,
		ReconcileInterval: time.Minute,
		TickLockTTL:       5 * time.Minute,

		MeetingGrace:   0,
		ReminderLead:   5 * time.Minute,
		LocalUTCOffset: 3 * time.Hour, // deployments in other regions override LOCAL_UTC_OFFSET_HOURS
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Telegram config
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}

	if url := os.Getenv("TELEGRAM_API_URL"); url != "" {
		cfg.TelegramAPIURL = url
	}

	if d, err := durationEnv("TELEGRAM_TIMEOUT"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.TelegramTimeout = d
	}

	// Scheduler config
	if d, err := durationEnv("TICK_INTERVAL"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.TickInterval = d
	}

	if d, err := durationEnv("RECONCILE_INTERVAL"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ReconcileInterval = d
	}

	if d, err := durationEnv("TICK_LOCK_TTL"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.TickLockTTL = d
	}

	// Meeting config
	if v := os.Getenv("MEETING_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid MEETING_GRACE: %q", v)
		}
		cfg.MeetingGrace = d
	}

	if d, err := durationEnv("REMINDER_LEAD"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ReminderLead = d
	}

	if v := os.Getenv("LOCAL_UTC_OFFSET_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCAL_UTC_OFFSET_HOURS: %w", err)
		}
		cfg.LocalUTCOffset = time.Duration(h) * time.Hour
	}

	return cfg, nil
}

// LocalZone returns the fixed-offset location used to interpret zone-less
// scheduled times.
func (c *Config) LocalZone() *time.Location {
	return time.FixedZone("local", int(c.LocalUTCOffset/time.Second))
}

func durationEnv(name string) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}
