package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseDriver        string
	DatabaseURL           string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBAutoMigrate         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	BcryptCost            int
	ListMaxLimit          int
	ReportTimezone        string
	RateLimitRPS          float64
	RateLimitBurst        int
	LoginMaxAttempts      int
	LogLevel              string
	LogFormat             string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	maxLimit := getEnvInt("LIST_MAX_LIMIT", 100)
	if maxLimit < 1 {
		maxLimit = 100
	}
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64)
	if err != nil || rps <= 0 {
		rps = 20
	}
	burst := getEnvInt("RATE_LIMIT_BURST", 40)
	if burst < 1 {
		burst = 40
	}

	// Zero turns the login throttle off.
	loginAttempts := getEnvInt("LOGIN_MAX_ATTEMPTS", 5)
	if loginAttempts < 0 {
		loginAttempts = 5
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseDriver:        strings.ToLower(getEnv("DATABASE_DRIVER", "pgx")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 30),
		DBMaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 8),
		DBAutoMigrate:         getEnvBool("DB_AUTO_MIGRATE", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		BcryptCost:            getEnvInt("BCRYPT_COST", 10),
		ListMaxLimit:          maxLimit,
		ReportTimezone:        getEnv("REPORT_TIMEZONE", "UTC"),
		RateLimitRPS:          rps,
		RateLimitBurst:        burst,
		LoginMaxAttempts:      loginAttempts,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}
