package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds the process settings.
type Config struct {
	HTTPAddr          string
	DBPath            string
	JWTSecret         string
	TokenExpiry       time.Duration
	LogLevel          string
	BalanceTolerance  decimal.Decimal // How far total paid may exceed the repayable amount
	ReconcileSchedule string          // cron schedule, empty disables the sweep
	ReminderSchedule  string          // cron schedule, empty disables the sweep
	SMTP              SMTPConfig
}

type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, using environment")
	}

	expiry, err := time.ParseDuration(os.Getenv("TOKEN_EXPIRY"))
	if err != nil {
		expiry = 24 * time.Hour
	}

	tolerance, err := decimal.NewFromString(getEnv("BALANCE_TOLERANCE", "1"))
	if err != nil {
		tolerance = decimal.NewFromInt(1)
	}

	port, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		port = 587
	}

	return &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "lendtrack.db"),
		JWTSecret:         getEnv("JWT_SECRET", "default-secret-key"),
		TokenExpiry:       expiry,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		BalanceTolerance:  tolerance,
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 15m"),
		ReminderSchedule:  getEnv("REMINDER_SCHEDULE", "@every 1h"),
		SMTP: SMTPConfig{
			Enabled:  os.Getenv("EMAIL_ENABLED") == "true",
			Host:     os.Getenv("SMTP_HOST"),
			Port:     port,
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     getEnv("EMAIL_FROM", "no-reply@lendtrack.local"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
