package bot

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config keeps everything the process reads once at startup.
type Config struct {
	TgToken   string
	DBConnStr string
	TimeZone  *time.Location
}

// LoadConfig reads configuration from the environment; a .env file is
// picked up when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("NOTIFICATION_BOT_TOKEN")
	if token == "" {
		return nil, errors.New("NOTIFICATION_BOT_TOKEN is not set")
	}

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	tzName := os.Getenv("TIME_ZONE")
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown TIME_ZONE %q", tzName)
	}

	return &Config{TgToken: token, DBConnStr: connStr, TimeZone: loc}, nil
}
