package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

type Config struct {
	TelegramToken     string
	OwnerTelegramID   int64
	PartnerTelegramID int64
	DatabasePath      string
	SettingsPath      string
	Timezone          *time.Location
	MorningTime       string
	WebhookURL        string
	ServerPort        string
	APIUsername       string
	APIPassword       string
	LogLevel          string
}

// Load reads the service configuration from the environment. Without a
// Telegram token the service runs with the REST API only.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")

	var ownerID int64
	if v := os.Getenv("OWNER_TELEGRAM_ID"); v != "" || token != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("OWNER_TELEGRAM_ID is required and must be a number")
		}
		ownerID = id
	}

	var partnerID int64
	if p := os.Getenv("PARTNER_TELEGRAM_ID"); p != "" {
		partnerID, _ = strconv.ParseInt(p, 10, 64)
	}

	tzName := getenv("TIMEZONE", "Europe/Moscow")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	morningTime := getenv("MORNING_TIME", "09:00")
	if _, err := time.Parse("15:04", morningTime); err != nil {
		return nil, fmt.Errorf("invalid MORNING_TIME %q: want HH:MM", morningTime)
	}

	return &Config{
		TelegramToken:     token,
		OwnerTelegramID:   ownerID,
		PartnerTelegramID: partnerID,
		DatabasePath:      getenv("DATABASE_PATH", "./data/tododav.db"),
		SettingsPath:      getenv("SETTINGS_PATH", "./data/settings.toml"),
		Timezone:          tz,
		MorningTime:       morningTime,
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		ServerPort:        getenv("SERVER_PORT", "8080"),
		APIUsername:       os.Getenv("API_USERNAME"),
		APIPassword:       os.Getenv("API_PASSWORD"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) IsAllowedUser(telegramID int64) bool {
	if telegramID == 0 {
		return false
	}
	return telegramID == c.OwnerTelegramID || telegramID == c.PartnerTelegramID
}

// APIEnabled reports whether REST API credentials are set
func (c *Config) APIEnabled() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}
