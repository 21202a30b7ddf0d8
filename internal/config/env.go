package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Secrets come from the environment only.
type Secrets struct {
	FortniteAPIKey   string `env:"FORTNITE_API_KEY,required,notEmpty"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	ServerToken      string `env:"SHOPWATCH_SERVER_TOKEN"`
}

// LoadDotEnv loads path (".env" when empty) into the process environment unless
// SHOPWATCH_ENV=prod. Existing variables win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SHOPWATCH_ENV")), "prod") {
		return nil
	}
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadSecrets reads and checks the required environment variables.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("environment: %w", err)
	}
	return s, nil
}
