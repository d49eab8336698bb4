package config

import (
	"os"
	"strings"
)

// Environment overrides fill values left empty in the file, so secrets can
// live in the environment (or a .env file loaded by the CLI).
const (
	EnvTelegramToken = "FCFSWATCH_TELEGRAM_TOKEN"
	EnvBotToken      = "BOT_TOKEN"
	EnvGraphQLBase   = "GALXE_API_BASE"
	EnvStorageDSN    = "FCFSWATCH_STORAGE_DSN"
	EnvAMQPURL       = "FCFSWATCH_AMQP_URL"
)

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	fill := func(dst *string, keys ...string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.Telegram.Token, EnvTelegramToken, EnvBotToken)
	fill(&cfg.Catalog.GraphQLEndpoint, EnvGraphQLBase)
	fill(&cfg.Storage.DSN, EnvStorageDSN)
	fill(&cfg.Events.AMQP.URL, EnvAMQPURL)
}
