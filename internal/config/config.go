// Пакет config собирает конфигурацию приложения из переменных
// окружения. Файл .env подхватывается, если есть, но не обязателен
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	loggerConfig "github.com/Samidius-mag/MP-sub000/internal/logger/config"
	pricingConfig "github.com/Samidius-mag/MP-sub000/internal/pricing/config"
	settlementConfig "github.com/Samidius-mag/MP-sub000/internal/settlement/config"
	storeConfig "github.com/Samidius-mag/MP-sub000/internal/store/config"
)

type Config struct {
	Logger      loggerConfig.Config
	Store       storeConfig.Config
	Settlement  settlementConfig.Config
	Pricing     pricingConfig.Config
	Marketplace MarketplaceConfig
}

// MarketplaceConfig - базовые адреса API. Переопределяются в тестах
// и при работе через прокси
type MarketplaceConfig struct {
	WildberriesAddr       string
	WildberriesPricesAddr string
	OzonAddr              string
	YandexAddr            string
}

func GetConfig() Config {
	_ = godotenv.Load()

	return Config{
		Logger: loggerConfig.Config{
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Store: storeConfig.Config{
			DBDsn: getEnv("DATABASE_DSN", ""),
		},
		Settlement: settlementConfig.Config{
			Interval:          getEnvDuration("IMPORT_INTERVAL", 5*time.Minute),
			ImportWindow:      getEnvDuration("IMPORT_WINDOW", 7*24*time.Hour),
			ClientConcurrency: getEnvInt("CLIENT_CONCURRENCY", 4),
			FallbackCostRatio: getEnvFloat("FALLBACK_COST_RATIO", 0.7),
		},
		Pricing: pricingConfig.Config{
			Interval:       getEnvDuration("PRICING_INTERVAL", time.Hour),
			ToleranceMinor: int64(getEnvInt("PRICE_TOLERANCE", 100)),
		},
		Marketplace: MarketplaceConfig{
			WildberriesAddr:       getEnv("WB_API_ADDR", "https://marketplace-api.wildberries.ru"),
			WildberriesPricesAddr: getEnv("WB_PRICES_ADDR", "https://discounts-prices-api.wildberries.ru"),
			OzonAddr:              getEnv("OZON_API_ADDR", "https://api-seller.ozon.ru"),
			YandexAddr:            getEnv("YANDEX_API_ADDR", "https://api.partner.market.yandex.ru"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
