package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppEnv        string
	Env           string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string

	// Credit accounting is only active when DB authentication is on.
	UseDBAuthentication bool
	AllowedKeys         []string

	GCSBucketName  string
	FetchEngineURL string

	WebhookSecret string

	TaskMaxRetries        int
	CrawlTTLHours         int
	AutoRechargeThreshold int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		Env:           getenv("ENV", "local"),
		HTTPAddr:      getenv("HTTP_ADDR", ":3002"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		UseDBAuthentication: getenvBool("USE_DB_AUTHENTICATION"),
		AllowedKeys:         splitKeys(os.Getenv("ALLOWED_KEYS")),

		GCSBucketName:  os.Getenv("GCS_FIRE_ENGINE_BUCKET_NAME"),
		FetchEngineURL: getenv("FETCH_ENGINE_URL", "http://127.0.0.1:3005"),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		TaskMaxRetries:        getenvInt("TASK_MAX_RETRIES", 3),
		CrawlTTLHours:         getenvInt("CRAWL_TTL_HOURS", 24),
		AutoRechargeThreshold: getenvInt("AUTO_RECHARGE_THRESHOLD", 1000),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}

// AuthDisabled reports whether neither DB authentication nor an allow-list
// is configured, i.e. the service runs with the bypass sentinel.
func (c Config) AuthDisabled() bool {
	return !c.UseDBAuthentication && len(c.AllowedKeys) == 0
}
