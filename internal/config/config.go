package config

import (
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	PoolSize    int
	Prefix      string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	URLTTLMinutes   int
}

type AppConfig struct {
	Port     string
	LogLevel string
	Timezone string

	// StorageDriver selects the ledger store: "postgres" or "memory".
	StorageDriver string
	Postgres      PostgresConfig
	Redis         RedisConfig

	// ProofStorage selects where proofs of payment go: "s3" or "local".
	ProofStorage string
	ProofDir     string
	S3           S3Config

	ExportDir         string
	ExportMaxAge      time.Duration
	FilesPublicPrefix string
	ExternalURL       string

	// DevToken seeds a personal access token into the memory store.
	DevToken       string
	DevTokenUserID int64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func Load() AppConfig {
	return AppConfig{
		Port:          getenv("APP_PORT", "8010"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		Timezone:      getenv("APP_TIMEZONE", "UTC"),
		StorageDriver: getenv("STORAGE_DRIVER", "postgres"),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     mustAtoi(getenv("PG_PORT", "5432")),
			User:     getenv("PG_USER", "postgres"),
			Password: getenv("PG_PASSWORD", "postgres"),
			DBName:   getenv("PG_DB", "lease_ledger"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
			MaxConns: mustAtoi(getenv("PG_MAX_CONNS", "20")),
		},
		Redis: RedisConfig{
			Enabled:     mustBool(getenv("REDIS_ENABLED", "true")),
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			PoolSize:    mustAtoi(getenv("REDIS_POOL_SIZE", "10")),
			Prefix:      getenv("REDIS_PREFIX", "lease_ledger_"),
		},
		ProofStorage: getenv("PROOF_STORAGE", "local"),
		ProofDir:     getenv("PROOF_DIR", "./proofs"),
		S3: S3Config{
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "payment-proofs"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", "proofs/"),
			URLTTLMinutes:   mustAtoi(getenv("S3_URL_TTL_MINUTES", "15")),
		},
		ExportDir:         getenv("EXPORT_DIR", "./exports"),
		ExportMaxAge:      mustDuration(getenv("EXPORT_MAX_AGE", "30m")),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),
		DevToken:          getenv("DEV_TOKEN", ""),
		DevTokenUserID:    int64(mustAtoi(getenv("DEV_TOKEN_USER_ID", "1"))),
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
