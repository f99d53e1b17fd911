package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eternisai/purchases-bridge/pkg/billing/sandbox"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Purchases backend
	APIKey      string
	Environment string
	Platform    string
	Country     string
	AppVersion  string
	HTTPTimeout time.Duration

	// Entitlement cache
	EntitlementStore string // memory, file, sqlite or postgres
	EntitlementFile  string
	EntitlementDir   string
	DatabaseURL      string

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Receipt events
	NatsURL         string
	NatsSubject     string
	RefreshSchedule string

	// Google Play
	GooglePlayPackageName        string
	GooglePlayServiceAccountJSON string

	// App Store (StoreKit 2 signed transactions)
	AppStoreAPIKeyP8 string
	AppStoreAPIKeyID string
	AppStoreBundleID string
	AppStoreIssuerID string

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Sandbox store catalog, read from the config file.
	Sandbox *sandbox.Catalog `yaml:"sandbox"`
}

var AppConfig *Config

// LoadConfig loads the configuration into AppConfig and exits on failure.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = cfg

	if cfg.APIKey == "" {
		log.Println("Warning: LinkFive API key is missing. Please set LINKFIVE_API_KEY environment variable.")
	}

	if cfg.AppStoreAPIKeyP8 == "" || cfg.AppStoreAPIKeyID == "" || cfg.AppStoreBundleID == "" || cfg.AppStoreIssuerID == "" {
		log.Println("Warning: App Store credentials are missing, signed transactions are disabled.")
	} else {
		sum := sha256.Sum256([]byte(cfg.AppStoreAPIKeyP8))
		log.Printf("App Store configured: key_id=%s bundle_id=%s (key sha256=%x)", cfg.AppStoreAPIKeyID, cfg.AppStoreBundleID, sum)
	}

	if cfg.GooglePlayServiceAccountJSON != "" {
		log.Printf("Google Play acknowledgement configured for %s", cfg.GooglePlayPackageName)
	}
}

// Load reads the configuration from the environment and the optional
// CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		APIKey:      getEnvOrDefault("LINKFIVE_API_KEY", ""),
		Environment: getEnvOrDefault("LINKFIVE_ENVIRONMENT", "STAGING"),
		Platform:    strings.ToUpper(getEnvOrDefault("PLATFORM", "GOOGLE")),
		Country:     getEnvOrDefault("DEVICE_COUNTRY", ""),
		AppVersion:  getEnvOrDefault("APP_VERSION", ""),
		HTTPTimeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,

		EntitlementStore: strings.ToLower(getEnvOrDefault("ENTITLEMENT_STORE", "file")),
		EntitlementFile:  getEnvOrDefault("ENTITLEMENT_FILE", "entitlements.json"),
		EntitlementDir:   getEnvOrDefault("ENTITLEMENT_DIR", "."),
		DatabaseURL:      getEnvOrDefault("DATABASE_URL", "postgres://localhost/purchases?sslmode=disable"),

		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 5),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		NatsURL:         getEnvOrDefault("NATS_URL", ""),
		NatsSubject:     getEnvOrDefault("NATS_SUBJECT", "entitlements.receipts.updated"),
		RefreshSchedule: getEnvOrDefault("RECEIPT_REFRESH_SCHEDULE", ""),

		GooglePlayPackageName:        getEnvOrDefault("GOOGLE_PLAY_PACKAGE_NAME", ""),
		GooglePlayServiceAccountJSON: getEnvOrDefault("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON", ""),

		AppStoreAPIKeyP8: getEnvOrDefault("APPSTORE_API_KEY_P8", ""),
		AppStoreAPIKeyID: getEnvOrDefault("APPSTORE_API_KEY_ID", ""),
		AppStoreBundleID: getEnvOrDefault("APPSTORE_BUNDLE_ID", ""),
		AppStoreIssuerID: getEnvOrDefault("APPSTORE_ISSUER_ID", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if path := getEnvOrDefault("CONFIG_FILE", ""); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		if err := LoadConfigFile(f, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Platform {
	case "GOOGLE", "IOS":
	default:
		return fmt.Errorf("PLATFORM must be GOOGLE or IOS, got %q", c.Platform)
	}
	switch c.EntitlementStore {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("ENTITLEMENT_STORE must be one of memory, file, sqlite, postgres, got %q", c.EntitlementStore)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// AppStoreConfigured reports whether signed StoreKit transactions can be decoded.
func (c *Config) AppStoreConfigured() bool {
	return c.AppStoreAPIKeyP8 != "" && c.AppStoreAPIKeyID != "" && c.AppStoreBundleID != "" && c.AppStoreIssuerID != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes the YAML config file into config. Only the sandbox
// section is read from the file; environment values are kept.
func LoadConfigFile(reader io.Reader, config *Config) error {
	var file struct {
		Sandbox *sandbox.Catalog `yaml:"sandbox"`
	}
	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(&file); err != nil {
		return err
	}
	if file.Sandbox != nil {
		if err := file.Sandbox.Validate(); err != nil {
			return err
		}
	}
	config.Sandbox = file.Sandbox
	return nil
}
