package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "SHOPSYNC"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "shopsync.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultShopifyAPIVersion   = "2025-01"
	defaultShopifyTimeout      = 20 * time.Second
	defaultShopifyPageSize     = 100
	defaultShopifyRPS          = 2.0
	defaultPropagationBaseURL  = "https://app.aerochat.ai"
	defaultPropagationTimeout  = 15 * time.Second
	defaultFetchFailurePolicy  = FetchFailurePolicyTruncate
	defaultMaxConcurrentShops  = 4
	defaultPassLeaseTTL        = 10 * time.Minute
	maxShopifyPageSize         = 250
	DatabaseDriverSQLite       = "sqlite"
	DatabaseDriverPostgres     = "postgres"
	FetchFailurePolicyTruncate = "truncate"
	FetchFailurePolicyAbort    = "abort"
)

// AppConfig captures runtime configuration for the API server and CLI commands.
type AppConfig struct {
	HTTPAddress     string
	LogLevel        string
	LogFormat       string
	Database        DatabaseConfig
	Shopify         ShopifyConfig
	Propagation     PropagationConfig
	Sync            SyncConfig
	IndexerAPIToken string
}

// DatabaseConfig selects the gorm dialector.
type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

// ShopifyConfig configures the Admin GraphQL client and session token validation.
type ShopifyConfig struct {
	APIKey            string
	APISecret         string
	APIVersion        string
	RequestTimeout    time.Duration
	PageSize          int
	RequestsPerSecond float64
	SSRFGuard         bool
}

// PropagationConfig configures the third-party chat service client.
type PropagationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SyncConfig configures engine policies and the periodic scheduler.
type SyncConfig struct {
	FetchFailurePolicy string
	ScheduleInterval   time.Duration
	MaxConcurrentShops int
	// PassLeaseTTL bounds how long a crashed process can hold the pass lease of a shop and kind.
	PassLeaseTTL time.Duration
}

// LoadDotEnv loads variables from the given .env files when present.
// Missing files are ignored so deployments can rely on the real environment.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.url", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("shopify.api_key", "")
	configViper.SetDefault("shopify.api_secret", "")
	configViper.SetDefault("shopify.api_version", defaultShopifyAPIVersion)
	configViper.SetDefault("shopify.request_timeout", defaultShopifyTimeout)
	configViper.SetDefault("shopify.page_size", defaultShopifyPageSize)
	configViper.SetDefault("shopify.requests_per_second", defaultShopifyRPS)
	configViper.SetDefault("shopify.ssrf_guard", true)
	configViper.SetDefault("propagation.base_url", defaultPropagationBaseURL)
	configViper.SetDefault("propagation.timeout", defaultPropagationTimeout)
	configViper.SetDefault("sync.fetch_failure_policy", defaultFetchFailurePolicy)
	configViper.SetDefault("sync.schedule_interval", time.Duration(0))
	configViper.SetDefault("sync.max_concurrent_shops", defaultMaxConcurrentShops)
	configViper.SetDefault("sync.pass_lease_ttl", defaultPassLeaseTTL)
	configViper.SetDefault("indexer.api_token", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		LogFormat:   configViper.GetString("log.format"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			URL:    configViper.GetString("database.url"),
		},
		Shopify: ShopifyConfig{
			APIKey:            configViper.GetString("shopify.api_key"),
			APISecret:         configViper.GetString("shopify.api_secret"),
			APIVersion:        configViper.GetString("shopify.api_version"),
			RequestTimeout:    configViper.GetDuration("shopify.request_timeout"),
			PageSize:          configViper.GetInt("shopify.page_size"),
			RequestsPerSecond: configViper.GetFloat64("shopify.requests_per_second"),
			SSRFGuard:         configViper.GetBool("shopify.ssrf_guard"),
		},
		Propagation: PropagationConfig{
			BaseURL: strings.TrimRight(configViper.GetString("propagation.base_url"), "/"),
			Timeout: configViper.GetDuration("propagation.timeout"),
		},
		Sync: SyncConfig{
			FetchFailurePolicy: strings.ToLower(strings.TrimSpace(configViper.GetString("sync.fetch_failure_policy"))),
			ScheduleInterval:   configViper.GetDuration("sync.schedule_interval"),
			MaxConcurrentShops: configViper.GetInt("sync.max_concurrent_shops"),
			PassLeaseTTL:       configViper.GetDuration("sync.pass_lease_ttl"),
		},
		IndexerAPIToken: configViper.GetString("indexer.api_token"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if strings.TrimSpace(c.Shopify.APISecret) == "" {
		return fmt.Errorf("shopify.api_secret is required")
	}
	if strings.TrimSpace(c.Shopify.APIVersion) == "" {
		return fmt.Errorf("shopify.api_version is required")
	}
	if c.Shopify.PageSize <= 0 || c.Shopify.PageSize > maxShopifyPageSize {
		return fmt.Errorf("shopify.page_size must be between 1 and %d", maxShopifyPageSize)
	}
	if c.Shopify.RequestTimeout <= 0 {
		return fmt.Errorf("shopify.request_timeout must be positive")
	}
	if strings.TrimSpace(c.Propagation.BaseURL) == "" {
		return fmt.Errorf("propagation.base_url is required")
	}
	if c.Propagation.Timeout <= 0 {
		return fmt.Errorf("propagation.timeout must be positive")
	}
	switch c.Sync.FetchFailurePolicy {
	case FetchFailurePolicyTruncate, FetchFailurePolicyAbort:
	default:
		return fmt.Errorf("sync.fetch_failure_policy %q is not supported", c.Sync.FetchFailurePolicy)
	}
	if c.Sync.ScheduleInterval < 0 {
		return fmt.Errorf("sync.schedule_interval must not be negative")
	}
	if c.Sync.PassLeaseTTL <= 0 {
		return fmt.Errorf("sync.pass_lease_ttl must be positive")
	}
	return nil
}
