package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	AccountsBackendFile  = "file"
	AccountsBackendMongo = "mongo"
)

// Config represents the entire application configuration
type Config struct {
	Env       string          `json:"env"`
	Port      int             `json:"port"`
	AppName   string          `json:"app_name"`
	APIKey    string          `json:"api_key"`
	Accounts  AccountsConfig  `json:"accounts"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Redis     RedisConfig     `json:"redis"`
	RabbitMQ  RabbitMQConfig  `json:"rabbitmq"`
	S3        S3Config        `json:"s3"`
	Providers ProvidersConfig `json:"providers"`
	Jobs      JobsConfig      `json:"jobs"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
}

// AccountsConfig selects where provider credentials are stored
type AccountsConfig struct {
	Backend  string `json:"backend"`
	FilePath string `json:"file_path"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains the job event broker settings
type RabbitMQConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	PrefetchCount int    `json:"prefetch_count"`
}

// S3Config contains the bucket used for import result exports
type S3Config struct {
	Enabled   bool   `json:"enabled"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	// Endpoint overrides the AWS endpoint for S3-compatible stores
	Endpoint string `json:"endpoint,omitempty"`
}

// ProvidersConfig contains the email-marketing provider endpoints
type ProvidersConfig struct {
	SendX             ProviderEndpoint `json:"sendx"`
	SendPulse         ProviderEndpoint `json:"sendpulse"`
	GetResponse       ProviderEndpoint `json:"getresponse"`
	MagicLink         ProviderEndpoint `json:"magiclink"`
	RequestsPerMinute int              `json:"requests_per_minute"`
	TimeoutSeconds    int              `json:"timeout_seconds"`
	Cache             bool             `json:"cache"`
	DefaultCacheTTL   int              `json:"default_cache_ttl"`
}

type ProviderEndpoint struct {
	BaseURL  string `json:"base_url"`
	TokenURL string `json:"token_url,omitempty"`
}

// JobsConfig tunes the import and deletion job runners
type JobsConfig struct {
	DeletionPageSize         int `json:"deletion_page_size"`
	DeletionRetentionSeconds int `json:"deletion_retention_seconds"`
	DeletionMaxUnreadMinutes int `json:"deletion_max_unread_minutes"`
	MaxDelaySeconds          int `json:"max_delay_seconds"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads a .env file when present, reads the config file and
// lets environment variables override secrets and endpoints.
func LoadFromEnv(filePath string) (*Config, error) {
	_ = godotenv.Load()

	config, err := LoadConfig(filePath)
	if err != nil {
		return nil, err
	}

	overrideString(&config.APIKey, "ESPDESK_API_KEY")
	overrideInt(&config.Port, "ESPDESK_PORT")
	overrideString(&config.Accounts.Backend, "ESPDESK_ACCOUNTS_BACKEND")
	overrideString(&config.Accounts.FilePath, "ESPDESK_ACCOUNTS_FILE")
	overrideString(&config.MongoDB.URI, "MONGODB_URI")
	overrideString(&config.MongoDB.Username, "MONGODB_USERNAME")
	overrideString(&config.MongoDB.Password, "MONGODB_PASSWORD")
	overrideString(&config.Redis.Address, "REDIS_ADDRESS")
	overrideString(&config.Redis.Password, "REDIS_PASSWORD")
	overrideString(&config.RabbitMQ.Host, "RABBITMQ_HOST")
	overrideString(&config.RabbitMQ.Username, "RABBITMQ_USERNAME")
	overrideString(&config.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	overrideString(&config.S3.Bucket, "S3_BUCKET")
	overrideString(&config.S3.Region, "AWS_REGION")
	overrideString(&config.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	overrideString(&config.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")
	overrideString(&config.Logging.Level, "LOG_LEVEL")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports configuration combinations that cannot work
func (c *Config) Validate() error {
	switch c.Accounts.Backend {
	case AccountsBackendFile:
		if c.Accounts.FilePath == "" {
			return fmt.Errorf("accounts.file_path is required for the file backend")
		}
	case AccountsBackendMongo:
		if c.MongoDB.URI == "" || c.MongoDB.DB == "" {
			return fmt.Errorf("mongodb.uri and mongodb.db are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown accounts backend: %q", c.Accounts.Backend)
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when s3 is enabled")
	}

	if c.RabbitMQ.Enabled && c.RabbitMQ.ExchangeName == "" {
		return fmt.Errorf("rabbitmq.exchange_name is required when rabbitmq is enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3001
	}
	if c.AppName == "" {
		c.AppName = "espdesk"
	}
	if c.Accounts.Backend == "" {
		c.Accounts.Backend = AccountsBackendFile
	}
	if c.Accounts.Backend == AccountsBackendFile && c.Accounts.FilePath == "" {
		c.Accounts.FilePath = "accounts.json"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = c.AppName
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.ExchangeName == "" {
		c.RabbitMQ.ExchangeName = "espdesk.jobs"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "espdesk.jobs.events"
	}

	p := &c.Providers
	if p.SendX.BaseURL == "" {
		p.SendX.BaseURL = "https://api.sendx.io/api/v1/rest"
	}
	if p.SendPulse.BaseURL == "" {
		p.SendPulse.BaseURL = "https://api.sendpulse.com"
	}
	if p.SendPulse.TokenURL == "" {
		p.SendPulse.TokenURL = p.SendPulse.BaseURL + "/oauth/access_token"
	}
	if p.GetResponse.BaseURL == "" {
		p.GetResponse.BaseURL = "https://api.getresponse.com/v3"
	}
	if p.MagicLink.BaseURL == "" {
		p.MagicLink.BaseURL = "https://api.magic.link"
	}
	if p.RequestsPerMinute <= 0 {
		p.RequestsPerMinute = 120
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 30
	}
	if p.DefaultCacheTTL <= 0 {
		p.DefaultCacheTTL = 300
	}

	j := &c.Jobs
	if j.DeletionPageSize <= 0 {
		j.DeletionPageSize = 100
	}
	if j.DeletionRetentionSeconds <= 0 {
		j.DeletionRetentionSeconds = 60
	}
	if j.DeletionMaxUnreadMinutes <= 0 {
		j.DeletionMaxUnreadMinutes = 60
	}
	if j.MaxDelaySeconds <= 0 {
		j.MaxDelaySeconds = 3600
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Authorization"}
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
