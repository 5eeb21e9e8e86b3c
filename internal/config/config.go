package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	SNSTopicARN    string // empty disables SNS delivery events

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost       string
	SMTPPort       string
	SMTPFrom       string
	SMTPUsername   string
	SMTPPassword   string
	DeliveryMailTo string // empty disables the e-mail digest

	// Gateway mode: when ItemStoreURL is set the workflow runs against a
	// remote item store instead of DynamoDB.
	ItemStoreURL     string
	ItemStoreToken   string
	ItemStoreTimeout time.Duration

	StoreErrorMessage string
	BulkRateLimit     float64
	BulkRateBurst     int
	AttachmentURLTTL  time.Duration
	MaxUploadBytes    int64
	AllowedOrigins    []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each item kind plus the id counters.
type DynamoTables struct {
	Notifications string
	Documents     string
	Counters      string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			Documents:     getEnv("DYNAMO_TABLE_DOCUMENTS", "documents"),
			Counters:      getEnv("DYNAMO_TABLE_COUNTERS", "item_counters"),
		},
		S3BucketName:      getEnv("S3_BUCKET_NAME", "docket-desk-attachments"),
		SNSTopicARN:       getEnv("SNS_TOPIC_ARN", ""),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 12*time.Hour),
		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnv("SMTP_PORT", "1025"),
		SMTPFrom:          getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		DeliveryMailTo:    getEnv("DELIVERY_MAIL_TO", ""),
		ItemStoreURL:      strings.TrimRight(getEnv("ITEM_STORE_URL", ""), "/"),
		ItemStoreToken:    getEnv("ITEM_STORE_TOKEN", ""),
		ItemStoreTimeout:  getEnvDuration("ITEM_STORE_TIMEOUT", 20*time.Second),
		StoreErrorMessage: getEnv("STORE_ERROR_MESSAGE", ""),
		BulkRateLimit:     getEnvFloat("BULK_RATE_LIMIT", 2),
		BulkRateBurst:     getEnvInt("BULK_RATE_BURST", 5),
		AttachmentURLTTL:  getEnvDuration("ATTACHMENT_URL_TTL", 15*time.Minute),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", 32)) << 20,
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// RemoteStore reports whether the service runs in gateway mode.
func (c *Config) RemoteStore() bool { return c.ItemStoreURL != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "12h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
