package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	ServerPort     string
	AuditPort      string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	MaxUploadBytes int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	TriageEventsTopic string

	// OIDC
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// Classification function
	ClassifierURL            string
	ClassifierAPIKey         string
	ClassifierTimeout        time.Duration
	ClassifierRateLimitRPS   float64
	ClassifierBreakerTimeout time.Duration

	// Triage
	CatalogPath       string
	RedactionRules    string
	DocumentBucket    string
	SubmissionLockTTL time.Duration

	// Inbound limits
	RateLimitRPS   int
	RateLimitBurst int
}

var defaults = map[string]interface{}{
	"SERVER_PORT":            "8080",
	"AUDIT_PORT":             "8091",
	"SERVER_HOST":            "0.0.0.0",
	"READ_TIMEOUT":           30 * time.Second,
	"WRITE_TIMEOUT":          60 * time.Second,
	"MAX_REQUEST_BODY_BYTES": 1024 * 1024,
	"MAX_UPLOAD_BYTES":       10 * 1024 * 1024,

	"POSTGRES_HOST":     "localhost",
	"POSTGRES_PORT":     "5432",
	"POSTGRES_USER":     "triage",
	"POSTGRES_PASSWORD": "triage123",
	"POSTGRES_DB":       "triage",
	"POSTGRES_SSLMODE":  "disable",

	"REDIS_HOST":     "",
	"REDIS_PORT":     "6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"KAFKA_BROKERS":       "",
	"KAFKA_GROUP_ID":      "triage-audit",
	"TRIAGE_EVENTS_TOPIC": "triage-events",

	"OIDC_ISSUER":        "",
	"OIDC_CLIENT_ID":     "",
	"OIDC_CLIENT_SECRET": "",

	"CLASSIFIER_URL":             "http://localhost:54321/functions/v1/triage-ai",
	"CLASSIFIER_API_KEY":         "",
	"CLASSIFIER_TIMEOUT":         60 * time.Second,
	"CLASSIFIER_RATE_LIMIT_RPS":  5.0,
	"CLASSIFIER_BREAKER_TIMEOUT": 30 * time.Second,

	"CATALOG_PATH":        "",
	"REDACTION_RULES":     "",
	"DOCUMENT_BUCKET":     "health-documents",
	"SUBMISSION_LOCK_TTL": 2 * time.Minute,

	"RATE_LIMIT_RPS":   50,
	"RATE_LIMIT_BURST": 100,
}

// Load reads configuration from the environment, optionally layered over a
// YAML file named by TRIAGE_CONFIG_FILE. Environment values win.
func Load() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("TRIAGE_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		// a missing or unreadable file leaves defaults and env in place
		_ = v.ReadInConfig()
	}

	return &Config{
		ServerPort:     v.GetString("SERVER_PORT"),
		AuditPort:      v.GetString("AUDIT_PORT"),
		ServerHost:     v.GetString("SERVER_HOST"),
		ReadTimeout:    v.GetDuration("READ_TIMEOUT"),
		WriteTimeout:   v.GetDuration("WRITE_TIMEOUT"),
		MaxRequestBody: v.GetInt64("MAX_REQUEST_BODY_BYTES"),
		MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),

		PostgresHost:     v.GetString("POSTGRES_HOST"),
		PostgresPort:     v.GetString("POSTGRES_PORT"),
		PostgresUser:     v.GetString("POSTGRES_USER"),
		PostgresPassword: v.GetString("POSTGRES_PASSWORD"),
		PostgresDB:       v.GetString("POSTGRES_DB"),
		PostgresSSLMode:  v.GetString("POSTGRES_SSLMODE"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetString("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaGroupID:      v.GetString("KAFKA_GROUP_ID"),
		TriageEventsTopic: v.GetString("TRIAGE_EVENTS_TOPIC"),

		OIDCIssuer:       v.GetString("OIDC_ISSUER"),
		OIDCClientID:     v.GetString("OIDC_CLIENT_ID"),
		OIDCClientSecret: v.GetString("OIDC_CLIENT_SECRET"),

		ClassifierURL:            v.GetString("CLASSIFIER_URL"),
		ClassifierAPIKey:         v.GetString("CLASSIFIER_API_KEY"),
		ClassifierTimeout:        v.GetDuration("CLASSIFIER_TIMEOUT"),
		ClassifierRateLimitRPS:   v.GetFloat64("CLASSIFIER_RATE_LIMIT_RPS"),
		ClassifierBreakerTimeout: v.GetDuration("CLASSIFIER_BREAKER_TIMEOUT"),

		CatalogPath:       v.GetString("CATALOG_PATH"),
		RedactionRules:    v.GetString("REDACTION_RULES"),
		DocumentBucket:    v.GetString("DOCUMENT_BUCKET"),
		SubmissionLockTTL: v.GetDuration("SUBMISSION_LOCK_TTL"),

		RateLimitRPS:   v.GetInt("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// KafkaEnabled reports whether at least one broker was configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
