// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client, worker and the
// retry queue dispatcher.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RetryConfig provides settings for the transaction retry pipeline.
type RetryConfig interface {
	GetMaxRetries() int
	GetRetryBaseDelay() time.Duration
	GetRetryMaxDelay() time.Duration
}

// ERPConfig provides settings for the external job/quoting system client.
type ERPConfig interface {
	GetERPBaseURL() string
	GetERPAPIKey() string
	GetERPTimeout() time.Duration
}

// SMSConfig provides settings for the SMS gateway client.
type SMSConfig interface {
	GetSMSGatewayURL() string
	GetSMSGatewayKey() string
	GetSMSSenderID() string
}

// EmailConfig provides settings for operator email notifications.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetOperatorEmail() string
	IsEmailEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketIntakePhotos() string
	IsMinIOEnabled() bool
}

// DispatchConfig provides scoring weights and timing for the dispatch
// scheduler. Weights live in configuration so operators can re-balance
// scoring without a deploy.
type DispatchConfig interface {
	GetScoreRatingWeight() float64
	GetScoreDistanceWeight() float64
	GetScorePreferredBonus() float64
	GetDispatchResponseWindow() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	MaxRetries             int
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	ERPBaseURL             string
	ERPAPIKey              string
	ERPTimeout             time.Duration
	SMSGatewayURL          string
	SMSGatewayKey          string
	SMSSenderID            string
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	EmailFromName          string
	EmailFromAddress       string
	OperatorEmail          string
	EmailEnabled           bool
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOMaxFileSize       int64
	MinioBucketIntakePhotos string
	ScoreRatingWeight      float64
	ScoreDistanceWeight    float64
	ScorePreferredBonus    float64
	DispatchResponseWindow time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// RetryConfig implementation
func (c *Config) GetMaxRetries() int                { return c.MaxRetries }
func (c *Config) GetRetryBaseDelay() time.Duration  { return c.RetryBaseDelay }
func (c *Config) GetRetryMaxDelay() time.Duration   { return c.RetryMaxDelay }

// ERPConfig implementation
func (c *Config) GetERPBaseURL() string         { return c.ERPBaseURL }
func (c *Config) GetERPAPIKey() string          { return c.ERPAPIKey }
func (c *Config) GetERPTimeout() time.Duration  { return c.ERPTimeout }

// SMSConfig implementation
func (c *Config) GetSMSGatewayURL() string { return c.SMSGatewayURL }
func (c *Config) GetSMSGatewayKey() string { return c.SMSGatewayKey }
func (c *Config) GetSMSSenderID() string   { return c.SMSSenderID }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetOperatorEmail() string    { return c.OperatorEmail }
func (c *Config) IsEmailEnabled() bool        { return c.EmailEnabled }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketIntakePhotos() string {
	return c.MinioBucketIntakePhotos
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// DispatchConfig implementation
func (c *Config) GetScoreRatingWeight() float64   { return c.ScoreRatingWeight }
func (c *Config) GetScoreDistanceWeight() float64 { return c.ScoreDistanceWeight }
func (c *Config) GetScorePreferredBonus() float64 { return c.ScorePreferredBonus }
func (c *Config) GetDispatchResponseWindow() time.Duration {
	return c.DispatchResponseWindow
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MaxRetries:             mustInt(getEnv("TRANSACTION_MAX_RETRIES", "3")),
		RetryBaseDelay:         mustDuration(getEnv("RETRY_BASE_DELAY", "30s")),
		RetryMaxDelay:          mustDuration(getEnv("RETRY_MAX_DELAY", "1h")),
		ERPBaseURL:             getEnv("ERP_BASE_URL", ""),
		ERPAPIKey:              getEnv("ERP_API_KEY", ""),
		ERPTimeout:             mustDuration(getEnv("ERP_TIMEOUT", "15s")),
		SMSGatewayURL:          getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayKey:          getEnv("SMS_GATEWAY_KEY", ""),
		SMSSenderID:            getEnv("SMS_SENDER_ID", "FieldServe"),
		SMTPHost:               smtpHost,
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		EmailFromName:          getEnv("EMAIL_FROM_NAME", "FieldServe"),
		EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", ""),
		OperatorEmail:          getEnv("OPERATOR_EMAIL", ""),
		EmailEnabled:           emailEnabled && smtpHost != "",
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:       mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "104857600")),
		MinioBucketIntakePhotos: getEnv("MINIO_BUCKET_INTAKE_PHOTOS", "intake-photos"),
		ScoreRatingWeight:      mustFloat(getEnv("DISPATCH_SCORE_RATING_WEIGHT", "0.4")),
		ScoreDistanceWeight:    mustFloat(getEnv("DISPATCH_SCORE_DISTANCE_WEIGHT", "0.004")),
		ScorePreferredBonus:    mustFloat(getEnv("DISPATCH_SCORE_PREFERRED_BONUS", "0.2")),
		DispatchResponseWindow: mustDuration(getEnv("DISPATCH_RESPONSE_WINDOW", "24h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("TRANSACTION_MAX_RETRIES cannot be negative")
	}
	if cfg.RetryBaseDelay <= 0 {
		return nil, fmt.Errorf("RETRY_BASE_DELAY must be positive")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
