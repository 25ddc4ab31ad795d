package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	URLTTL          time.Duration
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	StartTLS    bool
	DialTimeout time.Duration
}

type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

type MailConfig struct {
	Transport   string
	From        string
	SendTimeout time.Duration
	SMTP        SMTPConfig
	AMQP        AMQPConfig
}

type ReminderConfig struct {
	CronEnabled  bool
	CronSchedule string
	CronSecret   string
	Timezone     string
	// LockBackend is redis or memory; memory only serializes within one process.
	LockBackend string
	LockTTL     time.Duration
}

type AppConfig struct {
	Port        string
	Env         string
	LogLevel    string
	Postgres    PostgresConfig
	Redis       RedisConfig
	S3          S3Config
	Mail        MailConfig
	Reminders   ReminderConfig
	ExportDir   string
	FilesPrefix string
	ExternalURL string
	FilesMaxAge time.Duration
	WSOrigins   []string
	CORSOrigins []string

	location *time.Location
}

func (c AppConfig) Development() bool {
	return c.Env == "development" || c.Env == "local"
}

// Location is the zone that decides the calendar day of a reminder run.
func (c AppConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8010")
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("PG_HOST", "127.0.0.1")
	viper.SetDefault("PG_PORT", 5432)
	viper.SetDefault("PG_USER", "root")
	viper.SetDefault("PG_PASSWORD", "")
	viper.SetDefault("PG_DB", "dunning")
	viper.SetDefault("PG_SSLMODE", "disable")

	viper.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_MAX_RETRIES", 5)
	viper.SetDefault("REDIS_DIAL_TIMEOUT", 10)
	viper.SetDefault("REDIS_TIMEOUT", 5)
	viper.SetDefault("REDIS_PREFIX", "dunning_")

	viper.SetDefault("S3_ENABLED", false)
	viper.SetDefault("S3_ENDPOINT", "localhost:9000")
	viper.SetDefault("S3_ACCESS_KEY", "minio")
	viper.SetDefault("S3_SECRET_KEY", "minio123")
	viper.SetDefault("S3_BUCKET", "exports")
	viper.SetDefault("S3_REGION", "us-east-1")
	viper.SetDefault("S3_USE_SSL", false)
	viper.SetDefault("S3_PREFIX", "")
	viper.SetDefault("S3_URL_TTL", "48h")

	viper.SetDefault("MAIL_TRANSPORT", "log")
	viper.SetDefault("MAIL_FROM", "")
	viper.SetDefault("MAIL_SEND_TIMEOUT", "30s")
	viper.SetDefault("SMTP_HOST", "")
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("SMTP_USERNAME", "")
	viper.SetDefault("SMTP_PASSWORD", "")
	viper.SetDefault("SMTP_STARTTLS", true)
	viper.SetDefault("SMTP_DIAL_TIMEOUT", "10s")
	viper.SetDefault("AMQP_URL", "")
	viper.SetDefault("AMQP_MAIL_EXCHANGE", "mail")
	viper.SetDefault("AMQP_MAIL_QUEUE", "mail.reminders")
	viper.SetDefault("AMQP_MAIL_ROUTING_KEY", "mail.reminder")

	viper.SetDefault("REMINDER_CRON_ENABLED", true)
	viper.SetDefault("REMINDER_CRON_SCHEDULE", "0 8 * * *") // every day at 08:00
	viper.SetDefault("CRON_SECRET", "")
	viper.SetDefault("TIMEZONE", "Europe/Berlin")
	viper.SetDefault("REMINDER_LOCK", "redis")
	viper.SetDefault("REMINDER_LOCK_TTL", "2m")

	viper.SetDefault("EXPORT_DIR", "./exports")
	viper.SetDefault("FILES_PUBLIC_PREFIX", "/files")
	viper.SetDefault("EXTERNAL_URL", "http://localhost:8010")
	viper.SetDefault("FILES_MAX_AGE", "30m")
	viper.SetDefault("WS_ALLOWED_ORIGINS", "")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://*,https://*")
}

func Load() (AppConfig, error) {
	setDefaults()
	viper.AutomaticEnv()

	cfg := AppConfig{
		Port:     viper.GetString("APP_PORT"),
		Env:      strings.ToLower(viper.GetString("APP_ENV")),
		LogLevel: viper.GetString("LOG_LEVEL"),
		Postgres: PostgresConfig{
			Host:     viper.GetString("PG_HOST"),
			Port:     viper.GetInt("PG_PORT"),
			User:     viper.GetString("PG_USER"),
			Password: viper.GetString("PG_PASSWORD"),
			DBName:   viper.GetString("PG_DB"),
			SSLMode:  viper.GetString("PG_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:        viper.GetString("REDIS_ADDR"),
			Password:    viper.GetString("REDIS_PASSWORD"),
			DB:          viper.GetInt("REDIS_DB"),
			MaxRetries:  viper.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout: viper.GetInt("REDIS_DIAL_TIMEOUT"),
			Timeout:     viper.GetInt("REDIS_TIMEOUT"),
			Prefix:      viper.GetString("REDIS_PREFIX"),
		},
		S3: S3Config{
			Enabled:         viper.GetBool("S3_ENABLED"),
			Endpoint:        viper.GetString("S3_ENDPOINT"),
			AccessKeyID:     viper.GetString("S3_ACCESS_KEY"),
			SecretAccessKey: viper.GetString("S3_SECRET_KEY"),
			Bucket:          viper.GetString("S3_BUCKET"),
			Region:          viper.GetString("S3_REGION"),
			UseSSL:          viper.GetBool("S3_USE_SSL"),
			Prefix:          viper.GetString("S3_PREFIX"),
			URLTTL:          viper.GetDuration("S3_URL_TTL"),
		},
		Mail: MailConfig{
			Transport:   strings.ToLower(viper.GetString("MAIL_TRANSPORT")),
			From:        viper.GetString("MAIL_FROM"),
			SendTimeout: viper.GetDuration("MAIL_SEND_TIMEOUT"),
			SMTP: SMTPConfig{
				Host:        viper.GetString("SMTP_HOST"),
				Port:        viper.GetInt("SMTP_PORT"),
				Username:    viper.GetString("SMTP_USERNAME"),
				Password:    viper.GetString("SMTP_PASSWORD"),
				StartTLS:    viper.GetBool("SMTP_STARTTLS"),
				DialTimeout: viper.GetDuration("SMTP_DIAL_TIMEOUT"),
			},
			AMQP: AMQPConfig{
				URL:        viper.GetString("AMQP_URL"),
				Exchange:   viper.GetString("AMQP_MAIL_EXCHANGE"),
				Queue:      viper.GetString("AMQP_MAIL_QUEUE"),
				RoutingKey: viper.GetString("AMQP_MAIL_ROUTING_KEY"),
			},
		},
		Reminders: ReminderConfig{
			CronEnabled:  viper.GetBool("REMINDER_CRON_ENABLED"),
			CronSchedule: viper.GetString("REMINDER_CRON_SCHEDULE"),
			CronSecret:   viper.GetString("CRON_SECRET"),
			Timezone:     viper.GetString("TIMEZONE"),
			LockBackend:  strings.ToLower(viper.GetString("REMINDER_LOCK")),
			LockTTL:      viper.GetDuration("REMINDER_LOCK_TTL"),
		},
		ExportDir:   viper.GetString("EXPORT_DIR"),
		FilesPrefix: viper.GetString("FILES_PUBLIC_PREFIX"),
		ExternalURL: viper.GetString("EXTERNAL_URL"),
		FilesMaxAge: viper.GetDuration("FILES_MAX_AGE"),
		WSOrigins:   splitList(viper.GetString("WS_ALLOWED_ORIGINS")),
		CORSOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	loc, err := time.LoadLocation(cfg.Reminders.Timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.location = loc

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Mail.Transport {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_TRANSPORT=smtp")
		}
	case "amqp":
		if c.Mail.AMQP.URL == "" {
			return fmt.Errorf("AMQP_URL is required when MAIL_TRANSPORT=amqp")
		}
	default:
		return fmt.Errorf("MAIL_TRANSPORT must be log, smtp or amqp, got %q", c.Mail.Transport)
	}
	if c.Mail.Transport != "log" && c.Mail.From == "" {
		return fmt.Errorf("MAIL_FROM is required when MAIL_TRANSPORT=%s", c.Mail.Transport)
	}

	switch c.Reminders.LockBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("REMINDER_LOCK must be redis or memory, got %q", c.Reminders.LockBackend)
	}

	if c.Mail.SendTimeout <= 0 {
		return fmt.Errorf("MAIL_SEND_TIMEOUT must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
