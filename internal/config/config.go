package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// MinSigningKeyLen mirrors the HS256 key floor enforced by the token codec
const MinSigningKeyLen = 32

type Service struct {
	Name     string `yaml:"name" envconfig:"APP_NAME"`
	HTTPAddr string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	Store    string `yaml:"store" envconfig:"STORE_DRIVER"` // postgres or memory
}

type Auth struct {
	SigningKey     string        `yaml:"signing_key" envconfig:"JWT_SIGNING_KEY"`
	Issuer         string        `yaml:"issuer" envconfig:"JWT_ISSUER"`
	TokenTTL       time.Duration `yaml:"token_ttl" envconfig:"JWT_TTL"`
	PublicPrefixes []string      `yaml:"public_prefixes" envconfig:"AUTH_PUBLIC_PREFIXES"`
	VaultPath      string        `yaml:"vault_path" envconfig:"JWT_VAULT_PATH"`
}

type Existence struct {
	ProjectBaseURL  string        `yaml:"project_base_url" envconfig:"PROJECT_SERVICE_URL"`
	UserBaseURL     string        `yaml:"user_base_url" envconfig:"USER_SERVICE_URL"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"EXISTENCE_TIMEOUT"`
	FailOpen        bool          `yaml:"fail_open" envconfig:"EXISTENCE_FAIL_OPEN"`
	ValidateMembers bool          `yaml:"validate_members" envconfig:"VALIDATE_MEMBERS"`
}

type NSQ struct {
	NsqdTCPAddr     string        `yaml:"nsqd_tcp_addr" envconfig:"NSQD_TCP_ADDR"`
	NsqdHTTPAddr    string        `yaml:"nsqd_http_addr" envconfig:"NSQD_HTTP_ADDR"`
	LookupHTTPAddrs []string      `yaml:"lookup_http_addrs" envconfig:"NSQ_LOOKUP_HTTP_ADDRS"`
	Topic           string        `yaml:"topic" envconfig:"NSQ_TOPIC"`
	Channel         string        `yaml:"channel" envconfig:"NSQ_CHANNEL"`
	PublishTimeout  time.Duration `yaml:"publish_timeout" envconfig:"NSQ_PUBLISH_TIMEOUT"`
	MaxAttempts     uint16        `yaml:"max_attempts" envconfig:"NSQ_MAX_ATTEMPTS"`
	BacklogWarn     int64         `yaml:"backlog_warn" envconfig:"NSQ_BACKLOG_WARN"`
}

type DB struct {
	User     string `yaml:"user" envconfig:"DB_USER"`
	Pass     string `yaml:"pass" envconfig:"DB_PASS"`
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     string `yaml:"port" envconfig:"DB_PORT"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	MaxConns int32  `yaml:"max_conns" envconfig:"DB_MAX_CONNS"`
}

type Mail struct {
	Mode            string `yaml:"mode" envconfig:"MAIL_MODE"` // smtp or log
	SMTPAddr        string `yaml:"smtp_addr" envconfig:"SMTP_ADDR"`
	Username        string `yaml:"username" envconfig:"SMTP_USERNAME"`
	Password        string `yaml:"password" envconfig:"SMTP_PASSWORD"`
	From            string `yaml:"from" envconfig:"MAIL_FROM"`
	RecipientDomain string `yaml:"recipient_domain" envconfig:"MAIL_RECIPIENT_DOMAIN"`
	VaultPath       string `yaml:"vault_path" envconfig:"SMTP_VAULT_PATH"`
}

type MailSink struct {
	Addr       string `yaml:"addr" envconfig:"MAILSINK_ADDR"`
	FailFirstN int    `yaml:"fail_first_n" envconfig:"FAIL_FIRST_N"`
	Domain     string `yaml:"domain" envconfig:"MAILSINK_DOMAIN"`
}

type Vault struct {
	Enabled   bool   `yaml:"enabled" envconfig:"VAULT_ENABLED"`
	Address   string `yaml:"address" envconfig:"VAULT_ADDR"`
	Token     string `yaml:"token" envconfig:"VAULT_TOKEN"`
	TokenPath string `yaml:"token_path" envconfig:"VAULT_TOKEN_PATH"`
	Namespace string `yaml:"namespace" envconfig:"VAULT_NAMESPACE"`
	Mount     string `yaml:"mount" envconfig:"VAULT_KV_MOUNT"`
}

type Logger struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled" envconfig:"TRACING_ENABLED"`
	Endpoint    string  `yaml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"TRACING_SAMPLE_RATIO"`
}

type Config struct {
	Service   Service   `yaml:"service"`
	Auth      Auth      `yaml:"auth"`
	Existence Existence `yaml:"existence"`
	NSQ       NSQ       `yaml:"nsq"`
	DB        DB        `yaml:"db"`
	Mail      Mail      `yaml:"mail"`
	MailSink  MailSink  `yaml:"mailsink"`
	Vault     Vault     `yaml:"vault"`
	Logger    Logger    `yaml:"logger"`
	Tracing   Tracing   `yaml:"tracing"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() Config {
	return Config{
		Service: Service{
			Name:     "taskmesh",
			HTTPAddr: ":8080",
			Store:    "postgres",
		},
		Auth: Auth{
			Issuer:         "taskmesh",
			TokenTTL:       24 * time.Hour,
			PublicPrefixes: []string{"/api/auth/", "/api/notifications/test", "/healthz", "/metrics"},
		},
		Existence: Existence{
			ProjectBaseURL:  "http://projectservice:8080",
			UserBaseURL:     "http://userservice:8080",
			Timeout:         3 * time.Second,
			ValidateMembers: true,
		},
		NSQ: NSQ{
			NsqdTCPAddr:  "nsqd:4150",
			NsqdHTTPAddr: "http://nsqd:4151",
			Topic:        "task.notifications",
			Channel:      "notifier",
			// MaxAttempts 0 leaves redelivery unbounded
			PublishTimeout: 5 * time.Second,
			BacklogWarn:    1000,
		},
		DB: DB{
			User:     "postgres",
			Pass:     "postgres",
			Host:     "postgres",
			Port:     "5432",
			Name:     "taskmesh",
			MaxConns: 10,
		},
		Mail: Mail{
			Mode:     "smtp",
			SMTPAddr: "mailsink:2525",
			From:     "notifications@taskmesh.local",
		},
		MailSink: MailSink{
			Addr:   ":2525",
			Domain: "taskmesh.local",
		},
		Vault: Vault{
			Address: "http://vault:8200",
			Mount:   "secret",
		},
		Logger: Logger{
			Level:  "info",
			Format: "json",
		},
		Tracing: Tracing{
			Endpoint:    "tempo:4318",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any), then the environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	return &cfg, nil
}

// FromEnv is Load without a file
func FromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// Requirement names a piece of configuration a process cannot start without
type Requirement uint8

const (
	NeedSigningKey Requirement = 1 << iota
	NeedBroker
	NeedDatabase
	NeedMail
)

var (
	ErrMissingSigningKey = errors.New("signing key is required")
	ErrShortSigningKey   = fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyLen)
	ErrMissingBroker     = errors.New("broker address is required")
)

// Validate checks the fields every process relies on plus the ones named by req
func (c *Config) Validate(req Requirement) error {
	if req&NeedSigningKey != 0 {
		if c.Auth.SigningKey == "" {
			return ErrMissingSigningKey
		}
		if len(c.Auth.SigningKey) < MinSigningKeyLen {
			return ErrShortSigningKey
		}
	}

	if req&NeedBroker != 0 {
		if c.NSQ.NsqdTCPAddr == "" {
			return ErrMissingBroker
		}
		if c.NSQ.Topic == "" {
			return fmt.Errorf("nsq topic is required")
		}
		if c.NSQ.PublishTimeout <= 0 {
			return fmt.Errorf("invalid publish timeout: %s", c.NSQ.PublishTimeout)
		}
	}

	if req&NeedDatabase != 0 && c.Service.Store == "postgres" && c.DB.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if req&NeedMail != 0 {
		switch c.Mail.Mode {
		case "log":
		case "smtp":
			if c.Mail.SMTPAddr == "" {
				return fmt.Errorf("smtp address is required when mail mode is smtp")
			}
			if c.Mail.From == "" {
				return fmt.Errorf("mail from address is required")
			}
		default:
			return fmt.Errorf("unknown mail mode: %q", c.Mail.Mode)
		}
	}

	switch c.Service.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver: %q", c.Service.Store)
	}

	if c.Existence.Timeout <= 0 {
		return fmt.Errorf("invalid existence timeout: %s", c.Existence.Timeout)
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	return nil
}

// DSN returns the postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// GetVaultToken returns the Vault token from config or file
func (v *Vault) GetVaultToken() (string, error) {
	if v.Token != "" {
		return v.Token, nil
	}

	if v.TokenPath != "" {
		token, err := os.ReadFile(v.TokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token from file: %w", err)
		}
		return strings.TrimSpace(string(token)), nil
	}

	return "", fmt.Errorf("vault token not configured")
}
