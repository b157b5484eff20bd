package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sing3demons/instance-identity/pkg/kafka"
	"github.com/sing3demons/instance-identity/pkg/logger"
)

const (
	BackendFile  = "file"
	BackendMongo = "mongo"
	BackendRedis = "redis"
)

type AppConfig struct {
	ServiceName string `validate:"required"`
	Version     string

	ListenHost string
	Port       string `validate:"required,numeric"`

	Oidc     OidcConfig
	State    StateConfig
	Keystone KeystoneConfig
	Kafka    KafkaConfig

	// ProjectNameLookup adds the project-name claim from the directory.
	ProjectNameLookup bool

	MongoURI    string
	MongoDB     string
	RedisConfig RedisConfig

	LoggerConfig logger.LoggerConfig
}

type OidcConfig struct {
	Issuer             string        `validate:"required,url"`
	Audience           string        `validate:"required"`
	SigningAlgorithm   string        `validate:"required,oneof=RS256 RS384 RS512 ES256 ES384 ES512"`
	KeyRotationPeriod  time.Duration `validate:"gte=0"`
	TokenLifetime      time.Duration `validate:"gt=0"`
	MaxKeys            int           `validate:"gte=1"`
	AllowClaimOverride bool
	// RotationCheckInterval drives the background rotator; zero leaves rotation to issuance.
	RotationCheckInterval time.Duration `validate:"gte=0"`
}

type StateConfig struct {
	Backend string `validate:"oneof=file mongo redis"`
	Path    string `validate:"required_if=Backend file"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KeystoneConfig struct {
	Enabled         bool
	AuthURL         string `validate:"required_if=Enabled true"`
	Username        string
	Password        string
	ProjectName     string
	UserDomainID    string
	ProjectDomainID string
}

type KafkaConfig struct {
	Brokers       []string
	RotationTopic string

	SecurityProtocol      string `validate:"omitempty,oneof=PLAINTEXT SSL SASL_PLAINTEXT SASL_SSL"`
	SASLMechanism         string `validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	SASLUser              string
	SASLPassword          string
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string
	TLSInsecureSkipVerify bool
}

// PublisherConfig maps the settings onto the kafka publisher's config.
func (k KafkaConfig) PublisherConfig() *kafka.Config {
	return &kafka.Config{
		Brokers:          k.Brokers,
		SecurityProtocol: k.SecurityProtocol,
		SASLMechanism:    k.SASLMechanism,
		SASLUser:         k.SASLUser,
		SASLPassword:     k.SASLPassword,
		TLS: kafka.TLSConfig{
			CACertFile:         k.TLSCAFile,
			CertFile:           k.TLSCertFile,
			KeyFile:            k.TLSKeyFile,
			InsecureSkipVerify: k.TLSInsecureSkipVerify,
		},
	}
}

// NewConfigManager reads the process environment. Call godotenv.Load first to pick up a .env file.
func NewConfigManager() (*AppConfig, error) {
	rotation, err := hoursOrDuration("OIDC_KEY_ROTATION_PERIOD", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	lifetime, err := hoursOrDuration("OIDC_TOKEN_LIFETIME", time.Hour)
	if err != nil {
		return nil, err
	}
	checkInterval, err := hoursOrDuration("OIDC_ROTATION_CHECK_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	maxKeys, err := intEnv("OIDC_MAX_KEYS", 3)
	if err != nil {
		return nil, err
	}
	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		ServiceName: envOr("SERVICE_NAME", "instance-identity"),
		Version:     envOr("VERSION", "1.0.0"),
		ListenHost:  envOr("LISTEN_HOST", "0.0.0.0"),
		Port:        envOr("PORT", "8001"),
		Oidc: OidcConfig{
			Issuer:                strings.TrimRight(envOr("OIDC_ISSUER_URL", "https://idp.example.com"), "/"),
			Audience:              envOr("OIDC_AUDIENCE", "openstack"),
			SigningAlgorithm:      envOr("OIDC_SIGNING_ALGORITHM", "ES256"),
			KeyRotationPeriod:     rotation,
			TokenLifetime:         lifetime,
			MaxKeys:               maxKeys,
			AllowClaimOverride:    boolEnv("OIDC_ALLOW_CLAIM_OVERRIDE", false),
			RotationCheckInterval: checkInterval,
		},
		State: StateConfig{
			Backend: strings.ToLower(envOr("JWKS_STATE_BACKEND", BackendFile)),
			Path:    envOr("OIDC_JWKS_STATE", "jwks.json"),
		},
		Keystone: KeystoneConfig{
			Enabled:         boolEnv("KEYSTONE_AUTH_ENABLED", true),
			AuthURL:         strings.TrimRight(os.Getenv("KEYSTONE_AUTH_URL"), "/"),
			Username:        os.Getenv("KEYSTONE_USERNAME"),
			Password:        os.Getenv("KEYSTONE_PASSWORD"),
			ProjectName:     os.Getenv("KEYSTONE_PROJECT_NAME"),
			UserDomainID:    envOr("KEYSTONE_USER_DOMAIN_ID", "default"),
			ProjectDomainID: envOr("KEYSTONE_PROJECT_DOMAIN_ID", "default"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			RotationTopic: envOr("KAFKA_ROTATION_TOPIC", "instance-identity.jwks-rotated"),

			SecurityProtocol:      strings.ToUpper(envOr("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT")),
			SASLMechanism:         strings.ToUpper(os.Getenv("KAFKA_SASL_MECHANISM")),
			SASLUser:              os.Getenv("KAFKA_SASL_USERNAME"),
			SASLPassword:          os.Getenv("KAFKA_SASL_PASSWORD"),
			TLSCAFile:             os.Getenv("KAFKA_TLS_CA_FILE"),
			TLSCertFile:           os.Getenv("KAFKA_TLS_CERT_FILE"),
			TLSKeyFile:            os.Getenv("KAFKA_TLS_KEY_FILE"),
			TLSInsecureSkipVerify: boolEnv("KAFKA_TLS_INSECURE_SKIP_VERIFY", false),
		},
		ProjectNameLookup: boolEnv("PROJECT_NAME_LOOKUP", false),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           envOr("MONGO_DB", "instance_identity"),
		RedisConfig: RedisConfig{
			Addr:     os.Getenv("REDIS_HOST"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		LoggerConfig: logger.LoggerConfig{
			Summary: logger.LogOutputConfig{Path: "./logs/summary/", Console: true, File: boolEnv("LOG_FILE", false)},
			Detail:  logger.LogOutputConfig{Path: "./logs/detail/", Console: true, File: boolEnv("LOG_FILE", false)},
			Level:   logger.LogLevel(strings.ToLower(envOr("LOG_LEVEL", string(logger.LevelInfo)))),
		},
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field requirements of the chosen backends.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.State.Backend {
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("invalid configuration: MONGO_URI is required for the %s state backend", c.State.Backend)
		}
	case BackendRedis:
		if c.RedisConfig.Addr == "" {
			return fmt.Errorf("invalid configuration: REDIS_HOST is required for the %s state backend", c.State.Backend)
		}
	}
	if strings.HasPrefix(c.Kafka.SecurityProtocol, "SASL_") && c.Kafka.SASLMechanism == "" {
		return fmt.Errorf("invalid configuration: KAFKA_SASL_MECHANISM is required for %s", c.Kafka.SecurityProtocol)
	}
	if c.ProjectNameLookup && c.Keystone.AuthURL == "" {
		return fmt.Errorf("invalid configuration: KEYSTONE_AUTH_URL is required when PROJECT_NAME_LOOKUP is enabled")
	}
	return nil
}

func (c *AppConfig) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, c.Port)
}

// JwksURI is where relying parties fetch the public key set.
func (c *AppConfig) JwksURI() string {
	return c.Oidc.Issuer + "/.well-known/jwks.json"
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

// hoursOrDuration accepts a bare integer as hours ("24") or a Go duration ("90m").
func hoursOrDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected hours or a duration like 90m, got %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
