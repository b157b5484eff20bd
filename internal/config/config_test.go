package config

import (
	"testing"
	"time"

	"github.com/sing3demons/instance-identity/pkg/kafka"
	"github.com/stretchr/testify/require"
)

func TestNewConfigManager_Defaults(t *testing.T) {
	t.Setenv("KEYSTONE_AUTH_URL", "http://keystone:5000")

	cfg, err := NewConfigManager()
	require.NoError(t, err)

	require.Equal(t, "https://idp.example.com", cfg.Oidc.Issuer)
	require.Equal(t, "openstack", cfg.Oidc.Audience)
	require.Equal(t, "ES256", cfg.Oidc.SigningAlgorithm)
	require.Equal(t, 24*time.Hour, cfg.Oidc.KeyRotationPeriod)
	require.Equal(t, time.Hour, cfg.Oidc.TokenLifetime)
	require.Equal(t, 3, cfg.Oidc.MaxKeys)
	require.False(t, cfg.Oidc.AllowClaimOverride)
	require.Zero(t, cfg.Oidc.RotationCheckInterval)
	require.Equal(t, BackendFile, cfg.State.Backend)
	require.Equal(t, "jwks.json", cfg.State.Path)
	require.Equal(t, "0.0.0.0:8001", cfg.ListenAddr())
	require.Equal(t, "https://idp.example.com/.well-known/jwks.json", cfg.JwksURI())
	require.Equal(t, "instance-identity.jwks-rotated", cfg.Kafka.RotationTopic)
	require.Empty(t, cfg.Kafka.Brokers)
	require.Equal(t, "PLAINTEXT", cfg.Kafka.SecurityProtocol)
	require.True(t, cfg.Keystone.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestNewConfigManager_Overrides(t *testing.T) {
	t.Setenv("OIDC_ISSUER_URL", "https://issuer.test/")
	t.Setenv("OIDC_SIGNING_ALGORITHM", "RS384")
	t.Setenv("OIDC_KEY_ROTATION_PERIOD", "90m")
	t.Setenv("OIDC_TOKEN_LIFETIME", "2")
	t.Setenv("OIDC_MAX_KEYS", "5")
	t.Setenv("OIDC_ALLOW_CLAIM_OVERRIDE", "true")
	t.Setenv("OIDC_ROTATION_CHECK_INTERVAL", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KEYSTONE_AUTH_ENABLED", "false")
	t.Setenv("PORT", "9000")
	t.Setenv("LISTEN_HOST", "127.0.0.1")

	cfg, err := NewConfigManager()
	require.NoError(t, err)

	require.Equal(t, "https://issuer.test", cfg.Oidc.Issuer)
	require.Equal(t, "RS384", cfg.Oidc.SigningAlgorithm)
	require.Equal(t, 90*time.Minute, cfg.Oidc.KeyRotationPeriod)
	require.Equal(t, 2*time.Hour, cfg.Oidc.TokenLifetime)
	require.Equal(t, 5, cfg.Oidc.MaxKeys)
	require.True(t, cfg.Oidc.AllowClaimOverride)
	require.Equal(t, 30*time.Second, cfg.Oidc.RotationCheckInterval)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.False(t, cfg.Keystone.Enabled)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	require.NoError(t, cfg.Validate())
}

func TestNewConfigManager_KafkaSecurity(t *testing.T) {
	t.Setenv("KEYSTONE_AUTH_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9093")
	t.Setenv("KAFKA_SECURITY_PROTOCOL", "sasl_ssl")
	t.Setenv("KAFKA_SASL_MECHANISM", "scram-sha-512")
	t.Setenv("KAFKA_SASL_USERNAME", "identity")
	t.Setenv("KAFKA_SASL_PASSWORD", "s3cret")
	t.Setenv("KAFKA_TLS_CA_FILE", "/etc/kafka/ca.pem")
	t.Setenv("KAFKA_TLS_CERT_FILE", "/etc/kafka/client.pem")
	t.Setenv("KAFKA_TLS_KEY_FILE", "/etc/kafka/client.key")
	t.Setenv("KAFKA_TLS_INSECURE_SKIP_VERIFY", "true")

	cfg, err := NewConfigManager()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	pc := cfg.Kafka.PublisherConfig()
	require.Equal(t, []string{"k1:9093"}, pc.Brokers)
	require.Equal(t, "SASL_SSL", pc.SecurityProtocol)
	require.Equal(t, "SCRAM-SHA-512", pc.SASLMechanism)
	require.Equal(t, "identity", pc.SASLUser)
	require.Equal(t, "s3cret", pc.SASLPassword)
	require.Equal(t, "/etc/kafka/ca.pem", pc.TLS.CACertFile)
	require.Equal(t, "/etc/kafka/client.pem", pc.TLS.CertFile)
	require.Equal(t, "/etc/kafka/client.key", pc.TLS.KeyFile)
	require.True(t, pc.TLS.InsecureSkipVerify)
}

func TestPublisherConfig_ReachesTransport(t *testing.T) {
	sasl := KafkaConfig{Brokers: []string{"k1:9092"}, SecurityProtocol: "SASL_PLAINTEXT", SASLMechanism: "PLAIN", SASLUser: "u", SASLPassword: "p"}
	_, err := kafka.New(sasl.PublisherConfig())
	require.NoError(t, err)

	// the CA file is read while building the transport
	tlsCfg := KafkaConfig{Brokers: []string{"k1:9093"}, SecurityProtocol: "SSL", TLSCAFile: "/nonexistent/ca.pem"}
	_, err = kafka.New(tlsCfg.PublisherConfig())
	require.ErrorContains(t, err, "CA cert")
}

func TestNewConfigManager_BadDuration(t *testing.T) {
	t.Setenv("OIDC_TOKEN_LIFETIME", "forever")

	_, err := NewConfigManager()
	require.ErrorContains(t, err, "OIDC_TOKEN_LIFETIME")
}

func TestNewConfigManager_BadMaxKeys(t *testing.T) {
	t.Setenv("OIDC_MAX_KEYS", "three")

	_, err := NewConfigManager()
	require.ErrorContains(t, err, "OIDC_MAX_KEYS")
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *AppConfig {
		t.Setenv("KEYSTONE_AUTH_ENABLED", "false")
		cfg, err := NewConfigManager()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
		errMsg string
	}{
		{
			name:   "unsupported algorithm",
			mutate: func(c *AppConfig) { c.Oidc.SigningAlgorithm = "HS256" },
			errMsg: "SigningAlgorithm",
		},
		{
			name:   "zero lifetime",
			mutate: func(c *AppConfig) { c.Oidc.TokenLifetime = 0 },
			errMsg: "TokenLifetime",
		},
		{
			name:   "zero max keys",
			mutate: func(c *AppConfig) { c.Oidc.MaxKeys = 0 },
			errMsg: "MaxKeys",
		},
		{
			name:   "unknown backend",
			mutate: func(c *AppConfig) { c.State.Backend = "etcd" },
			errMsg: "Backend",
		},
		{
			name:   "mongo backend without uri",
			mutate: func(c *AppConfig) { c.State.Backend = BackendMongo },
			errMsg: "MONGO_URI",
		},
		{
			name:   "redis backend without host",
			mutate: func(c *AppConfig) { c.State.Backend = BackendRedis },
			errMsg: "REDIS_HOST",
		},
		{
			name: "auth enabled without url",
			mutate: func(c *AppConfig) {
				c.Keystone.Enabled = true
				c.Keystone.AuthURL = ""
			},
			errMsg: "AuthURL",
		},
		{
			name:   "project lookup without keystone",
			mutate: func(c *AppConfig) { c.ProjectNameLookup = true },
			errMsg: "PROJECT_NAME_LOOKUP",
		},
		{
			name:   "unknown kafka security protocol",
			mutate: func(c *AppConfig) { c.Kafka.SecurityProtocol = "KERBEROS" },
			errMsg: "SecurityProtocol",
		},
		{
			name:   "sasl without mechanism",
			mutate: func(c *AppConfig) { c.Kafka.SecurityProtocol = "SASL_PLAINTEXT" },
			errMsg: "KAFKA_SASL_MECHANISM",
		},
		{
			name:   "zero rotation period is allowed",
			mutate: func(c *AppConfig) { c.Oidc.KeyRotationPeriod = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}
