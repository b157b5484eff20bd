package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

var (
	errBrokerNotProvided      = errors.New("kafka broker address not provided")
	errPublisherNotConfigured = errors.New("publisher not configured or topic is empty")
)

const (
	DefaultBatchSize    = 100
	DefaultBatchBytes   = 1048576
	DefaultBatchTimeout = 1000 // milliseconds
)

type Config struct {
	Brokers          []string
	BatchSize        int
	BatchBytes       int
	BatchTimeout     int
	SASLMechanism    string
	SASLUser         string
	SASLPassword     string
	SecurityProtocol string
	TLS              TLSConfig
}

type TLSConfig struct {
	CertFile, KeyFile, CACertFile string
	InsecureSkipVerify            bool
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msg ...kafka.Message) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, message []byte) error
	Close() error
}

type kafkaPublisher struct {
	writer Writer
}

// New builds a publisher for the configured brokers. Connections are opened lazily
// by the writer on first publish, so an unreachable broker does not block startup.
func New(conf *Config) (Publisher, error) {
	if conf == nil || len(conf.Brokers) == 0 {
		return nil, errBrokerNotProvided
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = DefaultBatchSize
	}
	if conf.BatchBytes <= 0 {
		conf.BatchBytes = DefaultBatchBytes
	}
	if conf.BatchTimeout <= 0 {
		conf.BatchTimeout = DefaultBatchTimeout
	}
	if conf.SecurityProtocol == "" {
		conf.SecurityProtocol = "PLAINTEXT"
	}

	transport, err := newTransport(conf)
	if err != nil {
		return nil, err
	}

	return &kafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(conf.Brokers...),
		Transport:    transport,
		Balancer:     &kafka.Hash{},
		BatchSize:    conf.BatchSize,
		BatchBytes:   int64(conf.BatchBytes),
		BatchTimeout: time.Duration(conf.BatchTimeout) * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}, nil
}

// NewWithWriter wraps an existing writer; tests use it with a fake.
func NewWithWriter(w Writer) Publisher {
	return &kafkaPublisher{writer: w}
}

func newTransport(conf *Config) (*kafka.Transport, error) {
	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	protocol := strings.ToUpper(conf.SecurityProtocol)

	if protocol == "SASL_PLAINTEXT" || protocol == "SASL_SSL" {
		mech, err := getSASLMechanism(conf.SASLMechanism, conf.SASLUser, conf.SASLPassword)
		if err != nil {
			return nil, err
		}
		transport.SASL = mech
	}
	if protocol == "SSL" || protocol == "SASL_SSL" {
		tlsConfig, err := createTLSConfig(&conf.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLS = tlsConfig
	}
	return transport, nil
}

func getSASLMechanism(mechanism, username, password string) (sasl.Mechanism, error) {
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, username, password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, username, password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", mechanism)
	}
}

func createTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic string, key, message []byte) error {
	if p.writer == nil || topic == "" {
		return errPublisherNotConfigured
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: message, Time: time.Now()})
}

func (p *kafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
