package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/worker"
)

const (
	TransportTCP  = "tcp"
	TransportAMQP = "amqp"
)

// Config holds everything the data join process needs.
// Values from the CONFIG_PATH file are overridden by environment variables.
type Config struct {
	Role                string `yaml:"role"`
	ServerName          string `yaml:"server_name"`
	ListenAddress       string `yaml:"listen_address"`
	RemoteServerName    string `yaml:"remote_server_name"`
	RemoteServerAddress string `yaml:"remote_server_address"`
	Transport           string `yaml:"transport"`

	RabbitMQHost string `yaml:"rabbitmq_host"`
	RabbitMQPort int    `yaml:"rabbitmq_port"`
	RabbitMQUser string `yaml:"rabbitmq_user"`
	RabbitMQPass string `yaml:"rabbitmq_pass"`

	EnableSSL      bool   `yaml:"enable_ssl"`
	ServerCertPath string `yaml:"server_cert_path"`
	ServerKeyPath  string `yaml:"server_key_path"`
	CACertPath     string `yaml:"ca_cert_path"`

	MainTableFiles []string `yaml:"main_table_files"`
	DataSchemaPath string   `yaml:"data_schema_path"`
	OutputPrefix   string   `yaml:"output_prefix"`
	Overwrite      bool     `yaml:"overwrite"`

	Join joinconfig.WorkerConfig `yaml:",inline"`

	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	RoundTimeout       time.Duration `yaml:"round_timeout"`
	HealthPort         string        `yaml:"health_port"`
}

func defaultConfig() Config {
	return Config{
		ServerName:         "datajoin",
		ListenAddress:      "0.0.0.0:6666",
		Transport:          TransportTCP,
		RabbitMQHost:       "localhost",
		RabbitMQPort:       5672,
		RabbitMQUser:       "admin",
		RabbitMQPass:       "password",
		OutputPrefix:       "datajoin",
		Overwrite:          true,
		Join:               joinconfig.Default(),
		NegotiationTimeout: worker.DefaultNegotiationTimeout,
		RoundTimeout:       worker.DefaultRoundTimeout,
		HealthPort:         "8888",
	}
}

func loadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Role = getEnv("ROLE", cfg.Role)
	cfg.ServerName = getEnv("SERVER_NAME", cfg.ServerName)
	cfg.ListenAddress = getEnv("LISTEN_ADDRESS", cfg.ListenAddress)
	cfg.RemoteServerName = getEnv("REMOTE_SERVER_NAME", cfg.RemoteServerName)
	cfg.RemoteServerAddress = getEnv("REMOTE_SERVER_ADDRESS", cfg.RemoteServerAddress)
	cfg.Transport = strings.ToLower(getEnv("TRANSPORT", cfg.Transport))
	cfg.RabbitMQHost = getEnv("RABBITMQ_HOST", cfg.RabbitMQHost)
	cfg.RabbitMQUser = getEnv("RABBITMQ_USER", cfg.RabbitMQUser)
	cfg.RabbitMQPass = getEnv("RABBITMQ_PASS", cfg.RabbitMQPass)
	cfg.ServerCertPath = getEnv("SERVER_CERT_PATH", cfg.ServerCertPath)
	cfg.ServerKeyPath = getEnv("SERVER_KEY_PATH", cfg.ServerKeyPath)
	cfg.CACertPath = getEnv("CA_CERT_PATH", cfg.CACertPath)
	cfg.DataSchemaPath = getEnv("DATA_SCHEMA_PATH", cfg.DataSchemaPath)
	cfg.OutputPrefix = getEnv("OUTPUT_PREFIX", cfg.OutputPrefix)
	cfg.HealthPort = getEnv("HEALTH_PORT", cfg.HealthPort)

	cfg.Join.PrimaryKey = getEnv("PRIMARY_KEY", cfg.Join.PrimaryKey)
	cfg.Join.StoreType = getEnv("STORE_TYPE", cfg.Join.StoreType)
	cfg.Join.JoinType = getEnv("JOIN_TYPE", cfg.Join.JoinType)
	cfg.Join.PSIAlgorithm = getEnv("PSI_ALGORITHM", cfg.Join.PSIAlgorithm)
	cfg.Join.OutputDir = getEnv("OUTPUT_DIR", cfg.Join.OutputDir)

	if files := os.Getenv("MAIN_TABLE_FILES"); files != "" {
		cfg.MainTableFiles = splitList(files)
	}

	var err error
	if cfg.RabbitMQPort, err = getEnvInt("RABBITMQ_PORT", cfg.RabbitMQPort); err != nil {
		return nil, err
	}
	if cfg.Join.BucketNum, err = getEnvInt("BUCKET_NUM", cfg.Join.BucketNum); err != nil {
		return nil, err
	}
	if cfg.Join.ShardNum, err = getEnvInt("SHARD_NUM", cfg.Join.ShardNum); err != nil {
		return nil, err
	}
	if cfg.Join.ThreadNum, err = getEnvInt("THREAD_NUM", cfg.Join.ThreadNum); err != nil {
		return nil, err
	}
	if cfg.EnableSSL, err = getEnvBool("ENABLE_SSL", cfg.EnableSSL); err != nil {
		return nil, err
	}
	if cfg.Overwrite, err = getEnvBool("OVERWRITE", cfg.Overwrite); err != nil {
		return nil, err
	}
	if cfg.NegotiationTimeout, err = getEnvDuration("NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout); err != nil {
		return nil, err
	}
	if cfg.RoundTimeout, err = getEnvDuration("ROUND_TIMEOUT", cfg.RoundTimeout); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := joinconfig.ValidateRole(c.Role); err != nil {
		return err
	}
	if c.ServerName == "" {
		return fmt.Errorf("SERVER_NAME is required")
	}
	if c.RemoteServerName == "" {
		return fmt.Errorf("REMOTE_SERVER_NAME is required")
	}
	if c.RemoteServerName == c.ServerName {
		return fmt.Errorf("SERVER_NAME and REMOTE_SERVER_NAME must differ, both are %q", c.ServerName)
	}
	if len(c.MainTableFiles) == 0 {
		return fmt.Errorf("MAIN_TABLE_FILES is required")
	}
	if c.DataSchemaPath == "" {
		return fmt.Errorf("DATA_SCHEMA_PATH is required")
	}

	switch c.Transport {
	case TransportTCP:
		if c.RemoteServerAddress == "" {
			return fmt.Errorf("REMOTE_SERVER_ADDRESS is required for the tcp transport")
		}
		if c.EnableSSL && (c.ServerCertPath == "" || c.ServerKeyPath == "" || c.CACertPath == "") {
			return fmt.Errorf("ENABLE_SSL requires SERVER_CERT_PATH, SERVER_KEY_PATH and CA_CERT_PATH")
		}
	case TransportAMQP:
	default:
		return fmt.Errorf("unsupported TRANSPORT %q", c.Transport)
	}
	return nil
}

// tcpConfig builds the TCP transport settings, loading the certificates when SSL is enabled
func (c *Config) tcpConfig() (transport.TCPConfig, error) {
	tcp := transport.TCPConfig{
		Name:          c.ServerName,
		ListenAddress: c.ListenAddress,
		Peers:         map[string]string{c.RemoteServerName: c.RemoteServerAddress},
	}
	if c.EnableSSL {
		tlsConfig, err := transport.LoadMutualTLSConfig(c.ServerCertPath, c.ServerKeyPath, c.CACertPath)
		if err != nil {
			return tcp, err
		}
		tcp.TLS = tlsConfig
	}
	return tcp, nil
}

func (c *Config) amqpConfig() transport.AMQPConfig {
	return transport.AMQPConfig{
		Name:  c.ServerName,
		Peers: []string{c.RemoteServerName},
		Connection: &middleware.ConnectionConfig{
			Host:     c.RabbitMQHost,
			Port:     c.RabbitMQPort,
			Username: c.RabbitMQUser,
			Password: c.RabbitMQPass,
		},
	}
}

func (c *Config) workerOptions() worker.Options {
	return worker.Options{
		Role:               c.Role,
		PeerName:           c.RemoteServerName,
		Config:             c.Join,
		MainTableFiles:     c.MainTableFiles,
		SchemaPath:         c.DataSchemaPath,
		OutputPrefix:       c.OutputPrefix,
		KeepExisting:       !c.Overwrite,
		NegotiationTimeout: c.NegotiationTimeout,
		RoundTimeout:       c.RoundTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %s", key, value)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, value)
	}
	return d, nil
}

// splitList splits a comma separated list, dropping empty entries
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
