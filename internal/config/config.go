package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway process.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DeviceAPI DeviceAPIConfig `mapstructure:"deviceapi"`
	InfluxDB  InfluxDBConfig  `mapstructure:"influxdb"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Modbus    ModbusConfig    `mapstructure:"modbus"`
	OPCUA     OPCUAConfig     `mapstructure:"opcua"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
}

// GatewayConfig holds this gateway's client-credentials identity.
type GatewayConfig struct {
	ClientID     string `mapstructure:"clientid"`
	ClientSecret string `mapstructure:"clientsecret"`
}

// AuthConfig points at the client-credentials token endpoint.
type AuthConfig struct {
	BaseURL string `mapstructure:"baseurl"`
}

// DeviceAPIConfig points at the device-catalog HTTP endpoint.
type DeviceAPIConfig struct {
	BaseURL string `mapstructure:"baseurl"`
}

// InfluxDBConfig contains the telemetry sink settings.
type InfluxDBConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// RabbitMQConfig contains the broker connection settings.
type RabbitMQConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	UserName    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	VirtualHost string `mapstructure:"virtualhost"`
	QueueName   string `mapstructure:"queuename"`
}

// ModbusConfig contains Modbus acquisition tunables.
type ModbusConfig struct {
	MaxConcurrentPolls int `mapstructure:"maxconcurrentpolls"`
	// FailureThreshold is reserved for a future per-device circuit breaker;
	// unused today (see DESIGN.md).
	FailureThreshold int `mapstructure:"failurethreshold"`
}

// OPCUAConfig controls the OPC-UA session manager's client identity and
// trust policy.
type OPCUAConfig struct {
	AutoAccept bool   `mapstructure:"autoaccept"`
	CertDir    string `mapstructure:"certdir"`
}

// CacheConfig contains catalog cache tunables.
type CacheConfig struct {
	ConfigurationsMinutes int `mapstructure:"configurationsminutes"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	FilePath string `mapstructure:"filepath"`
}

// ServerConfig contains the health/metrics HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Load reads configuration from file and environment variables, with env
// taking precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("influxdb.url", "http://localhost:8087")
	v.SetDefault("influxdb.org", "WMIND")
	v.SetDefault("influxdb.bucket", "SignalTelemetryData")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.virtualhost", "/")
	v.SetDefault("rabbitmq.queuename", "telemetry_queue")

	v.SetDefault("modbus.maxconcurrentpolls", 10)
	v.SetDefault("modbus.failurethreshold", 3)

	v.SetDefault("opcua.autoaccept", true)
	v.SetDefault("opcua.certdir", filepath.Join(getConfigDir(), "opcua-certs"))

	v.SetDefault("cache.configurationsminutes", 30)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
}

// bindEnv binds the nested keys explicitly; viper's AutomaticEnv alone does
// not reach nested mapstructure keys without a matching key_replacer, and
// the GATEWAY_INFLUXDB_URL-style flat env vars use underscores where the
// struct nests, so each leaf is bound by hand.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("gateway.clientid", "GATEWAY_GATEWAY_CLIENTID")
	_ = v.BindEnv("gateway.clientsecret", "GATEWAY_GATEWAY_CLIENTSECRET")
	_ = v.BindEnv("auth.baseurl", "GATEWAY_AUTH_BASEURL")
	_ = v.BindEnv("deviceapi.baseurl", "GATEWAY_DEVICEAPI_BASEURL")
	_ = v.BindEnv("influxdb.url", "GATEWAY_INFLUXDB_URL")
	_ = v.BindEnv("influxdb.token", "GATEWAY_INFLUXDB_TOKEN")
	_ = v.BindEnv("influxdb.org", "GATEWAY_INFLUXDB_ORG")
	_ = v.BindEnv("influxdb.bucket", "GATEWAY_INFLUXDB_BUCKET")
	_ = v.BindEnv("rabbitmq.host", "GATEWAY_RABBITMQ_HOST")
	_ = v.BindEnv("rabbitmq.port", "GATEWAY_RABBITMQ_PORT")
	_ = v.BindEnv("rabbitmq.username", "GATEWAY_RABBITMQ_USERNAME")
	_ = v.BindEnv("rabbitmq.password", "GATEWAY_RABBITMQ_PASSWORD")
	_ = v.BindEnv("rabbitmq.virtualhost", "GATEWAY_RABBITMQ_VIRTUALHOST")
	_ = v.BindEnv("rabbitmq.queuename", "GATEWAY_RABBITMQ_QUEUENAME")
	_ = v.BindEnv("modbus.maxconcurrentpolls", "GATEWAY_MODBUS_MAXCONCURRENTPOLLS")
	_ = v.BindEnv("modbus.failurethreshold", "GATEWAY_MODBUS_FAILURETHRESHOLD")
	_ = v.BindEnv("opcua.autoaccept", "GATEWAY_OPCUA_AUTOACCEPT")
	_ = v.BindEnv("opcua.certdir", "GATEWAY_OPCUA_CERTDIR")
	_ = v.BindEnv("cache.configurationsminutes", "GATEWAY_CACHE_CONFIGURATIONSMINUTES")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".edge-gateway")
}
