package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_RABBITMQ_HOST", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8087", cfg.InfluxDB.URL)
	assert.Equal(t, "WMIND", cfg.InfluxDB.Org)
	assert.Equal(t, "SignalTelemetryData", cfg.InfluxDB.Bucket)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "telemetry_queue", cfg.RabbitMQ.QueueName)
	assert.Equal(t, 10, cfg.Modbus.MaxConcurrentPolls)
	assert.Equal(t, 3, cfg.Modbus.FailureThreshold)
	assert.Equal(t, 30, cfg.Cache.ConfigurationsMinutes)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GATEWAY_INFLUXDB_URL", "http://influx.internal:8086")
	t.Setenv("GATEWAY_MODBUS_MAXCONCURRENTPOLLS", "25")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://influx.internal:8086", cfg.InfluxDB.URL)
	assert.Equal(t, 25, cfg.Modbus.MaxConcurrentPolls)
}
