package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTraceID = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"

func TestParseArgs_Defaults(t *testing.T) {
	args := []string{"memlock"}
	cfg, err := ParseArgs(args)

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.PID)
	assert.Empty(t, cfg.Filter)
	assert.False(t, cfg.Lock)
	assert.False(t, cfg.OnFault)
	assert.Zero(t, cfg.Watch)
	assert.Empty(t, cfg.Command)
	assert.Len(t, cfg.TraceID, 32, "trace ID should be auto-generated")
}

func TestParseArgs_Pid(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "--pid", "1234"})
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.PID)
}

func TestParseArgs_PidShortForm(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "-p", "42"})
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.PID)
}

func TestParseArgs_PidInvalid(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--pid", "abc"})
	assert.Error(t, err)

	_, err = ParseArgs([]string{"memlock", "--pid", "-1"})
	assert.Error(t, err)
}

func TestParseArgs_Filter(t *testing.T) {
	expr := `path contains "libc"`
	cfg, err := ParseArgs([]string{"memlock", "--filter", expr})
	require.NoError(t, err)
	assert.Equal(t, expr, cfg.Filter)
}

func TestParseArgs_LockAndOnFault(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "--lock", "--onfault"})
	require.NoError(t, err)
	assert.True(t, cfg.Lock)
	assert.True(t, cfg.OnFault)
}

func TestParseArgs_LockWithPidRejected(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--lock", "--pid", "1234"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--lock")
}

func TestParseArgs_Watch(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "--watch", "250ms", "--pid", "1"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch)
}

func TestParseArgs_WatchInvalid(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--watch", "fast"})
	assert.Error(t, err)

	_, err = ParseArgs([]string{"memlock", "--watch", "-1s"})
	assert.Error(t, err)
}

func TestParseArgs_Command(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "--", "sleep", "5"})
	require.NoError(t, err)
	assert.Equal(t, "sleep", cfg.Command)
	assert.Equal(t, []string{"5"}, cfg.Args)
	assert.Equal(t, time.Second, cfg.Watch, "command implies watch mode with a default interval")
}

func TestParseArgs_CommandWithInterval(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "-w", "100ms", "--", "true"})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch)
	assert.Equal(t, "true", cfg.Command)
}

func TestParseArgs_CommandWithPidRejected(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--pid", "1", "--", "true"})
	assert.Error(t, err)
}

func TestParseArgs_EmptyCommandAfterSeparator(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}

func TestParseArgs_TraceID(t *testing.T) {
	cfg, err := ParseArgs([]string{"memlock", "--trace-id", testTraceID})
	require.NoError(t, err)
	assert.Equal(t, testTraceID, cfg.TraceID)
}

func TestParseArgs_TraceIDWrongLength(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "-t", "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 hex characters")
}

func TestParseArgs_TraceIDNotHex(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "-t", strings.Repeat("z", 32)})
	assert.Error(t, err)
}

func TestParseArgs_GeneratedTraceIDsDiffer(t *testing.T) {
	first, err := ParseArgs([]string{"memlock"})
	require.NoError(t, err)
	second, err := ParseArgs([]string{"memlock"})
	require.NoError(t, err)

	assert.NotEqual(t, first.TraceID, second.TraceID)
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestParseArgs_FlagMissingValue(t *testing.T) {
	_, err := ParseArgs([]string{"memlock", "--filter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a value")
}

func TestParseArgs_NoArgs(t *testing.T) {
	_, err := ParseArgs(nil)
	assert.Error(t, err)
}

func TestOTELConfig_EndpointPriority(t *testing.T) {
	cfg := &OTELConfig{}
	assert.Equal(t, "localhost:4318", cfg.GetEndpoint())

	cfg.ExporterEndpoint = "collector:4318"
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())

	cfg.TracesEndpoint = "traces:4318"
	assert.Equal(t, "traces:4318", cfg.GetEndpoint())
}

func TestOTELConfig_ParseResourceAttributes(t *testing.T) {
	cfg := &OTELConfig{ResourceAttributes: "team=mm, host.name=box ,empty"}

	attrs := cfg.ParseResourceAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, "team", string(attrs[0].Key))
	assert.Equal(t, "mm", attrs[0].Value.AsString())
	assert.Equal(t, "host.name", string(attrs[1].Key))
}

func TestOTELConfig_ParseResourceAttributesEmpty(t *testing.T) {
	cfg := &OTELConfig{}
	assert.Nil(t, cfg.ParseResourceAttributes())
}

func TestParseOTELConfig_Defaults(t *testing.T) {
	// t.Setenv snapshots the old values; unset so envDefault applies.
	t.Setenv("OTEL_SERVICE_NAME", "placeholder")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "placeholder")
	require.NoError(t, os.Unsetenv("OTEL_SERVICE_NAME"))
	require.NoError(t, os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	cfg, err := ParseOTELConfig()
	require.NoError(t, err)
	assert.Equal(t, "memlock", cfg.ServiceName)
}
