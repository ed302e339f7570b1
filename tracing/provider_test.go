package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProviderConfig(t *testing.T) {
	cfg := DefaultProviderConfig()

	require.Equal(t, "ledgerberry", cfg.ServiceName)
	require.Equal(t, "0.0.0", cfg.ServiceVersion)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, ExporterNone, cfg.Exporter)
	require.Equal(t, 0.1, cfg.SampleRate)
}

func TestNewProvider_None(t *testing.T) {
	provider, err := NewProvider(context.Background(), ProviderConfig{
		ServiceName: "test-service",
		Exporter:    ExporterNone,
		SampleRate:  1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	provider, err := NewProvider(context.Background(), ProviderConfig{
		ServiceName: "test-service",
		Exporter:    ExporterStdout,
		SampleRate:  1.0,
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(context.Background(), "stdout-span")
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))
	require.Contains(t, buf.String(), "stdout-span")
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{
		ServiceName: "test-service",
		Exporter:    "invalid",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown exporter type")
}

func TestNewProvider_SampleRates(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		sampled    bool
	}{
		{"never sample", 0.0, false},
		{"always sample", 1.0, true},
		{"negative", -1.0, false},
		{"over 1", 2.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(context.Background(), ProviderConfig{
				ServiceName: "test-service",
				Exporter:    ExporterNone,
				SampleRate:  tt.sampleRate,
			})
			require.NoError(t, err)
			defer provider.Shutdown(context.Background())

			_, span := provider.Tracer("test").Start(context.Background(), "span")
			require.Equal(t, tt.sampled, span.SpanContext().IsSampled())
			span.End()
		})
	}
}

func TestSetup_Disabled(t *testing.T) {
	provider, shutdown, err := Setup(context.Background(), false, DefaultProviderConfig())
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))

	_, span := provider.Tracer("test").Start(context.Background(), "span")
	require.False(t, span.IsRecording())
	span.End()
}
