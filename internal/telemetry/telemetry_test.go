package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentEnv_Disabled(t *testing.T) {
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	assert.Nil(t, AgentEnv("tag"))
	assert.False(t, EndpointsFromEnv().Enabled())
}

func TestAgentEnv_Enabled(t *testing.T) {
	t.Setenv(EnvMetricsURL, "http://metrics.local/push")
	t.Setenv(EnvLogsURL, "http://logs.local/insert")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "team=infra")

	env := AgentEnv("abc")
	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, "CLAUDE_CODE_ENABLE_TELEMETRY=1")
	assert.Contains(t, joined, "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=http://metrics.local/push")
	assert.Contains(t, joined, "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT=http://logs.local/insert")
	assert.Contains(t, joined, "OTEL_RESOURCE_ATTRIBUTES=agentbridge.managed=true,agentbridge.session=abc,team=infra")
	assert.True(t, EndpointsFromEnv().Enabled())
}

func TestRecordersWithoutProvider(t *testing.T) {
	// With no provider installed every recorder is a no-op.
	ctx := context.Background()
	boom := errors.New("boom")
	require.NotPanics(t, func() {
		RecordAgentStart(ctx, "tag", nil)
		RecordAgentStop(ctx, "tag", boom)
		RecordPromptSend(ctx, "tag", 12, nil)
		RecordEnqueue(ctx, "channel-C1", 3)
		RecordDispatch(ctx, "channel-C1", 1.5, boom)
		RecordCompletionRouted(ctx, "C1", "delivered", nil)
		RecordSlackPost(ctx, "C1", nil)
	})
}

func TestProviderShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_PerSignal(t *testing.T) {
	tests := []struct {
		name       string
		metrics    string
		logs       string
		wantNil    bool
		wantMeters bool
		wantLogs   bool
	}{
		{name: "disabled", wantNil: true},
		{name: "metrics only", metrics: "http://127.0.0.1:1/push", wantMeters: true},
		{name: "logs only", logs: "http://127.0.0.1:1/logs", wantLogs: true},
		{name: "both", metrics: "http://127.0.0.1:1/push", logs: "http://127.0.0.1:1/logs", wantMeters: true, wantLogs: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvMetricsURL, tt.metrics)
			t.Setenv(EnvLogsURL, tt.logs)

			p, err := Init(context.Background(), "agentbridge", "test")
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantMeters, p.meters != nil)
			assert.Equal(t, tt.wantLogs, p.logs != nil)

			// Nothing listens on the endpoints; only the repeat result matters.
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			first := p.Shutdown(ctx)
			assert.Equal(t, first, p.Shutdown(ctx))
		})
	}
}
