package telemetry

import (
	"os"
	"strings"
)

// resourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value labelling agent
// telemetry with the bridge session it belongs to.
func resourceAttrs(sessionTag string) string {
	var attrs []string
	attrs = append(attrs, "agentbridge.managed=true")
	if sessionTag != "" {
		attrs = append(attrs, "agentbridge.session="+sessionTag)
	}
	if v := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); v != "" {
		attrs = append(attrs, v)
	}
	return strings.Join(attrs, ",")
}

// AgentEnv returns the environment entries that make the agent process
// export its own telemetry to the bridge's endpoints.
//
// Returns nil when BRIDGE_OTEL_METRICS_URL is not set.
func AgentEnv(sessionTag string) []string {
	ep := EndpointsFromEnv()
	if ep.Metrics == "" {
		return nil
	}
	env := []string{
		"CLAUDE_CODE_ENABLE_TELEMETRY=1",
		"OTEL_METRICS_EXPORTER=otlp",
		"OTEL_EXPORTER_OTLP_PROTOCOL=http/protobuf",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=" + ep.Metrics,
		"OTEL_RESOURCE_ATTRIBUTES=" + resourceAttrs(sessionTag),
	}
	if ep.Logs != "" {
		env = append(env,
			"OTEL_LOGS_EXPORTER=otlp",
			"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+ep.Logs,
		)
	}
	return env
}
