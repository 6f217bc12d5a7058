package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/steveyegge/agentbridge"
	loggerName        = "agentbridge"
)

// recorderInstruments holds the lazily registered metric instruments.
type recorderInstruments struct {
	agentStartTotal   metric.Int64Counter
	agentStopTotal    metric.Int64Counter
	promptTotal       metric.Int64Counter
	enqueueTotal      metric.Int64Counter
	dispatchTotal     metric.Int64Counter
	completionTotal   metric.Int64Counter
	slackPostTotal    metric.Int64Counter
	dispatchLatencyMs metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers the instruments against the current global
// MeterProvider. Init calls it after installing the real provider; every
// recorder also calls it so a disabled setup gets no-op instruments.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.agentStartTotal, _ = m.Int64Counter("agentbridge.agent.starts.total",
			metric.WithDescription("Total agent process starts"),
		)
		inst.agentStopTotal, _ = m.Int64Counter("agentbridge.agent.stops.total",
			metric.WithDescription("Total agent process stops"),
		)
		inst.promptTotal, _ = m.Int64Counter("agentbridge.prompt.sends.total",
			metric.WithDescription("Total lines typed into the agent"),
		)
		inst.enqueueTotal, _ = m.Int64Counter("agentbridge.queue.enqueues.total",
			metric.WithDescription("Total messages accepted by channel queues"),
		)
		inst.dispatchTotal, _ = m.Int64Counter("agentbridge.queue.dispatches.total",
			metric.WithDescription("Total messages handed to the channel handler"),
		)
		inst.completionTotal, _ = m.Int64Counter("agentbridge.completion.routed.total",
			metric.WithDescription("Total completion notifications routed"),
		)
		inst.slackPostTotal, _ = m.Int64Counter("agentbridge.slack.posts.total",
			metric.WithDescription("Total Slack chat.postMessage calls"),
		)
		inst.dispatchLatencyMs, _ = m.Float64Histogram("agentbridge.queue.dispatch_ms",
			metric.WithDescription("Handler run time per dispatched message in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordAgentStart records an agent process start.
func RecordAgentStart(ctx context.Context, sessionTag string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.agentStartTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "agent.start", severity(err),
		otellog.String("session_tag", sessionTag),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordAgentStop records an agent process stop.
func RecordAgentStop(ctx context.Context, sessionTag string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.agentStopTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "agent.stop", severity(err),
		otellog.String("session_tag", sessionTag),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordPromptSend records one line typed into the agent. Only the length
// is recorded; message text may carry user data.
func RecordPromptSend(ctx context.Context, sessionTag string, textLen int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.promptTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "prompt.send", severity(err),
		otellog.String("session_tag", sessionTag),
		otellog.Int64("text_len", int64(textLen)),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordEnqueue records a message accepted by a channel queue.
func RecordEnqueue(ctx context.Context, queueKey string, depth int) {
	initInstruments()
	inst.enqueueTotal.Add(ctx, 1)
	emit(ctx, "queue.enqueue", otellog.SeverityDebug,
		otellog.String("queue", queueKey),
		otellog.Int64("depth", int64(depth)),
	)
}

// RecordDispatch records one handler run for a queued message.
func RecordDispatch(ctx context.Context, queueKey string, durationMs float64, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(attribute.String("status", status))
	inst.dispatchTotal.Add(ctx, 1, attrs)
	inst.dispatchLatencyMs.Record(ctx, durationMs, attrs)
	emit(ctx, "queue.dispatch", severity(err),
		otellog.String("queue", queueKey),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordCompletionRouted records the outcome of routing one completion
// notification. outcome is "delivered", "ignored", "empty" or
// "undeliverable".
func RecordCompletionRouted(ctx context.Context, channelID, outcome string, err error) {
	initInstruments()
	inst.completionTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	emit(ctx, "completion.route", severity(err),
		otellog.String("channel", channelID),
		otellog.String("outcome", outcome),
		errKV(err),
	)
}

// RecordSlackPost records a Slack message post.
func RecordSlackPost(ctx context.Context, channelID string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.slackPostTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "slack.post", severity(err),
		otellog.String("channel", channelID),
		otellog.String("status", status),
		errKV(err),
	)
}
