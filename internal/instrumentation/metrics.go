package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all bridge metrics.
const MeterName = "harbor-bridge/oauth"

// Callback results recorded by RecordCallback.
const (
	ResultSuccess        = "success"
	ResultProviderError  = "provider_error"
	ResultInvalidRequest = "invalid_request"
	ResultSessionExpired = "session_expired"
	ResultNotConfigured  = "not_configured"
	ResultExchangeFailed = "exchange_failed"
	ResultRateLimited    = "rate_limited"
)

// Metrics holds the metric instruments for the OAuth subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FlowsStarted       metric.Int64Counter
	CallbacksProcessed metric.Int64Counter
	CodeExchanges      metric.Int64Counter
	TokenRefreshes     metric.Int64Counter
	TokenRevocations   metric.Int64Counter
	ProviderDuration   metric.Float64Histogram
	PersistFailures    metric.Int64Counter
}

// New creates the instruments on provider. A nil provider uses the global
// otel MeterProvider, which is a no-op unless the process installs one.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(MeterName)

	m := &Metrics{}
	var err error

	m.FlowsStarted, err = meter.Int64Counter(
		"oauth.flow.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.started counter: %w", err)
	}

	m.CallbacksProcessed, err = meter.Int64Counter(
		"oauth.callback.processed",
		metric.WithDescription("Number of browser redirects handled by the callback listener"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.CodeExchanges, err = meter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization code exchanges"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshes, err = meter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of refresh token grants sent to providers"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevocations, err = meter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of stored token records revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ProviderDuration, err = meter.Float64Histogram(
		"oauth.provider.duration",
		metric.WithDescription("Provider token endpoint call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.duration histogram: %w", err)
	}

	m.PersistFailures, err = meter.Int64Counter(
		"oauth.storage.write_failures",
		metric.WithDescription("Number of token store writes that failed"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.write_failures counter: %w", err)
	}

	return m, nil
}

// RecordFlowStarted records an authorization flow start.
func (m *Metrics) RecordFlowStarted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCallback records one callback request and how it ended.
func (m *Metrics) RecordCallback(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCodeExchange records a code-for-token exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider string, pkce bool, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("pkce", pkce),
		attribute.Bool("success", err == nil),
	))
	m.recordDuration(ctx, provider, "exchange", duration)
}

// RecordTokenRefresh records a refresh grant. rotated reports whether the
// provider issued a new refresh token.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider string, rotated bool, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("rotated", rotated),
		attribute.Bool("success", err == nil),
	))
	m.recordDuration(ctx, provider, "refresh", duration)
}

// RecordTokenRevocation records removal of a stored record.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, provider string, remote bool) {
	if m == nil {
		return
	}
	m.TokenRevocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("remote", remote),
	))
}

// RecordPersistFailure records a failed token store write.
func (m *Metrics) RecordPersistFailure(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.PersistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *Metrics) recordDuration(ctx context.Context, provider, operation string, duration time.Duration) {
	m.ProviderDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}
