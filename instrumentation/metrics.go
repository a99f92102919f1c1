package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Token Lifecycle Metrics
	MagicLinkRequested    metric.Int64Counter
	MagicLinkConsumed     metric.Int64Counter
	TokenIssued           metric.Int64Counter
	TokenRefreshed        metric.Int64Counter
	TokenReissued         metric.Int64Counter
	TokenRevoked          metric.Int64Counter
	RegistrationValidated metric.Int64Counter
	GrantFailed           metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	ReplayDetected       metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	StorageEmailTokensCount   metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageAuthCodesCount     metric.Int64ObservableGauge
	StorageClientsCount       metric.Int64ObservableGauge

	// Mail Metrics
	MailDeliveries metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	mailMeter := inst.Meter("mail")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"auth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"auth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.MagicLinkRequested, err = serverMeter.Int64Counter(
		"auth.magic_link.requested",
		metric.WithDescription("Number of magic link requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create magic_link.requested counter: %w", err)
	}

	m.MagicLinkConsumed, err = serverMeter.Int64Counter(
		"auth.magic_link.consumed",
		metric.WithDescription("Number of magic link tokens exchanged for tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create magic_link.consumed counter: %w", err)
	}

	m.TokenIssued, err = serverMeter.Int64Counter(
		"auth.token.issued",
		metric.WithDescription("Number of access/refresh token pairs issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"auth.token.refreshed",
		metric.WithDescription("Number of refresh token rotations"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenReissued, err = serverMeter.Int64Counter(
		"auth.token.reissued",
		metric.WithDescription("Number of expired link tokens replaced"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.reissued counter: %w", err)
	}

	m.TokenRevoked, err = serverMeter.Int64Counter(
		"auth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.RegistrationValidated, err = serverMeter.Int64Counter(
		"auth.registration.validated",
		metric.WithDescription("Number of registrations confirmed"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration.validated counter: %w", err)
	}

	m.GrantFailed, err = serverMeter.Int64Counter(
		"auth.grant.failed",
		metric.WithDescription("Number of failed grant attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.failed counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"auth.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.ReplayDetected, err = securityMeter.Int64Counter(
		"auth.replay.detected",
		metric.WithDescription("Number of consumed code or rotated refresh token replays detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay.detected counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		name  string
		desc  string
		gauge *metric.Int64ObservableGauge
	}{
		{"storage.email_tokens.count", "Live email token rows", &m.StorageEmailTokensCount},
		{"storage.access_tokens.count", "Live access token rows", &m.StorageAccessTokensCount},
		{"storage.refresh_tokens.count", "Live refresh token rows", &m.StorageRefreshTokensCount},
		{"storage.auth_codes.count", "Live authorization code rows", &m.StorageAuthCodesCount},
		{"storage.clients.count", "Registered client rows", &m.StorageClientsCount},
	}
	for _, g := range gauges {
		*g.gauge, err = storageMeter.Int64ObservableGauge(
			g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{row}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	m.MailDeliveries, err = mailMeter.Int64Counter(
		"mail.deliveries.total",
		metric.WithDescription("Total number of link email deliveries attempted"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail.deliveries.total counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"auth.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordMagicLinkRequested records a magic link request.
// known says whether the address resolved to an account; both variants are
// recorded so the counter cannot be used to infer registered addresses.
func (m *Metrics) RecordMagicLinkRequested(ctx context.Context, known bool) {
	m.MagicLinkRequested.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("known_address", known),
	))
}

// RecordMagicLinkConsumed records a completed magic link grant
func (m *Metrics) RecordMagicLinkConsumed(ctx context.Context, clientID string) {
	m.MagicLinkConsumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an issued token pair
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenRefresh records a refresh token rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenReissued records a replacement link for an expired token
func (m *Metrics) RecordTokenReissued(ctx context.Context, tokenType string) {
	m.TokenReissued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordRegistrationValidated records a confirmed registration
func (m *Metrics) RecordRegistrationValidated(ctx context.Context) {
	m.RegistrationValidated.Add(ctx, 1)
}

// RecordGrantFailed records a failed grant attempt
func (m *Metrics) RecordGrantFailed(ctx context.Context, grantType, errorCode string) {
	m.GrantFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error_code", errorCode),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordReplayDetected records a replay of a consumed grant
func (m *Metrics) RecordReplayDetected(ctx context.Context, tokenType string) {
	m.ReplayDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordMailDelivery records a link email delivery attempt
func (m *Metrics) RecordMailDelivery(ctx context.Context, tokenType string, success bool) {
	m.MailDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
		attribute.Bool("success", success),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
