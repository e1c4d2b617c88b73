package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes settlement and credit instruments.
type Metrics struct {
	paymentEvents      metric.Int64Counter
	settlements        metric.Int64Counter
	providerCalls      metric.Int64Counter
	providerLatency    metric.Float64Histogram
	tokenFallbacks     metric.Int64Counter
	creditOperations   metric.Int64Counter
	creditInsufficient metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "settlement"
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("settlement_payment_events_total")
	if err != nil {
		return nil, err
	}
	settlements, err := meter.Int64Counter("settlement_outcomes_total")
	if err != nil {
		return nil, err
	}
	providerCalls, err := meter.Int64Counter("settlement_provider_calls_total")
	if err != nil {
		return nil, err
	}
	providerLatency, err := meter.Float64Histogram("settlement_provider_call_duration_seconds")
	if err != nil {
		return nil, err
	}
	tokenFallbacks, err := meter.Int64Counter("settlement_token_fallback_total")
	if err != nil {
		return nil, err
	}
	creditOperations, err := meter.Int64Counter("settlement_credit_operations_total")
	if err != nil {
		return nil, err
	}
	creditInsufficient, err := meter.Int64Counter("settlement_credit_insufficient_total")
	if err != nil {
		return nil, err
	}

	rateLimitDecisions, err := meter.Int64Counter("settlement_rate_limit_decisions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:      paymentEvents,
		settlements:        settlements,
		providerCalls:      providerCalls,
		providerLatency:    providerLatency,
		tokenFallbacks:     tokenFallbacks,
		creditOperations:   creditOperations,
		creditInsufficient: creditInsufficient,
		rateLimitDecisions: rateLimitDecisions,
	}, nil
}

// RecordPaymentEvent counts inbound provider notifications by outcome.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlement counts settlement attempts. Outcome is one of
// settled, already_settled, pending, failed or error.
func (m *Metrics) RecordSettlement(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", outcome),
	)
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTokenFallback(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.tokenFallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditOperation counts ledger entries by transaction type.
func (m *Metrics) RecordCreditOperation(ctx context.Context, txType string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(txType)))
	m.creditOperations.Add(ctx, amount, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInsufficientCredits(ctx context.Context, serviceCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("service_code", strings.TrimSpace(serviceCode)))
	m.creditInsufficient.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, route string) {
	m.recordRateLimit(ctx, route, "allowed", "")
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, route, reason string) {
	m.recordRateLimit(ctx, route, "denied", reason)
}

func (m *Metrics) recordRateLimit(ctx context.Context, route, outcome, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("route", strings.TrimSpace(route)),
		attribute.String("outcome", outcome),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// org_id and order_id are unbounded and never allowed as labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":         {},
	"outcome":          {},
	"operation":        {},
	"transaction_type": {},
	"service_code":     {},
	"status_code":      {},
	"route":            {},
	"method":           {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
