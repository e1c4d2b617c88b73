package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsUnboundedLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("org_id", "123"),
		attribute.String("order_id", "456"),
		attribute.String("outcome", "settled"),
	)
	require.Len(t, attrs, 2)
	require.Equal(t, attribute.Key("provider"), attrs[0].Key)
	require.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordSettlement(ctx, "stripe", "settled")
	m.RecordProviderCall(ctx, "stripe", "verify", time.Second, errors.New("boom"))
	m.RecordCreditOperation(ctx, "earned", 10)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordSettlement(context.Background(), "adyen", "pending")
	m.RecordTokenFallback(context.Background(), "webpay")
}
