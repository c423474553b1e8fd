// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"document-eligibility/internal/engine"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability exports evaluation instruments through OpenTelemetry.
type Observability struct {
	meterProvider *metric.MeterProvider
	evaluations   otelmetric.Int64Counter
	duration      otelmetric.Float64Histogram
	apiCalls      otelmetric.Int64Counter
}

// New registers the OpenTelemetry Prometheus exporter as the global meter
// provider.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return newWithProvider(provider, serviceName)
}

func newWithProvider(provider *metric.MeterProvider, serviceName string) (*Observability, error) {
	meter := provider.Meter(serviceName)

	evaluations, err := meter.Int64Counter(
		"eligibility.evaluations",
		otelmetric.WithDescription("Number of eligibility evaluations"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"eligibility.duration",
		otelmetric.WithDescription("Eligibility evaluation duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	apiCalls, err := meter.Int64Counter(
		"eligibility.api_calls",
		otelmetric.WithDescription("Data source calls made by evaluations"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider: provider,
		evaluations:   evaluations,
		duration:      duration,
		apiCalls:      apiCalls,
	}, nil
}

// EvaluationFinished implements engine.Listener.
func (o *Observability) EvaluationFinished(ctx context.Context, report engine.Report) {
	outcome := "excluded"
	var calls int
	if res := report.Result; res != nil {
		calls = res.ExecutionMetrics.TotalAPICalls
		switch {
		case res.FailureReason != "":
			outcome = "failed"
		case res.Included:
			outcome = "included"
		}
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("template", report.TemplateID),
	)

	o.evaluations.Add(ctx, 1, attrs)
	o.duration.Record(ctx, float64(report.Duration.Milliseconds()), attrs)
	o.apiCalls.Add(ctx, int64(calls), otelmetric.WithAttributes(attribute.String("template", report.TemplateID)))
}

func (o *Observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
