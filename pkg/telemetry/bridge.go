package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/otlptranslator"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterBridge owns an OpenTelemetry MeterProvider whose instruments are
// exported through a Prometheus registerer on every scrape.
type MeterBridge struct {
	provider *sdkmetric.MeterProvider
}

// NewMeterBridge registers an OpenTelemetry Prometheus exporter with reg and
// returns the bridge. Install its provider with otel.SetMeterProvider before
// instruments are created.
func NewMeterBridge(reg prometheus.Registerer) (*MeterBridge, error) {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(reg),
		otelprom.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &MeterBridge{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
	}, nil
}

// MeterProvider returns the provider whose instruments are exported.
func (b *MeterBridge) MeterProvider() *sdkmetric.MeterProvider {
	return b.provider
}

// Shutdown releases the provider.
func (b *MeterBridge) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}
