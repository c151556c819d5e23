package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/railconnect/authcore/internal/config"
	otelexport "github.com/railconnect/authcore/metrics/export/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/railconnect/authcore"

// startOTel installs a global MeterProvider that pushes engine metrics to
// out every cfg.OTelInterval. The returned func exports a final batch and
// shuts the provider down.
func startOTel(cfg config.Config, out io.Writer, source otelexport.Source) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "authd"))),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTelInterval))),
	)
	otel.SetMeterProvider(provider)

	exp, err := otelexport.New(provider.Meter(meterName), source)
	if err != nil {
		return nil, errors.Join(err, provider.Shutdown(context.Background()))
	}

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		return errors.Join(err, exp.Close())
	}, nil
}

// otelOutput opens cfg.OTelOutput for appending, or returns fallback when
// it is empty. The close func is never nil.
func otelOutput(cfg config.Config, fallback io.Writer) (io.Writer, func() error, error) {
	if cfg.OTelOutput == "" {
		return fallback, func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.OTelOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open otel output: %w", err)
	}
	return f, f.Close, nil
}
