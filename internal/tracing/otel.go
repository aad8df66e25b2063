// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/tombee/hostkeeper/internal/supervisor"

// Config configures the tracer and meter providers.
type Config struct {
	Enabled        bool
	Exporter       string
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string

	// Registerer receives the phase duration histogram. Defaults to the
	// global Prometheus registerer.
	Registerer promclient.Registerer

	// Writer is the stdout exporter destination.
	Writer io.Writer
}

// Provider owns the OpenTelemetry providers for the life of the daemon.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	phases metric.Float64Histogram
}

// Init creates the providers described by cfg.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hostkeeperd"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = promclient.DefaultRegisterer
	}

	// Note: We don't set SchemaURL to avoid conflicts when merging with default resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	promExporter, err := prometheus.New(prometheus.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	phases, err := mp.Meter(instrumentationName).Float64Histogram(
		"hostkeeper.startup.phase.duration",
		metric.WithDescription("Duration of lifecycle startup phases"),
		metric.WithUnit("s"),
	)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create phase histogram: %w", err)
	}

	p := &Provider{
		mp:     mp,
		phases: phases,
		tracer: noop.NewTracerProvider().Tracer(instrumentationName),
	}

	if cfg.Enabled {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, err
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(p.tp)
		p.tracer = p.tp.Tracer(instrumentationName)
	}

	return p, nil
}

// Tracer returns the daemon tracer. It is a no-op tracer when tracing is
// disabled.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartPhase opens a span for a startup phase. The returned function ends
// the span, marks it failed when err is non-nil and records the phase
// duration.
func (p *Provider) StartPhase(ctx context.Context, phase string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "lifecycle."+phase,
		trace.WithAttributes(attribute.String("hostkeeper.phase", phase)))

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		p.phases.Record(context.Background(), time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("phase", phase),
				attribute.String("outcome", outcome),
			))
	}
}

// Shutdown flushes pending spans and releases both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
