// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter kinds.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Options selects the exporter.
type Options struct {
	// ServiceName is recorded as service.name.
	ServiceName string

	// Exporter is none, stdout or otlp. Empty resolves from the environment:
	// otlp when OTEL_EXPORTER_OTLP_ENDPOINT is set, stdout when
	// LROT_TRACE_STDOUT is true, otherwise none.
	Exporter string

	// Insecure disables TLS to the OTLP collector. Env: LROT_OTEL_INSECURE.
	Insecure bool

	// Writer receives stdout spans. Default os.Stdout.
	Writer io.Writer
}

// OptionsFromEnv resolves Options from the environment.
func OptionsFromEnv(serviceName string) Options {
	opts := Options{ServiceName: serviceName, Exporter: ExporterNone}
	if strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")) != "" {
		opts.Exporter = ExporterOTLP
	} else if v, _ := strconv.ParseBool(os.Getenv("LROT_TRACE_STDOUT")); v {
		opts.Exporter = ExporterStdout
	}
	opts.Insecure, _ = strconv.ParseBool(os.Getenv("LROT_OTEL_INSECURE"))
	return opts
}

// Setup installs a tracer provider and the W3C propagators.
//
// Outputs:
//
//	func(context.Context) error - Flushes and shuts the provider down.
//	error - Non-nil if the exporter cannot be created.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if opts.Exporter == "" {
		opts.Exporter = OptionsFromEnv(opts.ServiceName).Exporter
	}

	var exp sdktrace.SpanExporter
	var err error
	switch opts.Exporter {
	case ExporterNone:
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		var grpcOpts []otlptracegrpc.Option
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating %s exporter: %w", opts.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing enabled",
		slog.String("exporter", opts.Exporter),
		slog.String("service", opts.ServiceName),
	)
	return tp.Shutdown, nil
}
