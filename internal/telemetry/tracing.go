/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the portal service.
//
// Custom span attributes use the `bnr.` prefix. Secrets and challenge answers
// are never attached to spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "bnr.ro/portal"
	serviceName = "bnr-portal"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartLoginSpan creates the span covering one login attempt.
func StartLoginSpan(ctx context.Context, username, institution string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.login",
		trace.WithAttributes(
			attribute.String("bnr.username", username),
			attribute.String("bnr.institution", institution),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndLoginSpan records the outcome and the failed-attempt counter, then ends the span.
func EndLoginSpan(span trace.Span, outcome string, failedAttempts int, err error) {
	span.SetAttributes(
		attribute.String("bnr.login.outcome", outcome),
		attribute.Int("bnr.login.failed_attempts", failedAttempts),
	)
	endWithError(span, err)
}

// StartSessionEndSpan creates a span for a logout or forced expiry.
func StartSessionEndSpan(ctx context.Context, username, reason string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.end",
		trace.WithAttributes(
			attribute.String("bnr.username", username),
			attribute.String("bnr.session.end_reason", reason),
		),
	)
}

// StartSecretSpan creates a span for a password change or reset.
func StartSecretSpan(ctx context.Context, operation, actor, target string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "identity.password_"+operation,
		trace.WithAttributes(
			attribute.String("bnr.actor", actor),
			attribute.String("bnr.target", target),
		),
	)
}

// EndSpan ends span, marking it as failed when err is non-nil.
func EndSpan(span trace.Span, err error) {
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
