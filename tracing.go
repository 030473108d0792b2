// Copyright 2025 Blink Labs Software
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

package walkrbot

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/walkrbot/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const tracerName = "github.com/blinklabs-io/walkrbot"

func (b *Bot) setupTracing() error {
	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	if b.config.tracingStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		var opts []otlptracehttp.Option
		if b.config.tracingEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(b.config.tracingEndpoint))
		}
		if b.config.tracingInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName("walkrbot"),
			semconv.ServiceVersion(version.GetVersionString()),
		),
	)
	if err != nil {
		return fmt.Errorf("creating trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(
			sdktrace.ParentBased(
				sdktrace.TraceIDRatioBased(b.config.tracingRatio),
			),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	b.shutdownFuncs = append(b.shutdownFuncs, tp.Shutdown)
	return nil
}
