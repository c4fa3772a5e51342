// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.flow")
	meter  = otel.Meter("aleutian.flow")
)

var (
	evalLatency     metric.Float64Histogram
	computeLatency  metric.Float64Histogram
	computeFailures metric.Int64Counter
	activeComputes  metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsOK   bool
)

// initMetrics lazily creates the instruments. Failures are logged once and
// leave metrics disabled.
func initMetrics(logger *slog.Logger) bool {
	metricsOnce.Do(func() {
		var initErrors []string
		var err error

		evalLatency, err = meter.Float64Histogram("flow_get_duration_seconds",
			metric.WithDescription("Duration of Get calls, including dependency evaluation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "get_latency: "+err.Error())
		}

		computeLatency, err = meter.Float64Histogram("flow_compute_duration_seconds",
			metric.WithDescription("Time spent in producing functions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "compute_latency: "+err.Error())
		}

		computeFailures, err = meter.Int64Counter("flow_compute_failure_total",
			metric.WithDescription("Number of failed producing function calls"),
		)
		if err != nil {
			initErrors = append(initErrors, "compute_failures: "+err.Error())
		}

		activeComputes, err = meter.Int64UpDownCounter("flow_active_computes",
			metric.WithDescription("Number of producing functions currently running"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_computes: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some flow metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
			return
		}
		metricsOK = true
	})
	return metricsOK
}

func recordGet(ctx context.Context, entityName string, d time.Duration, success bool) {
	if !metricsOK {
		return
	}
	evalLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("entity", entityName),
		attribute.Bool("success", success),
	))
}

func recordCompute(ctx context.Context, entityName string, d time.Duration, success bool) {
	if !metricsOK {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity", entityName))
	computeLatency.Record(ctx, d.Seconds(), attrs)
	if !success {
		computeFailures.Add(ctx, 1, attrs)
	}
}

func trackActive(ctx context.Context, delta int64) {
	if !metricsOK {
		return
	}
	activeComputes.Add(ctx, delta)
}
