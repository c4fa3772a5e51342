// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cache operations.
var (
	tracer = otel.Tracer("aleutian.flow.cache")
	meter  = otel.Meter("aleutian.flow.cache")
)

// Metrics for cache operations.
var (
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheEvictions   metric.Int64Counter
	cacheCorrupt     metric.Int64Counter
	cacheLoadLatency metric.Float64Histogram
	cacheSaveLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"flow_cache_hits_total",
			metric.WithDescription("Total number of cache hits by tier"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"flow_cache_misses_total",
			metric.WithDescription("Total number of cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"flow_cache_evictions_total",
			metric.WithDescription("Total number of memory tier evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheCorrupt, err = meter.Int64Counter(
			"flow_cache_corrupt_records_total",
			metric.WithDescription("Total number of corrupt persistent records discarded"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLoadLatency, err = meter.Float64Histogram(
			"flow_cache_load_duration_seconds",
			metric.WithDescription("Duration of persistent tier loads"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheSaveLatency, err = meter.Float64Histogram(
			"flow_cache_save_duration_seconds",
			metric.WithDescription("Duration of persistent tier saves"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context, tier string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func recordMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}

func recordCorrupt(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheCorrupt.Add(ctx, 1)
}

func recordLoadLatency(ctx context.Context, d time.Duration, found bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLoadLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("found", found)))
}

func recordSaveLatency(ctx context.Context, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheSaveLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// startCacheSpan creates a span for a persistent tier operation.
func startCacheSpan(ctx context.Context, operation string, e Entry) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store."+operation,
		trace.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("flow.entity", e.Entity),
			attribute.String("flow.case_key", string(e.Key)),
		),
	)
}
