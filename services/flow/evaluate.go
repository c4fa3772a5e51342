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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
)

// Get returns the single value of name.
//
// Description:
//
//	Resolves the instances of name, then evaluates the one instance,
//	computing only what is missing from the cache. Dependencies are
//	evaluated concurrently.
//
//	The returned value is the cached object itself. It is shared with
//	every other caller, every Flow on the same cache.Store, and the
//	producing functions that take it as an argument. Treat it as read-only
//	and copy it before mutating a slice, map or pointer.
//
// Outputs:
//
//	any - The value.
//	error - UnknownEntityError, MultipleValuesError when name has more than
//	        one instance, MissingValueError, *ComputeError when a producing
//	        function failed, or a storage/serialization error.
func (f *Flow) Get(ctx context.Context, name string) (any, error) {
	instances, err := f.resolver.Instances(name)
	if err != nil {
		return nil, err
	}
	if len(instances) != 1 {
		return nil, &MultipleValuesError{Entity: name, Multiplicity: len(instances)}
	}
	values, err := f.evaluate(ctx, name, instances)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// GetInto returns every value of name assembled into container.
// Values follow resolution order regardless of completion order. On
// failure no partial container is returned. The container is new but the
// values in it are shared cached objects, as with Get.
func (f *Flow) GetInto(ctx context.Context, name string, container Container) (any, error) {
	if container == nil {
		return nil, ErrNilContainer
	}
	instances, err := f.resolver.Instances(name)
	if err != nil {
		return nil, err
	}
	values, err := f.evaluate(ctx, name, instances)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(instances))
	for i, inst := range instances {
		items[i] = Item{Label: inst.Label(), Key: inst.Key, Value: values[i]}
	}
	return container.Assemble(name, items), nil
}

// GetList returns every value of name, in resolution order.
func (f *Flow) GetList(ctx context.Context, name string) ([]any, error) {
	out, err := f.GetInto(ctx, name, List)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// GetMap returns every value of name keyed by instance label.
func (f *Flow) GetMap(ctx context.Context, name string) (map[string]any, error) {
	out, err := f.GetInto(ctx, name, Map)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// GetAs returns the single value of name converted to T.
func GetAs[T any](ctx context.Context, f *Flow, name string) (T, error) {
	var zero T
	v, err := f.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("entity %q: expected %T, got %T", name, zero, v)
	}
	return typed, nil
}

// GetListAs returns every value of name converted to T.
func GetListAs[T any](ctx context.Context, f *Flow, name string) ([]T, error) {
	values, err := f.GetList(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(values))
	for i, v := range values {
		typed, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("entity %q value %d: expected %T, got %T", name, i, zero, v)
		}
		out[i] = typed
	}
	return out, nil
}

// ArgAs returns the named argument converted to T. Use it inside a Func.
func ArgAs[T any](args Args, name string) (T, error) {
	return entity.Arg[T](args, name)
}

// ColumnAs returns the named frame column with every value converted to T.
func ColumnAs[T any](f *Frame, name string) ([]T, error) {
	return entity.ColumnAs[T](f, name)
}

// evaluate computes instances concurrently and returns their values in order.
func (f *Flow) evaluate(ctx context.Context, name string, instances []*resolve.Instance) ([]any, error) {
	initMetrics(f.env.logger)

	ctx, span := tracer.Start(ctx, "flow.Get",
		trace.WithAttributes(
			attribute.String("flow.entity", name),
			attribute.Int("flow.multiplicity", len(instances)),
		),
	)
	defer span.End()

	start := time.Now()
	ev := &evaluation{
		flow:      f,
		sessionID: uuid.NewString()[:12],
		pending:   make(map[casekey.Key]*pending),
	}

	values := make([]any, len(instances))
	var g errgroup.Group
	for i, inst := range instances {
		g.Go(func() error {
			v, err := ev.value(ctx, inst)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	err := g.Wait()
	recordGet(ctx, name, time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		f.env.logger.Warn("evaluation failed",
			slog.String("entity", name),
			slog.String("session_id", ev.sessionID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	f.env.logger.Debug("evaluation completed",
		slog.String("entity", name),
		slog.String("session_id", ev.sessionID),
		slog.Int("instances", len(instances)),
		slog.Int64("computed", ev.computed.Load()),
		slog.Duration("duration", time.Since(start)),
	)
	return values, nil
}

// evaluation is the state of one Get call. It makes sure each instance is
// evaluated once per call, even when reached through several dependents.
type evaluation struct {
	flow      *Flow
	sessionID string

	mu       sync.Mutex
	pending  map[casekey.Key]*pending
	computed atomic.Int64
}

type pending struct {
	done  chan struct{}
	value any
	err   error
}

// value returns the value of inst, waiting if another goroutine of this
// evaluation is already producing it.
func (ev *evaluation) value(ctx context.Context, inst *resolve.Instance) (any, error) {
	if inst.Fixed {
		return inst.Value, nil
	}

	ev.mu.Lock()
	p, ok := ev.pending[inst.Key]
	if !ok {
		p = &pending{done: make(chan struct{})}
		ev.pending[inst.Key] = p
	}
	ev.mu.Unlock()

	if ok {
		select {
		case <-p.done:
			return p.value, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.value, p.err = ev.lookup(ctx, inst)
	close(p.done)
	return p.value, p.err
}

// lookup consults the store and computes inst on a miss.
func (ev *evaluation) lookup(ctx context.Context, inst *resolve.Instance) (any, error) {
	e := inst.Entity
	entry := cache.Entry{
		Key:       inst.Key,
		Entity:    e.Name(),
		Version:   e.Version(),
		Codec:     ev.flow.codecFor(e),
		Transient: e.Transient(),
	}

	v, source, err := ev.flow.env.store.GetOrCompute(ctx, entry, func(ctx context.Context) (any, error) {
		return ev.compute(ctx, inst)
	})
	if err != nil {
		return nil, err
	}

	ev.flow.env.logger.Debug("instance ready",
		slog.String("entity", e.Name()),
		slog.String("case_key", inst.Key.Short()),
		slog.String("source", source.String()),
		slog.String("session_id", ev.sessionID),
	)
	return v, nil
}

// compute evaluates the arguments of inst and runs its producing function
// under a worker slot.
func (ev *evaluation) compute(ctx context.Context, inst *resolve.Instance) (any, error) {
	args, err := ev.arguments(ctx, inst)
	if err != nil {
		return nil, err
	}

	e := inst.Entity
	if err := ev.flow.env.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer ev.flow.env.sem.Release(1)

	ctx, span := tracer.Start(ctx, "flow.Compute",
		trace.WithAttributes(
			attribute.String("flow.entity", e.Name()),
			attribute.String("flow.case_key", string(inst.Key)),
			attribute.String("flow.session_id", ev.sessionID),
		),
	)
	defer span.End()

	trackActive(ctx, 1)
	start := time.Now()
	v, err := call(ctx, e.Func(), args)
	trackActive(ctx, -1)
	recordCompute(ctx, e.Name(), time.Since(start), err == nil)
	ev.computed.Add(1)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "producing function failed")
		return nil, &ComputeError{Entity: e.Name(), CaseKey: inst.Key, Err: err}
	}
	return v, nil
}

// call runs fn, turning a panic into an error.
func call(ctx context.Context, fn entity.Func, args Args) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producing function panicked: %v", r)
		}
	}()
	return fn(ctx, args)
}

// arguments evaluates the dependencies of inst concurrently. For a gather
// instance the group's cells are evaluated too and passed as a *Frame.
//
// A failing dependency does not cancel its siblings; the first error is
// returned once all have finished.
func (ev *evaluation) arguments(ctx context.Context, inst *resolve.Instance) (Args, error) {
	var g errgroup.Group

	deps := make([]any, len(inst.Deps))
	for i, dep := range inst.Deps {
		g.Go(func() error {
			v, err := ev.value(ctx, dep)
			if err != nil {
				return err
			}
			deps[i] = v
			return nil
		})
	}

	var frame *Frame
	if inst.Group != nil {
		frame = &Frame{
			Columns: append([]string(nil), inst.Group.Columns...),
			Rows:    make([][]any, len(inst.Group.Members)),
		}
		for r, member := range inst.Group.Members {
			row := make([]any, len(member.Cells))
			frame.Rows[r] = row
			for c, cell := range member.Cells {
				g.Go(func() error {
					v, err := ev.value(ctx, cell)
					if err != nil {
						return err
					}
					row[c] = v
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e := inst.Entity
	args := make(Args, len(deps)+1)
	for i, name := range e.Dependencies() {
		args[name] = deps[i]
	}
	if frame != nil {
		args[e.Gather().Into] = frame
	}
	return args, nil
}
