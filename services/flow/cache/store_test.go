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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

func testEntry(name string) Entry {
	return Entry{
		Key:     casekey.Derive(name, "1"),
		Entity:  name,
		Version: "1",
		Codec:   serial.JSON[int](),
	}
}

type failingPersistent struct {
	*MapPersistent
	saveErr error
	loadErr error
}

func (f *failingPersistent) Save(ctx context.Context, key casekey.Key, data []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MapPersistent.Save(ctx, key, data)
}

func (f *failingPersistent) Load(ctx context.Context, key casekey.Key) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.MapPersistent.Load(ctx, key)
}

func TestStore_PutGetMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := testEntry("a")

	_, ok, err := s.Get(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, e, 42))
	v, ok, err := s.Get(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.MemoryEntries)
}

func TestStore_PersistentPromotion(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	e := testEntry("a")

	first := NewStore(p)
	require.NoError(t, first.Put(ctx, e, 7))
	assert.Equal(t, 1, p.Len())

	// A fresh store over the same tier sees the value.
	second := NewStore(p)
	assert.False(t, second.Contains(e.Key))
	v, ok, err := second.Get(ctx, e)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.True(t, second.Contains(e.Key), "persistent hit is promoted")
	assert.Equal(t, int64(1), second.Stats().PersistentHits)
}

func TestStore_TransientAndCodeclessSkipPersistent(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	s := NewStore(p)

	transient := testEntry("t")
	transient.Transient = true
	require.NoError(t, s.Put(ctx, transient, 1))

	codecless := testEntry("n")
	codecless.Codec = nil
	require.NoError(t, s.Put(ctx, codecless, 2))

	assert.Equal(t, 0, p.Len())
	assert.True(t, s.Contains(transient.Key))
	assert.True(t, s.Contains(codecless.Key))
}

func TestStore_GetOrCompute_Once(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMapPersistent())
	e := testEntry("b")

	var calls int32
	compute := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return 2, nil
	}

	v, src, err := s.GetOrCompute(ctx, e, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, SourceComputed, src)

	v, src, err = s.GetOrCompute(ctx, e, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, SourceMemory, src)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStore_GetOrCompute_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := testEntry("slow")

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 99, nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.GetOrCompute(ctx, e, compute)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 99, results[i])
	}
}

func TestStore_GetOrCompute_CancelledCallerDoesNotFailOthers(t *testing.T) {
	s := NewMemoryStore()
	e := testEntry("shared")

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return 99, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := s.GetOrCompute(leaderCtx, e, compute)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		v   any
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		v, _, err := s.GetOrCompute(context.Background(), e, compute)
		follower <- outcome{v: v, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, 99, got.v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Eventually(t, func() bool { return s.Contains(e.Key) }, time.Second, 10*time.Millisecond)
}

func TestStore_GetOrCompute_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	s := NewStore(p)
	e := testEntry("flaky")

	boom := errors.New("boom")
	_, _, err := s.GetOrCompute(ctx, e, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, s.Contains(e.Key))
	assert.Equal(t, 0, p.Len())

	v, src, err := s.GetOrCompute(ctx, e, func(context.Context) (any, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, SourceComputed, src)
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestStore_CorruptRecordIsMiss(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	e := testEntry("c")
	require.NoError(t, NewStore(p).Put(ctx, e, 3))

	data, err := p.Load(ctx, e.Key)
	require.NoError(t, err)
	p.Corrupt(e.Key, data[:len(data)/2])

	s := NewStore(p)
	_, ok, err := s.Get(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.Stats().CorruptRecords)
	assert.Equal(t, 0, p.Len(), "corrupt record is deleted")

	v, src, err := s.GetOrCompute(ctx, e, func(context.Context) (any, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, SourceComputed, src)
}

func TestStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	e := testEntry("c")

	rec := NewRecord(e, []byte("3"), time.Now())
	rec.Payload = []byte("4")
	data, err := rec.Marshal()
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, e.Key, data))

	_, ok, err := NewStore(p).Get(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_EncodeFailureNotCached(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMapPersistent())
	e := testEntry("typed")

	_, _, err := s.GetOrCompute(ctx, e, func(context.Context) (any, error) { return "not an int", nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, serial.ErrSerialization))
	assert.True(t, errors.Is(err, serial.ErrTypeMismatch))
	assert.False(t, s.Contains(e.Key))
}

func TestStore_SaveFailure(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")
	s := NewStore(&failingPersistent{MapPersistent: NewMapPersistent(), saveErr: diskFull})
	e := testEntry("x")

	_, _, err := s.GetOrCompute(ctx, e, func(context.Context) (any, error) { return 1, nil })
	require.ErrorIs(t, err, diskFull)
	assert.False(t, s.Contains(e.Key))
}

func TestStore_LoadFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	ioErr := errors.New("io")
	s := NewStore(&failingPersistent{MapPersistent: NewMapPersistent(), loadErr: ioErr})

	_, _, err := s.Get(ctx, testEntry("x"))
	assert.ErrorIs(t, err, ioErr)
}

func TestStore_CodecChangeIsMiss(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	e := testEntry("v")
	require.NoError(t, NewStore(p).Put(ctx, e, 10))

	e.Codec = serial.CBOR[int]()
	_, ok, err := NewStore(p).Get(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxEntries(2))
	a, b, c := testEntry("a"), testEntry("b"), testEntry("c")

	require.NoError(t, s.Put(ctx, a, 1))
	require.NoError(t, s.Put(ctx, b, 2))
	_, _, _ = s.Get(ctx, a) // a is now most recent
	require.NoError(t, s.Put(ctx, c, 3))

	assert.True(t, s.Contains(a.Key))
	assert.False(t, s.Contains(b.Key))
	assert.True(t, s.Contains(c.Key))
	assert.Equal(t, int64(1), s.Stats().Evictions)
	assert.Equal(t, 2, s.Stats().MaxEntries)
}

func TestStore_PurgeAndClose(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	s := NewStore(p)
	e := testEntry("p")
	require.NoError(t, s.Put(ctx, e, 1))

	require.NoError(t, s.Purge(ctx, e.Key))
	assert.False(t, s.Contains(e.Key))
	assert.Equal(t, 0, p.Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err := s.Get(ctx, e)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_Maintenance(t *testing.T) {
	ctx := context.Background()
	p := NewMapPersistent()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(p, WithClock(func() time.Time { return fixed }))

	a, b := testEntry("a"), testEntry("b")
	require.NoError(t, s.Put(ctx, a, 1))
	require.NoError(t, s.Put(ctx, b, 2))

	rec, err := s.Inspect(ctx, a.Key)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Entity)
	assert.Equal(t, "json", rec.Codec)
	assert.Equal(t, "1", rec.Version)
	assert.True(t, fixed.Equal(rec.Created()))
	assert.Equal(t, []byte("1"), rec.Payload)

	junk := testEntry("junk")
	junkData, err := NewRecord(junk, []byte("0"), fixed).Marshal()
	require.NoError(t, err)
	p.Corrupt(junk.Key, junkData[:len(junkData)-3])

	var seen, corrupt int
	require.NoError(t, s.Records(ctx, func(_ casekey.Key, r *Record, err error) error {
		if err != nil {
			corrupt++
			return nil
		}
		seen++
		return nil
	}))
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, corrupt)

	n, err := s.PruneEntity(ctx, "a", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, p.Len())

	_, err = NewMemoryStore().Inspect(ctx, a.Key)
	assert.ErrorIs(t, err, ErrNoPersistentTier)
}

func TestUnmarshalRecord_WrongKey(t *testing.T) {
	e := testEntry("a")
	data, err := NewRecord(e, []byte("1"), time.Now()).Marshal()
	require.NoError(t, err)

	_, err = UnmarshalRecord(casekey.Derive("other", ""), data)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	rec, err := UnmarshalRecord(e.Key, data)
	require.NoError(t, err)
	assert.Equal(t, RecordFormat, rec.Format)
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "computed", SourceComputed.String())
	assert.Equal(t, "memory", SourceMemory.String())
	assert.Equal(t, "persistent", SourcePersistent.String())
	assert.Equal(t, "shared", SourceShared.String())
}
