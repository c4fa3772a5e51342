// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs implements the persistent cache tier on a Google Cloud
// Storage bucket, so several machines can share one cache.
//
// Layout: one object per case key at <prefix>/<key[0:2]>/<key>.rec. An
// object only becomes visible when its writer closes successfully; a failed
// upload is aborted by cancelling the writer's context.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

const recordExt = ".rec"

// Bucket is the subset of bucket operations the store needs.
type Bucket interface {
	// NewWriter returns a writer whose object appears when Close succeeds.
	// Cancelling ctx before Close aborts the upload.
	NewWriter(ctx context.Context, name string) io.WriteCloser

	// NewReader opens an object, returning cache.ErrNotFound if it is absent.
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// List calls fn with the name of every object under prefix.
	List(ctx context.Context, prefix string, fn func(name string) error) error
}

// Store is a bucket-backed cache.Persistent.
//
// Thread Safety:
//
//	Safe for concurrent use if the Bucket is.
type Store struct {
	bucket Bucket
	prefix string
	closer io.Closer
}

// New returns a Store writing under prefix in bucket.
func New(bucket Bucket, prefix string) *Store {
	return &Store{bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Open connects to bucketName with the given credentials file (empty for
// application default credentials) and returns a Store that owns the client.
func Open(ctx context.Context, bucketName, prefix, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	s := New(NewBucketHandle(client.Bucket(bucketName)), prefix)
	s.closer = client
	return s, nil
}

// ObjectName returns the object name for key.
func (s *Store) ObjectName(key casekey.Key) string {
	k := string(key)
	return path.Join(s.prefix, k[:2], k+recordExt)
}

func (s *Store) check(key casekey.Key) error {
	if !key.Valid() {
		return fmt.Errorf("invalid case key %q", key)
	}
	return nil
}

// Load implements cache.Persistent.
func (s *Store) Load(ctx context.Context, key casekey.Key) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, s.ObjectName(key))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("open object %s: %w", s.ObjectName(key), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", s.ObjectName(key), err)
	}
	return data, nil
}

// Save implements cache.Persistent.
func (s *Store) Save(ctx context.Context, key casekey.Key, data []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	name := s.ObjectName(key)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.NewWriter(wctx, name)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Delete implements cache.Persistent.
func (s *Store) Delete(ctx context.Context, key casekey.Key) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, s.ObjectName(key)); err != nil {
		return fmt.Errorf("delete object %s: %w", s.ObjectName(key), err)
	}
	return nil
}

// List implements cache.Persistent.
func (s *Store) List(ctx context.Context, fn func(key casekey.Key) error) error {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	return s.bucket.List(ctx, prefix, func(name string) error {
		base := path.Base(name)
		if !strings.HasSuffix(base, recordExt) {
			return nil
		}
		key := casekey.Key(strings.TrimSuffix(base, recordExt))
		if !key.Valid() {
			return nil
		}
		return fn(key)
	})
}

// Close implements cache.Persistent. It closes the client if Open created it.
func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// bucketHandle adapts *storage.BucketHandle to Bucket.
type bucketHandle struct {
	handle *storage.BucketHandle
}

// NewBucketHandle wraps a storage bucket handle.
func NewBucketHandle(h *storage.BucketHandle) Bucket {
	return &bucketHandle{handle: h}
}

func (b *bucketHandle) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := b.handle.Object(name).NewWriter(ctx)
	w.ContentType = "application/cbor"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

func (b *bucketHandle) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.handle.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, cache.ErrNotFound
	}
	return r, err
}

func (b *bucketHandle) Delete(ctx context.Context, name string) error {
	err := b.handle.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (b *bucketHandle) List(ctx context.Context, prefix string, fn func(name string) error) error {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list objects under %q: %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}
