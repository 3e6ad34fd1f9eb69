// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/consolidator/datastore"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// RecordNamespace is the store namespace of the persisted job record.
	RecordNamespace = "consolidator"

	// RecordKey is the key of the persisted job record.
	RecordKey = "consolidate-below"
)

// JobStore reads and writes the persisted consolidate-below record.
type JobStore struct {
	store Store
}

// NewJobStore creates a JobStore on top of store.
func NewJobStore(store Store) *JobStore {
	return &JobStore{store: store}
}

// Save creates or replaces the record with req.
func (s *JobStore) Save(ctx context.Context, req Request) error {
	b, err := encodeRecord(req)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, RecordNamespace, RecordKey, b)
}

// Load returns the persisted request, or None when there is no record. A
// malformed record yields an error wrapping ErrInvalidRequest.
func (s *JobStore) Load(ctx context.Context) (fn.Option[Request], error) {
	b, err := s.store.Get(ctx, RecordNamespace, RecordKey)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return fn.None[Request](), nil

	case err != nil:
		return fn.None[Request](), fmt.Errorf("unable to read %s/%s: %w",
			RecordNamespace, RecordKey, err)
	}

	req, err := decodeRecord(b)
	if err != nil {
		return fn.None[Request](), err
	}

	return fn.Some(req), nil
}

// Clear removes the record. Clearing an absent record succeeds.
func (s *JobStore) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, RecordNamespace, RecordKey)
}
