// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"

	// Register the bbolt backed walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

const kvdbDriver = "bdb"

// rootBucketKey is the top-level bucket holding one nested bucket per
// namespace.
var rootBucketKey = []byte("datastore")

// KVStore is a Store on top of a walletdb database.
type KVStore struct {
	db walletdb.DB
}

// A compile time check to ensure KVStore implements Store.
var _ Store = (*KVStore)(nil)

// OpenKVStore opens the bbolt file at dbPath, creating it if it does not
// exist.
func OpenKVStore(dbPath string, timeout time.Duration) (*KVStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	db, err := walletdb.Open(kvdbDriver, dbPath, true, timeout, false)
	if errors.Is(err, walletdb.ErrDbDoesNotExist) {
		log.Infof("Creating datastore %s", dbPath)
		db, err = walletdb.Create(kvdbDriver, dbPath, true, timeout,
			false)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open bdb datastore: %w", err)
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(rootBucketKey)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewKVStore(db), nil
}

// NewKVStore wraps an already open database. The root bucket must exist.
func NewKVStore(db walletdb.DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value of key in namespace.
func (s *KVStore) Get(ctx context.Context, namespace, key string) ([]byte,
	error) {

	if err := checkKey(namespace, key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		root := tx.ReadBucket(rootBucketKey)
		if root == nil {
			return ErrNotFound
		}
		ns := root.NestedReadBucket([]byte(namespace))
		if ns == nil {
			return ErrNotFound
		}

		v := ns.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}

		// The slice is only valid for the life of the transaction.
		value = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put creates or replaces the value of key in namespace.
func (s *KVStore) Put(ctx context.Context, namespace, key string,
	value []byte) error {

	if err := checkKey(namespace, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		root, err := tx.CreateTopLevelBucket(rootBucketKey)
		if err != nil {
			return err
		}
		ns, err := root.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}

		return ns.Put([]byte(key), value)
	})
}

// Delete removes key from namespace.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	if err := checkKey(namespace, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		root := tx.ReadWriteBucket(rootBucketKey)
		if root == nil {
			return nil
		}
		ns := root.NestedReadWriteBucket([]byte(namespace))
		if ns == nil {
			return nil
		}

		return ns.Delete([]byte(key))
	})
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}
