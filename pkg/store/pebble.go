package store

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"commhub/pkg/logger"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq reduces key collisions when multiple records share the same
// nanosecond timestamp.
var seq uint64

// Key layout:
//
//	thread:<threadID>:meta                     thread metadata JSON
//	thread:<threadID>:msg:<padded-ts>-<seq>    message JSON, thread order
//	msgid:<messageID>                          primary key of the message
//	version:msg:<messageID>:<padded-ts>-<seq>  historical message versions
//	notif:<userID>:<padded-ts>-<seq>           notification JSON, per-user order
//	notifid:<notificationID>                   primary key of the notification

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

var errNotOpen = fmt.Errorf("pebble not opened; call store.Open first")

// orderedSuffix returns a sortable "<padded-ts>-<seq>" fragment for ts.
func orderedSuffix(ts int64) string {
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// nowNS is the single clock for record timestamps.
func nowNS() int64 { return time.Now().UTC().UnixNano() }

// getRaw returns the value at key, copied out of pebble's buffer.
func getRaw(key []byte) ([]byte, error) {
	v, closer, err := db.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// scanPrefix iterates all values under prefix in key order, calling fn
// with a copy of each value. fn returning false stops the scan.
func scanPrefix(prefix []byte, fn func(key, val []byte) bool) error {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

// ListKeys returns all keys that start with the given prefix. An empty
// prefix returns every key; used by the inspect tool.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, errNotOpen
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(iter.Key()))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for the given key; used by the inspect tool.
func GetKey(key string) (string, error) {
	if db == nil {
		return "", errNotOpen
	}
	v, err := getRaw([]byte(key))
	if err != nil {
		return "", err
	}
	return string(v), nil
}
