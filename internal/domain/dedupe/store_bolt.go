package dedupe

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var allBuckets = [][]byte{bucketOrder, bucketPhone, bucketName}

// BoltGuard is the production Duplicate Guard backend: one bbolt bucket per
// key family (order/phone/name), each entry a zero-length value — presence
// of the key is the whole signal.
type BoltGuard struct {
	db *bolt.DB
}

// NewBoltGuard opens (or creates) the bbolt file at path and ensures every
// key-family bucket exists.
func NewBoltGuard(path string) (*BoltGuard, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dedupe bbolt file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltGuard{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (g *BoltGuard) Close() error {
	return g.db.Close()
}

func (g *BoltGuard) Check(_ context.Context, orderID, phone, name, msgType string) (bool, error) {
	found := false
	err := g.db.View(func(tx *bolt.Tx) error {
		for _, k := range keys(orderID, phone, name, msgType) {
			if tx.Bucket(k.bucket).Get([]byte(k.value)) != nil {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (g *BoltGuard) Mark(_ context.Context, orderID, phone, name, msgType string) error {
	return g.db.Update(func(tx *bolt.Tx) error {
		for _, k := range keys(orderID, phone, name, msgType) {
			if err := tx.Bucket(k.bucket).Put([]byte(k.value), []byte{}); err != nil {
				return fmt.Errorf("put %s: %w", k.value, err)
			}
		}
		return nil
	})
}

func (g *BoltGuard) Clear(_ context.Context, orderID, phone, name, msgType string) error {
	return g.db.Update(func(tx *bolt.Tx) error {
		for _, k := range keys(orderID, phone, name, msgType) {
			if err := tx.Bucket(k.bucket).Delete([]byte(k.value)); err != nil {
				return fmt.Errorf("delete %s: %w", k.value, err)
			}
		}
		return nil
	})
}
