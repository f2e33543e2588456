package resume

import (
	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket ResumeStore's bbolt backend uses to store
// RetryState blobs and the active-uploads index.
var boltBucket = []byte("resume_state")

// BoltKV is a KVStore backed by go.etcd.io/bbolt: Set and Remove write via
// db.Batch, Get and Keys read via db.View, and Clear uses db.Update.
type BoltKV struct {
	db *bolt.DB
}

// OpenBoltKV opens (creating if necessary) a bbolt database at path and
// returns a KVStore backed by it.
func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (b *BoltKV) Close() error {
	return b.db.Close()
}

// Get implements KVStore.
func (b *BoltKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, found, err
}

// Set implements KVStore, persisting via db.Batch so concurrent saves
// coalesce into fewer fsyncs.
func (b *BoltKV) Set(key string, value []byte) error {
	return b.db.Batch(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
}

// Remove implements KVStore.
func (b *BoltKV) Remove(key string) error {
	return b.db.Batch(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Keys implements KVStore.
func (b *BoltKV) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Clear implements KVStore by dropping and recreating the bucket.
func (b *BoltKV) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
}
