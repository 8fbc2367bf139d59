package services

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the credential store using a BoltDB backend. Each browser client gets its own nested
// bucket, and the credential lives in it under a fixed key name, so absence of either is a normal state.
type BoltDB struct {
	db *bolt.DB
}

const (
	clientsBucket = "clients"

	// CredentialKey is the fixed name the credential is stored under.
	CredentialKey = "gemini-api-key"
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(clientsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Credential returns the credential stored for clientID, or an empty string if there is none.
func (b BoltDB) Credential(_ context.Context, clientID string) (string, error) {
	var key string
	err := b.db.View(func(tx *bolt.Tx) error {
		clients := tx.Bucket([]byte(clientsBucket))
		if clients == nil {
			return nil
		}
		cb := clients.Bucket([]byte(clientID))
		if cb == nil {
			return nil
		}
		key = string(cb.Get([]byte(CredentialKey)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return key, nil
}

// SaveCredential stores key for clientID, replacing any previous value.
func (b BoltDB) SaveCredential(_ context.Context, clientID, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		clients, err := tx.CreateBucketIfNotExists([]byte(clientsBucket))
		if err != nil {
			return fmt.Errorf("failed to create clients bucket: %w", err)
		}
		cb, err := clients.CreateBucketIfNotExists([]byte(clientID))
		if err != nil {
			return fmt.Errorf("failed to create client bucket: %w", err)
		}
		return cb.Put([]byte(CredentialKey), []byte(key))
	})
}

// DeleteCredential removes the credential of clientID. Deleting an absent credential is not an error.
func (b BoltDB) DeleteCredential(_ context.Context, clientID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		clients := tx.Bucket([]byte(clientsBucket))
		if clients == nil {
			return nil
		}
		cb := clients.Bucket([]byte(clientID))
		if cb == nil {
			return nil
		}
		return cb.Delete([]byte(CredentialKey))
	})
}

// Ping checks that the database is still open.
func (b BoltDB) Ping(context.Context) error {
	return b.db.View(func(*bolt.Tx) error { return nil })
}
