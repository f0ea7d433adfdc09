// Package blobstore keeps CAP resource content in a bbolt file, keyed by
// SHA-1 digest.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("blob not found")

	contentBucket = []byte("content")
	mimeBucket    = []byte("mime")
)

const uriScheme = "blob:"

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening blob store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{contentBucket, mimeBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating blob buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores content under digest. Identical content is stored once.
func (s *Store) Put(ctx context.Context, digest, mimeType string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(digest)
		if tx.Bucket(contentBucket).Get(key) != nil {
			return nil
		}
		if err := tx.Bucket(contentBucket).Put(key, content); err != nil {
			return err
		}
		return tx.Bucket(mimeBucket).Put(key, []byte(mimeType))
	})
	if err != nil {
		return "", fmt.Errorf("error storing blob %s: %w", digest, err)
	}
	return uriScheme + digest, nil
}

// Get returns the content and MIME type stored for a blob: URI or bare digest.
func (s *Store) Get(uriOrDigest string) ([]byte, string, error) {
	key := []byte(trimScheme(uriOrDigest))
	var (
		content  []byte
		mimeType string
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		content = append([]byte(nil), v...)
		mimeType = string(tx.Bucket(mimeBucket).Get(key))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return content, mimeType, nil
}

func trimScheme(s string) string {
	if len(s) > len(uriScheme) && s[:len(uriScheme)] == uriScheme {
		return s[len(uriScheme):]
	}
	return s
}
