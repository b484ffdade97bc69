// Copyright (c) 2024 The Fetchd Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package store is the persistence adapter: a key-document store with
// collections for the bot config, per-user settings, RSS feeds, the
// incomplete-task journal, and user-uploaded credential files. Credential
// blobs are encrypted at rest with the configured fernet key.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fernet/fernet-go"
	bolt "go.etcd.io/bbolt"
)

// collection names
const (
	ConfigCollection = "config"
	UsersCollection  = "users"
	RssCollection    = "rss"
	TasksCollection  = "tasks"
	FilesCollection  = "files"
)

var allCollections = []string{
	ConfigCollection, UsersCollection, RssCollection, TasksCollection,
	FilesCollection,
}

// this type wraps the underlying bbolt database
type documentStore struct {
	db  *bolt.DB
	key *fernet.Key // nil when no CREDENTIALS_KEY is configured
}

// singleton store instance (nil until Open succeeds)
var store_ *documentStore

// Open opens (creating if needed) the document store at the given path. The
// credentialsKey, if non-empty, must be a base64-encoded 32-byte fernet key
// used to encrypt documents in the files collection.
func Open(path, credentialsKey string) error {
	if store_ != nil {
		return nil
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allCollections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	var key *fernet.Key
	if credentialsKey != "" {
		key, err = fernet.DecodeKey(credentialsKey)
		if err != nil {
			db.Close()
			return &BadCredentialsKeyError{Reason: err.Error()}
		}
	}

	store_ = &documentStore{db: db, key: key}
	slog.Info(fmt.Sprintf("Opened document store at %s", path))
	return nil
}

// Close closes the store. Safe to call when the store was never opened.
func Close() error {
	if store_ == nil {
		return nil
	}
	err := store_.db.Close()
	store_ = nil
	return err
}

// IsOpen reports whether the store is available.
func IsOpen() bool {
	return store_ != nil
}

// Put writes the JSON encoding of doc under key in the given collection.
func Put(collection, key string, doc any) error {
	if store_ == nil {
		return &NotOpenError{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return store_.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collection)).Put([]byte(key), data)
	})
}

// Get reads the document under key in the given collection into doc.
func Get(collection, key string, doc any) error {
	if store_ == nil {
		return &NotOpenError{}
	}
	var data []byte
	err := store_.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(collection)).Get([]byte(key))
		if value == nil {
			return &NotFoundError{Collection: collection, Key: key}
		}
		data = append(data, value...)
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, doc)
}

// Delete removes the document under key. Deleting an absent key is a no-op.
func Delete(collection, key string) error {
	if store_ == nil {
		return &NotOpenError{}
	}
	return store_.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collection)).Delete([]byte(key))
	})
}

// ForEach calls fn for every document in the given collection. Returning a
// non-nil error from fn stops the scan.
func ForEach(collection string, fn func(key string, data []byte) error) error {
	if store_ == nil {
		return &NotOpenError{}
	}
	return store_.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collection)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// PutFile stores an opaque credential blob keyed by (bot token, path),
// encrypting it when a credentials key is configured.
func PutFile(botToken, path string, blob []byte) error {
	if store_ == nil {
		return &NotOpenError{}
	}
	if store_.key != nil {
		token, err := fernet.EncryptAndSign(blob, store_.key)
		if err != nil {
			return err
		}
		blob = token
	}
	return store_.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(FilesCollection)).Put(fileKey(botToken, path), blob)
	})
}

// GetFile retrieves (and decrypts, if applicable) a stored credential blob.
func GetFile(botToken, path string) ([]byte, error) {
	if store_ == nil {
		return nil, &NotOpenError{}
	}
	var blob []byte
	err := store_.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(FilesCollection)).Get(fileKey(botToken, path))
		if value == nil {
			return &NotFoundError{Collection: FilesCollection, Key: path}
		}
		blob = append(blob, value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if store_.key != nil {
		// stored tokens never expire; the TTL only guards against clock skew
		plain := fernet.VerifyAndDecrypt(blob, 0, []*fernet.Key{store_.key})
		if plain == nil {
			return nil, &BadCredentialsKeyError{Reason: "stored blob failed verification"}
		}
		blob = plain
	}
	return blob, nil
}

func fileKey(botToken, path string) []byte {
	return []byte(botToken + "\x00" + path)
}
