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

// These tests must be run serially, since the store is a process-wide
// singleton.

package store

import (
	"path/filepath"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	bolt "go.etcd.io/bbolt"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestStore(t *testing.T, credentialsKey string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchd.db")
	assert.Nil(t, Open(path, credentialsKey))
	t.Cleanup(func() { Close() })
}

// tests a put/get/delete round trip through a collection
func TestPutGetDelete(t *testing.T) {
	openTestStore(t, "")

	in := testDoc{Name: "example", Count: 3}
	assert.Nil(t, Put(UsersCollection, "u1", in))

	var out testDoc
	assert.Nil(t, Get(UsersCollection, "u1", &out))
	assert.Equal(t, in, out)

	assert.Nil(t, Delete(UsersCollection, "u1"))
	err := Get(UsersCollection, "u1", &out)
	assert.IsType(t, &NotFoundError{}, err)

	// deleting again is a no-op
	assert.Nil(t, Delete(UsersCollection, "u1"))
}

// tests that ForEach visits every document in a collection
func TestForEach(t *testing.T) {
	openTestStore(t, "")

	assert.Nil(t, Put(RssCollection, "a", testDoc{Name: "a"}))
	assert.Nil(t, Put(RssCollection, "b", testDoc{Name: "b"}))

	seen := make(map[string]bool)
	err := ForEach(RssCollection, func(key string, data []byte) error {
		seen[key] = true
		return nil
	})
	assert.Nil(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

// tests that credential blobs survive an encrypt/decrypt round trip and are
// not stored in the clear
func TestFileBlobEncryption(t *testing.T) {
	var key fernet.Key
	assert.Nil(t, key.Generate())
	openTestStore(t, key.Encode())

	blob := []byte("[remote]\ntype = drive\ntoken = secret\n")
	assert.Nil(t, PutFile("bot-token", "rclone/5.conf", blob))

	got, err := GetFile("bot-token", "rclone/5.conf")
	assert.Nil(t, err)
	assert.Equal(t, blob, got)

	// the raw stored bytes must differ from the plaintext
	var raw []byte
	store_.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(FilesCollection)).Get(fileKey("bot-token", "rclone/5.conf"))
		raw = append(raw, value...)
		return nil
	})
	assert.NotEqual(t, blob, raw)
}

// tests that operations fail cleanly when the store is closed
func TestNotOpen(t *testing.T) {
	assert.Nil(t, Close())
	err := Put(ConfigCollection, "k", testDoc{})
	assert.IsType(t, &NotOpenError{}, err)
	var out testDoc
	err = Get(ConfigCollection, "k", &out)
	assert.IsType(t, &NotOpenError{}, err)
}
