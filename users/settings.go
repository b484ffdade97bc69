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

// Package users caches per-user settings and writes every change through to
// the document store.
package users

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/fetchd/fetchd/store"
)

// the closed set of recognized per-user settings
type Settings struct {
	ThumbnailPath   string            `json:"thumbnail_path,omitempty"`
	SplitSize       int64             `json:"split_size,omitempty"`
	LeechPrefix     string            `json:"leech_prefix,omitempty"`
	LeechSuffix     string            `json:"leech_suffix,omitempty"`
	LeechCaption    string            `json:"leech_caption,omitempty"`
	RcloneConfig    string            `json:"rclone_config,omitempty"`
	TokenPath       string            `json:"token_path,omitempty"`
	GDriveId        string            `json:"gdrive_id,omitempty"`
	GofileToken     string            `json:"gofile_token,omitempty"`
	AutoRenameName  bool              `json:"auto_rename_name,omitempty"`
	AutoRenameBatch bool              `json:"auto_rename_batch,omitempty"`
	NameTemplate    string            `json:"name_template,omitempty"`
	FFmpegPresets   map[string]string `json:"ffmpeg_presets,omitempty"`
	Excluded        []string          `json:"excluded_extensions,omitempty"`
	Included        []string          `json:"included_extensions,omitempty"`
	AsDocument      bool              `json:"as_document,omitempty"`
	UserTransmit    bool              `json:"user_transmission,omitempty"`
}

// an unrecognized settings key
type UnknownKeyError struct {
	Key string
}

func (e UnknownKeyError) Error() string {
	return fmt.Sprintf("Unrecognized user setting: %s", e.Key)
}

var cache = struct {
	mutex sync.Mutex
	users map[int64]Settings
}{users: make(map[int64]Settings)}

// Get returns the settings for the given user, loading them from the store
// on first access.
func Get(userId int64) Settings {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if settings, found := cache.users[userId]; found {
		return settings
	}
	var settings Settings
	err := store.Get(store.UsersCollection, strconv.FormatInt(userId, 10), &settings)
	var notFound *store.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		// a closed store just yields defaults
		settings = Settings{}
	}
	cache.users[userId] = settings
	return settings
}

// Update applies fn to the user's settings and writes the result through to
// the store.
func Update(userId int64, fn func(*Settings)) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	settings := cache.users[userId]
	fn(&settings)
	cache.users[userId] = settings
	if !store.IsOpen() {
		return nil
	}
	return store.Put(store.UsersCollection, strconv.FormatInt(userId, 10), settings)
}

var recognizedKeys = map[string]struct{}{
	"thumbnail": {}, "split_size": {}, "leech_prefix": {}, "leech_suffix": {},
	"leech_caption": {}, "rclone_config": {}, "token_path": {}, "gdrive_id": {},
	"gofile_token": {}, "name_template": {},
}

// Set assigns one recognized key by name. Used by the settings command
// surface, which works with textual key/value pairs.
func Set(userId int64, key, value string) error {
	if _, found := recognizedKeys[key]; !found {
		return UnknownKeyError{Key: key}
	}
	return Update(userId, func(s *Settings) {
		switch key {
		case "thumbnail":
			s.ThumbnailPath = value
		case "split_size":
			s.SplitSize, _ = strconv.ParseInt(value, 10, 64)
		case "leech_prefix":
			s.LeechPrefix = value
		case "leech_suffix":
			s.LeechSuffix = value
		case "leech_caption":
			s.LeechCaption = value
		case "rclone_config":
			s.RcloneConfig = value
		case "token_path":
			s.TokenPath = value
		case "gdrive_id":
			s.GDriveId = value
		case "gofile_token":
			s.GofileToken = value
		case "name_template":
			s.NameTemplate = value
		}
	})
}

// Forget evicts a user from the cache. Used by tests and by settings reset.
func Forget(userId int64) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	delete(cache.users, userId)
}
