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

// Package journal records incomplete tasks so that a restart can notify the
// originating chats. A row is appended when a non-owner task starts
// downloading (with the notifier enabled) and removed on any terminal
// transition.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fetchd/fetchd/store"
)

// a record identifying one incomplete task
type Record struct {
	// chat to re-notify after a restart
	ChatId int64 `json:"chat_id"`
	// permalink of the originating message
	Link string `json:"link"`
	// mention tag of the requesting user
	Tag string `json:"tag"`
	// time at which the download started
	StartedAt time.Time `json:"started_at"`
}

// Add journals the given record, keyed by the originating message link.
func Add(record Record) error {
	if !store.IsOpen() {
		return nil // persistence disabled; nothing to journal
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}
	return store.Put(store.TasksCollection, record.Link, record)
}

// Remove deletes the journal row for the given message link. Removing an
// absent row is a no-op, since every terminal transition calls Remove.
func Remove(link string) error {
	if !store.IsOpen() {
		return nil
	}
	return store.Delete(store.TasksCollection, link)
}

// All returns every journaled record.
func All() ([]Record, error) {
	if !store.IsOpen() {
		return nil, nil
	}
	var records []Record
	err := store.ForEach(store.TasksCollection, func(key string, data []byte) error {
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			slog.Error(fmt.Sprintf("Skipping malformed journal row %s: %s", key, err.Error()))
			return nil
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// Clear removes every journaled record, returning the records that were
// present. Called after restart notifications have been delivered.
func Clear() ([]Record, error) {
	records, err := All()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := store.Delete(store.TasksCollection, record.Link); err != nil {
			return records, err
		}
	}
	return records, nil
}
