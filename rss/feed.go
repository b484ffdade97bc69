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

// Package rss maintains per-user feed subscriptions and a monitor that
// polls those feeds on a fixed interval, turning new items into chat
// commands or notifications. Subscriptions are written through to the rss
// collection of the document store on every change, so they survive
// restarts.
package rss

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/fetchd/fetchd/store"
)

// Filter decides which items of a feed are delivered and how.
type Filter struct {
	// regular expressions that a title must all match (empty = match any)
	Include []string `json:"include,omitempty"`
	// regular expressions that disqualify a title
	Exclude []string `json:"exclude,omitempty"`
	// command template expanded per item; {link} and {title} are
	// substituted, and a bare template gets the link appended
	Command string `json:"command,omitempty"`
	// when false, patterns match case-insensitively
	Sensitive bool `json:"sensitive,omitempty"`
}

// Feed is one subscription: a feed URL plus the high-water mark of the
// last item its owner has been told about.
type Feed struct {
	Owner     int64             `json:"owner"`
	Title     string            `json:"title"`
	Link      string            `json:"link"`
	Headers   map[string]string `json:"headers,omitempty"`
	LastLink  string            `json:"last_link,omitempty"`
	LastTitle string            `json:"last_title,omitempty"`
	Paused    bool              `json:"paused,omitempty"`
	Filter    Filter            `json:"filter"`
	// mention tag of the subscribing user, echoed in deliveries
	Tag string `json:"tag,omitempty"`
}

// the in-memory feed table; the store is the durable copy
var table = struct {
	mutex sync.Mutex
	feeds map[string]Feed
}{feeds: make(map[string]Feed)}

func feedKey(owner int64, title string) string {
	return fmt.Sprintf("%d:%s", owner, title)
}

// CompileFilter validates a filter's patterns, returning the compiled
// expressions. A nil slice is returned for an empty pattern list.
func CompileFilter(patterns []string, sensitive bool) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	for _, pattern := range patterns {
		if !sensitive {
			pattern = "(?i)" + pattern
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, InvalidFilterError{Pattern: pattern, Reason: err.Error()}
		}
		compiled = append(compiled, expr)
	}
	return compiled, nil
}

// add inserts a feed into the table and the store, rejecting duplicates.
func add(feed Feed) error {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	key := feedKey(feed.Owner, feed.Title)
	if _, found := table.feeds[key]; found {
		return DuplicateError{Owner: feed.Owner, Title: feed.Title}
	}
	table.feeds[key] = feed
	return persist(feed)
}

// save updates an existing feed in place.
func save(feed Feed) error {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	table.feeds[feedKey(feed.Owner, feed.Title)] = feed
	return persist(feed)
}

func persist(feed Feed) error {
	if !store.IsOpen() {
		return nil
	}
	return store.Put(store.RssCollection, feedKey(feed.Owner, feed.Title), feed)
}

// Get returns the named subscription.
func Get(owner int64, title string) (Feed, error) {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	feed, found := table.feeds[feedKey(owner, title)]
	if !found {
		return Feed{}, NotFoundError{Owner: owner, Title: title}
	}
	return feed, nil
}

// Unsubscribe removes the named subscription from the table and the store.
func Unsubscribe(owner int64, title string) error {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	key := feedKey(owner, title)
	if _, found := table.feeds[key]; !found {
		return NotFoundError{Owner: owner, Title: title}
	}
	delete(table.feeds, key)
	if store.IsOpen() {
		return store.Delete(store.RssCollection, key)
	}
	return nil
}

// Pause sets the paused flag on the named subscription. A paused feed
// stays in the table but is skipped by the monitor.
func Pause(owner int64, title string, paused bool) error {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	key := feedKey(owner, title)
	feed, found := table.feeds[key]
	if !found {
		return NotFoundError{Owner: owner, Title: title}
	}
	feed.Paused = paused
	table.feeds[key] = feed
	return persist(feed)
}

// Feeds returns the owner's subscriptions sorted by title.
func Feeds(owner int64) []Feed {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	var feeds []Feed
	for _, feed := range table.feeds {
		if feed.Owner == owner {
			feeds = append(feeds, feed)
		}
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Title < feeds[j].Title })
	return feeds
}

// AllFeeds returns every subscription in the table.
func AllFeeds() []Feed {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	feeds := make([]Feed, 0, len(table.feeds))
	for _, feed := range table.feeds {
		feeds = append(feeds, feed)
	}
	sort.Slice(feeds, func(i, j int) bool {
		if feeds[i].Owner != feeds[j].Owner {
			return feeds[i].Owner < feeds[j].Owner
		}
		return feeds[i].Title < feeds[j].Title
	})
	return feeds
}

// Load fills the table from the store. Called once at boot, after the
// store has been opened.
func Load() error {
	if !store.IsOpen() {
		return nil
	}
	table.mutex.Lock()
	defer table.mutex.Unlock()
	return store.ForEach(store.RssCollection, func(key string, data []byte) error {
		var feed Feed
		if err := json.Unmarshal(data, &feed); err != nil {
			slog.Error(fmt.Sprintf("Skipping malformed feed row %s: %s", key, err.Error()))
			return nil
		}
		table.feeds[feedKey(feed.Owner, feed.Title)] = feed
		return nil
	})
}

// ClearTable empties the in-memory feed table (testing only).
func ClearTable() {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	table.feeds = make(map[string]Feed)
}
