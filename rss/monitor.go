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

package rss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
)

// the user agent sent with feed requests; some trackers reject default
// library agents
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/90.0.4430.212 Safari/537.36"

// Handler receives one delivery per new matching item: the feed it came
// from and the expanded command (or notification) text.
type Handler func(ctx context.Context, feed Feed, text string)

// Monitor polls every unpaused subscription on the configured interval.
type Monitor struct {
	client  *retryablehttp.Client
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a feed monitor delivering to the given handler.
func NewMonitor(handler Handler) *Monitor {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Timeout = time.Minute
	return &Monitor{client: client, handler: handler}
}

// Start launches the polling loop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop halts the loop and waits for the current sweep to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	delay := time.Duration(config.Rss.Delay) * time.Second
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every unpaused subscription. Failures are
// logged and skipped so one broken feed never starves the others.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, feed := range AllFeeds() {
		if feed.Paused {
			continue
		}
		if err := m.checkFeed(ctx, feed); err != nil {
			slog.Warn(fmt.Sprintf("Feed %q (owner %d) check failed: %s",
				feed.Title, feed.Owner, err.Error()))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Subscribe validates the feed's filters, fetches it once to seed the
// last-seen high-water mark, and adds it to the table. New items are
// delivered from the next sweep onward.
func (m *Monitor) Subscribe(ctx context.Context, feed Feed) (Feed, error) {
	for _, patterns := range [][]string{feed.Filter.Include, feed.Filter.Exclude} {
		if _, err := CompileFilter(patterns, feed.Filter.Sensitive); err != nil {
			return Feed{}, err
		}
	}
	items, err := m.fetch(ctx, feed)
	if err != nil {
		return Feed{}, err
	}
	feed.LastLink = items[0].Link
	feed.LastTitle = items[0].Title
	if err := add(feed); err != nil {
		return Feed{}, err
	}
	slog.Info(fmt.Sprintf("Feed added: owner %d, title %q, link %s",
		feed.Owner, feed.Title, feed.Link))
	return feed, nil
}

// checkFeed fetches one feed and delivers everything newer than the
// last-seen item, oldest first.
func (m *Monitor) checkFeed(ctx context.Context, feed Feed) error {
	items, err := m.fetch(ctx, feed)
	if err != nil {
		return err
	}
	if items[0].Link == feed.LastLink || items[0].Title == feed.LastTitle {
		return nil // nothing new
	}

	// collect the unseen prefix of the (newest-first) item list
	var unseen []Item
	for _, item := range items {
		if item.Link == feed.LastLink || item.Title == feed.LastTitle {
			break
		}
		unseen = append(unseen, item)
	}

	include, _ := CompileFilter(feed.Filter.Include, feed.Filter.Sensitive)
	exclude, _ := CompileFilter(feed.Filter.Exclude, feed.Filter.Sensitive)
	for i := len(unseen) - 1; i >= 0; i-- {
		item := unseen[i]
		if config.Rss.SizeLimit > 0 && item.Size > config.Rss.SizeLimit {
			slog.Debug(fmt.Sprintf("Skipping oversize item %q (%d bytes)", item.Title, item.Size))
			continue
		}
		if !matches(item.Title, include, exclude) {
			continue
		}
		m.handler(ctx, feed, expandCommand(feed, item))
	}

	feed.LastLink = items[0].Link
	feed.LastTitle = items[0].Title
	return save(feed)
}

// fetch retrieves and parses one feed.
func (m *Monitor) fetch(ctx context.Context, feed Feed) ([]Item, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, feed.Link, nil)
	if err != nil {
		return nil, InvalidFeedError{Link: feed.Link, Reason: err.Error()}
	}
	request.Header.Set("User-Agent", userAgent)
	for key, value := range feed.Headers {
		request.Header.Set(key, value)
	}
	response, err := m.client.Do(request)
	if err != nil {
		return nil, InvalidFeedError{Link: feed.Link, Reason: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, InvalidFeedError{Link: feed.Link,
			Reason: fmt.Sprintf("the server answered %s", response.Status)}
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, InvalidFeedError{Link: feed.Link, Reason: err.Error()}
	}
	return parseFeed(feed.Link, body)
}

// matches reports whether a title passes every include pattern and no
// exclude pattern.
func matches(title string, include, exclude []*regexp.Regexp) bool {
	for _, expr := range include {
		if !expr.MatchString(title) {
			return false
		}
	}
	for _, expr := range exclude {
		if expr.MatchString(title) {
			return false
		}
	}
	return true
}

// expandCommand turns one item into delivery text. With a command
// template, {link} and {title} are substituted (a template without
// placeholders gets the link appended); without one, the text is a plain
// notification.
func expandCommand(feed Feed, item Item) string {
	if feed.Filter.Command == "" {
		return fmt.Sprintf("%s\n\n%s\n\n%s", item.Title, item.Link, feed.Tag)
	}
	text := feed.Filter.Command
	if strings.Contains(text, "{link}") || strings.Contains(text, "{title}") {
		text = strings.ReplaceAll(text, "{link}", item.Link)
		text = strings.ReplaceAll(text, "{title}", item.Title)
	} else {
		text = text + " " + item.Link
	}
	return text
}
