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

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fetchd/fetchd/status"
)

// This is the progress aggregator: a single loop that wakes on the status
// interval, snapshots the registry, renders one message per destination
// chat, and edits the previously-sent message in place. Edits are throttled
// per chat so the transport never sees more than one edit per interval even
// when tasks update rapidly.

// StatusLoop owns the per-chat pinned status messages.
type StatusLoop struct {
	transport Transport
	interval  time.Duration
	limit     int // max entries rendered per message

	// per-chat state: pinned message ID, last rendered text, edit limiter
	messages map[int64]int
	rendered map[int64]string
	limiters map[int64]*rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatusLoop builds a status aggregator over the given transport. The
// interval comes from STATUS_UPDATE_INTERVAL and limit from STATUS_LIMIT.
func NewStatusLoop(transport Transport, interval time.Duration, limit int) *StatusLoop {
	return &StatusLoop{
		transport: transport,
		interval:  interval,
		limit:     limit,
		messages:  make(map[int64]int),
		rendered:  make(map[int64]string),
		limiters:  make(map[int64]*rate.Limiter),
	}
}

// Start launches the aggregator loop.
func (l *StatusLoop) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
}

// Stop halts the loop and waits for it to drain.
func (l *StatusLoop) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

func (l *StatusLoop) run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

// refresh renders and pushes one status message per chat with live tasks.
func (l *StatusLoop) refresh(ctx context.Context) {
	entries := status.Snapshot()

	byChat := make(map[int64][]status.Entry)
	for _, entry := range entries {
		byChat[entry.ChatId] = append(byChat[entry.ChatId], entry)
	}

	// chats whose last task just finished get a final "no tasks" edit
	for chatId := range l.messages {
		if _, live := byChat[chatId]; !live {
			l.push(ctx, chatId, "No active tasks.")
			delete(l.messages, chatId)
			delete(l.rendered, chatId)
		}
	}

	for chatId, chatEntries := range byChat {
		l.push(ctx, chatId, l.render(chatEntries))
	}
}

// render builds the status text for one chat's entries.
func (l *StatusLoop) render(entries []status.Entry) string {
	var b strings.Builder
	shown := entries
	if l.limit > 0 && len(entries) > l.limit {
		shown = entries[:l.limit]
	}
	for _, e := range shown {
		fmt.Fprintf(&b, "%s | %s\n", e.Name, e.Phase)
		fmt.Fprintf(&b, "%s %.2f%%\n", ProgressBar(e.Progress()), e.Progress())
		fmt.Fprintf(&b, "%s of %s @ %s/s | ETA: %s\n\n",
			ReadableSize(e.ProcessedBytes), ReadableSize(e.Size),
			ReadableSize(e.Speed), ReadableTime(e.Eta))
	}
	if len(entries) > len(shown) {
		fmt.Fprintf(&b, "... and %d more task(s)\n", len(entries)-len(shown))
	}
	return b.String()
}

// push edits the chat's pinned status message, sending a fresh one if none
// exists. A missing entry or stale message ID is tolerated; finalize can
// race with the renderer.
func (l *StatusLoop) push(ctx context.Context, chatId int64, text string) {
	if text == l.rendered[chatId] {
		return // nothing changed; don't burn an edit
	}
	limiter, found := l.limiters[chatId]
	if !found {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[chatId] = limiter
	}
	if !limiter.Allow() {
		return // coalesce: next tick will carry the newer state
	}

	if messageId, found := l.messages[chatId]; found {
		err := l.transport.EditMessage(ctx, chatId, messageId, text)
		if err == nil {
			l.rendered[chatId] = text
			return
		}
		slog.Debug(fmt.Sprintf("Status edit failed for chat %d: %s", chatId, err.Error()))
		delete(l.messages, chatId)
	}
	message, err := l.transport.SendMessage(ctx, chatId, text)
	if err != nil {
		slog.Debug(fmt.Sprintf("Status send failed for chat %d: %s", chatId, err.Error()))
		return
	}
	l.messages[chatId] = message.MessageId
	l.rendered[chatId] = text
}
