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

package drivers

import (
	"context"
	"time"
)

// Watch polls a daemon-backed retrieval until it reaches a terminal state
// and fires the matching sink callback. Drivers whose daemon owns the
// transfer loop run this in a goroutine right after Begin; drivers that
// move bytes themselves report terminally on their own.
func Watch(ctx context.Context, driver Driver, handle string, sink Sink,
	interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	started := false
	for {
		select {
		case <-ctx.Done():
			sink.OnDownloadError("cancelled")
			return
		case <-ticker.C:
		}
		snapshot, err := driver.Poll(handle)
		if err != nil {
			sink.OnDownloadError(err.Error())
			return
		}
		if !started && snapshot.State != StateMetadata {
			started = true
			sink.OnDownloadStart()
		}
		switch snapshot.State {
		case StateFailed:
			reason := snapshot.Error
			if reason == "" {
				reason = "The download failed."
			}
			sink.OnDownloadError(reason)
			return
		case StateSeeding, StateDone:
			// seeding means the payload is fully on disk; the daemon
			// keeps serving peers while the lifecycle moves on
			sink.OnDownloadComplete()
			return
		}
	}
}
