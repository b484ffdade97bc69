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

package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/status"
)

// runYtdlp retrieves the link with the yt-dlp tool into the working
// directory, then rejoins the normal completion path
func (l *Listener) runYtdlp(ctx context.Context) {
	conf := l.Config
	l.OnDownloadStart()
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     status.PhaseDownloading,
		Driver:    "yt-dlp",
		Name:      conf.NameHint,
		StartedAt: l.startedAt,
	})

	template := conf.Dir + "/%(title)s.%(ext)s"
	if conf.NameHint != "" {
		template = conf.Dir + "/" + conf.NameHint
	}
	argv := []string{"yt-dlp", "--newline", "-o", template}
	for key, value := range conf.Headers {
		argv = append(argv, "--add-headers", key+":"+value)
	}
	if conf.AuthUser != "" {
		argv = append(argv, "--username", conf.AuthUser,
			"--password", conf.AuthPass)
	}
	argv = append(argv, conf.Link)

	code, err := l.runCancellable(ctx, argv)
	if code == mediatools.KilledExitCode || l.IsCancelled() {
		l.stopped(ctx)
		return
	}
	if err != nil {
		l.OnDownloadError(err.Error())
		return
	}
	if code != 0 {
		l.OnDownloadError(fmt.Sprintf("yt-dlp exited with code %d", code))
		return
	}
	l.OnDownloadComplete()
}

// runCancellable runs one subprocess through the shared runner, closing
// its cancel channel when the task is cancelled
func (l *Listener) runCancellable(ctx context.Context, argv []string) (int, error) {
	cancel := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-finished:
				return
			case <-ticker.C:
				if l.IsCancelled() {
					close(cancel)
					return
				}
			}
		}
	}()
	code, err := l.deps.Runner.Run(ctx, argv, statusSink{id: l.Config.Id}, cancel)
	close(finished)
	return code, err
}
