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

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/drivers/gdrive"
	"github.com/fetchd/fetchd/status"
)

// runClone copies a drive entry server-side into the destination folder;
// no bytes touch local disk, so the pipeline never runs
func (l *Listener) runClone(ctx context.Context) {
	conf := l.Config
	if l.deps.Drive == nil {
		l.OnDownloadError("no drive client is configured")
		return
	}
	sourceId, err := gdrive.FileId(conf.Link)
	if err != nil {
		l.OnDownloadError(err.Error())
		return
	}
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     status.PhaseProcessing,
		Driver:    "gdrive",
		Name:      conf.NameHint,
		StartedAt: l.startedAt,
	})
	link, err := l.deps.Drive.Clone(ctx, sourceId, conf.DriveId)
	if err != nil {
		if l.IsCancelled() {
			l.stopped(ctx)
			return
		}
		l.OnUploadError(err.Error())
		return
	}
	l.notify(ctx, fmt.Sprintf("Name: %s\nElapsed: %s\n\n%s\n\ncc: %s",
		l.Name(), chat.ReadableTime(time.Since(l.startedAt)), link, conf.Tag))
	l.finalize(ctx, true)
}
