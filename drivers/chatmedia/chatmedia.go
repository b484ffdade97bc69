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

// Package chatmedia retrieves media attached to chat messages. A link is
// a "chatId:messageId" reference, usually produced by a reply fallback
// or a merge-session input.
package chatmedia

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "chat"

// the transport is installed at boot, before any Begin
var transport chat.Transport

// SetTransport wires the chat client the driver downloads through.
func SetTransport(t chat.Transport) {
	transport = t
}

func init() {
	drivers.RegisterProvider(driverName, NewDriver)
}

// FormatLink renders the link form the driver accepts.
func FormatLink(chatId int64, messageId int) string {
	return fmt.Sprintf("%d:%d", chatId, messageId)
}

func parseLink(link string) (int64, int, error) {
	first, second, found := strings.Cut(link, ":")
	if !found {
		return 0, 0, drivers.InvalidLinkError{Link: link}
	}
	chatId, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, drivers.InvalidLinkError{Link: link}
	}
	messageId, err := strconv.Atoi(second)
	if err != nil {
		return 0, 0, drivers.InvalidLinkError{Link: link}
	}
	return chatId, messageId, nil
}

type download struct {
	name      string
	total     int64
	processed atomic.Int64
	startedAt time.Time
	cancel    context.CancelFunc
	mutex     sync.Mutex
	state     drivers.State
	errText   string
}

// this type implements the Driver interface over the chat transport
type Driver struct {
	mutex     sync.Mutex
	downloads map[string]*download
	nextId    atomic.Int64
}

func NewDriver(conf config.DaemonConfig) (drivers.Driver, error) {
	return &Driver{downloads: make(map[string]*download)}, nil
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	if transport == nil {
		return "", drivers.UnreachableError{Driver: driverName,
			Reason: "no chat transport is installed"}
	}
	chatId, messageId, err := parseLink(link)
	if err != nil {
		return "", err
	}
	message, err := transport.GetMessage(ctx, chatId, messageId)
	if err != nil {
		return "", drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	if !message.HasMedia {
		return "", drivers.InvalidLinkError{Link: link}
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dl := &download{
		name:      message.MediaName,
		total:     message.MediaSize,
		startedAt: time.Now(),
		cancel:    cancel,
		state:     drivers.StateActive,
	}
	handle := fmt.Sprintf("%s-%d", driverName, d.nextId.Add(1))
	d.mutex.Lock()
	d.downloads[handle] = dl
	d.mutex.Unlock()

	go func() {
		sink.OnDownloadStart()
		_, err := transport.DownloadMedia(runCtx, message, dest)
		dl.mutex.Lock()
		if err != nil {
			if runCtx.Err() != nil {
				dl.state, dl.errText = drivers.StateFailed, "cancelled"
			} else {
				dl.state, dl.errText = drivers.StateFailed, err.Error()
			}
		} else {
			dl.state = drivers.StateDone
			dl.processed.Store(dl.total)
		}
		state, errText := dl.state, dl.errText
		dl.mutex.Unlock()
		if state == drivers.StateDone {
			sink.OnDownloadComplete()
		} else {
			sink.OnDownloadError(errText)
		}
	}()
	return handle, nil
}

func (d *Driver) Cancel(handle string) error {
	d.mutex.Lock()
	dl, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return nil
	}
	dl.cancel()
	return nil
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	dl, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}
	dl.mutex.Lock()
	state, errText := dl.state, dl.errText
	dl.mutex.Unlock()
	processed := dl.processed.Load()
	elapsed := time.Since(dl.startedAt).Seconds()
	var speed int64
	if elapsed > 0 {
		speed = int64(float64(processed) / elapsed)
	}
	return drivers.ProgressSnapshot{
		State:     state,
		Name:      dl.name,
		Processed: processed,
		Total:     dl.total,
		Speed:     speed,
		Error:     errText,
	}, nil
}
