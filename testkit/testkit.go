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

// This package contains testing utilities for fetchd: fake drivers,
// a recording chat transport, and a scripted subprocess runner.
package testkit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
	"github.com/fetchd/fetchd/mediatools"
)

// EnableDebugLogging turns on DEBUG messages for the structured log.
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// FakeDriver materializes a payload file on Begin and reports completion
// immediately, unless Hold is set, in which case it waits for ReleaseAll
// or Cancel. Register it under any name with RegisterFakeDriver.
type FakeDriver struct {
	DriverName string
	// content written as "<link base name>" into the dest directory
	Payload []byte
	// when set, Begin parks retrievals until ReleaseAll
	Hold bool
	// when non-empty, every Begin fails terminally with this reason
	FailWith string

	mutex   sync.Mutex
	held    []func()
	handles map[string]*fakeRetrieval
	serial  int
}

type fakeRetrieval struct {
	name      string
	total     int64
	state     drivers.State
	cancelled bool
	sink      drivers.Sink
}

// RegisterFakeDriver installs a fake under the given driver name.
func RegisterFakeDriver(name string, fake *FakeDriver) error {
	fake.DriverName = name
	return drivers.RegisterProvider(name, func(config.DaemonConfig) (drivers.Driver, error) {
		return fake, nil
	})
}

func (d *FakeDriver) Name() string {
	return d.DriverName
}

func (d *FakeDriver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	d.mutex.Lock()
	if d.handles == nil {
		d.handles = make(map[string]*fakeRetrieval)
	}
	d.serial++
	handle := fmt.Sprintf("fake-%d", d.serial)
	name := filepath.Base(link)
	retrieval := &fakeRetrieval{
		name:  name,
		total: int64(len(d.Payload)),
		state: drivers.StateActive,
		sink:  sink,
	}
	d.handles[handle] = retrieval
	d.mutex.Unlock()

	deliver := func() {
		d.mutex.Lock()
		if retrieval.cancelled {
			d.mutex.Unlock()
			return
		}
		d.mutex.Unlock()
		sink.OnDownloadStart()
		if d.FailWith != "" {
			d.setState(retrieval, drivers.StateFailed)
			sink.OnDownloadError(d.FailWith)
			return
		}
		os.WriteFile(filepath.Join(dest, name), d.Payload, 0o644)
		d.setState(retrieval, drivers.StateDone)
		sink.OnDownloadComplete()
	}
	if d.Hold {
		d.mutex.Lock()
		d.held = append(d.held, deliver)
		d.mutex.Unlock()
	} else {
		go deliver()
	}
	return handle, nil
}

func (d *FakeDriver) setState(retrieval *fakeRetrieval, state drivers.State) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	retrieval.state = state
}

// ReleaseAll delivers every held retrieval.
func (d *FakeDriver) ReleaseAll() {
	d.mutex.Lock()
	held := d.held
	d.held = nil
	d.mutex.Unlock()
	for _, deliver := range held {
		go deliver()
	}
}

func (d *FakeDriver) Cancel(handle string) error {
	d.mutex.Lock()
	retrieval, found := d.handles[handle]
	if !found {
		d.mutex.Unlock()
		return drivers.UnknownHandleError{Handle: handle}
	}
	if retrieval.state == drivers.StateDone {
		// finished retrievals have nothing left to stop
		d.mutex.Unlock()
		return nil
	}
	alreadyCancelled := retrieval.cancelled
	retrieval.cancelled = true
	retrieval.state = drivers.StateFailed
	sink := retrieval.sink
	d.mutex.Unlock()
	if !alreadyCancelled {
		go sink.OnDownloadError("cancelled")
	}
	return nil
}

func (d *FakeDriver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	retrieval, found := d.handles[handle]
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}
	return drivers.ProgressSnapshot{
		State: retrieval.state,
		Name:  retrieval.name,
		Total: retrieval.total,
	}, nil
}

// FakeTransport records every chat call and hands out empty messages.
type FakeTransport struct {
	mutex    sync.Mutex
	sent     []string
	uploaded []string
	groups   [][]string
	deleted  []int
	serial   int
	// message returned by GetMessage, keyed by message ID
	Messages map[int]chat.Message
	// media content written by DownloadMedia
	Media []byte
}

func (t *FakeTransport) SendMessage(ctx context.Context, chatId int64,
	text string) (chat.Message, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sent = append(t.sent, text)
	t.serial++
	return chat.Message{ChatId: chatId, MessageId: t.serial, Text: text}, nil
}

func (t *FakeTransport) EditMessage(ctx context.Context, chatId int64,
	messageId int, text string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sent = append(t.sent, text)
	return nil
}

func (t *FakeTransport) DeleteMessage(ctx context.Context, chatId int64,
	messageId int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.deleted = append(t.deleted, messageId)
	return nil
}

func (t *FakeTransport) GetMessage(ctx context.Context, chatId int64,
	messageId int) (chat.Message, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if msg, found := t.Messages[messageId]; found {
		return msg, nil
	}
	return chat.Message{}, fmt.Errorf("no message %d", messageId)
}

func (t *FakeTransport) DownloadMedia(ctx context.Context, msg chat.Message,
	dest string) (string, error) {
	path := filepath.Join(dest, msg.MediaName)
	if err := os.WriteFile(path, t.Media, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (t *FakeTransport) UploadFile(ctx context.Context, chatId int64, path,
	caption string, asDocument bool) (chat.Message, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.uploaded = append(t.uploaded, filepath.Base(path))
	t.serial++
	return chat.Message{ChatId: chatId, MessageId: t.serial}, nil
}

func (t *FakeTransport) UploadMediaGroup(ctx context.Context, chatId int64,
	paths []string, caption string) ([]chat.Message, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	var names []string
	for _, path := range paths {
		names = append(names, filepath.Base(path))
	}
	t.groups = append(t.groups, names)
	return make([]chat.Message, len(paths)), nil
}

// Sent returns a copy of every message text sent or edited so far.
func (t *FakeTransport) Sent() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.sent...)
}

// Uploaded returns the base names of every file uploaded so far.
func (t *FakeTransport) Uploaded() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.uploaded...)
}

// Deleted returns the IDs of every deleted message.
func (t *FakeTransport) Deleted() []int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]int(nil), t.deleted...)
}

// ScriptedRunner records argv invocations and plays back scripted exit
// codes; by default every tool exits 0 without side effects.
type ScriptedRunner struct {
	mutex sync.Mutex
	calls [][]string
	// called for each Run; may create output files; nil means exit 0
	OnRun func(argv []string) (int, error)
	// called for each Output; nil means empty output, exit 0
	OnOutput func(argv []string) ([]byte, int, error)
}

func (r *ScriptedRunner) Run(ctx context.Context, argv []string,
	sink mediatools.ProgressSink, cancel <-chan struct{}) (int, error) {
	r.mutex.Lock()
	r.calls = append(r.calls, argv)
	r.mutex.Unlock()
	select {
	case <-cancel:
		return mediatools.KilledExitCode, nil
	default:
	}
	if r.OnRun != nil {
		return r.OnRun(argv)
	}
	return 0, nil
}

func (r *ScriptedRunner) Output(ctx context.Context, argv []string) ([]byte, int, error) {
	r.mutex.Lock()
	r.calls = append(r.calls, argv)
	r.mutex.Unlock()
	if r.OnOutput != nil {
		return r.OnOutput(argv)
	}
	return nil, 0, nil
}

// Calls returns a copy of every recorded argv.
func (r *ScriptedRunner) Calls() [][]string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([][]string(nil), r.calls...)
}
