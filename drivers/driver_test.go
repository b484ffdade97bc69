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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fetchd/fetchd/config"
)

type stubDriver struct {
	mutex sync.Mutex
	state State
	polls int
}

func (s *stubDriver) Name() string { return "stub" }

func (s *stubDriver) Begin(ctx context.Context, link, dest string,
	opts BeginOptions, sink Sink) (string, error) {
	return "stub-1", nil
}

func (s *stubDriver) Cancel(handle string) error { return nil }

func (s *stubDriver) Poll(handle string) (ProgressSnapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.polls++
	if s.polls > 2 {
		s.state = StateDone
	}
	return ProgressSnapshot{State: s.state, Name: "payload.bin"}, nil
}

type recordingSink struct {
	mutex    sync.Mutex
	started  bool
	complete bool
	failures []string
}

func (s *recordingSink) OnDownloadStart() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.started = true
}

func (s *recordingSink) OnDownloadComplete() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.complete = true
}

func (s *recordingSink) OnDownloadError(reason string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failures = append(s.failures, reason)
}

func TestProviderRegistry(t *testing.T) {
	assert := assert.New(t)
	ClearRegistry()
	defer ClearRegistry()

	stub := &stubDriver{}
	assert.NoError(RegisterProvider("stub",
		func(conf config.DaemonConfig) (Driver, error) { return stub, nil }))
	assert.Error(RegisterProvider("stub",
		func(conf config.DaemonConfig) (Driver, error) { return stub, nil }))
	assert.True(Registered("stub"))
	assert.False(Registered("nope"))

	driver, err := New("stub")
	assert.NoError(err)
	assert.Equal("stub", driver.Name())

	// the instance is cached
	again, err := New("stub")
	assert.NoError(err)
	assert.Same(driver, again)

	_, err = New("nope")
	assert.Error(err)
	assert.IsType(&NotFoundError{}, err)
}

func TestWatchFiresStartAndComplete(t *testing.T) {
	assert := assert.New(t)
	stub := &stubDriver{state: StateMetadata}
	sink := &recordingSink{}

	Watch(context.Background(), stub, "stub-1", sink, time.Millisecond)

	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	assert.True(sink.started)
	assert.True(sink.complete)
	assert.Empty(sink.failures)
}

func TestWatchReportsCancelledContext(t *testing.T) {
	assert := assert.New(t)
	stub := &stubDriver{state: StateMetadata}
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	Watch(ctx, stub, "stub-1", sink, time.Hour)

	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	assert.Equal([]string{"cancelled"}, sink.failures)
}
