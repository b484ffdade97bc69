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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/dispatch"
	"github.com/fetchd/fetchd/drivers"
	"github.com/fetchd/fetchd/queue"
	"github.com/fetchd/fetchd/sinks"
	"github.com/fetchd/fetchd/status"
	"github.com/fetchd/fetchd/testkit"
)

// records the upload specs a lifecycle hands to its sink
type fakeUploader struct {
	name   string
	result sinks.Result
	err    error

	mutex sync.Mutex
	paths []string
	specs []sinks.Spec
}

func (u *fakeUploader) Name() string {
	return u.name
}

func (u *fakeUploader) Upload(ctx context.Context, path string,
	spec sinks.Spec) (sinks.Result, error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.paths = append(u.paths, path)
	u.specs = append(u.specs, spec)
	return u.result, u.err
}

type fakeDrive struct {
	existingLink string
	cloneLink    string
}

func (d *fakeDrive) FindExisting(ctx context.Context, name,
	folderId string) (string, bool, error) {
	return d.existingLink, d.existingLink != "", nil
}

func (d *fakeDrive) Clone(ctx context.Context, sourceId,
	folderId string) (string, error) {
	return d.cloneLink, nil
}

// resets every process-wide table a lifecycle touches
func resetWorld(t *testing.T) {
	t.Helper()
	drivers.ClearRegistry()
	sinks.ClearRegistry()
	status.Clear()
	ClearGroups()
	ClearTable()
	config.Service.DownloadDir = t.TempDir()
	config.Service.IncompleteTaskNotifier = false
	config.Chats.DeleteLinks = false
	config.Upload.DefaultUpload = "gd"
	config.Upload.LeechSplitSize = 2 << 30
	config.Upload.ExcludedExtensions = nil
	config.Upload.IncludedExtensions = nil
}

func mirrorDeps(t *testing.T, transport *testkit.FakeTransport,
	capacity int) Deps {
	t.Helper()
	return Deps{
		Transport: transport,
		Queue:     queue.NewController(capacity, capacity, false, 0),
		Runner:    &testkit.ScriptedRunner{},
	}
}

func startTask(t *testing.T, text string, deps Deps) *Listener {
	t.Helper()
	message := testMessage(text)
	command, err := dispatch.Parse(message.Text)
	assert.Nil(t, err)
	conf, err := Configure(message, command)
	assert.Nil(t, err)
	l := NewListener(conf, deps)
	go l.Run(context.Background())
	return l
}

func testMessage(text string) chat.Message {
	return chat.Message{
		ChatId:    42,
		MessageId: 7,
		UserId:    1001,
		UserName:  "tester",
		Text:      text,
		Link:      "chat/42/7",
	}
}

func await(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("the task never reached a terminal state")
	}
}

func TestMirrorHappyPath(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	payload := bytes.Repeat([]byte("x"), 12345)
	assert.Nil(testkit.RegisterFakeDriver("http", &testkit.FakeDriver{Payload: payload}))
	uploader := &fakeUploader{name: "gd",
		result: sinks.Result{Link: "https://drive.example/abc", Files: 1}}
	assert.Nil(sinks.Register("gd", uploader))
	transport := &testkit.FakeTransport{}

	l := startTask(t, "/mirror https://example.test/file.bin -up gd",
		mirrorDeps(t, transport, 0))
	await(t, l)

	uploader.mutex.Lock()
	paths := uploader.paths
	uploader.mutex.Unlock()
	assert.Len(paths, 1)
	assert.Equal("file.bin", filepath.Base(paths[0]))

	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "Name: file.bin")
	assert.Contains(sent[0], "Size: 12.06KB")
	assert.Contains(sent[0], "https://drive.example/abc")
	assert.Contains(sent[0], "cc: @tester")

	// the working directory is gone after the terminal state
	_, err := os.Stat(filepath.Join(config.Service.DownloadDir, l.Config.Id))
	assert.True(os.IsNotExist(err))
	assert.Equal(0, status.Count())
	assert.Equal(0, Count())
}

func TestLeechCompressSendsOneArchive(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	assert.Nil(testkit.RegisterFakeDriver("http",
		&testkit.FakeDriver{Payload: []byte("zip bytes")}))
	transport := &testkit.FakeTransport{}
	assert.Nil(sinks.Register("chat", sinks.NewChatUploader(transport)))

	runner := &testkit.ScriptedRunner{}
	runner.OnRun = func(argv []string) (int, error) {
		if argv[0] != "7z" {
			return 0, nil
		}
		// "7z a <archive> <path> ..." materializes the archive
		for _, arg := range argv {
			if strings.HasSuffix(arg, ".7z") {
				os.WriteFile(arg, []byte("archive"), 0o644)
			}
		}
		return 0, nil
	}
	deps := mirrorDeps(t, transport, 0)
	deps.Runner = runner

	l := startTask(t, "/leech https://example.test/dir.zip -z", deps)
	await(t, l)

	uploaded := transport.Uploaded()
	assert.Len(uploaded, 1)
	assert.True(strings.HasSuffix(uploaded[0], ".7z"))
	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "Total Files: 1")
}

func TestCancelWhileDownloading(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	fake := &testkit.FakeDriver{Payload: []byte("x"), Hold: true}
	assert.Nil(testkit.RegisterFakeDriver("http", fake))
	assert.Nil(sinks.Register("gd", &fakeUploader{name: "gd"}))
	transport := &testkit.FakeTransport{}

	l := startTask(t, "/mirror https://example.test/big.iso",
		mirrorDeps(t, transport, 0))
	// let Begin land before cancelling
	time.Sleep(100 * time.Millisecond)
	l.Cancel()
	l.Cancel() // idempotent
	await(t, l)

	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "Task stopped.")
	_, err := os.Stat(filepath.Join(config.Service.DownloadDir, l.Config.Id))
	assert.True(os.IsNotExist(err))
	assert.Equal(0, status.Count())
}

func TestCancelWhileQueued(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	fake := &testkit.FakeDriver{Payload: []byte("x"), Hold: true}
	assert.Nil(testkit.RegisterFakeDriver("http", fake))
	assert.Nil(sinks.Register("gd", &fakeUploader{name: "gd",
		result: sinks.Result{Link: "l", Files: 1}}))
	transport := &testkit.FakeTransport{}
	deps := mirrorDeps(t, transport, 1)

	first := startTask(t, "/mirror https://example.test/a.bin", deps)
	time.Sleep(100 * time.Millisecond)
	second := startTask(t, "/mirror https://example.test/b.bin", deps)
	time.Sleep(100 * time.Millisecond)

	second.Cancel()
	await(t, second)
	assert.Contains(strings.Join(transport.Sent(), "\n"), "Task stopped.")

	first.Cancel()
	await(t, first)
	assert.Equal(0, status.Count())
}

func TestCancelWhileWaitingOnGroup(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	assert.Nil(testkit.RegisterFakeDriver("http",
		&testkit.FakeDriver{Payload: []byte("fast")}))
	assert.Nil(testkit.RegisterFakeDriver("qbit",
		&testkit.FakeDriver{Payload: []byte("slow"), Hold: true}))
	assert.Nil(sinks.Register("gd", &fakeUploader{name: "gd",
		result: sinks.Result{Link: "l", Files: 2}}))
	transport := &testkit.FakeTransport{}
	deps := mirrorDeps(t, transport, 0)

	// the fast member lands first and parks until the held sibling
	// resolves the group
	waiter := startTask(t, "/mirror https://example.test/a.bin -m album -i 1", deps)
	held := startTask(t, "/mirror magnet:?xt=urn:btih:abc -m album -i 1", deps)
	time.Sleep(200 * time.Millisecond)

	waiter.Cancel()
	await(t, waiter)
	assert.Contains(strings.Join(transport.Sent(), "\n"), "Task stopped.")
	_, err := os.Stat(filepath.Join(config.Service.DownloadDir, waiter.Config.Id))
	assert.True(os.IsNotExist(err))

	held.Cancel()
	await(t, held)
	assert.Equal(0, status.Count())
}

func TestDownloadFailureCleansUp(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	assert.Nil(testkit.RegisterFakeDriver("http",
		&testkit.FakeDriver{FailWith: "connection reset"}))
	assert.Nil(sinks.Register("gd", &fakeUploader{name: "gd"}))
	transport := &testkit.FakeTransport{}

	l := startTask(t, "/mirror https://example.test/gone.bin",
		mirrorDeps(t, transport, 0))
	await(t, l)

	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "Download failed: connection reset")
	_, err := os.Stat(filepath.Join(config.Service.DownloadDir, l.Config.Id))
	assert.True(os.IsNotExist(err))
}

func TestDuplicateOnDriveSkipsDownload(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	assert.Nil(testkit.RegisterFakeDriver("http",
		&testkit.FakeDriver{Payload: []byte("x")}))
	uploader := &fakeUploader{name: "gd"}
	assert.Nil(sinks.Register("gd", uploader))
	transport := &testkit.FakeTransport{}
	deps := mirrorDeps(t, transport, 0)
	deps.Drive = &fakeDrive{existingLink: "https://drive.example/existing"}

	l := startTask(t, "/mirror https://example.test/file.bin -n file.bin", deps)
	await(t, l)

	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "already exists")
	assert.Contains(sent[0], "https://drive.example/existing")
	uploader.mutex.Lock()
	assert.Empty(uploader.paths)
	uploader.mutex.Unlock()
	assert.Equal(0, deps.Queue.ActiveCount(queue.Download))
}

func TestUploadFailureNotifies(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	assert.Nil(testkit.RegisterFakeDriver("http",
		&testkit.FakeDriver{Payload: []byte("x")}))
	assert.Nil(sinks.Register("gd", &fakeUploader{name: "gd",
		err: sinks.UploadError{Sink: "gd", Reason: "quota exceeded"}}))
	transport := &testkit.FakeTransport{}

	l := startTask(t, "/mirror https://example.test/file.bin",
		mirrorDeps(t, transport, 0))
	await(t, l)

	sent := transport.Sent()
	assert.Len(sent, 1)
	assert.Contains(sent[0], "Upload failed:")
	assert.Contains(sent[0], "quota exceeded")
	_, err := os.Stat(filepath.Join(config.Service.DownloadDir, l.Config.Id))
	assert.True(os.IsNotExist(err))
}

func TestResolveDriver(t *testing.T) {
	assert := assert.New(t)
	resetWorld(t)
	testkit.RegisterFakeDriver("http", &testkit.FakeDriver{})
	testkit.RegisterFakeDriver("qbit", &testkit.FakeDriver{})

	name, err := ResolveDriver("https://example.test/file.bin")
	assert.Nil(err)
	assert.Equal("http", name)

	name, err = ResolveDriver("magnet:?xt=urn:btih:abc")
	assert.Nil(err)
	assert.Equal("qbit", name)

	_, err = ResolveDriver("file.nzb")
	assert.Equal(NoDriverError{Link: "file.nzb"}, err)
}
