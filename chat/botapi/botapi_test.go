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

package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a fake bot API server recording method calls
type fakeAPI struct {
	mutex   sync.Mutex
	calls   []string
	params  map[string]map[string]any // last JSON params per method
	server  *httptest.Server
	nextId  int
	fileRaw []byte // body served for file downloads
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{params: make(map[string]map[string]any), nextId: 100}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	// file downloads live under /file/bot<token>/
	if strings.Contains(r.URL.Path, "/file/bot") {
		w.Write(f.fileRaw)
		return
	}

	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	f.calls = append(f.calls, method)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		f.params[method] = params
	} else if err := r.ParseMultipartForm(1 << 20); err == nil {
		params := make(map[string]any)
		for key, values := range r.MultipartForm.Value {
			params[key] = values[0]
		}
		f.params[method] = params
	}

	f.nextId++
	switch method {
	case "getFile":
		fmt.Fprint(w, `{"ok":true,"result":{"file_path":"documents/payload.bin"}}`)
	case "sendMediaGroup":
		fmt.Fprintf(w, `{"ok":true,"result":[{"message_id":%d,"chat":{"id":42,"type":"supergroup"}}]}`, f.nextId)
	case "deleteMessage", "editMessageText":
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	default:
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"chat":{"id":42,"type":"supergroup"}}}`, f.nextId)
	}
}

func (f *fakeAPI) called(method string) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, call := range f.calls {
		if call == method {
			return true
		}
	}
	return false
}

func (f *fakeAPI) lastParams(method string) map[string]any {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.params[method]
}

// tests the send/edit/delete round trip
func TestMessagingCalls(t *testing.T) {
	api := newFakeAPI(t)
	client := NewClientWithBase("token123", api.server.URL)

	sent, err := client.SendMessage(context.Background(), 42, "hello")
	assert.Nil(t, err)
	assert.Equal(t, int64(42), sent.ChatId)
	assert.True(t, sent.IsSuperChat)
	assert.Equal(t, "hello", api.lastParams("sendMessage")["text"])

	assert.Nil(t, client.EditMessage(context.Background(), 42, sent.MessageId, "edited"))
	assert.Equal(t, "edited", api.lastParams("editMessageText")["text"])

	assert.Nil(t, client.DeleteMessage(context.Background(), 42, sent.MessageId))
	assert.True(t, api.called("deleteMessage"))
}

// tests that an API-level failure surfaces as an APIError
func TestAPIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer server.Close()

	client := NewClientWithBase("token123", server.URL)
	_, err := client.SendMessage(context.Background(), 42, "hello")
	assert.Equal(t, APIError{Method: "sendMessage", Description: "chat not found"}, err)
}

// tests that the seen cache backs GetMessage and media downloads
func TestSeenCacheAndDownload(t *testing.T) {
	api := newFakeAPI(t)
	api.fileRaw = []byte("media payload")
	client := NewClientWithBase("token123", api.server.URL)

	client.remember(apiMessage{
		MessageId: 7,
		Chat:      struct {
			Id   int64  `json:"id"`
			Type string `json:"type"`
		}{Id: 42, Type: "supergroup"},
		Document: &apiFile{FileId: "doc-1", FileName: "payload.bin", FileSize: 13},
	})

	msg, err := client.GetMessage(context.Background(), 42, 7)
	assert.Nil(t, err)
	assert.True(t, msg.HasMedia)
	assert.Equal(t, "payload.bin", msg.MediaName)

	_, err = client.GetMessage(context.Background(), 42, 8)
	assert.Equal(t, NotSeenError{ChatId: 42, MessageId: 8}, err)

	dest := t.TempDir()
	path, err := client.DownloadMedia(context.Background(), msg, dest)
	assert.Nil(t, err)
	assert.Equal(t, filepath.Join(dest, "payload.bin"), path)
	data, err := os.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, "media payload", string(data))
	assert.Equal(t, "doc-1", api.lastParams("getFile")["file_id"])
}

// tests extension-based method selection for uploads
func TestUploadFileMethodSelection(t *testing.T) {
	api := newFakeAPI(t)
	client := NewClientWithBase("token123", api.server.URL)
	dir := t.TempDir()

	video := filepath.Join(dir, "clip.mp4")
	assert.Nil(t, os.WriteFile(video, []byte("vvvv"), 0644))
	_, err := client.UploadFile(context.Background(), 42, video, "a clip", false)
	assert.Nil(t, err)
	assert.True(t, api.called("sendVideo"))
	assert.Equal(t, "a clip", api.lastParams("sendVideo")["caption"])

	// asDocument forces document transmission regardless of extension
	_, err = client.UploadFile(context.Background(), 42, video, "", true)
	assert.Nil(t, err)
	assert.True(t, api.called("sendDocument"))
}

// tests that a media group rides one call with attach:// references
func TestUploadMediaGroup(t *testing.T) {
	api := newFakeAPI(t)
	client := NewClientWithBase("token123", api.server.URL)
	dir := t.TempDir()

	var paths []string
	for _, name := range []string{"one.jpg", "two.jpg"} {
		path := filepath.Join(dir, name)
		assert.Nil(t, os.WriteFile(path, []byte("jpeg"), 0644))
		paths = append(paths, path)
	}
	messages, err := client.UploadMediaGroup(context.Background(), 42, paths, "shots")
	assert.Nil(t, err)
	assert.Len(t, messages, 1)

	media := api.lastParams("sendMediaGroup")["media"].(string)
	assert.Contains(t, media, "attach://file0")
	assert.Contains(t, media, "attach://file1")
	assert.Contains(t, media, "shots")
}
