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

// Package botapi implements the chat.Transport interface over the bot HTTP
// API: JSON calls for messaging, multipart for uploads, getFile for media
// downloads, and a long-polling update loop that feeds incoming messages
// to a handler. Messages seen on the update loop are cached so replies and
// range references can be resolved without a fetch endpoint, which the bot
// API does not offer.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/chat"
)

// messages remembered for reply/range resolution
const seenLimit = 1000

// extensions sent as typed media instead of documents
var mediaMethods = map[string]string{
	".mp4": "sendVideo", ".mkv": "sendVideo", ".webm": "sendVideo",
	".mp3": "sendAudio", ".flac": "sendAudio", ".m4a": "sendAudio",
	".ogg": "sendAudio", ".opus": "sendAudio",
	".jpg": "sendPhoto", ".jpeg": "sendPhoto", ".png": "sendPhoto",
}

// the multipart field name each send method expects
var mediaFields = map[string]string{
	"sendDocument": "document",
	"sendVideo":    "video",
	"sendAudio":    "audio",
	"sendPhoto":    "photo",
}

// Client talks to one bot account over the HTTP API.
type Client struct {
	base   string
	token  string
	client *retryablehttp.Client

	mutex sync.Mutex
	// recently seen messages keyed by "chatId:messageId"
	seen  map[string]chat.Message
	order []string
	// media file IDs for seen messages, same keys
	fileIds map[string]string
	// next update offset for the long-poll loop
	offset int64
}

// NewClient builds a client for the hosted bot API.
func NewClient(token string) *Client {
	return NewClientWithBase(token, "https://api.telegram.org")
}

// NewClientWithBase points the client at a self-hosted API server.
func NewClientWithBase(token, base string) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Client{
		base:    strings.TrimSuffix(base, "/"),
		token:   token,
		client:  client,
		seen:    make(map[string]chat.Message),
		fileIds: make(map[string]string),
	}
}

// the wire shape of a message, as much of it as the core cares about
type apiMessage struct {
	MessageId int `json:"message_id"`
	From      struct {
		Id       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		Id   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"chat"`
	Text     string      `json:"text"`
	Caption  string      `json:"caption"`
	Document *apiFile    `json:"document"`
	Video    *apiFile    `json:"video"`
	Audio    *apiFile    `json:"audio"`
	ReplyTo  *apiMessage `json:"reply_to_message"`
}

type apiFile struct {
	FileId   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

func (m apiMessage) media() *apiFile {
	switch {
	case m.Document != nil:
		return m.Document
	case m.Video != nil:
		return m.Video
	case m.Audio != nil:
		return m.Audio
	}
	return nil
}

func messageKey(chatId int64, messageId int) string {
	return fmt.Sprintf("%d:%d", chatId, messageId)
}

// toMessage converts a wire message, without touching the seen cache.
func toMessage(m apiMessage) chat.Message {
	message := chat.Message{
		ChatId:      m.Chat.Id,
		MessageId:   m.MessageId,
		UserId:      m.From.Id,
		UserName:    m.From.Username,
		Text:        m.Text,
		Link:        messageKey(m.Chat.Id, m.MessageId),
		IsSuperChat: m.Chat.Type != "private",
	}
	if message.Text == "" {
		message.Text = m.Caption
	}
	if media := m.media(); media != nil {
		message.HasMedia = true
		message.MediaName = media.FileName
		message.MediaSize = media.FileSize
	}
	if m.ReplyTo != nil {
		reply := toMessage(*m.ReplyTo)
		message.ReplyTo = &reply
	}
	return message
}

// remember caches a wire message (and its reply chain) for GetMessage.
func (c *Client) remember(m apiMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rememberLocked(m)
}

func (c *Client) rememberLocked(m apiMessage) {
	key := messageKey(m.Chat.Id, m.MessageId)
	if _, found := c.seen[key]; !found {
		c.order = append(c.order, key)
		if len(c.order) > seenLimit {
			evicted := c.order[0]
			c.order = c.order[1:]
			delete(c.seen, evicted)
			delete(c.fileIds, evicted)
		}
	}
	c.seen[key] = toMessage(m)
	if media := m.media(); media != nil {
		c.fileIds[key] = media.FileId
	}
	if m.ReplyTo != nil {
		c.rememberLocked(*m.ReplyTo)
	}
}

// call posts one JSON API method and returns the result payload.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := c.client.Do(request)
	if err != nil {
		return nil, APIError{Method: method, Description: err.Error()}
	}
	defer response.Body.Close()
	return decodeEnvelope(method, response.Body)
}

func decodeEnvelope(method string, body io.Reader) (json.RawMessage, error) {
	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, APIError{Method: method, Description: err.Error()}
	}
	if !envelope.OK {
		return nil, APIError{Method: method, Description: envelope.Description}
	}
	return envelope.Result, nil
}

func (c *Client) SendMessage(ctx context.Context, chatId int64, text string) (chat.Message, error) {
	result, err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatId,
		"text":    text,
	})
	if err != nil {
		return chat.Message{}, err
	}
	var sent apiMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return chat.Message{}, APIError{Method: "sendMessage", Description: err.Error()}
	}
	return toMessage(sent), nil
}

func (c *Client) EditMessage(ctx context.Context, chatId int64, messageId int, text string) error {
	_, err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatId,
		"message_id": messageId,
		"text":       text,
	})
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatId int64, messageId int) error {
	_, err := c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatId,
		"message_id": messageId,
	})
	return err
}

// GetMessage resolves a message from the seen cache. The bot API has no
// fetch endpoint, so only messages that have passed through the update
// loop (or arrived as replies) can be resolved.
func (c *Client) GetMessage(ctx context.Context, chatId int64, messageId int) (chat.Message, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	message, found := c.seen[messageKey(chatId, messageId)]
	if !found {
		return chat.Message{}, NotSeenError{ChatId: chatId, MessageId: messageId}
	}
	return message, nil
}

// DownloadMedia fetches msg's attachment into the dest directory and
// returns the local path.
func (c *Client) DownloadMedia(ctx context.Context, msg chat.Message, dest string) (string, error) {
	c.mutex.Lock()
	fileId, found := c.fileIds[messageKey(msg.ChatId, msg.MessageId)]
	c.mutex.Unlock()
	if !found {
		return "", NotSeenError{ChatId: msg.ChatId, MessageId: msg.MessageId}
	}

	result, err := c.call(ctx, "getFile", map[string]any{"file_id": fileId})
	if err != nil {
		return "", err
	}
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &file); err != nil {
		return "", APIError{Method: "getFile", Description: err.Error()}
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/file/bot%s/%s", c.base, c.token, file.FilePath), nil)
	if err != nil {
		return "", err
	}
	response, err := c.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", APIError{Method: "getFile", Description: response.Status}
	}

	name := msg.MediaName
	if name == "" {
		name = filepath.Base(file.FilePath)
	}
	path := filepath.Join(dest, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, response.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// UploadFile sends one file, typed by extension unless asDocument forces
// document transmission.
func (c *Client) UploadFile(ctx context.Context, chatId int64, path, caption string,
	asDocument bool) (chat.Message, error) {
	method := "sendDocument"
	if !asDocument {
		if m, found := mediaMethods[strings.ToLower(filepath.Ext(path))]; found {
			method = m
		}
	}
	fields := map[string]string{
		"chat_id": fmt.Sprintf("%d", chatId),
	}
	if caption != "" {
		fields["caption"] = caption
	}
	result, err := c.postFiles(ctx, method, fields,
		map[string]string{mediaFields[method]: path})
	if err != nil {
		return chat.Message{}, err
	}
	var sent apiMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return chat.Message{}, APIError{Method: method, Description: err.Error()}
	}
	return toMessage(sent), nil
}

// UploadMediaGroup sends a set of images/videos as one album; the caption
// rides on the first item.
func (c *Client) UploadMediaGroup(ctx context.Context, chatId int64, paths []string,
	caption string) ([]chat.Message, error) {
	media := make([]map[string]any, len(paths))
	files := make(map[string]string, len(paths))
	for i, path := range paths {
		field := fmt.Sprintf("file%d", i)
		kind := "photo"
		if mediaMethods[strings.ToLower(filepath.Ext(path))] == "sendVideo" {
			kind = "video"
		}
		media[i] = map[string]any{
			"type":  kind,
			"media": "attach://" + field,
		}
		if i == 0 && caption != "" {
			media[i]["caption"] = caption
		}
		files[field] = path
	}
	mediaJson, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}
	result, err := c.postFiles(ctx, "sendMediaGroup", map[string]string{
		"chat_id": fmt.Sprintf("%d", chatId),
		"media":   string(mediaJson),
	}, files)
	if err != nil {
		return nil, err
	}
	var sent []apiMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return nil, APIError{Method: "sendMediaGroup", Description: err.Error()}
	}
	messages := make([]chat.Message, len(sent))
	for i, m := range sent {
		messages[i] = toMessage(m)
	}
	return messages, nil
}

// postFiles sends one multipart API call, streaming the named files.
func (c *Client) postFiles(ctx context.Context, method string,
	fields map[string]string, files map[string]string) (json.RawMessage, error) {
	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		defer writer.Close()
		defer form.Close()
		for name, value := range fields {
			form.WriteField(name, value)
		}
		for field, path := range files {
			file, err := os.Open(path)
			if err != nil {
				writer.CloseWithError(err)
				return
			}
			part, err := form.CreateFormFile(field, filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, file)
			}
			file.Close()
			if err != nil {
				writer.CloseWithError(err)
				return
			}
		}
	}()

	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method), reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", form.FormDataContentType())
	response, err := c.client.Do(request)
	if err != nil {
		return nil, APIError{Method: method, Description: err.Error()}
	}
	defer response.Body.Close()
	return decodeEnvelope(method, response.Body)
}

// Poll runs the long-polling update loop until the context is canceled,
// delivering each incoming message to the handler. Transient fetch errors
// are waited out rather than surfaced.
func (c *Client) Poll(ctx context.Context, handler func(chat.Message)) {
	for ctx.Err() == nil {
		updates, err := c.getUpdates(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, update := range updates {
			if update.Message == nil {
				continue
			}
			c.remember(*update.Message)
			handler(toMessage(*update.Message))
		}
	}
}

type apiUpdate struct {
	UpdateId int64       `json:"update_id"`
	Message  *apiMessage `json:"message"`
}

func (c *Client) getUpdates(ctx context.Context) ([]apiUpdate, error) {
	c.mutex.Lock()
	offset := c.offset
	c.mutex.Unlock()

	result, err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []apiUpdate
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, APIError{Method: "getUpdates", Description: err.Error()}
	}

	c.mutex.Lock()
	for _, update := range updates {
		if update.UpdateId >= c.offset {
			c.offset = update.UpdateId + 1
		}
	}
	c.mutex.Unlock()
	return updates, nil
}
