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

// Package chat names the message transport the orchestrator consumes. The
// concrete bot-API client lives in the botapi subpackage; the core only
// needs send/edit/delete plus media download/upload.
package chat

import "context"

// one chat message, as much of it as the core cares about
type Message struct {
	ChatId    int64
	MessageId int
	UserId    int64
	UserName  string
	Text      string
	// permalink of the message, used as the journal key
	Link string
	// media attachment, if any
	HasMedia  bool
	MediaName string
	MediaSize int64
	// the message this one replies to, if any
	ReplyTo *Message
	// whether the chat is a group/channel rather than a private chat
	IsSuperChat bool
}

// Tag renders the mention tag of the message's author.
func (m Message) Tag() string {
	if m.UserName != "" {
		return "@" + m.UserName
	}
	return ""
}

// Transport is the chat-protocol client interface consumed by the core.
type Transport interface {
	SendMessage(ctx context.Context, chatId int64, text string) (Message, error)
	EditMessage(ctx context.Context, chatId int64, messageId int, text string) error
	DeleteMessage(ctx context.Context, chatId int64, messageId int) error
	// fetches a message by chat and ID (merge ranges, thumbnail refs)
	GetMessage(ctx context.Context, chatId int64, messageId int) (Message, error)
	// downloads msg's media into dest, returning the local path
	DownloadMedia(ctx context.Context, msg Message, dest string) (string, error)
	// uploads one file; asDocument forces document transmission
	UploadFile(ctx context.Context, chatId int64, path, caption string, asDocument bool) (Message, error)
	// uploads a set of images/videos as one media group
	UploadMediaGroup(ctx context.Context, chatId int64, paths []string, caption string) ([]Message, error)
}
