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

import "fmt"

// indicates that the bot API answered a method call with an error
type APIError struct {
	Method      string
	Description string
}

func (e APIError) Error() string {
	return fmt.Sprintf("The %s call failed: %s", e.Method, e.Description)
}

// indicates that a referenced message never passed through the update loop
type NotSeenError struct {
	ChatId    int64
	MessageId int
}

func (e NotSeenError) Error() string {
	return fmt.Sprintf("Message %d:%d is not available to this bot.", e.ChatId, e.MessageId)
}
