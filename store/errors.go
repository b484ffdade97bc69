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

package store

import "fmt"

// indicates that the store has not been opened
type NotOpenError struct{}

func (e NotOpenError) Error() string {
	return "The document store is not open."
}

// indicates that a document is sought but not found
type NotFoundError struct {
	Collection string
	Key        string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No document %s exists in collection %s.", e.Key, e.Collection)
}

// indicates that the configured credentials key cannot encrypt blobs
type BadCredentialsKeyError struct {
	Reason string
}

func (e BadCredentialsKeyError) Error() string {
	return fmt.Sprintf("The configured CREDENTIALS_KEY is unusable: %s", e.Reason)
}
