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

package rss

import "fmt"

// indicates that a URL did not yield a parseable feed
type InvalidFeedError struct {
	Link   string
	Reason string
}

func (e InvalidFeedError) Error() string {
	return fmt.Sprintf("The link %s doesn't seem to be an RSS feed: %s", e.Link, e.Reason)
}

// indicates that a filter pattern is not a valid regular expression
type InvalidFilterError struct {
	Pattern string
	Reason  string
}

func (e InvalidFilterError) Error() string {
	return fmt.Sprintf("The filter pattern %q is not a valid regular expression: %s",
		e.Pattern, e.Reason)
}

// indicates that an owner has no subscription with the given title
type NotFoundError struct {
	Owner int64
	Title string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No subscription titled %q was found.", e.Title)
}

// indicates that an owner already has a subscription with the given title
type DuplicateError struct {
	Owner int64
	Title string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("A subscription titled %q already exists.", e.Title)
}
