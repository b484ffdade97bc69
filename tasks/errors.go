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

import "fmt"

// indicates a submission without a link and without reply media
type NoLinkError struct{}

func (e NoLinkError) Error() string {
	return "No download link was given and the message is not a reply to media."
}

// indicates that no driver recognizes the submitted link
type NoDriverError struct {
	Link string
}

func (e NoDriverError) Error() string {
	return fmt.Sprintf("No download backend recognizes the link %s.", e.Link)
}

// indicates that the payload already exists at the drive destination
type DuplicateFoundError struct {
	Name string
	Link string
}

func (e DuplicateFoundError) Error() string {
	return fmt.Sprintf("%s already exists at the destination: %s", e.Name, e.Link)
}

// indicates a reference to a task ID that is not live
type NotFoundError struct {
	Id string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No live task has the ID %s.", e.Id)
}

// indicates a merge commit whose sub-downloads did not all land
type MergeInputError struct {
	Index  int
	Reason string
}

func (e MergeInputError) Error() string {
	return fmt.Sprintf("Merge input %d could not be fetched: %s", e.Index+1, e.Reason)
}
