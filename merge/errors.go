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

package merge

import "fmt"

// indicates an operation attempted on a session not in the Open state
type NoSessionError struct {
	Owner int64
}

func (e NoSessionError) Error() string {
	return fmt.Sprintf("User %d has no open merge session.", e.Owner)
}

// indicates an input already present in the session
type DuplicateInputError struct {
	Input string
}

func (e DuplicateInputError) Error() string {
	return fmt.Sprintf("%s was already added to this merge session.", e.Input)
}

// indicates the per-session input count limit was reached
type SessionFullError struct {
	Limit int
}

func (e SessionFullError) Error() string {
	return fmt.Sprintf("This merge session already holds %d inputs.", e.Limit)
}

// indicates the cumulative size estimate would exceed the session cap
type SizeLimitError struct {
	Limit int64
}

func (e SizeLimitError) Error() string {
	return fmt.Sprintf("Adding this input would push the merge session past %d bytes.",
		e.Limit)
}

// indicates a commit on a session with fewer than two inputs
type NotEnoughInputsError struct {
	Count int
}

func (e NotEnoughInputsError) Error() string {
	return fmt.Sprintf("A merge needs at least 2 inputs (got %d).", e.Count)
}

// indicates a message-id range that couldn't be parsed or is inverted
type BadRangeError struct {
	Spec string
}

func (e BadRangeError) Error() string {
	return fmt.Sprintf("Invalid message range %q (expected base/a-b with a <= b).",
		e.Spec)
}
