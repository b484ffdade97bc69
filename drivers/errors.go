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

import "fmt"

// indicates that a link could not be understood by the selected driver
type InvalidLinkError struct {
	Link string
}

func (e InvalidLinkError) Error() string {
	return fmt.Sprintf("The link %s is not valid for this driver.", e.Link)
}

// indicates that the backend daemon rejected the driver's credentials
type AuthError struct {
	Driver string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("The %s backend rejected the configured credentials.", e.Driver)
}

// indicates that the backend daemon could not be reached
type UnreachableError struct {
	Driver string
	Reason string
}

func (e UnreachableError) Error() string {
	return fmt.Sprintf("The %s backend is unreachable: %s", e.Driver, e.Reason)
}

// indicates that the backend already holds an identical retrieval
type DuplicateError struct {
	Link string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("This download is already added: %s", e.Link)
}

// indicates that file selection was requested of a driver without it
type SelectionUnsupportedError struct {
	Driver string
}

func (e SelectionUnsupportedError) Error() string {
	return fmt.Sprintf("The %s driver does not support file selection.", e.Driver)
}

// indicates that a handle is unknown to its driver
type UnknownHandleError struct {
	Handle string
}

func (e UnknownHandleError) Error() string {
	return fmt.Sprintf("The download handle %s was not found.", e.Handle)
}

// indicates that a driver name has no registered provider
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No driver is registered under the name %s.", e.Name)
}

// indicates an attempt to register a driver name twice
type AlreadyRegisteredError struct {
	Name string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("A driver is already registered under the name %s.", e.Name)
}
