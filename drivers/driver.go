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

// Package drivers defines the uniform abstraction over the concrete download
// backends. Each driver is an opaque handle producer plus a poller; the task
// lifecycle never sees protocol details. Drivers are registered by name at
// boot and instantiated on demand, so tests can substitute fakes.
package drivers

import (
	"context"
	"time"

	"github.com/fetchd/fetchd/config"
)

// the state a retrieval can be observed in
type State int

const (
	StateMetadata State = iota // fetching metadata, not yet producing bytes
	StateActive
	StateSeeding
	StatePaused
	StateFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateMetadata:
		return "metadata"
	case StateActive:
		return "active"
	case StateSeeding:
		return "seeding"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// a pure read of a retrieval's progress; may be taken at any time
type ProgressSnapshot struct {
	State     State
	Name      string
	Processed int64
	Total     int64 // 0 when unknown
	Speed     int64 // bytes per second
	Eta       time.Duration
	Seeders   int
	Leechers  int
	Error     string // set when State == StateFailed
}

// options forwarded opaquely to a driver's Begin
type BeginOptions struct {
	// HTTP basic auth and extra request headers
	Username string
	Password string
	Headers  map[string]string
	// pause before producing bytes so files can be selected
	Select bool
	// seed the payload after completion (torrent drivers only)
	Seed      bool
	SeedRatio float64
	SeedTime  time.Duration
	// driver-specific passthrough flags
	Extra string
}

// Sink receives lifecycle callbacks for one retrieval. Drivers hold only the
// task ID and this narrow interface, never the listener itself; cross-lookups
// go through the status registry.
type Sink interface {
	// called before the driver produces any bytes
	OnDownloadStart()
	// called exactly once on terminal success
	OnDownloadComplete()
	// called on terminal failure, including cancellation ("cancelled")
	OnDownloadError(reason string)
}

// Driver is the uniform capability set over heterogeneous retrieval
// mechanisms. Begin enqueues a retrieval and returns an opaque handle the
// driver recognizes in Cancel and Poll.
type Driver interface {
	// the registered name of this driver
	Name() string
	// enqueues retrieval of link into the dest directory; the driver calls
	// sink.OnDownloadStart before producing bytes and exactly one of
	// OnDownloadComplete / OnDownloadError afterward
	Begin(ctx context.Context, link, dest string, opts BeginOptions, sink Sink) (string, error)
	// requests cancellation; idempotent
	Cancel(handle string) error
	// pure read of the retrieval's progress
	Poll(handle string) (ProgressSnapshot, error)
}

// Selector is implemented by drivers that support pre-start file selection.
// Begin with opts.Select leaves the retrieval paused until CommitSelection.
type Selector interface {
	CommitSelection(handle string, indexes []int) error
}

// SupportsSelection reports whether d can honor the select flag.
func SupportsSelection(d Driver) bool {
	_, ok := d.(Selector)
	return ok
}

// a function that creates a driver from its daemon connection parameters
type Provider func(conf config.DaemonConfig) (Driver, error)

// registered driver providers and instantiated drivers
var allProviders = make(map[string]Provider)
var allDrivers = make(map[string]Driver)

// RegisterProvider associates a driver name with a provider function.
func RegisterProvider(name string, provider Provider) error {
	if _, found := allProviders[name]; found {
		return &AlreadyRegisteredError{Name: name}
	}
	allProviders[name] = provider
	return nil
}

// New returns the driver with the given registered name, creating it from
// the corresponding DAEMONS config entry on first use.
func New(name string) (Driver, error) {
	if driver, found := allDrivers[name]; found {
		return driver, nil
	}
	provider, found := allProviders[name]
	if !found {
		return nil, &NotFoundError{Name: name}
	}
	driver, err := provider(config.Daemons[name])
	if err != nil {
		return nil, err
	}
	allDrivers[name] = driver
	return driver, nil
}

// Registered reports whether a provider exists for the given name.
func Registered(name string) bool {
	_, found := allProviders[name]
	return found
}

// ClearRegistry empties the provider and driver tables. Used by tests.
func ClearRegistry() {
	allProviders = make(map[string]Provider)
	allDrivers = make(map[string]Driver)
}
