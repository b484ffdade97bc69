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

// Package services exposes the admin/status REST API: service info,
// runtime statistics, the live task list, and task cancellation. The API
// binds to localhost-facing deployments; access control is the
// deployment's concern, not the service's.
package services

import (
	"context"

	"github.com/fetchd/fetchd/status"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"fetchd" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a response for a runtime statistics query (GET)
type StatsResponse struct {
	// seconds since the service started
	Uptime int `json:"uptime"`
	// number of live (tracked, unfinalized) tasks
	Tasks int `json:"tasks"`
	// downloads currently holding a gate slot
	ActiveDownloads int `json:"active_downloads"`
	// downloads waiting for a gate slot
	QueuedDownloads int `json:"queued_downloads"`
	// uploads currently holding a gate slot
	ActiveUploads int `json:"active_uploads"`
	// uploads waiting for a gate slot
	QueuedUploads int `json:"queued_uploads"`
}

// a response describing one live task (GET)
type TaskStatusResponse struct {
	Id        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Driver    string  `json:"driver,omitempty"`
	Phase     string  `json:"phase"`
	Size      int64   `json:"size"`
	Processed int64   `json:"processed"`
	// bytes per second
	Speed int64 `json:"speed"`
	// estimated seconds to completion
	Eta int `json:"eta"`
	// completion percentage in [0, 100]
	Progress float64 `json:"progress"`
}

func taskStatusResponse(entry status.Entry) TaskStatusResponse {
	return TaskStatusResponse{
		Id:        entry.TaskId,
		Name:      entry.Name,
		Driver:    entry.Driver,
		Phase:     entry.Phase.String(),
		Size:      entry.Size,
		Processed: entry.ProcessedBytes,
		Speed:     entry.Speed,
		Eta:       int(entry.Eta.Seconds()),
		Progress:  entry.Progress(),
	}
}

// AdminService defines the interface for the admin/status API.
type AdminService interface {
	// Starts the service on the selected port, returning an error that
	// indicates success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active
	// connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
