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

package services

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/fetchd/fetchd/queue"
	"github.com/fetchd/fetchd/status"
	"github.com/fetchd/fetchd/tasks"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// connections accepted at once
const maxConnections = 100

// This type implements the AdminService interface, exposing the live task
// table and the admission gates over REST.
type admin struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *admin) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type StatsOutput struct {
	Body StatsResponse `doc:"runtime statistics for the service"`
}

// handler method for querying runtime statistics
func (service *admin) getStats(ctx context.Context,
	input *struct{}) (*StatsOutput, error) {

	controller := queue.Default()
	return &StatsOutput{
		Body: StatsResponse{
			Uptime:          int(service.uptime()),
			Tasks:           tasks.Count(),
			ActiveDownloads: controller.ActiveCount(queue.Download),
			QueuedDownloads: controller.WaitingCount(queue.Download),
			ActiveUploads:   controller.ActiveCount(queue.Upload),
			QueuedUploads:   controller.WaitingCount(queue.Upload),
		},
	}, nil
}

type TaskStatusOutput struct {
	Body TaskStatusResponse `doc:"A status message for the task with the given ID"`
}

type TaskListOutput struct {
	Body []TaskStatusResponse `doc:"A list of status messages, one per live task"`
}

// handler method for listing every live task
func (service *admin) getTasks(ctx context.Context,
	input *struct{}) (*TaskListOutput, error) {

	entries := status.Snapshot()
	output := &TaskListOutput{
		Body: make([]TaskStatusResponse, 0, len(entries)),
	}
	for _, entry := range entries {
		output.Body = append(output.Body, taskStatusResponse(entry))
	}
	slices.SortFunc(output.Body, func(t1, t2 TaskStatusResponse) int { // sort by id
		return cmp.Compare(t1.Id, t2.Id)
	})
	return output, nil
}

// handler method for getting the status of one task
func (service *admin) getTask(ctx context.Context,
	input *struct {
		Id string `path:"id" example:"f3a1b29c07" doc:"the ID of the requested task"`
	}) (*TaskStatusOutput, error) {

	entry, found := status.Get(input.Id)
	if !found {
		return nil, huma.Error404NotFound(fmt.Sprintf("Task %s not found", input.Id))
	}
	return &TaskStatusOutput{
		Body: taskStatusResponse(entry),
	}, nil
}

type TaskDeletionOutput struct {
	Status int
}

// handler method for canceling a task
func (service *admin) deleteTask(ctx context.Context,
	input *struct {
		Id string `path:"id" example:"f3a1b29c07" doc:"the ID of the task to cancel"`
	}) (*TaskDeletionOutput, error) {

	if err := tasks.CancelTask(input.Id); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &TaskDeletionOutput{
		Status: http.StatusAccepted,
	}, nil
}

type TaskStartOutput struct {
	Status int
}

// handler method for force-starting a queued task, skipping the gate wait
func (service *admin) startTask(ctx context.Context,
	input *struct {
		Id string `path:"id" example:"f3a1b29c07" doc:"the ID of the queued task to start"`
	}) (*TaskStartOutput, error) {

	if err := tasks.ForceStart(input.Id); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &TaskStartOutput{
		Status: http.StatusAccepted,
	}, nil
}

// returns the uptime for the service in seconds
func (service *admin) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs the admin/status service
func NewAdminService() (AdminService, error) {
	service := new(admin)
	service.Name = "fetchd"
	service.Version = version
	service.Port = -1

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Get(api, "/api/v1/stats", service.getStats)
	huma.Get(api, "/api/v1/tasks", service.getTasks)
	huma.Get(api, "/api/v1/tasks/{id}", service.getTask)
	huma.Delete(api, "/api/v1/tasks/{id}", service.deleteTask)
	huma.Post(api, "/api/v1/tasks/{id}/start", service.startTask)

	service.API = api
	return service, nil
}

// starts the admin service
func (service *admin) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s admin service on port %d...", service.Name, port))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, maxConnections)

	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *admin) Shutdown(ctx context.Context) error {
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *admin) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
}
