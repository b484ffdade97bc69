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

// Package sabnzbd drives a SABnzbd daemon through its JSON API. The
// daemon moves the bytes; this driver adds NZB links to the queue and
// follows them through the queue and history endpoints.
package sabnzbd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "sabnzbd"

func init() {
	drivers.RegisterProvider(driverName, NewDriver)
}

// this type implements the Driver interface over the SABnzbd API
type Driver struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func NewDriver(conf config.DaemonConfig) (drivers.Driver, error) {
	if conf.URL == "" {
		return nil, drivers.UnreachableError{Driver: driverName,
			Reason: "no daemon URL is configured"}
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Driver{
		baseURL: strings.TrimSuffix(conf.URL, "/"),
		apiKey:  conf.APIKey,
		client:  client,
	}, nil
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) call(ctx context.Context, query url.Values, result any) error {
	query.Set("apikey", d.apiKey)
	query.Set("output", "json")
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/api?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	response, err := d.client.Do(request)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return drivers.UnreachableError{Driver: driverName,
			Reason: "the daemon answered with " + response.Status}
	}
	return json.NewDecoder(response.Body).Decode(result)
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	query := url.Values{
		"mode": {"addurl"},
		"name": {link},
		"dir":  {dest},
	}
	var added struct {
		Status bool     `json:"status"`
		NzoIds []string `json:"nzo_ids"`
		Error  string   `json:"error"`
	}
	if err := d.call(ctx, query, &added); err != nil {
		return "", err
	}
	if !added.Status || len(added.NzoIds) == 0 {
		reason := added.Error
		if reason == "" {
			reason = "the daemon rejected the NZB link"
		}
		if strings.Contains(strings.ToLower(reason), "api key") {
			return "", drivers.AuthError{Driver: driverName}
		}
		return "", drivers.InvalidLinkError{Link: link}
	}
	handle := added.NzoIds[0]
	go drivers.Watch(context.WithoutCancel(ctx), d, handle, sink, 2*time.Second)
	return handle, nil
}

// one job in the daemon's active queue
type queueSlot struct {
	NzoId      string `json:"nzo_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	MB         string `json:"mb"`
	MBLeft     string `json:"mbleft"`
	TimeLeft   string `json:"timeleft"`
	Percentage string `json:"percentage"`
}

// one finished job in the daemon's history
type historySlot struct {
	NzoId       string `json:"nzo_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Bytes       int64  `json:"bytes"`
	FailMessage string `json:"fail_message"`
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	ctx := context.Background()
	var queue struct {
		Queue struct {
			Slots []queueSlot `json:"slots"`
			Speed string      `json:"kbpersec"`
		} `json:"queue"`
	}
	err := d.call(ctx, url.Values{"mode": {"queue"}, "nzo_ids": {handle}}, &queue)
	if err != nil {
		return drivers.ProgressSnapshot{}, err
	}
	for _, slot := range queue.Queue.Slots {
		if slot.NzoId != handle {
			continue
		}
		return queueSnapshot(slot, queue.Queue.Speed), nil
	}

	// not queued anymore; the job finished one way or the other
	var history struct {
		History struct {
			Slots []historySlot `json:"slots"`
		} `json:"history"`
	}
	err = d.call(ctx, url.Values{"mode": {"history"}, "nzo_ids": {handle}}, &history)
	if err != nil {
		return drivers.ProgressSnapshot{}, err
	}
	for _, slot := range history.History.Slots {
		if slot.NzoId != handle {
			continue
		}
		snapshot := drivers.ProgressSnapshot{
			Name:      slot.Name,
			Processed: slot.Bytes,
			Total:     slot.Bytes,
		}
		if strings.EqualFold(slot.Status, "Completed") {
			snapshot.State = drivers.StateDone
		} else {
			snapshot.State = drivers.StateFailed
			snapshot.Error = slot.FailMessage
			if snapshot.Error == "" {
				snapshot.Error = "The NZB job failed."
			}
		}
		return snapshot, nil
	}
	return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
}

func queueSnapshot(slot queueSlot, kbPerSec string) drivers.ProgressSnapshot {
	totalMB, _ := strconv.ParseFloat(slot.MB, 64)
	leftMB, _ := strconv.ParseFloat(slot.MBLeft, 64)
	speedKB, _ := strconv.ParseFloat(kbPerSec, 64)
	total := int64(totalMB * 1024 * 1024)
	processed := int64((totalMB - leftMB) * 1024 * 1024)
	snapshot := drivers.ProgressSnapshot{
		Name:      slot.Filename,
		Processed: processed,
		Total:     total,
		Speed:     int64(speedKB * 1024),
	}
	switch strings.ToLower(slot.Status) {
	case "downloading", "queued":
		snapshot.State = drivers.StateActive
	case "paused":
		snapshot.State = drivers.StatePaused
	case "grabbing", "verifying", "repairing", "fetching":
		snapshot.State = drivers.StateMetadata
	default:
		snapshot.State = drivers.StateActive
	}
	if snapshot.Speed > 0 && total > processed {
		snapshot.Eta = time.Duration((total-processed)/snapshot.Speed) * time.Second
	}
	return snapshot
}

func (d *Driver) Cancel(handle string) error {
	query := url.Values{
		"mode":      {"queue"},
		"name":      {"delete"},
		"value":     {handle},
		"del_files": {"1"},
	}
	var result struct {
		Status bool `json:"status"`
	}
	// a job already out of the queue makes delete a no-op, which keeps
	// cancel idempotent
	return d.call(context.Background(), query, &result)
}
