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

// Package qbit drives a qBittorrent daemon over its WebUI API. Each task
// gets a unique tag at add time; the tag resolves the torrent hash, which
// then serves as the retrieval handle.
package qbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "qbit"

func init() {
	drivers.RegisterProvider(driverName, NewDriver)
}

// this type implements the Driver and Selector interfaces over the
// qBittorrent WebUI API
type Driver struct {
	baseURL  string
	username string
	password string
	client   *retryablehttp.Client
}

func NewDriver(conf config.DaemonConfig) (drivers.Driver, error) {
	if conf.URL == "" {
		return nil, drivers.UnreachableError{Driver: driverName,
			Reason: "no daemon URL is configured"}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Jar = jar
	return &Driver{
		baseURL:  strings.TrimSuffix(conf.URL, "/"),
		username: conf.Username,
		password: conf.Password,
		client:   client,
	}, nil
}

func (d *Driver) Name() string {
	return driverName
}

// one torrent row from /api/v2/torrents/info
type torrentInfo struct {
	Hash       string  `json:"hash"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Size       int64   `json:"size"`
	Completed  int64   `json:"completed"`
	Dlspeed    int64   `json:"dlspeed"`
	Eta        int64   `json:"eta"`
	NumSeeds   int     `json:"num_seeds"`
	NumLeechs  int     `json:"num_leechs"`
	AmountLeft int64   `json:"amount_left"`
	Progress   float64 `json:"progress"`
}

func (d *Driver) login(ctx context.Context) error {
	form := url.Values{"username": {d.username}, "password": {d.password}}
	response, err := d.postForm(ctx, "/api/v2/auth/login", form)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) == "Fails." {
		return drivers.AuthError{Driver: driverName}
	}
	return nil
}

func (d *Driver) postForm(ctx context.Context, endpoint string,
	form url.Values) (*http.Response, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.client.Do(request)
}

func (d *Driver) get(ctx context.Context, endpoint string, query url.Values,
	result any) error {
	target := d.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
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
	if err := d.login(ctx); err != nil {
		return "", err
	}
	tag := fmt.Sprintf("fetchd-%d", time.Now().UnixNano())
	form := url.Values{
		"urls":     {link},
		"savepath": {dest},
		"tags":     {tag},
	}
	if opts.Select {
		form.Set("stopped", "true")
		form.Set("paused", "true") // older daemons use the old key
	}
	if opts.Seed && opts.SeedRatio > 0 {
		form.Set("ratioLimit", strconv.FormatFloat(opts.SeedRatio, 'f', 2, 64))
	}
	if opts.Seed && opts.SeedTime > 0 {
		form.Set("seedingTimeLimit",
			strconv.Itoa(int(opts.SeedTime/time.Minute)))
	}
	response, err := d.postForm(ctx, "/api/v2/torrents/add", form)
	if err != nil {
		return "", drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), "Ok") {
		return "", drivers.DuplicateError{Link: link}
	}

	hash, err := d.resolveHash(ctx, tag)
	if err != nil {
		return "", err
	}
	go drivers.Watch(context.WithoutCancel(ctx), d, hash, sink, 2*time.Second)
	return hash, nil
}

// polls the tag until the daemon has registered the torrent and reports
// its hash
func (d *Driver) resolveHash(ctx context.Context, tag string) (string, error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var torrents []torrentInfo
		err := d.get(ctx, "/api/v2/torrents/info",
			url.Values{"tag": {tag}}, &torrents)
		if err == nil && len(torrents) > 0 {
			return torrents[0].Hash, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return "", drivers.UnreachableError{Driver: driverName,
		Reason: "the added torrent never appeared in the daemon"}
}

func (d *Driver) findTorrent(ctx context.Context, hash string) (torrentInfo, error) {
	var torrents []torrentInfo
	err := d.get(ctx, "/api/v2/torrents/info",
		url.Values{"hashes": {hash}}, &torrents)
	if err != nil {
		return torrentInfo{}, err
	}
	if len(torrents) == 0 {
		return torrentInfo{}, drivers.UnknownHandleError{Handle: hash}
	}
	return torrents[0], nil
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	torrent, err := d.findTorrent(context.Background(), handle)
	if err != nil {
		return drivers.ProgressSnapshot{}, err
	}
	snapshot := drivers.ProgressSnapshot{
		State:     mapState(torrent.State),
		Name:      torrent.Name,
		Processed: torrent.Completed,
		Total:     torrent.Size,
		Speed:     torrent.Dlspeed,
		Eta:       time.Duration(torrent.Eta) * time.Second,
		Seeders:   torrent.NumSeeds,
		Leechers:  torrent.NumLeechs,
	}
	if snapshot.State == drivers.StateFailed {
		snapshot.Error = "The torrent errored or lost its files."
	}
	return snapshot, nil
}

func mapState(state string) drivers.State {
	switch state {
	case "metaDL", "checkingDL", "checkingResumeData", "allocating":
		return drivers.StateMetadata
	case "downloading", "forcedDL", "stalledDL", "queuedDL":
		return drivers.StateActive
	case "uploading", "forcedUP", "stalledUP", "queuedUP", "checkingUP":
		return drivers.StateSeeding
	case "pausedDL", "stoppedDL":
		return drivers.StatePaused
	case "error", "missingFiles", "unknown":
		return drivers.StateFailed
	case "pausedUP", "stoppedUP":
		return drivers.StateDone
	}
	return drivers.StateActive
}

func (d *Driver) Cancel(handle string) error {
	form := url.Values{"hashes": {handle}, "deleteFiles": {"false"}}
	response, err := d.postForm(context.Background(), "/api/v2/torrents/delete", form)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	response.Body.Close()
	return nil
}

// one file row from /api/v2/torrents/files
type torrentFile struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Priority int    `json:"priority"`
}

// Files lists the torrent's payload for a selection menu.
func (d *Driver) Files(ctx context.Context, handle string) ([]torrentFile, error) {
	var files []torrentFile
	err := d.get(ctx, "/api/v2/torrents/files",
		url.Values{"hash": {handle}}, &files)
	return files, err
}

// CommitSelection keeps only the chosen file indexes, deprioritizing the
// rest, and resumes the paused torrent.
func (d *Driver) CommitSelection(handle string, indexes []int) error {
	ctx := context.Background()
	files, err := d.Files(ctx, handle)
	if err != nil {
		return err
	}
	wanted := make(map[int]bool, len(indexes))
	for _, index := range indexes {
		wanted[index] = true
	}
	var skipped []string
	for _, file := range files {
		if !wanted[file.Index] {
			skipped = append(skipped, strconv.Itoa(file.Index))
		}
	}
	if len(skipped) > 0 {
		form := url.Values{
			"hash":     {handle},
			"id":       {strings.Join(skipped, "|")},
			"priority": {"0"},
		}
		response, err := d.postForm(ctx, "/api/v2/torrents/filePrio", form)
		if err != nil {
			return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
		}
		response.Body.Close()
	}
	form := url.Values{"hashes": {handle}}
	response, err := d.postForm(ctx, "/api/v2/torrents/start", form)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	response.Body.Close()
	return nil
}
