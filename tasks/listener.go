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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
	"github.com/fetchd/fetchd/journal"
	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/queue"
	"github.com/fetchd/fetchd/sinks"
	"github.com/fetchd/fetchd/status"
)

// the drive operations the lifecycle consumes directly: the duplicate
// check, server-side clones, and index links
type DriveClient interface {
	FindExisting(ctx context.Context, name, folderId string) (string, bool, error)
	Clone(ctx context.Context, sourceId, folderId string) (string, error)
}

// the collaborators a listener works against, installed once at boot
type Deps struct {
	Transport chat.Transport
	Queue     *queue.Controller
	Runner    mediatools.Runner
	// used for the pre-admission duplicate check; nil disables it
	Drive DriveClient
}

// this type owns one task from admission to a terminal state. It
// receives the backend driver's callbacks, runs the processing
// pipeline, and hands the result to the chosen sink.
type Listener struct {
	Config *TaskConfig
	deps   Deps

	driver drivers.Driver
	handle string
	group  *sameDirGroup

	mutex       sync.Mutex
	cancelled   bool
	name        string
	size        int64
	hasDlSlot   bool
	hasUpSlot   bool
	selectionCh chan struct{}

	startedAt time.Time
	finalized sync.Once
	// closed when the task reaches a terminal state
	done chan struct{}
}

func NewListener(conf *TaskConfig, deps Deps) *Listener {
	return &Listener{
		Config:    conf,
		deps:      deps,
		name:      conf.NameHint,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done closes when the task reaches a terminal state.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// IsCancelled reports whether a cancel request has been observed. The
// pipeline polls this between stages and between tool invocations.
func (l *Listener) IsCancelled() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.cancelled
}

// Name returns the task's current payload name.
func (l *Listener) Name() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.name
}

// Run walks the task through its whole lifecycle. It blocks until a
// terminal state, so callers start it on its own goroutine.
func (l *Listener) Run(ctx context.Context) {
	conf := l.Config
	Track(l)

	if existing, found := l.checkDuplicate(ctx); found {
		l.notify(ctx, fmt.Sprintf("%s already exists at the destination.\n\n%s\n\ncc: %s",
			conf.NameHint, existing, conf.Tag))
		l.finalize(ctx, false)
		return
	}

	if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
		l.notify(ctx, fmt.Sprintf("Task failed: %s", err.Error()))
		l.finalize(ctx, false)
		return
	}
	if conf.GroupTotal > 1 {
		l.group = JoinGroup(groupKey(conf), conf.GroupTotal)
	}

	if !l.awaitSlot(ctx, queue.Download, status.PhaseQueuedDownload) {
		return
	}
	l.mutex.Lock()
	l.hasDlSlot = true
	l.mutex.Unlock()

	switch conf.Kind {
	case KindClone:
		l.runClone(ctx)
	case KindYtdlp:
		l.runYtdlp(ctx)
	case KindMerge:
		l.runMerge(ctx)
	default:
		l.beginDownload(ctx)
	}
}

// awaitSlot blocks on the given gate, keeping the status registry
// current while the task queues. It reports false when the wait ended
// in cancellation or shutdown, in which case the task is finalized.
func (l *Listener) awaitSlot(ctx context.Context, kind queue.Kind,
	phase status.Phase) bool {
	conf := l.Config
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     phase,
		Name:      l.Name(),
		Size:      l.size,
		StartedAt: l.startedAt,
	})
	admitted, wait := l.deps.Queue.Admit(conf.Id, kind)
	if admitted {
		return true
	}
	if err := <-wait; err != nil {
		var cancelledWait queue.CanceledWaitError
		if errors.As(err, &cancelledWait) {
			l.stopped(ctx)
		} else {
			l.notify(ctx, fmt.Sprintf("Task failed: %s", err.Error()))
			l.finalize(ctx, false)
		}
		return false
	}
	if l.IsCancelled() {
		l.stopped(ctx)
		return false
	}
	return true
}

// awaitGroup blocks until the given group signal fires or the task is
// cancelled. It returns false on cancellation so the caller can take
// the stopped path instead of waiting on siblings that no longer
// concern it.
func (l *Listener) awaitGroup(signal <-chan struct{}) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-signal:
			return true
		case <-ticker.C:
			if l.IsCancelled() {
				return false
			}
		}
	}
}

// beginDownload hands the link to the backend driver and starts the
// status tracker. The driver reports terminally through the callbacks.
func (l *Listener) beginDownload(ctx context.Context) {
	conf := l.Config
	driver, err := drivers.New(conf.DriverName)
	if err != nil {
		l.OnDownloadError(err.Error())
		return
	}
	if conf.Select && !drivers.SupportsSelection(driver) {
		l.OnDownloadError(drivers.SelectionUnsupportedError{
			Driver: conf.DriverName}.Error())
		return
	}
	l.driver = driver

	opts := drivers.BeginOptions{
		Username:  conf.AuthUser,
		Password:  conf.AuthPass,
		Headers:   conf.Headers,
		Select:    conf.Select,
		Seed:      conf.Seed,
		SeedRatio: conf.SeedRatio,
		SeedTime:  conf.SeedTime,
		Extra:     conf.RcloneFlags,
	}
	handle, err := driver.Begin(ctx, conf.Link, conf.Dir, opts, l)
	if err != nil {
		l.OnDownloadError(err.Error())
		return
	}
	l.mutex.Lock()
	l.handle = handle
	l.mutex.Unlock()

	if conf.Select {
		l.awaitSelection()
	}
	go l.trackDownload()
}

// awaitSelection arms the selection timeout: when the menu is never
// committed, every file stays wanted and the download starts anyway.
func (l *Listener) awaitSelection() {
	l.mutex.Lock()
	l.selectionCh = make(chan struct{})
	l.mutex.Unlock()
	timeout := time.Duration(config.Timeouts.Selection) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	go func() {
		select {
		case <-l.selectionCh:
		case <-time.After(timeout):
			l.CommitSelection(nil)
		case <-l.done:
		}
	}()
}

// CommitSelection forwards the chosen file indexes to the driver and
// resumes the paused retrieval. A nil slice keeps every file.
func (l *Listener) CommitSelection(indexes []int) error {
	l.mutex.Lock()
	if l.selectionCh != nil {
		select {
		case <-l.selectionCh:
		default:
			close(l.selectionCh)
		}
	}
	driver, handle := l.driver, l.handle
	l.mutex.Unlock()
	selector, ok := driver.(drivers.Selector)
	if !ok {
		return drivers.SelectionUnsupportedError{Driver: l.Config.DriverName}
	}
	return selector.CommitSelection(handle, indexes)
}

// trackDownload mirrors driver polls into the status registry until the
// task leaves the download phase.
func (l *Listener) trackDownload() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var metadataSince time.Time
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
		l.mutex.Lock()
		driver, handle := l.driver, l.handle
		l.mutex.Unlock()
		if driver == nil || handle == "" {
			continue
		}
		snapshot, err := driver.Poll(handle)
		if err != nil {
			return
		}
		if snapshot.State == drivers.StateMetadata && config.Timeouts.Torrent > 0 {
			if metadataSince.IsZero() {
				metadataSince = time.Now()
			} else if time.Since(metadataSince) >
				time.Duration(config.Timeouts.Torrent)*time.Second {
				l.notify(context.Background(), fmt.Sprintf(
					"Download stalled fetching metadata and was dropped.\n\ncc: %s",
					l.Config.Tag))
				l.Cancel()
				return
			}
		} else {
			metadataSince = time.Time{}
		}
		phase := status.PhaseDownloading
		switch snapshot.State {
		case drivers.StatePaused:
			phase = status.PhasePaused
		case drivers.StateSeeding:
			phase = status.PhaseSeeding
		case drivers.StateDone, drivers.StateFailed:
			return
		}
		if snapshot.Name != "" {
			l.mutex.Lock()
			if l.name == "" {
				l.name = snapshot.Name
			}
			l.size = snapshot.Total
			l.mutex.Unlock()
		}
		select {
		case <-l.done:
			return
		default:
		}
		status.Put(l.Config.Id, status.Entry{
			ChatId:         l.Config.ChatId,
			Phase:          phase,
			Driver:         l.Config.DriverName,
			Name:           l.Name(),
			Size:           snapshot.Total,
			ProcessedBytes: snapshot.Processed,
			Speed:          snapshot.Speed,
			Eta:            snapshot.Eta,
			StartedAt:      l.startedAt,
		})
	}
}

// OnDownloadStart journals the task so an interrupted run can re-notify
// the originating chat after a restart.
func (l *Listener) OnDownloadStart() {
	conf := l.Config
	if config.Service.IncompleteTaskNotifier && conf.OwnerId != config.Chats.OwnerId {
		if err := journal.Add(journal.Record{
			ChatId: conf.ChatId,
			Link:   conf.SourceLink,
			Tag:    conf.Tag,
		}); err != nil {
			slog.Warn(fmt.Sprintf("Task %s: journaling failed: %s", conf.Id, err.Error()))
		}
	}
}

// OnDownloadComplete runs the processing pipeline and the upload. The
// driver calls it exactly once, on its own goroutine.
func (l *Listener) OnDownloadComplete() {
	ctx := context.Background()
	conf := l.Config
	l.resolvePayload()

	if l.group != nil {
		owns := l.group.MemberDone(conf.Dir, false)
		if !owns {
			l.releaseSlot(queue.Download)
			if !l.awaitGroup(l.group.Resolved()) {
				l.notify(ctx, fmt.Sprintf("Task stopped.\n\ncc: %s", conf.Tag))
				l.finalize(ctx, true)
				return
			}
			if !l.group.ClaimOwner() {
				if !l.awaitGroup(l.group.Done()) {
					l.notify(ctx, fmt.Sprintf("Task stopped.\n\ncc: %s", conf.Tag))
				}
				l.finalize(ctx, true)
				return
			}
		}
		if err := l.adoptSiblings(); err != nil {
			l.OnUploadError(err.Error())
			return
		}
		// the combined tree uploads under the folder name
		l.mutex.Lock()
		l.name = conf.FolderName
		l.mutex.Unlock()
	}

	result, err := l.runPipeline(ctx)
	if err != nil {
		var cancelled mediatools.CancelledError
		if errors.As(err, &cancelled) || l.IsCancelled() {
			l.stopped(ctx)
		} else {
			l.OnUploadError(err.Error())
		}
		return
	}

	if !l.awaitSlot(ctx, queue.Upload, status.PhaseQueuedUpload) {
		return
	}
	l.mutex.Lock()
	l.hasUpSlot = true
	l.mutex.Unlock()
	l.upload(ctx, result)
}

// resolvePayload pins down the payload name once bytes are on disk
func (l *Listener) resolvePayload() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.name != "" {
		return
	}
	if entries, err := os.ReadDir(l.Config.Dir); err == nil && len(entries) == 1 {
		l.name = entries[0].Name()
	}
}

// adoptSiblings folds the other group members' payloads into this
// task's folder before the shared pipeline runs
func (l *Listener) adoptSiblings() error {
	for _, dir := range l.group.SiblingDirs(l.Config.Dir) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // the sibling already cleaned up
		}
		for _, entry := range entries {
			from := filepath.Join(dir, entry.Name())
			to := filepath.Join(l.Config.Dir, entry.Name())
			if err := os.Rename(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Listener) runPipeline(ctx context.Context) (mediatools.Result, error) {
	conf := l.Config
	name := l.Name()
	info, err := os.Stat(filepath.Join(conf.Dir, name))
	if err != nil {
		return mediatools.Result{}, fmt.Errorf("the downloaded payload is missing: %w", err)
	}
	size, _ := mediatools.PathSize(filepath.Join(conf.Dir, name))
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     status.PhaseProcessing,
		Name:      name,
		Size:      size,
		StartedAt: l.startedAt,
	})
	job := &mediatools.Job{
		Dir:       conf.Dir,
		Name:      name,
		IsFile:    !info.IsDir(),
		Options:   conf.Pipeline,
		Runner:    l.deps.Runner,
		Progress:  statusSink{id: conf.Id},
		Cancelled: l.IsCancelled,
		SlotReleased: func() {
			l.releaseSlot(queue.Download)
		},
	}
	result, err := mediatools.RunPipeline(ctx, job)
	if err != nil {
		return result, err
	}
	l.mutex.Lock()
	l.name = result.Name
	l.size = result.Size
	l.mutex.Unlock()
	return result, nil
}

func (l *Listener) upload(ctx context.Context, payload mediatools.Result) {
	conf := l.Config
	uploader, err := sinks.New(conf.UploadDest)
	if err != nil {
		l.OnUploadError(err.Error())
		return
	}
	if conf.UserTransmit && conf.UploadDest == "chat" {
		slog.Warn(fmt.Sprintf(
			"Task %s requested a user session, but none is configured; transmitting with the bot session.",
			conf.Id))
	}
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     status.PhaseUploading,
		Driver:    conf.UploadDest,
		Name:      payload.Name,
		Size:      payload.Size,
		StartedAt: l.startedAt,
	})
	spec := sinks.Spec{
		TaskId:      conf.Id,
		ChatId:      conf.ChatId,
		Caption:     conf.Caption,
		AsDocument:  conf.AsDocument,
		FolderId:    conf.DriveId,
		RemotePath:  conf.RemotePath,
		RcloneFlags: conf.RcloneFlags,
		Progress: func(processed, total int64) {
			status.Update(conf.Id, func(entry status.Entry) status.Entry {
				entry.ProcessedBytes = processed
				if total > 0 {
					entry.Size = total
				}
				return entry
			})
		},
	}
	result, err := uploader.Upload(ctx, payload.UploadPath, spec)
	if err != nil {
		var partial sinks.PartialUploadError
		if errors.As(err, &partial) {
			l.onPartialUpload(ctx, partial, result)
			return
		}
		l.OnUploadError(err.Error())
		return
	}
	l.OnUploadComplete(result)
}

// OnUploadComplete sends the completion notice and finalizes.
func (l *Listener) OnUploadComplete(result sinks.Result) {
	ctx := context.Background()
	conf := l.Config
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", l.Name())
	fmt.Fprintf(&b, "Size: %s\n", chat.ReadableSize(l.size))
	fmt.Fprintf(&b, "Elapsed: %s\n", chat.ReadableTime(time.Since(l.startedAt)))
	if conf.Kind == KindLeech {
		fmt.Fprintf(&b, "Total Files: %d\n", result.Files)
		if result.PartsSent > result.Files {
			fmt.Fprintf(&b, "Parts Sent: %d\n", result.PartsSent)
		}
	} else {
		if result.Folders > 0 {
			fmt.Fprintf(&b, "Type: Folder (%d files)\n", result.Files)
		} else {
			fmt.Fprintf(&b, "Type: File\n")
		}
		if result.Link != "" {
			fmt.Fprintf(&b, "\n%s\n", result.Link)
		}
		if conf.UploadDest == "gd" {
			if index := sinks.IndexLink(l.Name(), result.Folders > 0); index != "" {
				fmt.Fprintf(&b, "%s\n", index)
			}
		}
	}
	fmt.Fprintf(&b, "\ncc: %s", conf.Tag)
	l.notify(ctx, b.String())
	if l.group != nil {
		l.group.Finish()
	}
	l.finalize(ctx, true)
}

// onPartialUpload reports the items that landed before the sink failed
func (l *Listener) onPartialUpload(ctx context.Context,
	partial sinks.PartialUploadError, result sinks.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "Upload incomplete: %s\n", partial.Reason)
	fmt.Fprintf(&b, "Items that made it:\n")
	for _, landed := range partial.Landed {
		fmt.Fprintf(&b, "  %s\n", landed)
	}
	fmt.Fprintf(&b, "\ncc: %s", l.Config.Tag)
	l.notify(ctx, b.String())
	if l.group != nil {
		l.group.Finish()
	}
	l.finalize(ctx, true)
}

// OnDownloadError reports a terminal download failure, or the stopped
// notice when the reason is a cancellation.
func (l *Listener) OnDownloadError(reason string) {
	ctx := context.Background()
	if l.group != nil {
		l.group.MemberDone(l.Config.Dir, true)
	}
	if reason == "cancelled" || l.IsCancelled() {
		l.stopped(ctx)
		return
	}
	l.notify(ctx, fmt.Sprintf("Download failed: %s\n\ncc: %s", reason, l.Config.Tag))
	l.finalize(ctx, true)
}

// OnUploadError reports a terminal pipeline or sink failure.
func (l *Listener) OnUploadError(reason string) {
	ctx := context.Background()
	if l.IsCancelled() {
		l.stopped(ctx)
		return
	}
	if l.group != nil {
		l.group.Finish()
	}
	l.notify(ctx, fmt.Sprintf("Upload failed: %s\n\ncc: %s", reason, l.Config.Tag))
	l.finalize(ctx, true)
}

// Cancel requests cancellation: the driver is told to stop, any gate
// wait is woken, and the pipeline returns at its next stage boundary.
// Idempotent.
func (l *Listener) Cancel() {
	l.mutex.Lock()
	if l.cancelled {
		l.mutex.Unlock()
		return
	}
	l.cancelled = true
	driver, handle := l.driver, l.handle
	l.mutex.Unlock()

	if driver != nil && handle != "" {
		if err := driver.Cancel(handle); err != nil {
			slog.Debug(fmt.Sprintf("Task %s: driver cancel: %s", l.Config.Id, err.Error()))
		}
	}
	l.deps.Queue.CancelWait(l.Config.Id)
}

// stopped finalizes a cancelled task with a short notice
func (l *Listener) stopped(ctx context.Context) {
	if l.group != nil {
		l.group.Finish()
	}
	l.notify(ctx, fmt.Sprintf("Task stopped.\n\ncc: %s", l.Config.Tag))
	l.finalize(ctx, true)
}

// finalize releases every resource the task holds: gate slots, the
// status entry, the journal row, the working directory, and the live
// table entry. Runs exactly once on every terminal path.
func (l *Listener) finalize(ctx context.Context, removeDir bool) {
	l.finalized.Do(func() {
		conf := l.Config
		l.releaseSlot(queue.Download)
		l.releaseSlot(queue.Upload)
		status.Remove(conf.Id)
		if err := journal.Remove(conf.SourceLink); err != nil {
			slog.Warn(fmt.Sprintf("Task %s: journal removal failed: %s",
				conf.Id, err.Error()))
		}
		if removeDir {
			l.clean()
		}
		if config.Chats.DeleteLinks && conf.MessageId != 0 && l.deps.Transport != nil {
			l.deps.Transport.DeleteMessage(ctx, conf.ChatId, conf.MessageId)
		}
		Untrack(conf.Id)
		close(l.done)
	})
}

// clean removes the task's working directory tree, ignoring errors
func (l *Listener) clean() {
	root := filepath.Join(config.Service.DownloadDir, l.Config.Id)
	if err := os.RemoveAll(root); err != nil {
		slog.Warn(fmt.Sprintf("Task %s: cleanup of %s failed: %s",
			l.Config.Id, root, err.Error()))
	}
}

func (l *Listener) releaseSlot(kind queue.Kind) {
	l.mutex.Lock()
	held := &l.hasDlSlot
	if kind == queue.Upload {
		held = &l.hasUpSlot
	}
	if !*held {
		l.mutex.Unlock()
		return
	}
	*held = false
	l.mutex.Unlock()
	l.deps.Queue.Release(l.Config.Id, kind)
}

// checkDuplicate queries the drive destination for an entry with the
// task's name before admission (non-leech drive tasks only)
func (l *Listener) checkDuplicate(ctx context.Context) (string, bool) {
	conf := l.Config
	if conf.Kind == KindLeech || conf.UploadDest != "gd" || l.deps.Drive == nil ||
		conf.NameHint == "" {
		return "", false
	}
	link, found, err := l.deps.Drive.FindExisting(ctx, conf.NameHint, conf.DriveId)
	if err != nil {
		slog.Debug(fmt.Sprintf("Task %s: duplicate check failed: %s",
			conf.Id, err.Error()))
		return "", false
	}
	return link, found
}

func (l *Listener) notify(ctx context.Context, text string) {
	if l.deps.Transport == nil {
		return
	}
	if _, err := l.deps.Transport.SendMessage(ctx, l.Config.ChatId, text); err != nil {
		slog.Warn(fmt.Sprintf("Task %s: notice delivery failed: %s",
			l.Config.Id, err.Error()))
	}
}

func groupKey(conf *TaskConfig) string {
	return fmt.Sprintf("%d/%s", conf.ChatId, conf.FolderName)
}

// forwards pipeline tool progress into the status registry
type statusSink struct {
	id string
}

func (s statusSink) Update(processed, total int64) {
	status.Update(s.id, func(entry status.Entry) status.Entry {
		entry.ProcessedBytes = processed
		if total > 0 {
			entry.Size = total
		}
		return entry
	})
}
