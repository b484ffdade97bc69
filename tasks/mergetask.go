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
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/fetchd/fetchd/drivers"
	"github.com/fetchd/fetchd/drivers/chatmedia"
	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/merge"
	"github.com/fetchd/fetchd/status"
)

// collects one sub-download's terminal callback on a channel
type waitSink struct {
	started chan struct{}
	result  chan error
}

func newWaitSink() *waitSink {
	return &waitSink{
		started: make(chan struct{}, 1),
		result:  make(chan error, 1),
	}
}

func (s *waitSink) OnDownloadStart() {
	select {
	case s.started <- struct{}{}:
	default:
	}
}

func (s *waitSink) OnDownloadComplete() {
	s.result <- nil
}

func (s *waitSink) OnDownloadError(reason string) {
	s.result <- fmt.Errorf("%s", reason)
}

// runMerge fetches every committed input into a numbered subdirectory,
// concatenates them with the chosen merge mode, and rejoins the normal
// completion path with the merged file as the payload
func (l *Listener) runMerge(ctx context.Context) {
	conf := l.Config
	l.OnDownloadStart()
	status.Put(conf.Id, status.Entry{
		ChatId:    conf.ChatId,
		Phase:     status.PhaseDownloading,
		Driver:    "merge",
		Name:      conf.NameHint,
		StartedAt: l.startedAt,
	})

	paths, err := l.fetchInputs(ctx)
	if err != nil {
		if l.IsCancelled() {
			l.stopped(ctx)
		} else {
			l.OnDownloadError(err.Error())
		}
		return
	}

	output, err := l.concatenate(ctx, paths)
	if err != nil {
		var cancelled mediatools.CancelledError
		if errors.As(err, &cancelled) || l.IsCancelled() {
			l.stopped(ctx)
			return
		}
		l.OnUploadError(err.Error())
		return
	}

	// the merged file is the payload; the numbered inputs are gone
	l.mutex.Lock()
	l.name = filepath.Base(output)
	l.mutex.Unlock()
	l.OnDownloadComplete()
}

// fetchInputs downloads every session input in parallel, each into its
// own numbered subdirectory, and returns the landed file paths in input
// order
func (l *Listener) fetchInputs(ctx context.Context) ([]string, error) {
	conf := l.Config
	paths := make([]string, len(conf.MergeInputs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, input := range conf.MergeInputs {
		group.Go(func() error {
			subdir := filepath.Join(conf.Dir, fmt.Sprintf("%02d", i+1))
			if err := os.MkdirAll(subdir, 0o755); err != nil {
				return MergeInputError{Index: i, Reason: err.Error()}
			}
			link := input.URL
			driverName := ""
			if link == "" {
				link = chatmedia.FormatLink(conf.ChatId, int(input.MessageId))
				driverName = "chatmedia"
			} else {
				var err error
				driverName, err = ResolveDriver(link)
				if err != nil {
					return MergeInputError{Index: i, Reason: err.Error()}
				}
			}
			driver, err := drivers.New(driverName)
			if err != nil {
				return MergeInputError{Index: i, Reason: err.Error()}
			}
			sink := newWaitSink()
			handle, err := driver.Begin(groupCtx, link, subdir,
				drivers.BeginOptions{}, sink)
			if err != nil {
				return MergeInputError{Index: i, Reason: err.Error()}
			}
			select {
			case err := <-sink.result:
				if err != nil {
					return MergeInputError{Index: i, Reason: err.Error()}
				}
			case <-groupCtx.Done():
				driver.Cancel(handle)
				return groupCtx.Err()
			}
			entries, err := os.ReadDir(subdir)
			if err != nil || len(entries) == 0 {
				return MergeInputError{Index: i, Reason: "nothing landed"}
			}
			paths[i] = filepath.Join(subdir, entries[0].Name())
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// concatenate probes the inputs, picks the merge mode, runs the tool,
// and removes the consumed inputs on success
func (l *Listener) concatenate(ctx context.Context, paths []string) (string, error) {
	conf := l.Config
	infos := make([]mediatools.MediaInfo, len(paths))
	names := make([]string, len(paths))
	hasAss := false
	for i, path := range paths {
		info, err := mediatools.Probe(ctx, l.deps.Runner, path)
		if err != nil {
			return "", err
		}
		infos[i] = info
		names[i] = filepath.Base(path)
		if info.HasAssSubtitles() {
			hasAss = true
		}
	}

	outputName := conf.NameHint
	if outputName == "" {
		outputName = merge.OutputName(names, hasAss)
	}
	output := filepath.Join(conf.Dir, outputName)
	mode := merge.ChooseMode(infos)

	status.Update(conf.Id, func(entry status.Entry) status.Entry {
		entry.Phase = status.PhaseProcessing
		entry.Name = outputName
		return entry
	})

	listPath := ""
	if mode == merge.ModeConcat {
		listPath = filepath.Join(conf.Dir, "inputs.txt")
		if err := os.WriteFile(listPath,
			[]byte(merge.ConcatListFile(paths)), 0o644); err != nil {
			return "", err
		}
	}
	argv := mediatools.RewriteFFmpegArgs(merge.Args(mode, paths, listPath, output))
	code, err := l.runCancellable(ctx, argv)
	if err != nil {
		return "", err
	}
	if code == mediatools.KilledExitCode {
		return "", mediatools.CancelledError{}
	}
	if code != 0 {
		return "", fmt.Errorf("the merge tool exited with code %d (%s mode)",
			code, mode)
	}

	for i := range paths {
		os.RemoveAll(filepath.Join(conf.Dir, fmt.Sprintf("%02d", i+1)))
	}
	if listPath != "" {
		os.Remove(listPath)
	}
	return output, nil
}
