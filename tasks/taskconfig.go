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

// Package tasks implements the per-task lifecycle: admission through the
// queue gates, the backend download, the processing pipeline, the upload,
// and finalization with its cleanup discipline. One Listener owns one
// TaskConfig from admission to a terminal state.
package tasks

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/dispatch"
	"github.com/fetchd/fetchd/drivers/chatmedia"
	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/merge"
	"github.com/fetchd/fetchd/users"
)

// the behavior family a task belongs to
type Kind int

const (
	KindMirror Kind = iota
	KindLeech
	KindClone
	KindMerge
	KindYtdlp
)

func (k Kind) String() string {
	switch k {
	case KindMirror:
		return "mirror"
	case KindLeech:
		return "leech"
	case KindClone:
		return "clone"
	case KindMerge:
		return "merge"
	case KindYtdlp:
		return "ytdlp"
	}
	return "unknown"
}

// sample videos are one minute built from four-second segments
const (
	sampleDuration     = 60
	samplePartDuration = 4
	screenshotCount    = 10
)

// the immutable description of one task, resolved from the command, the
// owner's saved settings, and the service configuration
type TaskConfig struct {
	Id   string
	Kind Kind

	OwnerId   int64
	ChatId    int64
	MessageId int
	Tag       string
	// permalink of the originating message; the journal key
	SourceLink string

	Link       string
	DriverName string
	// working directory of the task, under the configured base
	Dir string
	// same-directory key; tasks sharing it coalesce into one upload
	FolderName string
	NameHint   string

	UploadDest  string // sink name: "chat", "gd", "rc", "gofile", "yt"
	DriveId     string // drive folder for the "gd" sink
	RemotePath  string // destination for the "rc" sink
	RcloneFlags string
	Caption     string
	AsDocument  bool
	// prefer the user's own session for chat transmission when one exists
	UserTransmit bool
	// members expected in the same-directory group, including this task
	GroupTotal int

	Select    bool
	Seed      bool
	SeedRatio float64
	SeedTime  time.Duration
	AuthUser  string
	AuthPass  string
	Headers   map[string]string
	Thumbnail string

	Pipeline mediatools.Options

	// committed merge-session inputs, set for KindMerge only
	MergeInputs []merge.Input
}

// NewId produces the random 10-character task identifier.
func NewId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Configure resolves a parsed command and its originating message into a
// TaskConfig. Flags override the owner's saved settings, which override
// the service defaults.
func Configure(message chat.Message, command dispatch.Command) (*TaskConfig, error) {
	id := NewId()
	settings := users.Get(message.UserId)
	args := command.Args

	conf := &TaskConfig{
		Id:         id,
		OwnerId:    message.UserId,
		ChatId:     message.ChatId,
		MessageId:  message.MessageId,
		Tag:        message.Tag(),
		SourceLink: message.Link,
		Link:       command.Link,
		FolderName: args.SameDir,
		NameHint:   args.Name,
		Select:     args.Select,
		Seed:       args.Seed,
		SeedRatio:  args.SeedRatio,
		SeedTime:   time.Duration(args.SeedTime) * time.Second,
		AuthUser:   args.AuthUser,
		AuthPass:   args.AuthPass,
		Thumbnail:  args.Thumbnail,
	}

	conf.Dir = filepath.Join(config.Service.DownloadDir, id)
	if conf.FolderName != "" {
		conf.Dir = filepath.Join(conf.Dir, conf.FolderName)
	}

	switch command.Verb {
	case "leech":
		conf.Kind = KindLeech
	case "clone":
		conf.Kind = KindClone
	case "merge", "mergecommit":
		conf.Kind = KindMerge
	case "ytdlp":
		conf.Kind = KindYtdlp
	default:
		conf.Kind = KindMirror
	}

	if conf.Link == "" {
		if message.ReplyTo != nil && message.ReplyTo.HasMedia {
			conf.Link = chatmedia.FormatLink(message.ReplyTo.ChatId,
				message.ReplyTo.MessageId)
			conf.DriverName = "chatmedia"
			if conf.NameHint == "" {
				conf.NameHint = message.ReplyTo.MediaName
			}
		} else if conf.Kind != KindMerge {
			return nil, NoLinkError{}
		}
	}
	if conf.DriverName == "" && conf.Kind != KindMerge && conf.Kind != KindClone {
		name, err := ResolveDriver(conf.Link)
		if err != nil {
			return nil, err
		}
		conf.DriverName = name
	}

	if len(args.Headers) > 0 {
		conf.Headers = make(map[string]string, len(args.Headers))
		for _, header := range args.Headers {
			if key, value, found := strings.Cut(header, ":"); found {
				conf.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}

	if conf.FolderName != "" {
		conf.GroupTotal = args.MultiCount + 1
	}
	conf.Caption = settings.LeechCaption
	conf.AsDocument = settings.AsDocument
	if args.AsDocument {
		conf.AsDocument = true
	}
	if args.AsMedia {
		conf.AsDocument = false
	}
	conf.UserTransmit = settings.UserTransmit
	if args.UserSession || args.HybridLeech {
		conf.UserTransmit = true
	}
	if args.BotSession {
		conf.UserTransmit = false
	}

	resolveDestination(conf, args, settings)
	resolvePipeline(conf, args, settings)
	return conf, nil
}

// resolveDestination picks the sink and its destination parameters
func resolveDestination(conf *TaskConfig, args dispatch.Args, settings users.Settings) {
	if conf.Kind == KindLeech {
		conf.UploadDest = "chat"
		return
	}
	dest := args.UploadDest
	if dest == "" {
		dest = config.Upload.DefaultUpload
	}
	switch {
	case dest == "chat":
		conf.UploadDest = "chat"
	case dest == "gd" || dest == "":
		conf.UploadDest = "gd"
		conf.DriveId = firstNonEmpty(settings.GDriveId, config.Upload.GDriveId)
	case dest == "gofile" || dest == "yt":
		conf.UploadDest = dest
	case strings.Contains(dest, ":"):
		conf.UploadDest = "rc"
		conf.RemotePath = dest
		conf.RcloneFlags = args.RcloneFlags
	default:
		// a bare token that is not a known alias is a drive folder ID
		conf.UploadDest = "gd"
		conf.DriveId = dest
	}
}

// resolvePipeline maps flags and settings onto the stage switches
func resolvePipeline(conf *TaskConfig, args dispatch.Args, settings users.Settings) {
	options := mediatools.Options{
		Join:             true,
		Extract:          args.Extract,
		ExtractPassword:  args.ExtractPassword,
		Compress:         args.Compress,
		CompressPassword: args.CompressPassword,
		VolumeSize:       args.VolumeSize,
		ConvertAudio:     args.ConvertAudio,
		ConvertVideo:     args.ConvertVideo,
		Metadata:         args.Metadata,
		NameSub:          firstNonEmpty(args.NameSub, settings.NameTemplate),
		Watermark:        args.Watermark,
		IsLeech:          conf.Kind == KindLeech,
	}
	if args.Screenshots {
		options.Screenshots = screenshotCount
	}
	options.ThumbLayout = args.ThumbLayout
	if args.SampleVideo {
		options.SampleDuration = sampleDuration
		options.SamplePartDuration = samplePartDuration
	}
	if conf.Kind == KindLeech {
		options.NamePrefix = settings.LeechPrefix
		options.SplitSize = args.SplitSize
		if options.SplitSize == 0 {
			options.SplitSize = settings.SplitSize
		}
		if options.SplitSize == 0 {
			options.SplitSize = config.Upload.LeechSplitSize
		}
		thumb := firstNonEmpty(args.Thumbnail, settings.ThumbnailPath)
		if thumb != "" {
			options.EmbedThumb = thumb
		}
	}
	options.ExcludedExtensions = settings.Excluded
	if len(options.ExcludedExtensions) == 0 {
		options.ExcludedExtensions = config.Upload.ExcludedExtensions
	}
	options.IncludedExtensions = settings.Included
	if len(options.IncludedExtensions) == 0 {
		options.IncludedExtensions = config.Upload.IncludedExtensions
	}
	for _, preset := range settings.FFmpegPresets {
		options.FFmpegCmds = append(options.FFmpegCmds, strings.Fields(preset))
	}
	conf.Pipeline = options
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
