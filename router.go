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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/dispatch"
	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/merge"
	"github.com/fetchd/fetchd/queue"
	"github.com/fetchd/fetchd/rss"
	"github.com/fetchd/fetchd/status"
	"github.com/fetchd/fetchd/tasks"
	"github.com/fetchd/fetchd/users"
)

// This type routes parsed chat commands to the components that implement
// them: task verbs spawn listeners, merge verbs drive the session table,
// control verbs act on the live task table, and rss verbs manage the feed
// monitor.
type router struct {
	transport chat.Transport
	deps      tasks.Deps
	merges    *merge.Table
	monitor   *rss.Monitor
	started   time.Time
	// closed by the restart verb; main tears the process down
	restart chan struct{}
}

func newRouter(transport chat.Transport, deps tasks.Deps, monitor *rss.Monitor) *router {
	return &router{
		transport: transport,
		deps:      deps,
		merges:    merge.Default(),
		monitor:   monitor,
		started:   time.Now(),
		restart:   make(chan struct{}),
	}
}

// authorized reports whether the message may issue commands at all.
func (r *router) authorized(msg chat.Message) bool {
	if r.sudo(msg) {
		return true
	}
	if len(config.Chats.AuthChats) == 0 {
		return true
	}
	for _, id := range config.Chats.AuthChats {
		if id == msg.ChatId {
			return true
		}
	}
	return false
}

// sudo reports whether the sender may issue administrative commands.
func (r *router) sudo(msg chat.Message) bool {
	if msg.UserId == config.Chats.OwnerId {
		return true
	}
	for _, id := range config.Chats.SudoUsers {
		if id == msg.UserId {
			return true
		}
	}
	return false
}

func (r *router) reply(ctx context.Context, msg chat.Message, text string) {
	if r.transport == nil {
		return
	}
	if _, err := r.transport.SendMessage(ctx, msg.ChatId, text); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't reply in chat %d: %s", msg.ChatId, err.Error()))
	}
}

// Handle routes one incoming message. Non-command messages are ignored.
func (r *router) Handle(ctx context.Context, msg chat.Message) {
	command, err := dispatch.Parse(msg.Text)
	if err != nil {
		var unknown dispatch.UnknownVerbError
		if errors.As(err, &unknown) {
			return // not addressed to us
		}
		r.reply(ctx, msg, err.Error())
		return
	}
	if !r.authorized(msg) {
		return
	}

	switch command.Verb {
	case "mirror", "leech", "clone", "ytdlp":
		r.launch(ctx, msg, command)
	case "merge":
		r.mergeAdd(ctx, msg, command)
	case "mergecommit":
		r.mergeCommit(ctx, msg, command)
	case "mergecancel":
		r.mergeCancel(ctx, msg)
	case "cancel":
		r.cancel(ctx, msg, command.Link)
	case "cancelall":
		if r.sudo(msg) {
			stopped := tasks.CancelAll()
			r.reply(ctx, msg, fmt.Sprintf("Stopped %d task(s).", stopped))
		}
	case "cancelmulti":
		stopped := tasks.CancelOwned(msg.UserId)
		r.reply(ctx, msg, fmt.Sprintf("Stopped %d of your task(s).", stopped))
	case "forcestart":
		if err := tasks.ForceStart(strings.TrimSpace(command.Link)); err != nil {
			r.reply(ctx, msg, err.Error())
		}
	case "select":
		r.commitSelection(ctx, msg, command.Link)
	case "status":
		r.reply(ctx, msg, renderStatus())
	case "stats":
		r.reply(ctx, msg, r.renderStats())
	case "ping":
		r.reply(ctx, msg, "Pong!")
	case "log":
		r.sendLog(ctx, msg)
	case "restart":
		if r.sudo(msg) {
			r.reply(ctx, msg, "Restarting...")
			close(r.restart)
		}
	case "settingsuser":
		r.userSettings(ctx, msg, command.Link)
	case "settingsbot":
		if r.sudo(msg) {
			r.reply(ctx, msg, renderBotSettings())
		}
	case "rss":
		r.handleRss(ctx, msg, command.Link)
	case "speedtest":
		r.runTool(ctx, msg, []string{"speedtest-cli", "--simple"})
	case "mediainfo":
		r.mediaInfo(ctx, msg, command.Link)
	case "exec":
		if msg.UserId == config.Chats.OwnerId {
			r.runTool(ctx, msg, []string{"bash", "-c", command.Link})
		}
	}
}

// launch configures and starts one lifecycle task, expanding -b into
// one task per link and -i into sibling tasks read from the following
// messages.
func (r *router) launch(ctx context.Context, msg chat.Message, command dispatch.Command) {
	if command.Args.Bulk {
		r.launchBulk(ctx, msg, command)
		return
	}
	conf, err := tasks.Configure(msg, command)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	go tasks.NewListener(conf, r.deps).Run(ctx)

	for i := 1; i <= command.Args.MultiCount; i++ {
		sibling, err := r.transport.GetMessage(ctx, msg.ChatId, msg.MessageId+i)
		if err != nil {
			r.reply(ctx, msg, fmt.Sprintf("Couldn't read message %d of the batch: %s",
				i+1, err.Error()))
			return
		}
		siblingCommand := command
		siblingCommand.Args.MultiCount = 0
		siblingCommand.Link = strings.TrimSpace(sibling.Text)
		siblingConf, err := tasks.Configure(sibling, siblingCommand)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			continue
		}
		go tasks.NewListener(siblingConf, r.deps).Run(ctx)
	}
}

// launchBulk starts one task per line of the replied-to message (or an
// attached link list), honoring the optional -b:start:end slice.
func (r *router) launchBulk(ctx context.Context, msg chat.Message, command dispatch.Command) {
	if msg.ReplyTo == nil {
		r.reply(ctx, msg, "Reply to a message (or file) listing one link per line to use -b.")
		return
	}
	text := msg.ReplyTo.Text
	if msg.ReplyTo.HasMedia {
		dir, err := os.MkdirTemp(config.Service.DownloadDir, "bulk-")
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		defer os.RemoveAll(dir)
		path, err := r.transport.DownloadMedia(ctx, *msg.ReplyTo, dir)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		text = string(data)
	}

	var links []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}
	start, end := command.Args.BulkStart, command.Args.BulkEnd
	if end == 0 || end > len(links) {
		end = len(links)
	}
	if start < 0 || start >= end {
		start = 0
	}
	links = links[start:end]
	if len(links) == 0 {
		r.reply(ctx, msg, "No links found in the replied message.")
		return
	}

	for _, link := range links {
		bulkCommand := command
		bulkCommand.Args.Bulk = false
		bulkCommand.Link = link
		conf, err := tasks.Configure(msg, bulkCommand)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			continue
		}
		go tasks.NewListener(conf, r.deps).Run(ctx)
	}
	r.reply(ctx, msg, fmt.Sprintf("Started %d task(s).", len(links)))
}

// mergeAdd opens the sender's merge session or appends an input to it; a
// full session commits automatically.
func (r *router) mergeAdd(ctx context.Context, msg chat.Message, command dispatch.Command) {
	input := merge.Input{URL: strings.TrimSpace(command.Link), Name: command.Args.Name}
	if input.URL == "" && msg.ReplyTo != nil && msg.ReplyTo.HasMedia {
		input.MessageId = int64(msg.ReplyTo.MessageId)
		input.Name = msg.ReplyTo.MediaName
		input.Size = msg.ReplyTo.MediaSize
	}
	if input.URL == "" && input.MessageId == 0 {
		opened, pending := r.merges.Start(msg.UserId)
		if opened {
			r.reply(ctx, msg, "Merge session opened. Send /merge with links or media replies, then /merge-commit.")
		} else {
			r.reply(ctx, msg, fmt.Sprintf("Merge session already open with %d input(s).", pending))
		}
		return
	}

	// ranges like https://host/ep-01-05.mkv expand to one input per part
	inputs := []merge.Input{input}
	if input.URL != "" {
		if expanded, err := merge.ExpandRange(input.URL); err == nil && len(expanded) > 1 {
			inputs = expanded
		}
	}
	for _, in := range inputs {
		committed, pending, err := r.merges.Add(msg.UserId, in)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		if committed {
			r.mergeCommit(ctx, msg, command)
			return
		}
		if in == inputs[len(inputs)-1] {
			r.reply(ctx, msg, fmt.Sprintf("Added. %d input(s) pending.", pending))
		}
	}
}

// mergeCommit finalizes the sender's session into one merge task.
func (r *router) mergeCommit(ctx context.Context, msg chat.Message, command dispatch.Command) {
	inputs, err := r.merges.Commit(msg.UserId)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	command.Verb = "mergecommit"
	command.Link = ""
	conf, err := tasks.Configure(msg, command)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	conf.MergeInputs = inputs
	go tasks.NewListener(conf, r.deps).Run(ctx)
}

func (r *router) mergeCancel(ctx context.Context, msg chat.Message) {
	if err := r.merges.Cancel(msg.UserId); err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	r.reply(ctx, msg, "Merge session discarded.")
}

// cancel stops one task by ID; sudo users can stop anyone's task.
func (r *router) cancel(ctx context.Context, msg chat.Message, id string) {
	id = strings.TrimSpace(id)
	l, err := tasks.Get(id)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	if l.Config.OwnerId != msg.UserId && !r.sudo(msg) {
		return
	}
	l.Cancel()
}

// commitSelection forwards "/select <id> [n...]" to the waiting listener;
// indexes are 1-based in chat.
func (r *router) commitSelection(ctx context.Context, msg chat.Message, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		r.reply(ctx, msg, "Usage: /select <task-id> [file numbers]")
		return
	}
	l, err := tasks.Get(fields[0])
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	var indexes []int
	for _, field := range fields[1:] {
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 {
			r.reply(ctx, msg, fmt.Sprintf("%q is not a file number.", field))
			return
		}
		indexes = append(indexes, n-1)
	}
	if err := l.CommitSelection(indexes); err != nil {
		r.reply(ctx, msg, err.Error())
	}
}

// renderStatus builds a one-shot snapshot of every live task.
func renderStatus() string {
	entries := status.Snapshot()
	if len(entries) == 0 {
		return "No active tasks."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s | %s | %s\n", e.TaskId, e.Name, e.Phase)
		fmt.Fprintf(&b, "%s of %s @ %s/s | ETA: %s\n\n",
			chat.ReadableSize(e.ProcessedBytes), chat.ReadableSize(e.Size),
			chat.ReadableSize(e.Speed), chat.ReadableTime(e.Eta))
	}
	return b.String()
}

func (r *router) renderStats() string {
	controller := queue.Default()
	return fmt.Sprintf("Uptime: %s\nTasks: %d\nDownloads: %d active, %d queued\nUploads: %d active, %d queued",
		chat.ReadableTime(time.Since(r.started)),
		tasks.Count(),
		controller.ActiveCount(queue.Download), controller.WaitingCount(queue.Download),
		controller.ActiveCount(queue.Upload), controller.WaitingCount(queue.Upload))
}

// sendLog ships the service log file to the chat.
func (r *router) sendLog(ctx context.Context, msg chat.Message) {
	if !r.sudo(msg) {
		return
	}
	if _, err := os.Stat(logFile); err != nil {
		r.reply(ctx, msg, "No log file is available.")
		return
	}
	if _, err := r.transport.UploadFile(ctx, msg.ChatId, logFile, "", true); err != nil {
		r.reply(ctx, msg, err.Error())
	}
}

// userSettings shows or updates the sender's saved settings:
// "/settings-user" lists them, "/settings-user <key> <value>" sets one.
func (r *router) userSettings(ctx context.Context, msg chat.Message, rest string) {
	key, value, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if key == "" {
		settings := users.Get(msg.UserId)
		r.reply(ctx, msg, fmt.Sprintf(
			"Split size: %d\nPrefix: %s\nSuffix: %s\nCaption: %s\nGDrive folder: %s\nAs document: %v",
			settings.SplitSize, settings.LeechPrefix, settings.LeechSuffix,
			settings.LeechCaption, settings.GDriveId, settings.AsDocument))
		return
	}
	if err := users.Set(msg.UserId, key, strings.TrimSpace(value)); err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	r.reply(ctx, msg, fmt.Sprintf("Saved %s.", key))
}

func renderBotSettings() string {
	var daemons []string
	for name := range config.Daemons {
		daemons = append(daemons, name)
	}
	return fmt.Sprintf(
		"Download dir: %s\nDefault upload: %s\nQueue: %d down / %d up\nRSS delay: %ds\nDaemons: %s",
		config.Service.DownloadDir, config.Upload.DefaultUpload,
		config.Queue.DownloadLimit, config.Queue.UploadLimit,
		config.Rss.Delay, strings.Join(daemons, ", "))
}

// handleRss implements the rss subcommands:
//
//	/rss sub <title> <link> [-inf re] [-exf re] [-c command] [-stv]
//	/rss unsub|pause|resume <title>
//	/rss list
func (r *router) handleRss(ctx context.Context, msg chat.Message, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		r.reply(ctx, msg, "Usage: /rss sub|unsub|pause|resume|list ...")
		return
	}
	sub, args := fields[0], fields[1:]
	switch sub {
	case "sub":
		if len(args) < 2 {
			r.reply(ctx, msg, "Usage: /rss sub <title> <link> [-inf re] [-exf re] [-c command] [-stv]")
			return
		}
		feed := rss.Feed{
			Owner: msg.UserId,
			Title: args[0],
			Link:  args[1],
			Tag:   msg.Tag(),
		}
		for i := 2; i < len(args); i++ {
			switch args[i] {
			case "-inf":
				if i+1 < len(args) {
					i++
					feed.Filter.Include = append(feed.Filter.Include, args[i])
				}
			case "-exf":
				if i+1 < len(args) {
					i++
					feed.Filter.Exclude = append(feed.Filter.Exclude, args[i])
				}
			case "-c":
				// the command template runs to the next flag
				var parts []string
				for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					i++
					parts = append(parts, args[i])
				}
				feed.Filter.Command = strings.Join(parts, " ")
			case "-stv":
				feed.Filter.Sensitive = true
			}
		}
		if _, err := r.monitor.Subscribe(ctx, feed); err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		r.reply(ctx, msg, fmt.Sprintf("Subscribed to %q.", feed.Title))
	case "unsub":
		if len(args) < 1 {
			return
		}
		if err := rss.Unsubscribe(msg.UserId, args[0]); err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		r.reply(ctx, msg, fmt.Sprintf("Unsubscribed from %q.", args[0]))
	case "pause", "resume":
		if len(args) < 1 {
			return
		}
		if err := rss.Pause(msg.UserId, args[0], sub == "pause"); err != nil {
			r.reply(ctx, msg, err.Error())
		}
	case "list":
		feeds := rss.Feeds(msg.UserId)
		if len(feeds) == 0 {
			r.reply(ctx, msg, "No subscriptions.")
			return
		}
		var b strings.Builder
		for _, feed := range feeds {
			state := "active"
			if feed.Paused {
				state = "paused"
			}
			fmt.Fprintf(&b, "%s (%s): %s\n", feed.Title, state, feed.Link)
		}
		r.reply(ctx, msg, b.String())
	default:
		r.reply(ctx, msg, fmt.Sprintf("Unknown rss subcommand %q.", sub))
	}
}

// HandleFeedItem delivers one new feed item: command templates re-enter
// the router as if the owner had typed them, plain items become notices.
func (r *router) HandleFeedItem(ctx context.Context, feed rss.Feed, text string) {
	if strings.HasPrefix(text, "/") {
		r.Handle(ctx, chat.Message{
			ChatId:   feed.Owner,
			UserId:   feed.Owner,
			UserName: strings.TrimPrefix(feed.Tag, "@"),
			Text:     text,
			Link:     fmt.Sprintf("rss/%d/%s", feed.Owner, feed.Title),
		})
		return
	}
	if r.transport == nil {
		return
	}
	if _, err := r.transport.SendMessage(ctx, feed.Owner, text); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't deliver feed item to %d: %s", feed.Owner, err.Error()))
	}
}

// mediaInfo probes a local path or replied-to media and reports streams.
func (r *router) mediaInfo(ctx context.Context, msg chat.Message, rest string) {
	path := strings.TrimSpace(rest)
	if path == "" && msg.ReplyTo != nil && msg.ReplyTo.HasMedia {
		dir, err := os.MkdirTemp(config.Service.DownloadDir, "mediainfo-")
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
		defer os.RemoveAll(dir)
		path, err = r.transport.DownloadMedia(ctx, *msg.ReplyTo, dir)
		if err != nil {
			r.reply(ctx, msg, err.Error())
			return
		}
	}
	if path == "" {
		r.reply(ctx, msg, "Reply to a media message or give a path.")
		return
	}
	info, err := mediatools.Probe(ctx, r.deps.Runner, path)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	var b strings.Builder
	for i, stream := range info.Streams {
		fmt.Fprintf(&b, "Stream %d: %s (%s)\n", i, stream.CodecName, stream.CodecType)
	}
	if b.Len() == 0 {
		b.WriteString("No streams found.")
	}
	r.reply(ctx, msg, b.String())
}

// runTool executes one subprocess and replies with its output.
func (r *router) runTool(ctx context.Context, msg chat.Message, argv []string) {
	output, code, err := r.deps.Runner.Output(ctx, argv)
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	text := strings.TrimSpace(string(output))
	if text == "" {
		text = fmt.Sprintf("%s exited with code %d.", argv[0], code)
	}
	r.reply(ctx, msg, text)
}
