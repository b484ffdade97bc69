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
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/fetchd/fetchd/chat"
	"github.com/fetchd/fetchd/chat/botapi"
	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers/chatmedia"
	"github.com/fetchd/fetchd/drivers/gdrive"
	"github.com/fetchd/fetchd/journal"
	"github.com/fetchd/fetchd/mediatools"
	"github.com/fetchd/fetchd/queue"
	"github.com/fetchd/fetchd/rss"
	"github.com/fetchd/fetchd/services"
	"github.com/fetchd/fetchd/sinks"
	"github.com/fetchd/fetchd/store"
	"github.com/fetchd/fetchd/tasks"
)

// log file the /log command ships
const logFile = "log.txt"

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// installs a JSON slog handler writing to stderr and the log file
func setupLogging() {
	var out io.Writer = os.Stderr
	if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
		out = io.MultiWriter(os.Stderr, file)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, nil)))
}

// wires the Google Drive and YouTube sinks (and the drive download driver)
// when default credentials are available; without them those destinations
// simply stay unregistered
func setupGoogleServices(ctx context.Context) *sinks.DriveUploader {
	credentials, err := google.FindDefaultCredentials(ctx,
		drive.DriveScope, youtube.YoutubeUploadScope)
	if err != nil {
		slog.Warn(fmt.Sprintf("No Google credentials found; drive and youtube are disabled: %s",
			err.Error()))
		return nil
	}

	driveService, err := drive.NewService(ctx, option.WithCredentials(credentials))
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't create the Drive service: %s", err.Error()))
		return nil
	}
	gdrive.SetService(driveService)
	uploader := sinks.NewDriveUploader(driveService)
	sinks.Register("gd", uploader)

	youtubeService, err := youtube.NewService(ctx, option.WithCredentials(credentials))
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't create the YouTube service: %s", err.Error()))
	} else {
		sinks.Register("yt", sinks.NewYoutubeUploader(youtubeService))
	}
	return uploader
}

// registers the sinks whose backends are configured
func setupSinks(transport chat.Transport) {
	if transport != nil {
		sinks.Register("chat", sinks.NewChatUploader(transport))
	}
	if daemon, found := config.Daemons["rclone"]; found {
		sinks.Register("rc", sinks.NewRcloneUploader(daemon))
	}
	if daemon, found := config.Daemons["gofile"]; found {
		sinks.Register("gofile", sinks.NewGofileUploader(daemon.APIKey))
	}
}

// re-notifies the chats of tasks a previous run left unfinished
func replayJournal(ctx context.Context, transport chat.Transport) {
	records, err := journal.Clear()
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't replay the task journal: %s", err.Error()))
		return
	}
	for _, record := range records {
		text := fmt.Sprintf("Restart detected. Your task (%s) was interrupted.\ncc: %s",
			record.Link, record.Tag)
		if _, err := transport.SendMessage(ctx, record.ChatId, text); err != nil {
			slog.Warn(fmt.Sprintf("Couldn't re-notify chat %d: %s",
				record.ChatId, err.Error()))
		}
	}
}

func main() {

	// The only argument is the configuration filename.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]
	setupLogging()

	// Read the configuration file.
	slog.Info(fmt.Sprintf("Reading configuration from '%s'...", configFile))
	data, err := os.ReadFile(configFile)
	if err != nil {
		log.Panicf("Couldn't read %s: %s\n", configFile, err.Error())
	}
	if err := config.Init(data); err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}
	if err := os.MkdirAll(config.Service.DownloadDir, 0755); err != nil {
		log.Panicf("Couldn't create the download directory: %s\n", err.Error())
	}

	// Bring up persistence, then the gates, then the feed table.
	if config.Service.DatabaseURL != "" {
		if err := store.Open(config.Service.DatabaseURL, config.Service.CredentialsKey); err != nil {
			log.Panicf("Couldn't open the document store: %s\n", err.Error())
		}
		defer store.Close()
	}
	queue.Init(config.Queue.DownloadLimit, config.Queue.UploadLimit,
		config.Queue.QueueAll, config.Queue.AllLimit)
	if err := rss.Load(); err != nil {
		log.Panicf("Couldn't load the feed table: %s\n", err.Error())
	}

	// The chat transport; drivers and sinks hang off it.
	ctx := context.Background()
	var client *botapi.Client
	var transport chat.Transport
	if config.Service.BotToken != "" {
		client = botapi.NewClient(config.Service.BotToken)
		transport = client
		chatmedia.SetTransport(transport)
	} else {
		slog.Warn("No BOT_TOKEN configured; the chat surface is disabled.")
	}
	driveClient := setupGoogleServices(ctx)
	setupSinks(transport)

	deps := tasks.Deps{
		Transport: transport,
		Queue:     queue.Default(),
		Runner:    mediatools.ExecRunner{},
	}
	if driveClient != nil {
		deps.Drive = driveClient
	}

	// The feed monitor re-enters the router, so wire them in two steps.
	var commands *router
	monitor := rss.NewMonitor(func(ctx context.Context, feed rss.Feed, text string) {
		commands.HandleFeedItem(ctx, feed, text)
	})
	commands = newRouter(transport, deps, monitor)
	monitor.Start()

	var statusLoop *chat.StatusLoop
	if transport != nil {
		statusLoop = chat.NewStatusLoop(transport,
			time.Duration(config.Service.StatusInterval)*time.Second,
			config.Service.StatusLimit)
		statusLoop.Start()

		if config.Service.IncompleteTaskNotifier {
			replayJournal(ctx, transport)
		}
	}

	// Accept chat commands.
	pollCtx, stopPolling := context.WithCancel(ctx)
	if client != nil {
		go client.Poll(pollCtx, func(msg chat.Message) {
			go commands.Handle(pollCtx, msg)
		})
	}

	// Start the admin/status API in a goroutine so it doesn't block.
	service, err := services.NewAdminService()
	if err != nil {
		log.Panicf("Couldn't create the admin service: %s\n", err.Error())
	}
	go func() {
		if err := service.Start(config.Service.Port); err != nil {
			slog.Error(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting
	// down as gracefully as possible if they are encountered. The restart
	// command takes the same path; the supervisor brings us back up.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	select {
	case <-sigChan:
	case <-commands.restart:
	}

	// Stop taking work, then drain.
	stopPolling()
	queue.Default().StopAll()
	monitor.Stop()
	if statusLoop != nil {
		statusLoop.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	service.Shutdown(shutdownCtx)
	slog.Info("Shutting down")
}
