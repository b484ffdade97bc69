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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// a type with service-level configuration parameters
type serviceConfig struct {
	// port on which the admin/status API listens
	Port int `yaml:"SERVICE_PORT"`
	// base directory under which task working directories are created
	DownloadDir string `yaml:"DOWNLOAD_DIR"`
	// path to the document store ("" disables persistence)
	DatabaseURL string `yaml:"DATABASE_URL"`
	// interval (seconds) between status message renders
	StatusInterval int `yaml:"STATUS_UPDATE_INTERVAL"`
	// maximum number of task entries rendered per status message
	StatusLimit int `yaml:"STATUS_LIMIT"`
	// whether interrupted tasks are journaled and re-notified on restart
	IncompleteTaskNotifier bool `yaml:"INCOMPLETE_TASK_NOTIFIER"`
	// fernet key used to encrypt stored credential files (base64, 32 bytes)
	CredentialsKey string `yaml:"CREDENTIALS_KEY"`
	// bot API token the chat transport authenticates with ("" disables chat)
	BotToken string `yaml:"BOT_TOKEN"`
}

// a type with queue admission parameters
type queueConfig struct {
	// maximum concurrent downloads (0 = unbounded)
	DownloadLimit int `yaml:"DOWNLOAD_LIMIT"`
	// maximum concurrent uploads (0 = unbounded)
	UploadLimit int `yaml:"UPLOAD_LIMIT"`
	// when true, both gates share a single capacity counter
	QueueAll bool `yaml:"QUEUE_ALL"`
	// the shared capacity used when QUEUE_ALL is set (0 = unbounded)
	AllLimit int `yaml:"QUEUE_ALL_LIMIT"`
}

// a type with chat access-control parameters
type chatsConfig struct {
	// chat IDs permitted to issue commands
	AuthChats []int64 `yaml:"AUTH_CHATS"`
	// user IDs granted sudo commands
	SudoUsers []int64 `yaml:"SUDO_USERS"`
	// ID of the owning user (never journaled, always authorized)
	OwnerId int64 `yaml:"OWNER_ID"`
	// when set, completed source messages are deleted
	DeleteLinks bool `yaml:"DELETE_LINKS"`
}

// a type with upload-side parameters
type uploadConfig struct {
	// default upload destination ("chat", "gd", "rc", "yt", or "gofile")
	DefaultUpload string `yaml:"DEFAULT_UPLOAD"`
	// maximum size of a single chat upload before splitting (bytes)
	LeechSplitSize int64 `yaml:"LEECH_SPLIT_SIZE"`
	// Google Drive folder receiving mirrored payloads
	GDriveId string `yaml:"GDRIVE_ID"`
	// base URL of the index serving uploaded drive folders
	IndexURL string `yaml:"INDEX_URL"`
	// extensions deleted from payloads before upload
	ExcludedExtensions []string `yaml:"EXCLUDED_EXTENSIONS"`
	// when non-empty, only these extensions survive (overrides excluded)
	IncludedExtensions []string `yaml:"INCLUDED_EXTENSIONS"`
}

// a type with RSS monitor parameters
type rssConfig struct {
	// seconds between feed polls
	Delay int `yaml:"RSS_DELAY"`
	// maximum advertised item size accepted from a feed (bytes)
	SizeLimit int64 `yaml:"RSS_SIZE_LIMIT"`
}

// a type with per-class timeouts (seconds)
type timeoutsConfig struct {
	// how long a torrent may sit fetching metadata before it is failed
	Torrent int `yaml:"TORRENT_TIMEOUT"`
	// how long an interactive selection menu stays open
	Selection int `yaml:"SELECTION_TIMEOUT"`
}

// connection parameters for one external backend daemon
type DaemonConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	APIKey   string `yaml:"api_key"`
}

// global config variables
var Service serviceConfig
var Queue queueConfig
var Chats chatsConfig
var Upload uploadConfig
var Rss rssConfig
var Timeouts timeoutsConfig
var Daemons map[string]DaemonConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above. Keys are the uppercase names
// recognized by the deployment environment; all are optional.
type configFile struct {
	Service  serviceConfig           `yaml:",inline"`
	Queue    queueConfig             `yaml:",inline"`
	Chats    chatsConfig             `yaml:",inline"`
	Upload   uploadConfig            `yaml:",inline"`
	Rss      rssConfig               `yaml:",inline"`
	Timeouts timeoutsConfig          `yaml:",inline"`
	Daemons  map[string]DaemonConfig `yaml:"DAEMONS"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.DownloadDir = "downloads"
	conf.Service.StatusInterval = 15
	conf.Service.StatusLimit = 10
	conf.Upload.DefaultUpload = "gd"
	conf.Upload.LeechSplitSize = 2 * 1024 * 1024 * 1024
	conf.Rss.Delay = 600
	conf.Timeouts.Selection = 60
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't parse configuration data: %s", err))
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Queue = conf.Queue
	Chats = conf.Chats
	Upload = conf.Upload
	Rss = conf.Rss
	Timeouts = conf.Timeouts
	Daemons = conf.Daemons

	return err
}

// This helper validates the given service parameters, returning an error
// indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid SERVICE_PORT: %d (must be 0-65535)", params.Port)
	}
	if params.DownloadDir == "" {
		return fmt.Errorf("No DOWNLOAD_DIR was provided!")
	}
	if params.StatusInterval <= 0 {
		return fmt.Errorf("Invalid STATUS_UPDATE_INTERVAL: %d (must be positive)",
			params.StatusInterval)
	}
	return nil
}

// This helper validates the configured globals, returning an error that
// indicates success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}
	if Queue.DownloadLimit < 0 || Queue.UploadLimit < 0 || Queue.AllLimit < 0 {
		return fmt.Errorf("Queue limits cannot be negative!")
	}
	if Upload.LeechSplitSize <= 0 {
		return fmt.Errorf("Invalid LEECH_SPLIT_SIZE: %d (must be positive)",
			Upload.LeechSplitSize)
	}
	switch Upload.DefaultUpload {
	case "chat", "gd", "rc", "yt", "gofile":
	default:
		return fmt.Errorf("Invalid DEFAULT_UPLOAD: %s", Upload.DefaultUpload)
	}
	for name, daemon := range Daemons {
		if daemon.URL == "" {
			return fmt.Errorf("Daemon %s has no URL!", name)
		}
		if !strings.HasPrefix(daemon.URL, "http") {
			return fmt.Errorf("Daemon %s has a non-HTTP URL: %s", name, daemon.URL)
		}
	}
	return nil
}

// Initializes the orchestrator configuration using the given YAML byte data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML data.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	return validateConfig()
}
