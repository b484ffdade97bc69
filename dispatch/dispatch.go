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

// The dispatch package turns one chat message into a structured task
// request: the leading /verb selects the operation and the flag set
// configures it. The first non-flag token is the link; when none is
// present the caller falls back to the replied-to media.
package dispatch

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// every verb the command surface recognizes
var verbs = map[string]bool{
	"mirror": true, "leech": true, "clone": true, "ytdlp": true,
	"merge": true, "mergecommit": true, "mergecancel": true,
	"cancel": true, "cancelall": true, "cancelmulti": true,
	"forcestart": true, "select": true, "status": true,
	"rss": true, "stats": true, "ping": true, "log": true,
	"restart": true, "settingsbot": true, "settingsuser": true,
	"speedtest": true, "mediainfo": true, "exec": true,
}

// flags that take no value
var booleanFlags = map[string]bool{
	"-s": true, "-z": true, "-e": true, "-sv": true, "-ss": true,
	"-hl": true, "-ut": true, "-bt": true, "-doc": true, "-med": true,
}

// flags whose value is the following token(s)
var valueFlags = map[string]bool{
	"-n": true, "-up": true, "-rcf": true, "-i": true, "-m": true,
	"-ca": true, "-cv": true, "-md": true, "-tl": true, "-sp": true,
	"-t": true, "-ns": true, "-au": true, "-ap": true, "-h": true,
	"-wm": true,
}

// everything the flag table can express about one task
type Args struct {
	Name             string
	UploadDest       string
	RcloneFlags      string
	MultiCount       int
	Bulk             bool
	BulkStart        int
	BulkEnd          int
	SameDir          string
	Seed             bool
	SeedRatio        float64
	SeedTime         int
	Select           bool
	Compress         bool
	CompressPassword string
	VolumeSize       int64
	Extract          bool
	ExtractPassword  string
	SampleVideo      bool
	Screenshots      bool
	ConvertAudio     string
	ConvertVideo     string
	Metadata         string
	HybridLeech      bool
	UserSession      bool
	BotSession       bool
	AsDocument       bool
	AsMedia          bool
	ThumbLayout      string
	SplitSize        int64
	Thumbnail        string
	NameSub          string
	Watermark        map[string]string
	AuthUser         string
	AuthPass         string
	Headers          []string
}

// one parsed chat command
type Command struct {
	Verb string
	Link string
	Args Args
}

// splits "/mirror@SomeBot rest..." into its verb and remainder;
// hyphens and underscores in verbs are tolerated ("merge-commit")
func splitVerb(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.Index(head, "@"); at >= 0 {
		head = head[:at]
	}
	head = strings.ToLower(head)
	head = strings.NewReplacer("-", "", "_", "").Replace(head)
	return head, strings.TrimSpace(rest), true
}

// parses one message into a Command
func Parse(text string) (Command, error) {
	verb, rest, ok := splitVerb(text)
	if !ok || !verbs[verb] {
		return Command{}, UnknownVerbError{Verb: verb}
	}
	command := Command{Verb: verb}
	if err := parseArgs(rest, &command); err != nil {
		return Command{}, err
	}
	return command, nil
}

func parseArgs(rest string, command *Command) error {
	tokens := strings.Fields(rest)
	args := &command.Args
	var linkParts []string
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		switch {
		case booleanFlags[token]:
			setBool(args, token)
		case token == "-b" || strings.HasPrefix(token, "-b:"):
			if err := parseBulk(token, args); err != nil {
				return err
			}
		case token == "-d" || strings.HasPrefix(token, "-d:"):
			if err := parseSeed(token, args); err != nil {
				return err
			}
		case strings.HasPrefix(token, "-e:"):
			args.Extract = true
			args.ExtractPassword = token[len("-e:"):]
		case strings.HasPrefix(token, "-z:"):
			if err := parseCompress(token, args); err != nil {
				return err
			}
		case valueFlags[token]:
			value, consumed := collectValue(tokens[i+1:])
			i += consumed
			if err := setValue(args, token, value); err != nil {
				return err
			}
		default:
			linkParts = append(linkParts, token)
		}
	}
	command.Link = strings.Join(linkParts, " ")
	return nil
}

// a string flag's value runs until the next flag token, so names with
// spaces need no quoting
func collectValue(tokens []string) (string, int) {
	var parts []string
	for _, token := range tokens {
		if isFlag(token) {
			break
		}
		parts = append(parts, token)
	}
	return strings.Join(parts, " "), len(parts)
}

func isFlag(token string) bool {
	if booleanFlags[token] || valueFlags[token] {
		return true
	}
	return token == "-b" || strings.HasPrefix(token, "-b:") ||
		token == "-d" || strings.HasPrefix(token, "-d:") ||
		strings.HasPrefix(token, "-e:") || strings.HasPrefix(token, "-z:")
}

func setBool(args *Args, flag string) {
	switch flag {
	case "-s":
		args.Select = true
	case "-z":
		args.Compress = true
	case "-e":
		args.Extract = true
	case "-sv":
		args.SampleVideo = true
	case "-ss":
		args.Screenshots = true
	case "-hl":
		args.HybridLeech = true
	case "-ut":
		args.UserSession = true
	case "-bt":
		args.BotSession = true
	case "-doc":
		args.AsDocument = true
	case "-med":
		args.AsMedia = true
	}
}

func parseBulk(token string, args *Args) error {
	args.Bulk = true
	if token == "-b" {
		return nil
	}
	parts := strings.Split(token[len("-b:"):], ":")
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return BadFlagValueError{Flag: "-b", Value: token}
	}
	args.BulkStart = start
	if len(parts) > 1 {
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return BadFlagValueError{Flag: "-b", Value: token}
		}
		args.BulkEnd = end
	}
	return nil
}

func parseCompress(token string, args *Args) error {
	args.Compress = true
	password, volume, found := strings.Cut(token[len("-z:"):], ":")
	args.CompressPassword = password
	if !found {
		return nil
	}
	size, err := humanize.ParseBytes(volume)
	if err != nil {
		return BadFlagValueError{Flag: "-z", Value: token}
	}
	args.VolumeSize = int64(size)
	return nil
}

func parseSeed(token string, args *Args) error {
	args.Seed = true
	if token == "-d" {
		return nil
	}
	parts := strings.Split(token[len("-d:"):], ":")
	ratio, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return BadFlagValueError{Flag: "-d", Value: token}
	}
	args.SeedRatio = ratio
	if len(parts) > 1 {
		seconds, err := strconv.Atoi(parts[1])
		if err != nil {
			return BadFlagValueError{Flag: "-d", Value: token}
		}
		args.SeedTime = seconds
	}
	return nil
}

func setValue(args *Args, flag, value string) error {
	if value == "" {
		return BadFlagValueError{Flag: flag, Value: value}
	}
	switch flag {
	case "-n":
		args.Name = value
	case "-up":
		args.UploadDest = value
	case "-rcf":
		args.RcloneFlags = value
	case "-i":
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			return BadFlagValueError{Flag: flag, Value: value}
		}
		args.MultiCount = count
	case "-m":
		args.SameDir = value
	case "-ca":
		args.ConvertAudio = value
	case "-cv":
		args.ConvertVideo = value
	case "-md":
		args.Metadata = value
	case "-tl":
		args.ThumbLayout = value
	case "-sp":
		size, err := humanize.ParseBytes(value)
		if err != nil {
			return BadFlagValueError{Flag: flag, Value: value}
		}
		args.SplitSize = int64(size)
	case "-t":
		args.Thumbnail = value
	case "-ns":
		args.NameSub = value
	case "-wm":
		args.Watermark = UpgradeWatermark(value)
	case "-au":
		args.AuthUser = value
	case "-ap":
		args.AuthPass = value
	case "-h":
		for _, header := range strings.Split(value, "|") {
			if header = strings.TrimSpace(header); header != "" {
				args.Headers = append(args.Headers, header)
			}
		}
	}
	return nil
}

// accepts both the legacy bare-text watermark form and the richer
// "text=...;position=...;size=..." form, always returning the keyed
// form
func UpgradeWatermark(value string) map[string]string {
	mark := make(map[string]string)
	if !strings.Contains(value, "=") {
		mark["text"] = value
		return mark
	}
	for _, pair := range strings.Split(value, ";") {
		if key, v, found := strings.Cut(pair, "="); found {
			mark[strings.TrimSpace(key)] = strings.TrimSpace(v)
		}
	}
	if mark["text"] == "" {
		mark["text"] = value
	}
	return mark
}
