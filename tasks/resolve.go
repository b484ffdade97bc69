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
	"regexp"
	"strings"

	"github.com/fetchd/fetchd/drivers"
)

var driveLinkRe = regexp.MustCompile(`drive\.google\.com`)
var remoteLinkRe = regexp.MustCompile(`^[A-Za-z][\w-]*:`)

// ResolveDriver maps a link to the name of the backend driver that can
// retrieve it. HTTP links fall back to the link-resolver daemon when the
// direct driver is not registered; unregistered matches are an error, so
// a deployment without a torrent daemon rejects magnets at admission.
func ResolveDriver(link string) (string, error) {
	name := classify(link)
	if name == "" {
		return "", NoDriverError{Link: link}
	}
	if !drivers.Registered(name) {
		if name == "http" && drivers.Registered("jdownloader") {
			return "jdownloader", nil
		}
		return "", NoDriverError{Link: link}
	}
	return name, nil
}

func classify(link string) string {
	lower := strings.ToLower(link)
	switch {
	case strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent"):
		return "qbit"
	case strings.HasSuffix(lower, ".nzb"):
		return "sabnzbd"
	case driveLinkRe.MatchString(link):
		return "gdrive"
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return "http"
	case remoteLinkRe.MatchString(link):
		return "rclone"
	}
	return ""
}
