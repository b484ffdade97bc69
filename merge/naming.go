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

package merge

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	seriesRe   = regexp.MustCompile(`(?i)\bS(\d{1,2})[ ._-]?E(\d{1,3})\b`)
	partRe     = regexp.MustCompile(`(?i)\bpart[ ._-]?(\d{1,3})\b`)
	trailingRe = regexp.MustCompile(`(?:^|[ ._-])(\d{1,4})\s*$`)
)

// derives the merged output name from the input file names: episode,
// part, and trailing-number patterns collapse into a range, anything
// else falls back to "<first>_merged"; the container is .mkv when any
// input carries ASS/SSA subtitles, since MP4 can't hold them
func OutputName(names []string, hasAssSubtitles bool) string {
	extension := ".mp4"
	if hasAssSubtitles {
		extension = ".mkv"
	}
	bases := make([]string, len(names))
	for i, name := range names {
		bases[i] = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	if name, ok := seriesName(bases); ok {
		return name + extension
	}
	if name, ok := rangeName(bases, partRe, func(prefix string, first, last int) string {
		return fmt.Sprintf("%s Part %02d-%02d", prefix, first, last)
	}); ok {
		return name + extension
	}
	if name, ok := rangeName(bases, trailingRe, func(prefix string, first, last int) string {
		return fmt.Sprintf("%s %02d-%02d", prefix, first, last)
	}); ok {
		return name + extension
	}
	return bases[0] + "_merged" + extension
}

// handles "Show S01E01" style names: every base must match, all in the
// same season
func seriesName(bases []string) (string, bool) {
	season := -1
	var episodes []int
	prefix := ""
	for _, base := range bases {
		match := seriesRe.FindStringSubmatchIndex(base)
		if match == nil {
			return "", false
		}
		s, _ := strconv.Atoi(base[match[2]:match[3]])
		e, _ := strconv.Atoi(base[match[4]:match[5]])
		if season == -1 {
			season = s
			prefix = cleanPrefix(base[:match[0]])
		} else if s != season {
			return "", false
		}
		episodes = append(episodes, e)
	}
	sort.Ints(episodes)
	name := fmt.Sprintf("S%02dE%02d-E%02d", season, episodes[0],
		episodes[len(episodes)-1])
	if prefix != "" {
		name = prefix + " " + name
	}
	return name, true
}

// handles "Part 01" and bare trailing-number names
func rangeName(bases []string, pattern *regexp.Regexp,
	format func(string, int, int) string) (string, bool) {
	var numbers []int
	prefix := ""
	for i, base := range bases {
		match := pattern.FindStringSubmatchIndex(base)
		if match == nil {
			return "", false
		}
		n, _ := strconv.Atoi(base[match[2]:match[3]])
		if i == 0 {
			prefix = cleanPrefix(base[:match[0]])
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	name := strings.TrimSpace(format(prefix, numbers[0], numbers[len(numbers)-1]))
	return name, true
}

// tidies the text preceding a detected pattern: separators become
// spaces and dangling punctuation is dropped
func cleanPrefix(text string) string {
	text = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(text)
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
