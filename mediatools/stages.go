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

package mediatools

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// the directory yt-dlp drops thumbnails into; exempt from extension
// filtering so embedded covers survive
const thumbDirName = "yt-dlp-thumb"

var wwwPrefixRe = regexp.MustCompile(`^www\S+\s*[-_]*\s*`)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".flv": true, ".wmv": true, ".m4v": true, ".ts": true, ".mpg": true,
	".mpeg": true, ".3gp": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".flac": true, ".wav": true, ".ogg": true,
	".opus": true, ".aac": true, ".wma": true, ".alac": true,
}

func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

func IsAudio(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// computes the total size of a file or of everything beneath a directory
func PathSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// counts the files and folders directly inside path
func CountFilesAndFolders(path string) (files, folders int, err error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			folders++
		} else {
			files++
		}
	}
	return files, folders, nil
}

// deletes every file under dir whose extension appears in excluded;
// thumbnail directories are left alone
func RemoveExcludedFiles(dir string, excluded []string) error {
	if len(excluded) == 0 {
		return nil
	}
	return filterFiles(dir, func(name string) bool {
		return hasAnySuffix(name, excluded)
	})
}

// deletes every file under dir whose extension does NOT appear in
// included; thumbnail directories are left alone
func RemoveNonIncludedFiles(dir string, included []string) error {
	if len(included) == 0 {
		return nil
	}
	return filterFiles(dir, func(name string) bool {
		return !hasAnySuffix(name, included)
	})
}

func filterFiles(dir string, shouldRemove func(string) bool) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == thumbDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldRemove(strings.ToLower(entry.Name())) {
			if err := os.Remove(path); err != nil {
				slog.Warn("Couldn't remove " + path + ": " + err.Error())
			}
		}
		return nil
	})
}

func hasAnySuffix(name string, extensions []string) bool {
	for _, extension := range extensions {
		extension = strings.ToLower(strings.TrimSpace(extension))
		if extension == "" {
			continue
		}
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		if strings.HasSuffix(name, extension) {
			return true
		}
	}
	return false
}

// strips a leading "www.example.com - " style site tag off a base name
func StripWwwPrefix(name string) string {
	stripped := wwwPrefixRe.ReplaceAllString(name, "")
	if stripped == "" {
		return name
	}
	return stripped
}

// one name substitution rule: occurrences of a pattern become a
// replacement, optionally case-insensitively
type Substitution struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// parses the "pattern/replacement/flag | pattern2/replacement2" rule
// syntax; a trailing "s" flag makes the match case-insensitive, and a
// missing replacement deletes the match
func ParseSubstitutions(spec string) ([]Substitution, error) {
	var rules []Substitution
	for _, term := range strings.Split(spec, "|") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		parts := strings.Split(term, "/")
		pattern := parts[0]
		replacement := ""
		if len(parts) > 1 {
			replacement = parts[1]
		}
		if len(parts) > 2 && strings.EqualFold(strings.TrimSpace(parts[2]), "s") {
			pattern = "(?i)" + pattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Substitution{Pattern: compiled, Replacement: replacement})
	}
	return rules, nil
}

// applies every substitution rule to name in order
func ApplySubstitutions(name string, rules []Substitution) string {
	for _, rule := range rules {
		name = rule.Pattern.ReplaceAllString(name, rule.Replacement)
	}
	return name
}

// renames path so its base name becomes newName, returning the new path
func renameBase(path, newName string) (string, error) {
	newPath := filepath.Join(filepath.Dir(path), newName)
	if newPath == path {
		return path, nil
	}
	if err := os.Rename(path, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}
