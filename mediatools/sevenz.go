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
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	splitPartRe      = regexp.MustCompile(`\.0+2$`)
	archiveSplitRe   = regexp.MustCompile(`\.r\d+$|\.\d+$|\.part\d+\.rar$|\.z\d+$`)
	firstArchSplitRe = regexp.MustCompile(`\.r0*1$|\.0*1$|\.part0*1\.rar$|\.z0*1$`)
)

var archiveExtensions = []string{
	".zip", ".rar", ".tar", ".7z", ".gz", ".bz2", ".xz", ".iso",
}

// reports whether path names a recognized archive
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, extension := range archiveExtensions {
		if strings.HasSuffix(lower, extension) {
			return true
		}
	}
	return false
}

// reports whether path names one volume of a multi-part archive
func IsArchiveSplit(path string) bool {
	return archiveSplitRe.MatchString(strings.ToLower(path))
}

// reports whether path names the first volume of a multi-part archive,
// the one handed to the extractor
func IsFirstArchiveSplit(path string) bool {
	return firstArchSplitRe.MatchString(strings.ToLower(path))
}

// reports whether name marks the second piece of a plain ".001"-style
// split, which reveals a joinable set
func IsSecondSplitPart(name string) bool {
	return splitPartRe.MatchString(name)
}

// strips the archive extension off path; volumes of a multi-part set
// keep their trailing volume suffix intact
func BaseName(path string) (string, error) {
	lower := strings.ToLower(path)
	for _, extension := range archiveExtensions {
		if strings.HasSuffix(lower, extension) {
			return path[:len(path)-len(extension)], nil
		}
	}
	return "", NotSupportedExtractorError{Path: path}
}

// builds the 7z invocation that reassembles a ".001 .002 ..." split set
// into one file next to the parts
func JoinArgs(dir, base string) []string {
	return []string{"7z", "x", filepath.Join(dir, base) + ".*",
		"-o" + dir, "-aot", "-xr!@PaxHeader"}
}

// builds the 7z invocation that extracts an archive into destination
func ExtractArgs(path, destination, password string) []string {
	argv := []string{"7z", "x"}
	if password != "" {
		argv = append(argv, "-p"+password)
	}
	return append(argv, path, "-o"+destination, "-aot", "-xr!@PaxHeader",
		"-bso1", "-bsp1")
}

// builds the 7z invocation that stores path into an uncompressed
// archive; a non-zero volumeSize splits it into volumes
func CompressArgs(path, archive, password string, volumeSize int64) []string {
	argv := []string{"7z"}
	if volumeSize > 0 {
		argv = append(argv, "a", "-v"+strconv.FormatInt(volumeSize, 10)+"b")
	} else {
		argv = append(argv, "a")
	}
	if password != "" {
		argv = append(argv, "-p"+password)
	}
	return append(argv, archive, path, "-mx=0", "-bso1", "-bsp1")
}
