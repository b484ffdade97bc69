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

package sinks

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	drive "google.golang.org/api/drive/v3"

	"github.com/fetchd/fetchd/config"
)

const folderMimeType = "application/vnd.google-apps.folder"

// this type mirrors payloads into a Google Drive folder
type DriveUploader struct {
	service *drive.Service
}

func NewDriveUploader(service *drive.Service) *DriveUploader {
	return &DriveUploader{service: service}
}

func (u *DriveUploader) Name() string {
	return "gd"
}

func (u *DriveUploader) Upload(ctx context.Context, path string,
	spec Spec) (Result, error) {
	folderId := spec.FolderId
	if folderId == "" {
		folderId = config.Upload.GDriveId
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	if !info.IsDir() {
		uploaded, err := u.uploadFile(ctx, path, folderId, spec)
		if err != nil {
			return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
		}
		return Result{
			Link:  fileLink(uploaded.Id),
			Files: 1,
		}, nil
	}

	rootId, files, folders, err := u.uploadTree(ctx, path, folderId, spec)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	return Result{
		Link:    folderLink(rootId),
		Files:   files,
		Folders: folders,
	}, nil
}

func (u *DriveUploader) uploadFile(ctx context.Context, path, parentId string,
	spec Spec) (*drive.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	metadata := &drive.File{
		Name:    filepath.Base(path),
		Parents: []string{parentId},
	}
	return u.service.Files.Create(metadata).
		Media(file).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func (u *DriveUploader) createFolder(ctx context.Context, name, parentId string) (string, error) {
	folder, err := u.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentId},
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return folder.Id, nil
}

// recreates the local tree under parentId, uploading files as it goes
func (u *DriveUploader) uploadTree(ctx context.Context, root, parentId string,
	spec Spec) (string, int, int, error) {
	rootId, err := u.createFolder(ctx, filepath.Base(root), parentId)
	if err != nil {
		return "", 0, 0, err
	}
	folderIds := map[string]string{root: rootId}
	files, folders := 0, 1
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		parent := folderIds[filepath.Dir(path)]
		if entry.IsDir() {
			id, err := u.createFolder(ctx, entry.Name(), parent)
			if err != nil {
				return err
			}
			folderIds[path] = id
			folders++
			return nil
		}
		if _, err := u.uploadFile(ctx, path, parent, spec); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return "", files, folders, err
	}
	return rootId, files, folders, nil
}

// FindExisting checks the destination folder for an entry with the given
// name, for the pre-admission duplicate check. It returns the existing
// link on a hit.
func (u *DriveUploader) FindExisting(ctx context.Context, name, folderId string) (string, bool, error) {
	if folderId == "" {
		folderId = config.Upload.GDriveId
	}
	escaped := strings.ReplaceAll(name, `'`, `\'`)
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escaped, folderId)
	list, err := u.service.Files.List().
		Q(query).
		Fields("files(id, name, mimeType)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, err
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	found := list.Files[0]
	if found.MimeType == folderMimeType {
		return folderLink(found.Id), true, nil
	}
	return fileLink(found.Id), true, nil
}

// Clone server-side copies a drive file or folder into the destination.
func (u *DriveUploader) Clone(ctx context.Context, sourceId, folderId string) (string, error) {
	if folderId == "" {
		folderId = config.Upload.GDriveId
	}
	source, err := u.service.Files.Get(sourceId).
		Fields("id, name, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	if source.MimeType != folderMimeType {
		copied, err := u.service.Files.Copy(sourceId, &drive.File{
			Parents: []string{folderId},
		}).SupportsAllDrives(true).Context(ctx).Do()
		if err != nil {
			return "", UploadError{Sink: u.Name(), Reason: err.Error()}
		}
		return fileLink(copied.Id), nil
	}
	cloneId, err := u.cloneFolder(ctx, sourceId, source.Name, folderId)
	if err != nil {
		return "", UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	return folderLink(cloneId), nil
}

func (u *DriveUploader) cloneFolder(ctx context.Context, sourceId, name,
	parentId string) (string, error) {
	cloneId, err := u.createFolder(ctx, name, parentId)
	if err != nil {
		return "", err
	}
	pageToken := ""
	for {
		list, err := u.service.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", sourceId)).
			Fields("nextPageToken, files(id, name, mimeType)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return "", err
		}
		for _, child := range list.Files {
			if child.MimeType == folderMimeType {
				if _, err := u.cloneFolder(ctx, child.Id, child.Name, cloneId); err != nil {
					return "", err
				}
				continue
			}
			_, err := u.service.Files.Copy(child.Id, &drive.File{
				Parents: []string{cloneId},
			}).SupportsAllDrives(true).Context(ctx).Do()
			if err != nil {
				return "", err
			}
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			return cloneId, nil
		}
	}
}

func fileLink(id string) string {
	return "https://drive.google.com/uc?id=" + id + "&export=download"
}

func folderLink(id string) string {
	return "https://drive.google.com/drive/folders/" + id
}

// IndexLink renders the index URL for an uploaded entry when an index
// is configured.
func IndexLink(name string, isDir bool) string {
	base := config.Upload.IndexURL
	if base == "" {
		return ""
	}
	link := strings.TrimSuffix(base, "/") + "/" + url.PathEscape(name)
	if isDir {
		link += "/"
	}
	return link
}
