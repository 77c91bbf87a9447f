////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package attachment holds the collaborators a send needs for files: storage
// that turns bytes into a public URL and a compressor that shrinks images
// before upload.
package attachment

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Storage uploads attachment bytes and deletes uploaded objects.
type Storage interface {
	// Upload stores data and returns its public URL.
	Upload(ctx context.Context, data []byte, contentType string) (string, error)

	// Delete removes the objects at the given paths. Missing objects are not
	// an error.
	Delete(ctx context.Context, paths []string) error

	// PathOf returns the object path of a URL returned by Upload.
	PathOf(url string) string
}

// Dir is a Storage writing each upload to its own file in a directory. The
// public URL is BaseURL joined with the file name.
type Dir struct {
	root    string
	baseURL string
}

// NewDir creates the directory if needed and returns a Dir over it.
func NewDir(root, baseURL string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create attachment dir %s", root)
	}
	return &Dir{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes data under a random name with an extension matching the
// content type.
func (d *Dir) Upload(ctx context.Context, data []byte,
	contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + extension(contentType)
	path := filepath.Join(d.root, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}

	jww.DEBUG.Printf("[ATTACHMENT] Stored %d bytes of %s as %s",
		len(data), contentType, name)
	return d.baseURL + "/" + name, nil
}

// Delete removes the named files.
func (d *Dir) Delete(_ context.Context, paths []string) error {
	var failed []string
	for _, p := range paths {
		// Never leave the root.
		name := filepath.Base(filepath.Clean("/" + p))
		err := os.Remove(filepath.Join(d.root, name))
		if err != nil && !os.IsNotExist(err) {
			jww.WARN.Printf("[ATTACHMENT] Failed to delete %s: %+v", name, err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("failed to delete %d of %d attachments: %v",
			len(failed), len(paths), failed)
	}
	return nil
}

// PathOf returns the file name of a URL returned by Upload.
func (d *Dir) PathOf(url string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, d.baseURL), "/")
}

func extension(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	// Prefer the short common form, e.g. ".jpg" over ".jpe".
	for _, ext := range exts {
		if ext == ".jpg" || ext == ".png" || ext == ".pdf" {
			return ext
		}
	}
	return exts[0]
}
