// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package blobs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores blobs in a directory on the local filesystem. The content
// type is kept in a sidecar file next to the content.
type Local struct {
	baseDir string
}

var _ Driver = (*Local)(nil)

// NewLocal returns a filesystem driver rooted at baseDir, creating the
// directory if needed.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) contentPath(key string) string {
	return filepath.Join(l.baseDir, key)
}

func (l *Local) typePath(key string) string {
	return filepath.Join(l.baseDir, key+".content-type")
}

func (l *Local) Put(ctx context.Context, key string, contentType string, r io.Reader) error {
	f, err := os.Create(l.contentPath(key))
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.WriteFile(l.typePath(key), []byte(contentType), 0644)
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	f, err := os.Open(l.contentPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNoBlob
		}
		return nil, "", err
	}
	contentType := "application/octet-stream"
	if meta, err := os.ReadFile(l.typePath(key)); err == nil {
		contentType = strings.TrimSpace(string(meta))
	}
	return f, contentType, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.contentPath(key))
	if os.IsNotExist(err) {
		return ErrNoBlob
	}
	os.Remove(l.typePath(key))
	return err
}
