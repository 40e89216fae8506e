package core

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedURI = errors.New("unsupported recorder uri")
	ErrOutsideRecords = errors.New("recorder uri outside records path")
)

// RecordFilePath maps a file:// recorder URI to a local path. Escapes in the
// URI are kept literally, so an escaped "/" never becomes a separator.
func RecordFilePath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse recorder uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	path := strings.TrimPrefix(uri, "file://")
	if path == "" || strings.HasSuffix(path, "/") {
		return "", fmt.Errorf("%w: %q has no file name", ErrUnsupportedURI, uri)
	}
	return filepath.Clean(path), nil
}

// RecordsDir maps the records_path URI prefix to a local directory.
func RecordsDir(root string) (string, error) {
	u, err := url.Parse(root)
	if err != nil {
		return "", fmt.Errorf("parse records path: %w", err)
	}
	dir := strings.TrimPrefix(root, "file://")
	if u.Scheme != "file" || dir == "" {
		return "", fmt.Errorf("%w: records path %q", ErrUnsupportedURI, root)
	}
	return filepath.Clean(dir), nil
}

// RecordPathWithin resolves uri and requires the result to be a file strictly
// below the records directory.
func RecordPathWithin(dir, uri string) (string, error) {
	path, err := RecordFilePath(uri)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRecords, uri)
	}
	return path, nil
}
