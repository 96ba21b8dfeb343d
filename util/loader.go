package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// VideoExtensions are the container extensions accepted as video input.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

// VideoFile is a video found on disk.
type VideoFile struct {
	// Path is the path to the video file.
	Path string
	// Size is the file size in bytes.
	Size int64
}

// IsVideoFile reports whether path carries a supported video extension.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range VideoExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// ValidateVideoFile checks that the file exists and has a supported extension.
//
// Arguments:
//   - path: The video file.
//
// Returns:
//   - error: An error naming the problem, or nil.
func ValidateVideoFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if !IsVideoFile(path) {
		return fmt.Errorf("unsupported file extension: %s. Supported extensions: %v",
			strings.ToLower(filepath.Ext(path)), VideoExtensions)
	}
	return nil
}

// LoadDirectoryVideoFiles lists the video files in a directory, sorted by name.
//
// Arguments:
// - dir: Directory path containing video files.
//
// Returns:
// - []VideoFile: The videos found; subdirectories are not searched.
// - error: Error if the directory cannot be read.
func LoadDirectoryVideoFiles(dir string) ([]VideoFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var videos []VideoFile
	for _, entry := range entries {
		if entry.IsDir() || !IsVideoFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		videos = append(videos, VideoFile{
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(videos, func(i, j int) bool {
		return videos[i].Path < videos[j].Path
	})

	return videos, nil
}

// SpoolUpload copies r into a new temporary file in dir, keeping the
// extension of name so decoders can sniff the container.
//
// Arguments:
// - r: The upload body.
// - dir: The spool directory; empty uses os.TempDir.
// - name: The client-supplied file name.
// - limit: Maximum bytes accepted; larger uploads fail.
//
// Returns:
// - string: The spooled file path.
// - func(): Removes the spooled file.
// - error: Error if the copy fails or exceeds limit.
func SpoolUpload(r io.Reader, dir, name string, limit int64) (string, func(), error) {
	ext := strings.ToLower(filepath.Ext(name))
	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", nil, errors.Wrap(err, "create spool file")
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "spool upload")
	}
	if n > limit {
		cleanup()
		return "", nil, fmt.Errorf("upload exceeds %d bytes", limit)
	}
	return f.Name(), cleanup, nil
}
