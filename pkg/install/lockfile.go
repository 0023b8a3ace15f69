package install

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/monoforge/monoforge/pkg/engine"
)

// PromoteLock copies the staging lock file to its committed location with an
// atomic replace.
func PromoteLock(staging, committed string) error {
	src, err := os.Open(staging)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.NewMissingArtifactError(
				fmt.Sprintf("staging lock file %s is absent after install reported success", staging))
		}
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to open staging lock file %s", staging), err)
	}
	defer src.Close()

	tmp := committed + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create %s", tmp), err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to copy lock file to %s", tmp), err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to close %s", tmp), err)
	}
	if err := os.Rename(tmp, committed); err != nil {
		os.Remove(tmp)
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to replace %s", committed), err)
	}
	return nil
}

// RemoveCommittedLock deletes the committed lock file. Removing an absent
// file is not an error.
func RemoveCommittedLock(committed string) error {
	if err := os.Remove(committed); err != nil && !os.IsNotExist(err) {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to remove committed lock file %s", committed), err)
	}
	return nil
}

// TouchMarker creates or refreshes the install marker sentinel. Its mtime is
// the sole signal of install currency.
func TouchMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to create install marker %s", path), err)
	}
	if err := f.Close(); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to close install marker %s", path), err)
	}

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return engine.NewFilesystemError(
			fmt.Sprintf("failed to refresh install marker %s", path), err)
	}
	return nil
}

// modTime returns a file's mtime, or the zero time when it does not exist.
func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, engine.NewFilesystemError(
			fmt.Sprintf("failed to stat %s", path), err)
	}
	return info.ModTime(), nil
}
