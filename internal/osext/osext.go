// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package osext provides some additional functions for working with the
// filesystem.
package osext

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// IsInteractive returns true if the program is running in the interactive
// terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd())) && os.Getenv("TERM") != "dumb"
}

// ErrNotADir is returned when the path is not a directory.
var ErrNotADir = errors.New("not a directory")

// DirExists checks if the directory exists.
func DirExists(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrNotADir)
	}
	return nil
}

// SyncDir flushes the directory entry so that a newly created or renamed
// file survives a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		// some platforms do not support fsync on directories.
		return err
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it over filename.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tf, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	tmpName := tf.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tf.Write(data); err != nil {
		tf.Close()
		return err
	}
	if err := tf.Chmod(perm); err != nil {
		tf.Close()
		return err
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return err
	}
	if err := tf.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	return SyncDir(dir)
}

// CopyFile copies src to w, returning number of bytes written.
func CopyFile(w io.Writer, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

var (
	reUnsafe = regexp.MustCompile(`["*/:<>?\\|\x00-\x1f]`)
	reDashes = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename replaces the characters that are not allowed in filenames
// on common filesystems, and invalid UTF-8, with underscores.  The result is
// never empty.
func SanitizeFilename(name string) string {
	s := strings.ToValidUTF8(strings.TrimSpace(name), "_")
	s = reUnsafe.ReplaceAllString(s, "_")
	s = reDashes.ReplaceAllString(s, "_")
	s = strings.Trim(s, ". ")
	const maxLen = 120
	if len(s) > maxLen {
		s = s[:maxLen]
		// don't leave a partial rune
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
		s = strings.TrimRight(s, ". ")
	}
	if s == "" {
		return "_"
	}
	return s
}
