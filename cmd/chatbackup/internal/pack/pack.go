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

// Package pack implements the pack command.
package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rusq/fsadapter"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
)

var CmdPack = &base.Command{
	UsageLine: "chatbackup pack [flags] <archive> <target>",
	Short:     "copy an archive into a ZIP file or a directory",
	Long: `
Pack copies the archive into the target.  If the target name ends with
".zip", a ZIP file is created, otherwise the target is a directory.  The
state directory and the unfinished downloads are not copied.
`,
	FlagMask:   cfg.OmitBackupFlags,
	PrintFlags: true,
	Run:        runPack,
}

func runPack(ctx context.Context, cmd *base.Command, args []string) error {
	if len(args) != 2 {
		base.SetExitStatus(base.SInvalidParameters)
		return errors.New("archive directory and target are required")
	}
	if _, err := archive.OpenReader(args[0]); err != nil {
		base.SetExitStatus(base.SInvalidParameters)
		return err
	}
	if err := base.AskOverwrite(args[1]); err != nil {
		return err
	}
	n, size, err := pack(ctx, args[0], args[1])
	if err != nil {
		base.SetExitStatus(base.SApplicationError)
		return err
	}
	slog.InfoContext(ctx, "archive packed", "target", args[1], "files", n, "size", humanize.Bytes(uint64(size)))
	return nil
}

// skip reports whether the archive-relative path is not copied.
func skip(rel string, d fs.DirEntry) bool {
	if d.IsDir() {
		return rel == ".state"
	}
	return strings.HasPrefix(d.Name(), ".part-")
}

// pack copies the archive files to the target and returns the number of
// files and bytes copied.
func pack(ctx context.Context, root, target string) (n int, size int64, err error) {
	fsa, err := fsadapter.New(target)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if cerr := fsa.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		written, err := copyFile(fsa, rel, path)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		n++
		size += written
		return nil
	})
	return n, size, err
}

func copyFile(fsa fsadapter.FS, name, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	wc, err := fsa.Create(name)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(wc, f)
	if err != nil {
		wc.Close()
		return written, err
	}
	return written, wc.Close()
}
