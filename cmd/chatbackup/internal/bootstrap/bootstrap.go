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

// Package bootstrap contains the pieces shared by the backup commands.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
	"github.com/ccbackup/chatbackup/internal/osext"
	"github.com/ccbackup/chatbackup/internal/runner"
	"github.com/ccbackup/chatbackup/internal/state"
	"github.com/ccbackup/chatbackup/source"
)

// Init applies the API limits and opens the state store.  The store is
// closed on exit.
func Init() (*state.Store, error) {
	if err := cfg.ApplyLimits(); err != nil {
		base.SetExitStatus(base.SInvalidParameters)
		return nil, err
	}
	st, err := state.Open(cfg.StatePath())
	if err != nil {
		base.SetExitStatus(base.SInitializationError)
		return nil, fmt.Errorf("state: %w", err)
	}
	base.AtExit(func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close the state store", "error", err)
		}
	})
	return st, nil
}

// Backup backs up the source into the output directory and writes the
// summary to w.  Failed chats result in a partial backup status.  The
// progress spinner is shown in the interactive terminal if progress is true.
func Backup(ctx context.Context, w io.Writer, src source.Adapter, st *state.Store, progress bool) error {
	if cfg.Restart {
		n, err := st.ResetResume(src.Source())
		if err != nil {
			base.SetExitStatus(base.SInitializationError)
			return err
		}
		slog.InfoContext(ctx, "resume positions reset", "source", src.Source(), "chats", n)
	}
	opts := []runner.Option{runner.WithLogger(slog.Default())}
	if progress && !cfg.Verbose && cfg.LogFile == "" && osext.IsInteractive() {
		opts = append(opts, runner.WithProgress(os.Stderr))
	}
	r := runner.New(src, st, runner.Config{
		Output:  cfg.Output,
		Limits:  cfg.Limits,
		NoFiles: !cfg.WithFiles,
		NoIndex: cfg.NoIndex,
	}, opts...)

	sum, err := r.Run(ctx)
	if sum != nil && len(sum.Chats) > 0 {
		if err := sum.Render(w); err != nil {
			slog.WarnContext(ctx, "unable to print the summary", "error", err)
		}
	}
	if err != nil {
		base.SetExitStatus(base.StatusOf(err))
		return err
	}
	if n := sum.Failed(); n > 0 {
		base.SetExitStatus(base.SPartialBackup)
		return fmt.Errorf("%d of %d chats failed, run the command again to resume", n, len(sum.Chats))
	}
	return nil
}

// Fail sets the exit status for the error returned by the adapter
// constructor and returns the error.
func Fail(err error) error {
	st := base.StatusOf(err)
	if st == base.SApplicationError {
		st = base.SInitializationError
	}
	base.SetExitStatus(st)
	return err
}
