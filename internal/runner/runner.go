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

// Package runner drives one backup run: it fetches the chats of a source
// adapter on a bounded worker pool, resolves the attachments, commits the
// batches to the archive and persists the resume state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"runtime/trace"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/archive/index"
	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/internal/state"
	"github.com/ccbackup/chatbackup/source"
	"github.com/ccbackup/chatbackup/types"
)

// Config is the run configuration.
type Config struct {
	// Output is the archive root directory.
	Output string
	// Limits are the worker and download limits.
	Limits network.Limits
	// NoFiles disables attachment downloads, the attachments are recorded
	// as missing.
	NoFiles bool
	// NoIndex skips the search index rebuild at the end of the run.
	NoIndex bool
}

// Runner runs the backup of one source.
type Runner struct {
	src source.Adapter
	st  *state.Store
	cfg Config
	lg  *slog.Logger
	pb  *progressbar.ProgressBar

	mu     sync.Mutex
	images map[string]string // source -> archive path
}

// Option is the runner option.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(r *Runner) {
		if lg != nil {
			r.lg = lg
		}
	}
}

// WithProgress shows a spinner with the message count on w.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) {
		if w == nil {
			return
		}
		r.pb = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("messages"),
			progressbar.OptionSpinnerType(8),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
}

// New creates a runner for the adapter.  st holds the resume state.
func New(src source.Adapter, st *state.Store, cfg Config, opts ...Option) *Runner {
	if cfg.Limits.Workers == 0 {
		cfg.Limits = network.DefLimits
	}
	r := &Runner{
		src:    src,
		st:     st,
		cfg:    cfg,
		lg:     slog.Default(),
		pb:     progressbar.DefaultSilent(-1),
		images: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run backs up all chats of the source.  A chat that fails is reported in
// the summary and does not stop the others, only an authentication failure
// aborts the run, in which case the summary and the error are returned.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	ctx, task := trace.NewTask(ctx, "backup")
	defer task.End()

	start := time.Now()
	sum := &Summary{Source: r.src.Source(), Output: r.cfg.Output}

	w, err := archive.Open(r.cfg.Output, r.src.Source())
	if err != nil {
		return sum, err
	}
	dl := downloader.New(r.cfg.Output, r.src.Getter(),
		downloader.WithLimiter(r.cfg.Limits.Limiter(network.TierDownload)),
		downloader.WithRetries(r.cfg.Limits.DownloadRetries),
		downloader.WithLogger(r.lg),
	)

	runErr := r.run(ctx, w, dl, sum)
	if err := w.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("archive: %w", err))
	}
	_ = r.pb.Finish()
	if runErr == nil && !r.cfg.NoIndex {
		r.lg.InfoContext(ctx, "rebuilding the search index")
		st, err := index.Rebuild(ctx, r.cfg.Output)
		if err != nil {
			runErr = fmt.Errorf("index: %w", err)
		}
		sum.Index = st
	}
	sum.Elapsed = time.Since(start)
	return sum, runErr
}

func (r *Runner) run(ctx context.Context, w *archive.Writer, dl *downloader.Client, sum *Summary) error {
	info, err := r.src.Info(ctx)
	if err != nil {
		if fail.IsFatal(err) {
			return err
		}
		r.lg.WarnContext(ctx, "unable to get the source info", "error", err)
	}
	sum.Name = info.Name
	if err := w.SetInfo(info.Name, r.image(ctx, dl, downloader.AreaAvatars, info.Icon, "icon")); err != nil {
		return err
	}

	chats, err := r.src.Chats(ctx)
	if err != nil {
		return fmt.Errorf("chats: %w", err)
	}
	r.lg.InfoContext(ctx, "backing up", "source", r.src.Source(), "name", info.Name, "chats", len(chats))

	sum.Chats = make([]ChatResult, len(chats))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.Limits.Workers)
	for i, chat := range chats {
		eg.Go(func() error {
			res := r.chat(ctx, w, dl, chat)
			sum.Chats[i] = res
			if fail.IsFatal(res.Err) {
				return res.Err
			}
			return nil
		})
	}
	return eg.Wait()
}

// chat backs up one chat.  Within the chat everything is sequential: a
// batch is resolved and committed before its resume state is saved.
func (r *Runner) chat(ctx context.Context, w *archive.Writer, dl *downloader.Client, chat types.Chat) (res ChatResult) {
	ctx, task := trace.NewTask(ctx, "chat")
	defer task.End()
	start := time.Now()
	res.Chat = chat
	lg := r.lg.With("chat", chat.String())
	defer func() {
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			lg.ErrorContext(ctx, "chat failed", "error", res.Err)
		} else {
			lg.InfoContext(ctx, "chat done", "messages", res.Messages, "attachments", res.Attachments, "elapsed", res.Elapsed)
		}
	}()

	rs, err := r.st.Resume(r.src.Source(), chat.ID)
	if err != nil {
		res.Err = err
		return
	}
	cw, err := w.Chat(chat)
	if err != nil {
		res.Err = err
		return
	}
	if !rs.IsZero() {
		lg.DebugContext(ctx, "resuming", "cursor", rs.Cursor, "archived", cw.Len())
	}
	guard := source.NewGuard(cw.Last(), maps.Clone(cw.Seen()))
	for b, err := range r.src.Fetch(ctx, chat, rs) {
		if err != nil {
			res.Err = err
			return
		}
		res.Duplicates += guard.Apply(b)
		if err := r.resolve(ctx, dl, cw.Dir(), b); err != nil {
			res.Err = err
			return
		}
		if err := cw.Commit(b); err != nil {
			res.Err = fmt.Errorf("commit: %w", err)
			return
		}
		if b.Resume != rs {
			if err := r.st.SaveResume(r.src.Source(), chat.ID, b.Resume); err != nil {
				res.Err = err
				return
			}
			rs = b.Resume
		}
		res.add(b)
		_ = r.pb.Add(len(b.Messages))
	}
	return
}

// resolve stores the binaries referenced by the batch.  With NoFiles
// nothing is stored, the attachments are recorded as missing and the
// images are left empty.
func (r *Runner) resolve(ctx context.Context, dl *downloader.Client, chatDir string, b *types.Batch) error {
	if r.cfg.NoFiles {
		for i := range b.Messages {
			for j := range b.Messages[i].Attachments {
				b.Messages[i].Attachments[j] = downloader.Missing(b.Messages[i].Attachments[j])
			}
		}
		return nil
	}
	if b.Chat != nil && !b.Chat.AvatarSource.IsZero() {
		b.Chat.Avatar = r.image(ctx, dl, downloader.AreaAvatars, b.Chat.AvatarSource, "chat")
	}
	for i := range b.Users {
		u := &b.Users[i]
		if !u.AvatarSource.IsZero() {
			u.Avatar = r.image(ctx, dl, downloader.AreaAvatars, u.AvatarSource, u.ID)
		}
	}
	for i := range b.Emoji {
		e := &b.Emoji[i]
		if !e.ImageSource.IsZero() {
			e.Image = r.image(ctx, dl, downloader.AreaEmoji, e.ImageSource, e.Name)
		}
	}
	return dl.Messages(ctx, chatDir, b.Messages)
}

// image stores the image once per run.
func (r *Runner) image(ctx context.Context, dl *downloader.Client, area string, src *types.Source, name string) string {
	if r.cfg.NoFiles || src.IsZero() {
		return ""
	}
	key := area + "|" + src.String()
	r.mu.Lock()
	p, ok := r.images[key]
	r.mu.Unlock()
	if ok {
		return p
	}
	p = dl.Image(ctx, area, src, name)
	if p != "" {
		r.mu.Lock()
		r.images[key] = p
		r.mu.Unlock()
	}
	return p
}
