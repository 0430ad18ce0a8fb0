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

// Package reindex implements the search index commands.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/archive/index"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
)

var CmdReindex = &base.Command{
	UsageLine: "chatbackup reindex [flags] <archive>",
	Short:     "rebuild the search index of an archive",
	Long: `
Reindex rebuilds the search index (` + archive.IndexFile + `) from the
message logs of the archive.  The index is rebuilt after each backup, unless
-no-index was given, use this command to rebuild it manually.
`,
	FlagMask:   cfg.OmitBackupFlags,
	PrintFlags: true,
	Run:        runReindex,
}

var CmdSearch = &base.Command{
	UsageLine: "chatbackup search [flags] <archive> <query>",
	Short:     "search the archive messages",
	Long: `
Search runs the full text query against the search index of the archive
and prints the matching messages.  The query uses the SQLite FTS5 syntax,
i.e. "hello AND world", or "hel*".
`,
	FlagMask:   cfg.OmitBackupFlags,
	PrintFlags: true,
	Run:        runSearch,
}

var searchLimit int

func init() {
	CmdSearch.Flag.IntVar(&searchLimit, "limit", 50, "maximum number of `results`")
}

var errArchiveRequired = errors.New("archive directory is required")

func runReindex(ctx context.Context, cmd *base.Command, args []string) error {
	if len(args) != 1 {
		base.SetExitStatus(base.SInvalidParameters)
		return errArchiveRequired
	}
	return reindex(ctx, os.Stdout, args[0])
}

func reindex(ctx context.Context, w io.Writer, root string) error {
	start := time.Now()
	st, err := index.Rebuild(ctx, root)
	if err != nil {
		base.SetExitStatus(base.SApplicationError)
		return err
	}
	_, err = fmt.Fprintf(w, "Indexed %s messages from %s chats and %s users in %s\n",
		humanize.Comma(int64(st.Messages)),
		humanize.Comma(int64(st.Chats)),
		humanize.Comma(int64(st.Users)),
		time.Since(start).Round(time.Millisecond),
	)
	return err
}

func runSearch(ctx context.Context, cmd *base.Command, args []string) error {
	if len(args) < 2 {
		base.SetExitStatus(base.SInvalidParameters)
		return errors.New("archive directory and query are required")
	}
	return search(ctx, os.Stdout, args[0], strings.Join(args[1:], " "), searchLimit)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func search(ctx context.Context, w io.Writer, root, query string, limit int) error {
	filename := filepath.Join(root, archive.IndexFile)
	if _, err := os.Stat(filename); err != nil {
		base.SetExitStatus(base.SInvalidParameters)
		return fmt.Errorf("no search index, run 'chatbackup reindex %s': %w", root, err)
	}
	ix, err := index.Open(ctx, filename)
	if err != nil {
		base.SetExitStatus(base.SApplicationError)
		return err
	}
	defer ix.Close()
	hits, err := ix.Search(ctx, query, limit)
	if err != nil {
		base.SetExitStatus(base.SApplicationError)
		return err
	}
	if len(hits) == 0 {
		_, err := fmt.Fprintln(w, "No messages found.")
		return err
	}
	rows := make([][]string, len(hits))
	for i, h := range hits {
		rows[i] = []string{h.Time().Format(time.DateTime), h.ChatID, h.AuthorID, h.Snippet}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Time", "Chat", "Author", "Message").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	_, err = fmt.Fprintf(w, "%s\n%d result(s)\n", t.Render(), len(hits))
	return err
}
