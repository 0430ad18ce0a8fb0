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

// Package index maintains the search index of the archive.  The index is
// derived data, it is rebuilt from the archive logs and may be deleted at
// any time.
package index

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"runtime/trace"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/ccbackup/chatbackup/archive"
	"github.com/ccbackup/chatbackup/types"
)

// Driver is the database driver name.
const Driver = "sqlite"

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(err)
	}
}

var dbInitCommands = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Migrate applies the schema migrations.
func Migrate(ctx context.Context, db *sql.DB, verbose bool) error {
	if !verbose {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(log.Default())
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Index is the search index.
type Index struct {
	db *sqlx.DB
}

// Open opens or creates the index database.
func Open(ctx context.Context, filename string) (*Index, error) {
	db, err := sqlx.Open(Driver, filename)
	if err != nil {
		return nil, err
	}
	for _, cmd := range dbInitCommands {
		if _, err := db.ExecContext(ctx, cmd); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	if err := Migrate(ctx, db.DB, false); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// New wraps an open database.  The schema must be migrated.
func New(db *sqlx.DB) *Index {
	return &Index{db: db}
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Stats is the result of the index build.
type Stats struct {
	Chats    int
	Users    int
	Messages int
}

// DBChat is the chat row.
type DBChat struct {
	ID     string  `db:"ID"`
	Name   string  `db:"NAME"`
	Kind   string  `db:"KIND"`
	Dir    string  `db:"DIR"`
	Topic  *string `db:"TOPIC"`
	Avatar *string `db:"AVATAR"`
}

// DBUser is the user row.
type DBUser struct {
	ID         string  `db:"ID"`
	Name       string  `db:"NAME"`
	ExternalID *string `db:"EXTERNAL_ID"`
	Avatar     *string `db:"AVATAR"`
	Color      *string `db:"COLOR"`
	Bot        bool    `db:"BOT"`
}

// DBMessage is the message row.  Data holds the complete message record.
type DBMessage struct {
	ChatID   string  `db:"CHAT_ID"`
	ID       string  `db:"ID"`
	Index    int     `db:"IDX"`
	AuthorID *string `db:"AUTHOR_ID"`
	TS       int64   `db:"TS"`
	Type     string  `db:"TYPE"`
	Text     *string `db:"TXT"`
	ReplyTo  *string `db:"REPLY_TO"`
	NumFiles int     `db:"NUM_FILES"`
	Data     []byte  `db:"DATA"`
}

func orNull[T any](b bool, t T) *T {
	if b {
		return &t
	}
	return nil
}

func newDBMessage(idx int, m *types.Message) (*DBMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return &DBMessage{
		ChatID:   m.ChatID,
		ID:       m.ID,
		Index:    idx,
		AuthorID: orNull(m.AuthorID != "", m.AuthorID),
		TS:       m.Timestamp.UnixMilli(),
		Type:     string(m.Type),
		Text:     orNull(m.Body != "", m.Body),
		ReplyTo:  orNull(m.ReplyTo != "", m.ReplyTo),
		NumFiles: len(m.Attachments),
		Data:     data,
	}, nil
}

// Val returns the message record.
func (m DBMessage) Val() (types.Message, error) {
	var v types.Message
	err := json.Unmarshal(m.Data, &v)
	return v, err
}

const (
	insertChat    = `INSERT INTO CHAT (ID, NAME, KIND, DIR, TOPIC, AVATAR) VALUES (:ID, :NAME, :KIND, :DIR, :TOPIC, :AVATAR)`
	insertUser    = `INSERT OR REPLACE INTO USER (ID, NAME, EXTERNAL_ID, AVATAR, COLOR, BOT) VALUES (:ID, :NAME, :EXTERNAL_ID, :AVATAR, :COLOR, :BOT)`
	insertMessage = `INSERT OR IGNORE INTO MESSAGE (CHAT_ID, ID, IDX, AUTHOR_ID, TS, TYPE, TXT, REPLY_TO, NUM_FILES, DATA) VALUES (:CHAT_ID, :ID, :IDX, :AUTHOR_ID, :TS, :TYPE, :TXT, :REPLY_TO, :NUM_FILES, :DATA)`
)

// Build replaces the contents of the index with the contents of the
// archive.
func (ix *Index) Build(ctx context.Context, r *archive.Reader) (Stats, error) {
	ctx, task := trace.NewTask(ctx, "index.Build")
	defer task.End()

	var st Stats
	tx, err := ix.db.BeginTxx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM MESSAGE", "DELETE FROM CHAT", "DELETE FROM USER"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return st, fmt.Errorf("%s: %w", stmt, err)
		}
	}

	chats, err := r.Chats()
	if err != nil {
		return st, err
	}
	stmtMsg, err := tx.PrepareNamedContext(ctx, insertMessage)
	if err != nil {
		return st, err
	}
	defer stmtMsg.Close()
	for _, c := range chats {
		dbc := DBChat{
			ID:     c.ID,
			Name:   c.Name,
			Kind:   string(c.Kind),
			Dir:    c.Dir,
			Topic:  orNull(c.Topic != "", c.Topic),
			Avatar: orNull(c.Avatar != "", c.Avatar),
		}
		if _, err := tx.NamedExecContext(ctx, insertChat, dbc); err != nil {
			return st, fmt.Errorf("chat %s: %w", c.ID, err)
		}
		st.Chats++
		var idx int
		for m, err := range r.Messages(c.Dir) {
			if err != nil {
				slog.WarnContext(ctx, "skipping unreadable message", "chat", c.ID, "error", err)
				continue
			}
			m.ChatID = c.ID
			dbm, err := newDBMessage(idx, &m)
			if err != nil {
				return st, err
			}
			if _, err := stmtMsg.ExecContext(ctx, dbm); err != nil {
				return st, fmt.Errorf("message %s/%s: %w", c.ID, m.ID, err)
			}
			idx++
			st.Messages++
		}
	}
	for u, err := range r.Users() {
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable user", "error", err)
			continue
		}
		dbu := DBUser{
			ID:         u.ID,
			Name:       u.Name,
			ExternalID: orNull(u.ExternalID != "", u.ExternalID),
			Avatar:     orNull(u.Avatar != "", u.Avatar),
			Color:      orNull(u.Color != "", u.Color),
			Bot:        u.Bot,
		}
		if _, err := tx.NamedExecContext(ctx, insertUser, dbu); err != nil {
			return st, fmt.Errorf("user %s: %w", u.ID, err)
		}
		st.Users++
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return st, nil
}

// Hit is a search result.
type Hit struct {
	ChatID   string `db:"CHAT_ID"`
	ID       string `db:"ID"`
	TS       int64  `db:"TS"`
	AuthorID string `db:"AUTHOR_ID"`
	Snippet  string `db:"SNIPPET"`
}

// Time returns the message time.
func (h Hit) Time() time.Time {
	return time.UnixMilli(h.TS).UTC()
}

// Search runs the full text query.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 100
	}
	var hits []Hit
	err := ix.db.SelectContext(ctx, &hits,
		`SELECT M.CHAT_ID AS CHAT_ID, M.ID AS ID, M.TS AS TS, COALESCE(M.AUTHOR_ID, '') AS AUTHOR_ID,
		  snippet(MESSAGE_SEARCH, 0, '[', ']', '…', 10) AS SNIPPET
		FROM MESSAGE_SEARCH JOIN MESSAGE M ON M.rowid = MESSAGE_SEARCH.rowid
		WHERE MESSAGE_SEARCH MATCH ?
		ORDER BY rank, M.TS
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

// Messages returns the indexed messages of the chat in archive order.
func (ix *Index) Messages(ctx context.Context, chatID string) ([]types.Message, error) {
	var rows []DBMessage
	if err := ix.db.SelectContext(ctx, &rows, `SELECT * FROM MESSAGE WHERE CHAT_ID = ? ORDER BY IDX`, chatID); err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.Val()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Rebuild rebuilds the index file of the archive at root.
func Rebuild(ctx context.Context, root string) (Stats, error) {
	r, err := archive.OpenReader(root)
	if err != nil {
		return Stats{}, err
	}
	ix, err := Open(ctx, filepath.Join(root, archive.IndexFile))
	if err != nil {
		return Stats{}, err
	}
	st, err := ix.Build(ctx, r)
	return st, errors.Join(err, ix.Close())
}
