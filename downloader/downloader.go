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

// Package downloader is the attachment resolver.  It places binary payloads
// (attachments, avatars, emoji images) into the archive.
//
// Files are content addressed: the stored name is derived from the SHA-256
// of the content, so identical content within one area (a chat's
// attachment directory, the avatar directory) is stored once.  Every stored
// file is synced to disk before its path is returned.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ccbackup/chatbackup/internal/megolm"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/internal/osext"
	"github.com/ccbackup/chatbackup/types"
)

const (
	defRetries    = 3 // default number of retries if download fails
	defNumWorkers = 4 // number of concurrent downloads within a batch
	defLimit      = 5000

	hashPrefixLen = 20
	partPrefix    = ".part-"
)

// Archive areas.
const (
	AreaAvatars     = "avatars"
	AreaEmoji       = "emoji"
	AreaAttachments = "attachments"
)

// ChatArea returns the attachment area of the chat directory.
func ChatArea(chatDir string) string {
	return path.Join(AreaAttachments, chatDir)
}

var (
	ErrNoGetter = errors.New("remote source, but no downloader configured")
	ErrNoSource = errors.New("attachment has no source")
)

//go:generate mockgen -source downloader.go -destination getter_mock_test.go -package downloader

// Getter is the remote file getter interface.  It exists primarily for
// mocking in tests.
type Getter interface {
	// GetFile retrieves a given file from its download URL.
	GetFile(ctx context.Context, downloadURL string, w io.Writer) error
}

// Client is the instance of the downloader.
type Client struct {
	root    string
	getter  Getter
	limiter *rate.Limiter
	lg      *slog.Logger

	retries int
	workers int

	mu    sync.Mutex
	areas map[string]*area
}

// area is the index of the stored files in one area.
type area struct {
	mu     sync.Mutex
	byHash map[string]string // hash prefix -> archive-relative path
}

// Option is the function signature for the option functions.
type Option func(*Client)

// WithLimiter uses the initialised limiter instead of built in.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithRetries sets the number of attempts that will be taken for the file download.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			n = defRetries
		}
		c.retries = n
	}
}

// WithWorkers sets the number of concurrent downloads within a batch.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			n = defNumWorkers
		}
		c.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.lg = l
		}
	}
}

// New initialises new attachment resolver writing to the archive root.
// getter may be nil if the source has no remote files.
func New(root string, getter Getter, opts ...Option) *Client {
	c := &Client{
		root:    root,
		getter:  getter,
		limiter: rate.NewLimiter(defLimit, 1),
		lg:      slog.Default(),
		retries: defRetries,
		workers: defNumWorkers,
		areas:   make(map[string]*area),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stored is the result of storing a payload.
type Stored struct {
	Path   string // archive-relative, forward slashes
	SHA256 string
	Size   int64
	Dup    bool // content was already present in the area
}

// area returns the loaded index of the area, rebuilding it from disk on the
// first access.
func (c *Client) area(name string) (*area, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.areas[name]; ok {
		return a, nil
	}
	dir := filepath.Join(c.root, filepath.FromSlash(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	a := &area{byHash: make(map[string]string, len(entries))}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), partPrefix) {
			// interrupted transfer
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				c.lg.Warn("unable to remove partial file", "file", e.Name(), "error", err)
			}
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if len(base) == hashPrefixLen {
			a.byHash[base] = path.Join(name, e.Name())
		}
	}
	c.areas[name] = a
	return a, nil
}

// Store places the payload of src into the area.  name is the original
// filename, its extension is kept.
func (c *Client) Store(ctx context.Context, areaName string, src *types.Source, name string) (Stored, error) {
	ctx, task := trace.NewTask(ctx, "Store")
	defer task.End()

	if src.IsZero() {
		return Stored{}, ErrNoSource
	}
	a, err := c.area(areaName)
	if err != nil {
		return Stored{}, err
	}
	if src.Local != "" {
		return c.storeLocal(a, areaName, src.Local, name)
	}
	return c.storeRemote(ctx, a, areaName, src, name)
}

func (c *Client) storeLocal(a *area, areaName, filename, name string) (Stored, error) {
	h := sha256.New()
	n, err := osext.CopyFile(h, filename)
	if err != nil {
		return Stored{}, err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.byHash[sum[:hashPrefixLen]]; ok {
		return Stored{Path: p, SHA256: sum, Size: n, Dup: true}, nil
	}
	tf, err := c.tempFile(areaName)
	if err != nil {
		return Stored{}, err
	}
	defer cleanup(tf)
	h.Reset()
	if _, err := osext.CopyFile(io.MultiWriter(tf, h), filename); err != nil {
		return Stored{}, err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != sum {
		return Stored{}, fmt.Errorf("%s: file changed while copying", filename)
	}
	return c.commit(a, areaName, tf, sum, n, name)
}

func (c *Client) storeRemote(ctx context.Context, a *area, areaName string, src *types.Source, name string) (Stored, error) {
	if c.getter == nil {
		return Stored{}, ErrNoGetter
	}
	raw, err := c.tempFile(areaName)
	if err != nil {
		return Stored{}, err
	}
	defer cleanup(raw)

	var h hash.Hash
	if err := network.WithRetry(ctx, c.limiter, c.retries, func(ctx context.Context) error {
		region := trace.StartRegion(ctx, "GetFile")
		defer region.End()
		if err := rewind(raw); err != nil {
			return err
		}
		h = sha256.New()
		var w io.Writer = raw
		if src.Cipher == nil {
			w = io.MultiWriter(raw, h)
		}
		if err := c.getter.GetFile(ctx, src.URL, w); err != nil {
			return fmt.Errorf("download %q failed: %w", src.URL, err)
		}
		return nil
	}); err != nil {
		return Stored{}, err
	}

	out := raw
	if src.Cipher != nil {
		if _, err := raw.Seek(0, io.SeekStart); err != nil {
			return Stored{}, err
		}
		plain, err := c.tempFile(areaName)
		if err != nil {
			return Stored{}, err
		}
		defer cleanup(plain)
		if _, err := megolm.DecryptAttachment(io.MultiWriter(plain, h), raw, src.Cipher.Key, src.Cipher.IV, src.Cipher.SHA256); err != nil {
			return Stored{}, fmt.Errorf("decrypt %q: %w", src.URL, err)
		}
		out = plain
	}
	fi, err := out.Stat()
	if err != nil {
		return Stored{}, err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.byHash[sum[:hashPrefixLen]]; ok {
		return Stored{Path: p, SHA256: sum, Size: fi.Size(), Dup: true}, nil
	}
	return c.commit(a, areaName, out, sum, fi.Size(), name)
}

// commit syncs the temporary file and renames it to its final content
// addressed name.  Must be called with a.mu held.
func (c *Client) commit(a *area, areaName string, tf *os.File, sum string, size int64, name string) (Stored, error) {
	if err := tf.Sync(); err != nil {
		return Stored{}, err
	}
	final := sum[:hashPrefixLen] + extension(name)
	rel := path.Join(areaName, final)
	dir := filepath.Join(c.root, filepath.FromSlash(areaName))
	if err := os.Rename(tf.Name(), filepath.Join(dir, final)); err != nil {
		return Stored{}, err
	}
	if err := osext.SyncDir(dir); err != nil {
		return Stored{}, err
	}
	a.byHash[sum[:hashPrefixLen]] = rel
	c.lg.Debug("stored", "path", rel, "size", size, "name", name)
	return Stored{Path: rel, SHA256: sum, Size: size}, nil
}

func (c *Client) tempFile(areaName string) (*os.File, error) {
	return os.CreateTemp(filepath.Join(c.root, filepath.FromSlash(areaName)), partPrefix+"*")
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// cleanup closes and removes the file.  Removing a renamed file is a no-op
// error that is ignored.
func cleanup(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// extension returns the sanitised, lowercase extension of the name.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 10 || strings.ContainsAny(ext, ` "*/:<>?\|`) {
		return ""
	}
	return ext
}

// Attachment stores the attachment payload in the area of the chat
// directory.  A payload that could not be stored results in a missing
// attachment placeholder, the error is logged.
func (c *Client) Attachment(ctx context.Context, chatDir string, att types.Attachment) types.Attachment {
	st, err := c.Store(ctx, ChatArea(chatDir), att.Source, att.Name)
	if err != nil {
		c.lg.WarnContext(ctx, "attachment is missing", "name", att.Name, "source", att.Source.String(), "error", err)
		return Missing(att)
	}
	att.Path = st.Path
	att.SHA256 = st.SHA256
	att.Size = st.Size
	att.Missing = false
	return att
}

// Missing turns the attachment into a missing attachment placeholder.
func Missing(att types.Attachment) types.Attachment {
	att.Path = ""
	att.Missing = true
	return att
}

// Image stores an avatar or emoji image and returns its archive path, or
// an empty string on failure.
func (c *Client) Image(ctx context.Context, areaName string, src *types.Source, name string) string {
	if src.IsZero() {
		return ""
	}
	st, err := c.Store(ctx, areaName, src, name)
	if err != nil {
		c.lg.WarnContext(ctx, "image is missing", "area", areaName, "source", src.String(), "error", err)
		return ""
	}
	return st.Path
}

// Messages resolves all attachments of the messages concurrently, and
// returns when all of them are stored or replaced with placeholders.
func (c *Client) Messages(ctx context.Context, chatDir string, msgs []types.Message) error {
	var eg errgroup.Group
	eg.SetLimit(c.workers)
	for i := range msgs {
		for j := range msgs[i].Attachments {
			att := &msgs[i].Attachments[j]
			if att.Path != "" || att.Source.IsZero() {
				if att.Path == "" {
					*att = Missing(*att)
				}
				continue
			}
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				*att = c.Attachment(ctx, chatDir, *att)
				return nil
			})
		}
	}
	return eg.Wait()
}
