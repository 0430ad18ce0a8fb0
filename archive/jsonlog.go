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

package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
)

// jsonlog is an append-only log of JSON records, one per line.
type jsonlog struct {
	f *os.File
}

// openLog opens or creates the log.  Every complete line is passed to fn.
// A trailing line without the terminating newline is the result of an
// interrupted write, it is truncated.
func openLog(filename string, fn func(line []byte) error) (*jsonlog, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	var (
		r   = bufio.NewReader(f)
		off int64
	)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				slog.Warn("truncating torn record", "file", filename, "offset", off, "size", len(line))
				if err := f.Truncate(off); err != nil {
					f.Close()
					return nil, err
				}
				if err := f.Sync(); err != nil {
					f.Close()
					return nil, err
				}
			}
			break
		} else if err != nil {
			f.Close()
			return nil, err
		}
		off += int64(len(line))
		if fn != nil {
			if err := fn(line); err != nil {
				f.Close()
				return nil, fmt.Errorf("%s at offset %d: %w", filename, off, err)
			}
		}
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &jsonlog{f: f}, nil
}

// Append writes the records in one write and syncs the file.
func (l *jsonlog) Append(records ...any) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	if _, err := l.f.Write(buf.Bytes()); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *jsonlog) Close() error {
	return l.f.Close()
}

// readLog iterates over the records of the log file.  A missing file is
// an empty log.  A torn trailing line is ignored.
func readLog[T any](filename string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		f, err := os.Open(filename)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				yield(zero, err)
			}
			return
		}
		defer f.Close()
		r := bufio.NewReader(f)
		for {
			line, err := r.ReadBytes('\n')
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				yield(zero, err)
				return
			}
			var v T
			if err := json.Unmarshal(line, &v); err != nil {
				if !yield(zero, fmt.Errorf("%s: %w", filename, err)) {
					return
				}
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
