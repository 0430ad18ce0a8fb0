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

// Package fail defines the error taxonomy used by the source adapters and
// the runner.
//
// Only ErrAuth and ErrUnavailable travel upwards from an adapter.  Corrupt
// records are absorbed by the adapter, and transient errors are retried by
// the network package.
package fail

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the credential or session is rejected.  It
	// aborts the whole run.
	ErrAuth = errors.New("authentication failed")
	// ErrUnavailable is returned when the target chat does not exist or is
	// not accessible.  It is fatal only for the affected chat.
	ErrUnavailable = errors.New("source unavailable")
	// ErrCorrupt marks a single malformed or undecryptable record.
	ErrCorrupt = errors.New("corrupt record")
)

// AuthError wraps an error that occurred during authentication.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Source, ErrAuth, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuth, e.Err}
}

// Auth returns an AuthError for the source.
func Auth(source string, err error) error {
	return &AuthError{Source: source, Err: err}
}

// Unavailable wraps err so that it matches ErrUnavailable.
func Unavailable(target string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", target, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", target, ErrUnavailable, err)
}

// Corrupt wraps err so that it matches ErrCorrupt.
func Corrupt(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrCorrupt, err)
}

// IsFatal reports whether the error should abort the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
