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

package base

import (
	"errors"
	"fmt"

	"github.com/ccbackup/chatbackup/internal/fail"
)

// StatusCode is the code returned to the OS.
type StatusCode uint8

// Status codes returned by the main executable.
const (
	SNoError StatusCode = iota
	SGenericError
	SHelpRequested
	SInvalidParameters
	SAuthError
	SInitializationError
	SApplicationError
	// SPartialBackup is returned when some chats failed.
	SPartialBackup
	SCancelled
)

var statusNames = [...]string{
	SNoError:             "NoError",
	SGenericError:        "GenericError",
	SHelpRequested:       "HelpRequested",
	SInvalidParameters:   "InvalidParameters",
	SAuthError:           "AuthError",
	SInitializationError: "InitializationError",
	SApplicationError:    "ApplicationError",
	SPartialBackup:       "PartialBackup",
	SCancelled:           "Cancelled",
}

func (s StatusCode) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("StatusCode(%d)", s)
}

// StatusOf maps the error returned by a backup to the status code.
func StatusOf(err error) StatusCode {
	switch {
	case err == nil:
		return SNoError
	case errors.Is(err, fail.ErrAuth):
		return SAuthError
	case errors.Is(err, ErrOpCancelled):
		return SCancelled
	}
	return SApplicationError
}
