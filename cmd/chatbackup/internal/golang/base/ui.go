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
	"io"
	"os"
	"strings"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
)

// ErrOpCancelled is returned when an operation is cancelled by the user.
var ErrOpCancelled = errors.New("operation cancelled")

func YesNo(message string) bool {
	return YesNoWR(os.Stdout, os.Stdin, message)
}

func YesNoWR(w io.Writer, r io.Reader, message string) bool {
	const pleaseAnswerYN = "Please answer yes or no and press Enter or Return."
	for {
		fmt.Fprint(w, message, "? (y/N) ")
		var resp string
		_, err := fmt.Fscanln(r, &resp)
		if err != nil {
			if errors.Is(err, io.EOF) || strings.EqualFold(err.Error(), "unexpected newline") {
				return false
			}
			fmt.Fprintln(w, pleaseAnswerYN)
			continue
		}
		resp = strings.TrimSpace(resp)
		if len(resp) > 0 {
			switch strings.ToLower(resp)[0] {
			case 'y':
				return true
			case 'n':
				return false
			}
		}
		fmt.Fprintln(w, pleaseAnswerYN)
	}
}

var yesno = YesNo

// AskOverwrite asks the user whether the existing path can be overwritten,
// unless the -y flag was given.
func AskOverwrite(path string) error {
	if cfg.YesMan {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if !yesno(fmt.Sprintf("Path %q already exists. Overwrite", path)) {
			SetExitStatus(SCancelled)
			return ErrOpCancelled
		}
	}
	return nil
}
