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

// Package text implements the transcript import command.
package text

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/bootstrap"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
	"github.com/ccbackup/chatbackup/internal/metadata"
	"github.com/ccbackup/chatbackup/internal/osext"
	"github.com/ccbackup/chatbackup/source/textexport"
)

var CmdText = &base.Command{
	UsageLine: "chatbackup text [flags]",
	Short:     "import exported chat transcripts",
	Long: `
Text imports the chat transcripts exported from the phone, one ".txt" file
per chat, with the media files next to it, from the directory given with
-input.

The transcripts do not carry the avatars, the user identifiers, the name
colors and the topics.  They are read from the metadata file (-metadata),
JSON or YAML:

	chats:
	  Family:
	    avatar: family.png
	    topic: null
	users:
	  Mom:
	    user_id: "+100000"
	    avatar: null
	    color: "#f0a"

A key with an empty or null value means "no value".  The values missing
from the file are asked for in the terminal, unless -non-interactive is
given or the program is not running in the terminal.

The timestamp format of the export depends on the phone locale.  The
common formats are recognised, others can be given with -date-format as a
Go time layout of the date and the time joined with ", ", i.e.
"2006-01-02, 15:04".
`,
	PrintFlags: true,
	Run:        runText,
}

type flags struct {
	input          string
	metadataFile   string
	nonInteractive bool
	layouts        cfg.MultiString
	tz             string
	system         bool
}

var cmdFlags flags

func init() {
	CmdText.Flag.StringVar(&cmdFlags.input, "input", "", "input `directory` with the transcripts")
	CmdText.Flag.StringVar(&cmdFlags.metadataFile, "metadata", "", "metadata `file`, JSON or YAML")
	CmdText.Flag.BoolVar(&cmdFlags.nonInteractive, "non-interactive", false, "do not ask for the missing metadata")
	CmdText.Flag.Var(&cmdFlags.layouts, "date-format", "timestamp `layout`, may be repeated")
	CmdText.Flag.StringVar(&cmdFlags.tz, "tz", "Local", "time `zone` of the timestamps, i.e. Europe/Berlin")
	CmdText.Flag.BoolVar(&cmdFlags.system, "system-messages", false, "store the system lines, i.e. \"Messages are end-to-end encrypted\"")
}

var errNoInput = errors.New("input directory is required, use -input")

func runText(ctx context.Context, cmd *base.Command, args []string) error {
	if cmdFlags.input == "" {
		base.SetExitStatus(base.SInvalidParameters)
		return errNoInput
	}
	if err := osext.DirExists(cmdFlags.input); err != nil {
		base.SetExitStatus(base.SInvalidParameters)
		return err
	}
	loc, err := time.LoadLocation(cmdFlags.tz)
	if err != nil {
		base.SetExitStatus(base.SInvalidParameters)
		return fmt.Errorf("invalid time zone: %w", err)
	}
	var declared *metadata.Declared
	if cmdFlags.metadataFile != "" {
		if declared, err = metadata.LoadDeclared(cmdFlags.metadataFile); err != nil {
			base.SetExitStatus(base.SInvalidParameters)
			return err
		}
	}
	interactive := !cmdFlags.nonInteractive && osext.IsInteractive()
	var provider metadata.Provider = metadata.NoneProvider{}
	if interactive {
		provider = metadata.Prompt{Root: cmdFlags.input}
	}

	st, err := bootstrap.Init()
	if err != nil {
		return err
	}
	src, err := textexport.New(textexport.Config{
		Root:           cmdFlags.input,
		Layouts:        cmdFlags.layouts,
		Location:       loc,
		SystemMessages: cmdFlags.system,
	}, metadata.NewResolver(declared, provider, cmdFlags.input))
	if err != nil {
		return bootstrap.Fail(err)
	}
	slog.DebugContext(ctx, "transcripts found", "input", cmdFlags.input, "interactive", interactive)
	return bootstrap.Backup(ctx, os.Stdout, src, st, !interactive)
}
