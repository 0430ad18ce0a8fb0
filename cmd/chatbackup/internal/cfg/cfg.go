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

// Package cfg contains common configuration variables.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rusq/osenv/v2"

	"github.com/ccbackup/chatbackup/internal/network"
)

const defOutput = "chatbackup"

var (
	TraceFile string
	LogFile   string
	JSONLog   bool
	Verbose   bool
	YesMan    bool

	Output     string
	StateDir   string
	Restart    bool
	WithFiles  bool
	NoIndex    bool
	ConfigFile string
	Workers    int

	// Limits are the effective API limits, see [ApplyLimits].
	Limits = network.DefLimits
)

type FlagMask uint16

const (
	DefaultFlags   FlagMask = 0
	OmitOutputFlag FlagMask = 1 << iota
	OmitStateFlag
	OmitDownloadFlag
	OmitConfigFlag
	OmitIndexFlag

	// OmitBackupFlags omits everything but the logging flags.
	OmitBackupFlags = OmitOutputFlag |
		OmitStateFlag |
		OmitDownloadFlag |
		OmitConfigFlag |
		OmitIndexFlag
)

// SetBaseFlags sets base flags.
func SetBaseFlags(fs *flag.FlagSet, mask FlagMask) {
	fs.StringVar(&TraceFile, "trace", osenv.Value("TRACE_FILE", ""), "trace `filename`")
	fs.StringVar(&LogFile, "log", osenv.Value("LOG_FILE", ""), "log `file`, if not specified, messages are printed to STDERR")
	fs.BoolVar(&JSONLog, "log-json", osenv.Value("JSON_LOG", false), "log messages in JSON format")
	fs.BoolVar(&Verbose, "v", osenv.Value("DEBUG", false), "verbose messages")
	fs.BoolVar(&YesMan, "y", false, "answer yes to all questions")

	if mask&OmitOutputFlag == 0 {
		fs.StringVar(&Output, "o", osenv.Value("OUTPUT_DIR", defOutput), "archive `directory`, an existing archive is updated")
	}
	if mask&OmitStateFlag == 0 {
		fs.StringVar(&StateDir, "state", osenv.Value("STATE_DIR", ""), "state `directory` with the resume positions and keys\n(default: <output>/.state)")
		fs.BoolVar(&Restart, "restart", false, "forget the resume positions and fetch all chats from the\nbeginning, the archived messages are not duplicated")
	}
	if mask&OmitDownloadFlag == 0 {
		fs.BoolVar(&WithFiles, "files", true, "enables file attachments download (to disable,\nspecify: -files=false)")
	}
	if mask&OmitConfigFlag == 0 {
		fs.StringVar(&ConfigFile, "api-config", "", "TOML `file` with the API limits overrides")
		fs.IntVar(&Workers, "workers", 0, "number of chats processed concurrently (default from the API limits)")
	}
	if mask&OmitIndexFlag == 0 {
		fs.BoolVar(&NoIndex, "no-index", false, "do not rebuild the search index after the backup")
	}
}

// StatePath returns the state directory, which defaults to the .state
// directory inside the archive.
func StatePath() string {
	if StateDir != "" {
		return StateDir
	}
	return filepath.Join(Output, ".state")
}

// ApplyLimits loads the limits overrides from the ConfigFile, if set, and
// applies the number of workers from the command line.
func ApplyLimits() error {
	l := network.DefLimits
	if ConfigFile != "" {
		f, err := os.Open(ConfigFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if l, err = network.LoadLimits(f); err != nil {
			return fmt.Errorf("%s: %w", ConfigFile, err)
		}
	}
	if Workers != 0 {
		l.Workers = Workers
	}
	if err := l.Validate(); err != nil {
		return errors.New("invalid API limits:\n" + network.TranslateError(err))
	}
	Limits = l
	return nil
}
