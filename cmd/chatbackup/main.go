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

// Command chatbackup backs up the chat history into a local archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/help"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/guild"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/man"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/pack"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/reindex"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/room"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/text"
)

// secrets lists the files the tokens and passwords are loaded from.  The
// Windows notepad insists on the ".txt" extension, so it is accepted too.
var secrets = []string{".env", ".env.txt", "secrets.txt"}

func init() {
	loadSecrets(secrets)

	base.Chatbackup.Commands = []*base.Command{
		guild.CmdGuild,
		room.CmdRoom,
		text.CmdText,
		reindex.CmdReindex,
		reindex.CmdSearch,
		pack.CmdPack,
		CmdVersion,

		man.Archive,
		man.Environment,
		man.Metadata,
	}
}

func main() {
	flag.Usage = base.Usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		base.Usage()
	}
	base.CmdName = args[0]
	if args[0] == "help" {
		if !help.Help(os.Stdout, args[1:]) {
			base.SetExitStatus(base.SInvalidParameters)
		}
		base.Exit()
		return
	}

	cmd := findCommand(base.Chatbackup, args[0])
	if cmd != nil && !cmd.Runnable() {
		help.Help(os.Stdout, args[:1])
		base.Exit()
		return
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "chatbackup %s: unknown command\nRun 'chatbackup help' for usage.\n", args[0])
		base.SetExitStatus(base.SInvalidParameters)
		base.Exit()
		return
	}
	if err := invoke(cmd, args); err != nil {
		msg := fmt.Sprintf("%s %s failed", base.Chatbackup.UsageLine, cmd.Name())
		if cfg.Verbose {
			slog.Error(msg, "error", fmt.Sprintf("%+v", err))
		} else {
			slog.Error(msg, "error", err)
		}
		if base.ExitStatus() == base.SNoError {
			base.SetExitStatus(base.SGenericError)
		}
	}
	base.Exit()
}

func findCommand(parent *base.Command, name string) *base.Command {
	for _, cmd := range parent.Commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func init() {
	base.Usage = mainUsage
}

func mainUsage() {
	help.PrintUsage(os.Stderr, base.Chatbackup)
	base.SetExitStatus(base.SHelpRequested)
	base.Exit()
}

func invoke(cmd *base.Command, args []string) error {
	if !cmd.CustomFlags {
		cfg.SetBaseFlags(&cmd.Flag, cmd.FlagMask)
		cmd.Flag.Usage = func() { cmd.Usage() }
		if err := cmd.Flag.Parse(args[1:]); err != nil {
			return err
		}
		args = cmd.Flag.Args()
	} else {
		args = args[1:]
	}

	if _, err := initLog(cfg.LogFile, cfg.JSONLog, cfg.Verbose); err != nil {
		return err
	}
	stop := initTrace(cfg.TraceFile)
	base.AtExit(stop)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx, task := trace.NewTask(ctx, "command")
	defer task.End()
	trace.Log(ctx, "command", cmd.Name())

	slog.DebugContext(ctx, "running command", "command", cmd.Name(), "args", args)
	err := cmd.Run(ctx, cmd, args)
	if errors.Is(err, context.Canceled) {
		base.SetExitStatus(base.SCancelled)
	}
	return err
}

// loadSecrets loads the environment from the secrets files, the missing
// files are ignored.
func loadSecrets(files []string) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to load the secrets file", "filename", f, "error", err)
		}
	}
}
