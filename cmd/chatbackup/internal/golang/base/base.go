// Package base defines shared basic pieces of the chatbackup command.
//
// The command subsystem is based on golang's `go` command implementation, which
// is BSD-licensed:
//
//	Copyright 2017 The Go Authors. All rights reserved.
//	Use of this source code is governed by a BSD-style
//	license that can be found in the LICENSE file.
package base

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
)

var CmdName string

// A Command is an implementation of a chatbackup command.
type Command struct {
	// Run runs the command.
	// The args are the arguments after the command name.
	Run func(ctx context.Context, cmd *Command, args []string) error

	// UsageLine is the one-line usage message.
	UsageLine string

	// Short is the short description shown in the 'chatbackup help' output.
	Short string

	// Long is the long message shown in the 'chatbackup help <this-command>'
	// output.
	Long string

	// Flag is a set of flags specific to this command.
	Flag flag.FlagSet

	// FlagMask selects the base flags that the command does not use.
	FlagMask cfg.FlagMask

	// CustomFlags indicates that the command will do its own
	// flag parsing.
	CustomFlags bool

	// PrintFlags indicates that generic help handler should print the
	// flags in the flagset.
	PrintFlags bool

	// Commands lists the available commands and help topics.
	// The order here is the order in which they are printed by 'chatbackup help'.
	Commands []*Command
}

var Chatbackup = &Command{
	UsageLine: "chatbackup",
	Long:      `Chatbackup backs up the history of guild channels, encrypted rooms and exported chat transcripts into a self-contained archive.`,
	// Commands initialised in main.
}

var exitStatus = SNoError
var exitMu sync.Mutex

// SetExitStatus sets the exit status, unless a higher status is already set.
func SetExitStatus(n StatusCode) {
	exitMu.Lock()
	if exitStatus < n {
		exitStatus = n
	}
	exitMu.Unlock()
}

// ExitStatus returns the current exit status.
func ExitStatus() StatusCode {
	exitMu.Lock()
	defer exitMu.Unlock()
	return exitStatus
}

var atExitFuncs []func()

func AtExit(f func()) {
	atExitFuncs = append(atExitFuncs, f)
}

func Exit() {
	for _, f := range atExitFuncs {
		f()
	}
	os.Exit(int(exitStatus))
}

// Runnable reports whether the command can be run; otherwise
// it is a documentation pseudo-command.
func (c *Command) Runnable() bool {
	return c.Run != nil
}

// LongName returns the command's long name: all the words in the usage line
// between "chatbackup" and a flag or argument.
func (c *Command) LongName() string {
	name := c.UsageLine
	if i := strings.Index(name, " ["); i >= 0 {
		name = name[:i]
	}
	if name == "chatbackup" {
		return ""
	}
	return strings.TrimPrefix(name, "chatbackup ")
}

// Name returns the command's short name: the last word in the usage line
// before a flag or argument.
func (c *Command) Name() string {
	name := c.LongName()
	if i := strings.Index(name, " "); i >= 0 {
		name = name[:i]
	}
	return name
}

// Usage is the usage-reporting function, filled in by package main
// but here for reference by other packages.
var Usage func()

func (c *Command) Usage() {
	fmt.Fprintf(os.Stderr, "usage: %s\n", c.UsageLine)
	fmt.Fprintf(os.Stderr, "Run 'chatbackup help %s' for details.\n", c.LongName())
	SetExitStatus(SInvalidParameters)
	Exit()
}
