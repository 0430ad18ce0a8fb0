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

package help

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
)

var (
	testCmd = &base.Command{
		UsageLine: "chatbackup backup [flags]",
		Short:     "back up something",
		Long:      "Backup backs up something.",
		Run:       func(context.Context, *base.Command, []string) error { return nil },
	}
	testTopic = &base.Command{
		UsageLine: "chatbackup layout",
		Short:     "archive layout",
		Long:      "\n# Layout #\n\nFiles and directories.\n",
	}
)

func withCommands(t *testing.T, cmds ...*base.Command) {
	t.Helper()
	old := base.Chatbackup.Commands
	base.Chatbackup.Commands = cmds
	t.Cleanup(func() { base.Chatbackup.Commands = old })
}

func TestPrintUsage(t *testing.T) {
	withCommands(t, testCmd, testTopic)
	var buf bytes.Buffer
	PrintUsage(&buf, base.Chatbackup)
	out := buf.String()

	commands, topics, ok := bytes.Cut(buf.Bytes(), []byte("Additional help topics:"))
	assert.True(t, ok, out)
	assert.Contains(t, string(commands), "backup      Back up something")
	assert.NotContains(t, string(commands), "layout")
	assert.Contains(t, string(topics), "layout      Archive layout")
	assert.Contains(t, out, `Use "chatbackup help <topic>"`)
}

func TestHelp(t *testing.T) {
	withCommands(t, testCmd, testTopic)
	t.Run("topic", func(t *testing.T) {
		var buf bytes.Buffer
		assert.True(t, Help(&buf, []string{"layout"}))
		assert.Equal(t, "# Layout #\n\nFiles and directories.\n", buf.String())
	})
	t.Run("command", func(t *testing.T) {
		var buf bytes.Buffer
		assert.True(t, Help(&buf, []string{"backup"}))
		assert.Contains(t, buf.String(), "usage: chatbackup backup [flags]")
		assert.Contains(t, buf.String(), "Backup backs up something.")
	})
	t.Run("unknown", func(t *testing.T) {
		var buf bytes.Buffer
		assert.False(t, Help(&buf, []string{"nope"}))
		assert.Contains(t, buf.String(), "unknown help topic")
	})
}
