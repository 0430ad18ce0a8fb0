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

// Package guild implements the guild backup command.
package guild

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/rusq/osenv/v2"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/bootstrap"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
	srcguild "github.com/ccbackup/chatbackup/source/guild"
)

var CmdGuild = &base.Command{
	UsageLine: "chatbackup guild [flags]",
	Short:     "back up the text channels of a guild",
	Long: `
Guild backs up the text channels and threads of a guild into the archive
directory given with -o.  The token is a bot token, or a user token
prefixed with "Bearer ", it can be set with the GUILD_TOKEN environment
variable or in the .env file.

All text channels the token can read are backed up, unless the channels
are listed with -channel.  Running the command again on the same archive
fetches only the messages posted since the previous run.
`,
	PrintFlags: true,
	Run:        runGuild,
}

type flags struct {
	token         string
	guildID       string
	channels      cfg.StringSlice
	reactionUsers bool
	oldest        cfg.TimeValue
	latest        cfg.TimeValue
}

var cmdFlags flags

func init() {
	CmdGuild.Flag.StringVar(&cmdFlags.token, "token", osenv.Secret("GUILD_TOKEN", ""), "guild bot `token` (environment: GUILD_TOKEN)")
	CmdGuild.Flag.StringVar(&cmdFlags.guildID, "guild", osenv.Value("GUILD_ID", ""), "guild `ID`")
	CmdGuild.Flag.Var(&cmdFlags.channels, "channel", "channel `ID`s to back up, comma separated, may be repeated")
	CmdGuild.Flag.BoolVar(&cmdFlags.reactionUsers, "reaction-users", false, "fetch the users of each reaction (slow)")
	CmdGuild.Flag.Var(&cmdFlags.oldest, "time-from", "oldest message `time` (UTC)")
	CmdGuild.Flag.Var(&cmdFlags.latest, "time-to", "latest message `time` (UTC)")
}

var errNoGuild = errors.New("guild ID is required, use -guild")

func runGuild(ctx context.Context, cmd *base.Command, args []string) error {
	if cmdFlags.guildID == "" {
		base.SetExitStatus(base.SInvalidParameters)
		return errNoGuild
	}
	st, err := bootstrap.Init()
	if err != nil {
		return err
	}
	cl, err := srcguild.NewClient(cmdFlags.token, nil)
	if err != nil {
		return bootstrap.Fail(err)
	}
	src, err := srcguild.New(ctx, cl, srcguild.Config{
		GuildID:       cmdFlags.guildID,
		Channels:      cmdFlags.channels,
		ReactionUsers: cmdFlags.reactionUsers,
		Oldest:        cmdFlags.oldest.Time(),
		Latest:        cmdFlags.latest.Time(),
		Limits:        cfg.Limits,
	}, srcguild.WithLogger(slog.Default()))
	if err != nil {
		return bootstrap.Fail(err)
	}
	return bootstrap.Backup(ctx, os.Stdout, src, st, true)
}
