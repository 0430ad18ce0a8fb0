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

// Package room implements the encrypted room backup command.
package room

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/rusq/osenv/v2"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/bootstrap"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/cfg"
	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
	srcroom "github.com/ccbackup/chatbackup/source/room"
)

var CmdRoom = &base.Command{
	UsageLine: "chatbackup room [flags]",
	Short:     "back up the joined rooms of a homeserver account",
	Long: `
Room backs up the joined rooms of the account on the homeserver.  The
account is authenticated with an access token (-token, MATRIX_TOKEN), or
with a password (-password, MATRIX_PASSWORD).  When logging in with the
password, the device created on the first run is reused on the following
runs.

Encrypted events are decrypted with the room keys shared with the device,
and the keys imported from a key export file (-keys).  Events without a key
are stored as "undecryptable" placeholders, unless -drop-undecryptable is
given.  The keys are kept in the state directory.

Rooms are selected with -room and -room-regex, all joined rooms are backed
up if neither is given.
`,
	PrintFlags: true,
	Run:        runRoom,
}

type flags struct {
	homeserver        string
	user              string
	token             string
	password          string
	rooms             cfg.StringSlice
	regex             cfg.MultiString
	keysFile          string
	keysPassphrase    string
	dropUndecryptable bool
}

var cmdFlags flags

func init() {
	CmdRoom.Flag.StringVar(&cmdFlags.homeserver, "homeserver", osenv.Value("MATRIX_HOMESERVER", ""), "homeserver `URL`")
	CmdRoom.Flag.StringVar(&cmdFlags.user, "user", osenv.Value("MATRIX_USER", ""), "user `ID`, i.e. @alice:example.org")
	CmdRoom.Flag.StringVar(&cmdFlags.token, "token", osenv.Secret("MATRIX_TOKEN", ""), "access `token` (environment: MATRIX_TOKEN)")
	CmdRoom.Flag.StringVar(&cmdFlags.password, "password", osenv.Secret("MATRIX_PASSWORD", ""), "account `password` (environment: MATRIX_PASSWORD)")
	CmdRoom.Flag.Var(&cmdFlags.rooms, "room", "room `ID`s to back up, comma separated, may be repeated")
	CmdRoom.Flag.Var(&cmdFlags.regex, "room-regex", "back up the rooms with the name or ID matching the `regexp`, may be repeated")
	CmdRoom.Flag.StringVar(&cmdFlags.keysFile, "keys", "", "room key export `file` to import")
	CmdRoom.Flag.StringVar(&cmdFlags.keysPassphrase, "keys-passphrase", osenv.Secret("MATRIX_KEYS_PASSPHRASE", ""), "key export `passphrase` (environment: MATRIX_KEYS_PASSPHRASE)")
	CmdRoom.Flag.BoolVar(&cmdFlags.dropUndecryptable, "drop-undecryptable", false, "do not store placeholders for the events that can't be decrypted")
}

var (
	errNoHomeserver = errors.New("homeserver URL is required, use -homeserver")
	errNoUser       = errors.New("user ID is required, use -user")
)

func runRoom(ctx context.Context, cmd *base.Command, args []string) error {
	switch {
	case cmdFlags.homeserver == "":
		base.SetExitStatus(base.SInvalidParameters)
		return errNoHomeserver
	case cmdFlags.user == "":
		base.SetExitStatus(base.SInvalidParameters)
		return errNoUser
	}
	st, err := bootstrap.Init()
	if err != nil {
		return err
	}
	src, err := srcroom.New(ctx, srcroom.Config{
		Homeserver:        cmdFlags.homeserver,
		UserID:            cmdFlags.user,
		Token:             cmdFlags.token,
		Password:          cmdFlags.password,
		Rooms:             cmdFlags.rooms,
		RoomRegex:         cmdFlags.regex,
		DropUndecryptable: cmdFlags.dropUndecryptable,
		KeysFile:          cmdFlags.keysFile,
		KeysPassphrase:    cmdFlags.keysPassphrase,
		Limits:            cfg.Limits,
	}, st, srcroom.WithLogger(slog.Default()))
	if err != nil {
		return bootstrap.Fail(err)
	}
	err = bootstrap.Backup(ctx, os.Stdout, src, st, true)
	if n := src.Undecryptable(); n > 0 {
		slog.WarnContext(ctx, "some events could not be decrypted, import the room keys with -keys and run again", "events", n)
	}
	return err
}
