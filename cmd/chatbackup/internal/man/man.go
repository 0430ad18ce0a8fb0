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

// Package man contains the help topics.
package man

import (
	_ "embed"

	"github.com/ccbackup/chatbackup/cmd/chatbackup/internal/golang/base"
)

//go:embed assets/archive.md
var mdArchive string

var Archive = &base.Command{
	UsageLine: "chatbackup archive",
	Short:     "archive layout",
	Long:      mdArchive,
}

//go:embed assets/environment.md
var mdEnvironment string

var Environment = &base.Command{
	UsageLine: "chatbackup environment",
	Short:     "environment variables and secret files",
	Long:      mdEnvironment,
}

//go:embed assets/metadata.md
var mdMetadata string

var Metadata = &base.Command{
	UsageLine: "chatbackup metadata",
	Short:     "metadata file for the transcript import",
	Long:      mdMetadata,
}
