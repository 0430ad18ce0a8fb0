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

package guild

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	emj "github.com/enescakir/emoji"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify, emoji.Emoji),
	goldmark.WithRendererOptions(
		ghtml.WithHardWraps(),
		ghtml.WithXHTML(),
	),
)

// reCustomEmoji matches the custom emoji in the message content.
var reCustomEmoji = regexp.MustCompile(`<(a?):([A-Za-z0-9_~]+):([0-9]{1,20})>`)

const markupChars = "*_~`>#[|:"

// renderMarkdown renders the message markdown to HTML.  It returns an empty
// string if the text has no markup.
func renderMarkdown(text string) string {
	if !strings.ContainsAny(text, markupChars) {
		return ""
	}
	// custom emoji are kept as shortcodes, the viewer resolves them
	text = reCustomEmoji.ReplaceAllString(text, ":$2:")
	var buf strings.Builder
	if err := md.Convert([]byte(text), &buf); err != nil {
		slog.Debug("markdown", "error", err)
		return ""
	}
	out := strings.TrimSpace(buf.String())
	// a single plain paragraph carries no formatting
	if inner, ok := strings.CutPrefix(out, "<p>"); ok {
		if inner, ok = strings.CutSuffix(inner, "</p>"); ok && !strings.ContainsAny(inner, "<&") && inner == text {
			return ""
		}
	}
	return out
}

var (
	shortcodesOnce sync.Once
	shortcodes     map[string]string // unicode -> shortcode
)

// shortcode returns the shortcode name of the unicode emoji, or the emoji
// itself if it's unknown.
func shortcode(e string) string {
	shortcodesOnce.Do(func() {
		m := emj.Map()
		shortcodes = make(map[string]string, len(m))
		aliases := make([]string, 0, len(m))
		for alias := range m {
			aliases = append(aliases, alias)
		}
		// the shortest alias wins, the map has several per emoji
		slices.SortFunc(aliases, func(a, b string) int {
			if len(a) != len(b) {
				return len(a) - len(b)
			}
			return strings.Compare(a, b)
		})
		for _, alias := range aliases {
			u := m[alias]
			if _, ok := shortcodes[u]; !ok {
				shortcodes[u] = strings.Trim(alias, ":")
			}
		}
	})
	if s, ok := shortcodes[e]; ok {
		return s
	}
	// discord sends emoji without the variation selector
	if s, ok := shortcodes[e+"\ufe0f"]; ok {
		return s
	}
	return e
}
