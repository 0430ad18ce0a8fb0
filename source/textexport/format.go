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

package textexport

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

type span struct {
	delim byte
	tag   string
}

var spans = []span{
	{'_', "em"},
	{'*', "strong"},
	{'~', "del"},
}

// formatHTML renders the WhatsApp markup of the text into HTML.  It returns
// an empty string if the text has no markup.
func formatHTML(text string) string {
	var (
		sb     strings.Builder
		marked bool
	)
	rest := text
	for {
		before, after, found := strings.Cut(rest, "```")
		var code string
		var closed bool
		if found {
			code, after, closed = strings.Cut(after, "```")
		}
		s, ok := inline(before)
		marked = marked || ok
		sb.WriteString(s)
		if !found {
			break
		}
		if !closed || code == "" {
			// unbalanced fence, keep it verbatim
			sb.WriteString(html.EscapeString("```" + code))
			rest = after
			if closed {
				sb.WriteString("```")
			}
			continue
		}
		marked = true
		sb.WriteString("<pre>" + html.EscapeString(code) + "</pre>")
		rest = after
	}
	if !marked {
		return ""
	}
	return strings.ReplaceAll(sb.String(), "\n", "<br>")
}

// inline escapes s and applies the inline spans.
func inline(s string) (string, bool) {
	s = html.EscapeString(s)
	var marked bool
	for _, sp := range spans {
		var ok bool
		s, ok = wrap(s, sp.delim, sp.tag)
		marked = marked || ok
	}
	return s, marked
}

// wrap replaces "<d>text<d>" with "<tag>text</tag>" where the opening
// delimiter is not preceded by a word character, the closing delimiter is not
// followed by one, and the text neither starts nor ends with a space.
func wrap(s string, d byte, tag string) (string, bool) {
	var (
		sb     strings.Builder
		marked bool
	)
	for i := 0; i < len(s); {
		if s[i] != d || !boundaryBefore(s, i) {
			sb.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], d)
		if end <= 0 {
			sb.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1 + end
		inner := s[i+1 : j]
		if strings.ContainsRune(inner, '\n') || inner != strings.TrimSpace(inner) || !boundaryAfter(s, j+1) {
			sb.WriteByte(s[i])
			i++
			continue
		}
		sb.WriteString("<" + tag + ">" + inner + "</" + tag + ">")
		marked = true
		i = j + 1
	}
	return sb.String(), marked
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWord(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWord(r)
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
