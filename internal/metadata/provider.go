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

package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/charmbracelet/huh"
)

// NoneProvider is used in non-interactive mode, every missing value is
// empty.
type NoneProvider struct{}

func (NoneProvider) Resolve(context.Context, Kind, string, Field) (Optional, error) {
	return None, nil
}

// Scripted answers from a fixed table and records every question.
type Scripted struct {
	mu      sync.Mutex
	Answers map[string]string // key: "<kind>/<name>/<field>"
	Asked   []string
}

// ScriptKey returns the key for the Answers map.
func ScriptKey(kind Kind, name string, field Field) string {
	return string(kind) + "/" + name + "/" + string(field)
}

func (s *Scripted) Resolve(_ context.Context, kind Kind, name string, field Field) (Optional, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ScriptKey(kind, name, field)
	s.Asked = append(s.Asked, key)
	v, ok := s.Answers[key]
	if !ok {
		return None, nil
	}
	return Some(v), nil
}

var reColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}){1,2}$`)

// ValidateColor accepts an empty string or a #rgb/#rrggbb color.
func ValidateColor(s string) error {
	if s == "" || reColor.MatchString(s) {
		return nil
	}
	return errors.New("color must look like #a0b or #aa00bb")
}

// Prompt asks the user in the terminal.
type Prompt struct {
	// Root is the directory relative avatar paths are checked against.
	Root string
}

func (p Prompt) Resolve(ctx context.Context, kind Kind, name string, field Field) (Optional, error) {
	var (
		value    string
		validate func(string) error
		desc     string
	)
	switch field {
	case FieldAvatar:
		desc = "Path to the image file, relative to the input directory.  Leave empty for none."
		validate = p.validateFile
	case FieldColor:
		desc = "Name color, i.e. #4287f5.  Leave empty for the default."
		validate = ValidateColor
	case FieldUserID:
		desc = "Phone number or other identifier.  Leave empty if unknown."
	case FieldTopic:
		desc = "Chat topic.  Leave empty for none."
	}
	input := huh.NewInput().
		Title(fmt.Sprintf("%s %q: %s", kind.singular(), name, field)).
		Description(desc).
		Value(&value)
	if validate != nil {
		input = input.Validate(validate)
	}
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		return None, err
	}
	return Some(value), nil
}

func (p Prompt) validateFile(s string) error {
	if s == "" {
		return nil
	}
	if !filepath.IsAbs(s) {
		s = filepath.Join(p.Root, s)
	}
	fi, err := os.Stat(s)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return errors.New("not a file")
	}
	return nil
}
