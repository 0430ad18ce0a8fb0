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
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Declared is the metadata file contents.  Both JSON and YAML are accepted.
//
//	{"chats": {"Family": {"avatar": "family.png", "topic": ""}},
//	 "users": {"Mom": {"user_id": "+100000", "avatar": null, "color": "#f0a"}}}
//
// A key that is present with an empty or null value means "no value", a
// missing key means "ask".
type Declared struct {
	Chats map[string]map[string]*string `yaml:"chats"`
	Users map[string]map[string]*string `yaml:"users"`
}

// ReadDeclared parses the declared metadata.
func ReadDeclared(r io.Reader) (*Declared, error) {
	var d Declared
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		if err == io.EOF {
			return &d, nil
		}
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &d, nil
}

// LoadDeclared loads the declared metadata file.
func LoadDeclared(filename string) (*Declared, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDeclared(f)
}

// Lookup returns the declared value of the field.  It is safe to call on a
// nil Declared.
func (d *Declared) Lookup(kind Kind, name string, field Field) Optional {
	if d == nil {
		return None
	}
	var m map[string]map[string]*string
	switch kind {
	case KindChat:
		m = d.Chats
	case KindUser:
		m = d.Users
	}
	entry, ok := m[name]
	if !ok {
		return None
	}
	v, ok := entry[string(field)]
	if !ok {
		return None
	}
	if v == nil {
		return Some("")
	}
	return Some(*v)
}
