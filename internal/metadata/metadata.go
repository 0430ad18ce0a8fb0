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

// Package metadata resolves chat and user metadata that the source itself
// does not carry (text transcripts only have display names).
//
// Every field is resolved with the precedence: value declared in the
// metadata file (an explicit empty value counts) > value provided
// interactively > empty.  Each (kind, name, field) is resolved at most once
// per run.
package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Kind is the entity kind, it matches the top-level keys of the declared
// metadata file.
type Kind string

const (
	KindChat Kind = "chats"
	KindUser Kind = "users"
)

func (k Kind) singular() string {
	switch k {
	case KindChat:
		return "chat"
	case KindUser:
		return "user"
	}
	return string(k)
}

// Field is the metadata field name.
type Field string

const (
	FieldAvatar Field = "avatar"
	FieldTopic  Field = "topic"
	FieldUserID Field = "user_id"
	FieldColor  Field = "color"
)

// Fields lists the fields of each kind.
var Fields = map[Kind][]Field{
	KindChat: {FieldAvatar, FieldTopic},
	KindUser: {FieldUserID, FieldAvatar, FieldColor},
}

// Optional is a value that may be absent.  A present empty value is an
// explicit "no value".
type Optional struct {
	Value   string
	Present bool
}

// Some returns a present value.
func Some(v string) Optional { return Optional{Value: v, Present: true} }

// None is the absent value.
var None = Optional{}

// Precedence returns the value of the first present layer.  If no layer is
// present, the result is empty and ok is false.
func Precedence(layers ...Optional) (value string, ok bool) {
	for _, l := range layers {
		if l.Present {
			return l.Value, true
		}
	}
	return "", false
}

// Provider supplies values that are missing from the declared metadata.
type Provider interface {
	Resolve(ctx context.Context, kind Kind, name string, field Field) (Optional, error)
}

// ChatMeta is the resolved chat metadata.
type ChatMeta struct {
	Avatar string // filesystem path, empty if none
	Topic  string
}

// UserMeta is the resolved user metadata.
type UserMeta struct {
	ExternalID string
	Avatar     string
	Color      string
}

type cacheKey struct {
	kind  Kind
	name  string
	field Field
}

// Resolver resolves entity metadata.  It is safe for concurrent use, calls
// to the provider are serialised.
type Resolver struct {
	declared *Declared
	provider Provider
	root     string

	mu      sync.Mutex
	cache   map[cacheKey]string
	prompts int
}

// NewResolver creates a resolver.  declared and provider may be nil.  root
// is the directory relative paths are resolved against.
func NewResolver(declared *Declared, provider Provider, root string) *Resolver {
	if provider == nil {
		provider = NoneProvider{}
	}
	return &Resolver{
		declared: declared,
		provider: provider,
		root:     root,
		cache:    make(map[cacheKey]string),
	}
}

// Resolve returns the value of the field for the named entity.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, name string, field Field) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cacheKey{kind, name, field}
	if v, ok := r.cache[key]; ok {
		return v, nil
	}
	declared := r.declared.Lookup(kind, name, field)
	interactive := None
	if !declared.Present {
		var err error
		interactive, err = r.provider.Resolve(ctx, kind, name, field)
		if err != nil {
			return "", fmt.Errorf("%s %q: %s: %w", kind.singular(), name, field, err)
		}
		r.prompts++
	}
	v, _ := Precedence(declared, interactive)
	if field == FieldAvatar {
		v = r.path(v)
	}
	r.cache[key] = v
	return v, nil
}

// path resolves p against the root.
func (r *Resolver) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.root, p)
}

// Lookups returns the number of provider lookups made so far.
func (r *Resolver) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts
}

// Chat resolves all chat fields.
func (r *Resolver) Chat(ctx context.Context, name string) (ChatMeta, error) {
	var (
		m   ChatMeta
		err error
	)
	if m.Avatar, err = r.Resolve(ctx, KindChat, name, FieldAvatar); err != nil {
		return m, err
	}
	if m.Topic, err = r.Resolve(ctx, KindChat, name, FieldTopic); err != nil {
		return m, err
	}
	return m, nil
}

// User resolves all user fields.
func (r *Resolver) User(ctx context.Context, name string) (UserMeta, error) {
	var (
		m   UserMeta
		err error
	)
	if m.ExternalID, err = r.Resolve(ctx, KindUser, name, FieldUserID); err != nil {
		return m, err
	}
	if m.Avatar, err = r.Resolve(ctx, KindUser, name, FieldAvatar); err != nil {
		return m, err
	}
	if m.Color, err = r.Resolve(ctx, KindUser, name, FieldColor); err != nil {
		return m, err
	}
	return m, nil
}
