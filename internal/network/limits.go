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

package network

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"golang.org/x/time/rate"
)

// Limits is the set of API limits and worker settings.  It can be loaded
// from a TOML file.
type Limits struct {
	// Workers is the number of chats processed concurrently.
	Workers int `toml:"workers" validate:"gte=1,lte=64"`
	// Retries is the number of attempts for a page request that fails with
	// a transient error.
	Retries int `toml:"retries" validate:"gte=1,lte=20"`
	// DownloadRetries is the number of attempts for a single attachment.
	DownloadRetries int `toml:"download_retries" validate:"gte=1,lte=20"`

	Guild    TierLimit    `toml:"guild"`
	Room     TierLimit    `toml:"room"`
	Download TierLimit    `toml:"download"`
	Request  RequestLimit `toml:"request"`
}

// TierLimit represents a rate limit for one kind of request.
type TierLimit struct {
	// Boost is the amount of events per minute added to the base tier.
	Boost uint `toml:"boost" validate:"lte=6000"`
	// Burst is the amount of events that can be issued at once.
	Burst uint `toml:"burst" validate:"gte=1,lte=100"`
}

// RequestLimit is the page size for the paginated requests.
type RequestLimit struct {
	// GuildMessages is the page size for channel history, API maximum is
	// 100.
	GuildMessages int `toml:"guild_messages" validate:"gte=1,lte=100"`
	// Reactions is the page size for reaction users, API maximum is 100.
	Reactions int `toml:"reactions" validate:"gte=1,lte=100"`
	// RoomMessages is the page size for the room /messages endpoint.
	RoomMessages int `toml:"room_messages" validate:"gte=1,lte=1000"`
}

// DefLimits is the default set of limits.
var DefLimits = Limits{
	Workers:         4,
	Retries:         3,
	DownloadRetries: 3,
	Guild:           TierLimit{Boost: 0, Burst: 5},
	Room:            TierLimit{Boost: 0, Burst: 10},
	Download:        TierLimit{Boost: 0, Burst: 5},
	Request: RequestLimit{
		GuildMessages: 100,
		Reactions:     100,
		RoomMessages:  100,
	},
}

var (
	validate = validator.New(validator.WithRequiredStructEnabled())
	enLocale = en.New()
	uni      = ut.New(enLocale, enLocale)

	// ErrTranslations translates the validation errors to English.
	ErrTranslations, _ = uni.GetTranslator("en")
)

func init() {
	if err := en_translations.RegisterDefaultTranslations(validate, ErrTranslations); err != nil {
		panic(err)
	}
}

// Validate checks the limits.
func (l *Limits) Validate() error {
	return validate.Struct(l)
}

// Apply applies the non-zero values of other to l and validates the result.
func (l *Limits) Apply(other Limits) error {
	apply(&l.Workers, other.Workers)
	apply(&l.Retries, other.Retries)
	apply(&l.DownloadRetries, other.DownloadRetries)
	l.Guild.apply(other.Guild)
	l.Room.apply(other.Room)
	l.Download.apply(other.Download)
	apply(&l.Request.GuildMessages, other.Request.GuildMessages)
	apply(&l.Request.Reactions, other.Request.Reactions)
	apply(&l.Request.RoomMessages, other.Request.RoomMessages)
	return l.Validate()
}

func (t *TierLimit) apply(other TierLimit) {
	apply(&t.Boost, other.Boost)
	apply(&t.Burst, other.Burst)
}

func apply[T comparable](dst *T, src T) {
	var zero T
	if src != zero {
		*dst = src
	}
}

// Tier is the kind of request a limiter is created for.
type Tier int

const (
	TierGuild Tier = iota
	TierRoom
	TierDownload
)

// perMinute is the base request rate of each tier.
var perMinute = [...]uint{
	// Discord allows roughly 5 message page requests per 5 seconds per
	// channel route.
	TierGuild: 60,
	// Synapse defaults to 10 rps with a burst of 30 for the client API.
	TierRoom:     300,
	TierDownload: 600,
}

// tier returns the configured limit of the tier.
func (l Limits) tier(t Tier) TierLimit {
	switch t {
	case TierGuild:
		return l.Guild
	case TierRoom:
		return l.Room
	case TierDownload:
		return l.Download
	}
	panic(fmt.Sprintf("network: unknown tier %d", t))
}

// Limiter returns the limiter for the tier: the base rate of the tier
// increased by its boost, with the configured burst.
func (l Limits) Limiter(t Tier) *rate.Limiter {
	tl := l.tier(t)
	return rate.NewLimiter(rate.Every(every(perMinute[t]+tl.Boost)), int(tl.Burst))
}

// every returns the interval between events for the rate per minute.
func every(perMinute uint) time.Duration {
	return time.Minute / time.Duration(max(perMinute, 1))
}

// LoadLimits reads the TOML limits from r and applies them over the
// defaults.
func LoadLimits(r io.Reader) (Limits, error) {
	var other Limits
	md, err := toml.NewDecoder(r).Decode(&other)
	if err != nil {
		return Limits{}, fmt.Errorf("limits: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return Limits{}, fmt.Errorf("limits: unknown keys: %s", strings.Join(keys, ", "))
	}
	l := DefLimits
	if err := l.Apply(other); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// WriteLimits writes the limits as TOML.
func WriteLimits(w io.Writer, l Limits) error {
	return toml.NewEncoder(w).Encode(l)
}

// TranslateError returns the human readable validation errors, one per line.
func TranslateError(err error) string {
	var vErr validator.ValidationErrors
	if !errors.As(err, &vErr) {
		return err.Error()
	}
	var buf strings.Builder
	for i, entry := range vErr {
		fmt.Fprintf(&buf, "\t%2d: %s\n", i+1, entry.Translate(ErrTranslations))
	}
	return buf.String()
}
