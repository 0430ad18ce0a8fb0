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
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/types"
)

//go:generate mockgen -source client.go -destination client_mock_test.go -package guild

// Client is the subset of the REST API used by the adapter.  Errors
// returned by the client are already classified: throttling is
// *network.ThrottleError, server errors are *network.StatusError, rejected
// credentials match fail.ErrAuth and inaccessible resources match
// fail.ErrUnavailable.
type Client interface {
	Me(ctx context.Context) (*discordgo.User, error)
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	// ChannelMessages returns up to limit messages after the message
	// afterID, newest first.
	ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error)
	// MessageReactions returns up to limit users that reacted with the
	// emoji, ordered by user ID, starting after the user afterID.
	MessageReactions(ctx context.Context, channelID, messageID, emojiID string, limit int, afterID string) ([]*discordgo.User, error)
}

const maxErrBody = 512

// sessionClient implements Client on top of the discordgo session.
type sessionClient struct {
	s *discordgo.Session
}

// NewClient returns the client for the token.  Tokens without a type prefix
// are treated as bot tokens.
func NewClient(token string, hc *http.Client) (Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fail.Auth(string(types.SourceGuild), errors.New("empty token"))
	}
	if !strings.HasPrefix(token, "Bot ") && !strings.HasPrefix(token, "Bearer ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	// throttling is handled per channel by the caller
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	if hc != nil {
		s.Client = hc
	}
	s.UserAgent = "chatbackup (https://github.com/ccbackup/chatbackup)"
	return &sessionClient{s: s}, nil
}

func (c *sessionClient) Me(ctx context.Context) (*discordgo.User, error) {
	u, err := c.s.User("@me", discordgo.WithContext(ctx))
	return u, classify("@me", err)
}

func (c *sessionClient) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	g, err := c.s.Guild(guildID, discordgo.WithContext(ctx))
	return g, classify(guildID, err)
}

func (c *sessionClient) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	cc, err := c.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	return cc, classify(guildID, err)
}

func (c *sessionClient) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	rr, err := c.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	return rr, classify(guildID, err)
}

func (c *sessionClient) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	m, err := c.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	return m, classify(userID, err)
}

func (c *sessionClient) ChannelMessages(ctx context.Context, channelID string, limit int, afterID string) ([]*discordgo.Message, error) {
	mm, err := c.s.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
	return mm, classify(channelID, err)
}

func (c *sessionClient) MessageReactions(ctx context.Context, channelID, messageID, emojiID string, limit int, afterID string) ([]*discordgo.User, error) {
	uu, err := c.s.MessageReactions(channelID, messageID, emojiID, limit, "", afterID, discordgo.WithContext(ctx))
	return uu, classify(messageID, err)
}

// classify converts the discordgo errors into the error taxonomy.
func classify(target string, err error) error {
	if err == nil {
		return nil
	}
	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) && rle.RateLimit != nil && rle.TooManyRequests != nil {
		return &network.ThrottleError{RetryAfter: rle.RetryAfter, Source: target}
	}
	var re *discordgo.RESTError
	if !errors.As(err, &re) || re.Response == nil {
		return err
	}
	var code int
	if re.Message != nil {
		code = re.Message.Code
	}
	switch status := re.Response.StatusCode; {
	case status == http.StatusUnauthorized:
		return fail.Auth(string(types.SourceGuild), err)
	case code == discordgo.ErrCodeUnknownChannel,
		code == discordgo.ErrCodeUnknownGuild,
		code == discordgo.ErrCodeMissingAccess,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return fail.Unavailable(target, err)
	default:
		body := re.ResponseBody
		if len(body) > maxErrBody {
			body = body[:maxErrBody]
		}
		return &network.StatusError{Code: status, Body: string(body)}
	}
}
