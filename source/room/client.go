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

package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ccbackup/chatbackup/downloader"
	"github.com/ccbackup/chatbackup/internal/fail"
	"github.com/ccbackup/chatbackup/internal/network"
	"github.com/ccbackup/chatbackup/types"
)

const (
	pathClient = "/_matrix/client/v3"
	// syncFilter excludes everything but the to-device events from /sync.
	syncFilter = `{"room":{"rooms":[]},"presence":{"types":[]},"account_data":{"types":[]}}`

	defRetryAfter = time.Second
	maxErrBody    = 512
)

// APIError is the error returned by the homeserver.
type APIError struct {
	Status       int    `json:"-"`
	ErrCode      string `json:"errcode"`
	Message      string `json:"error"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.ErrCode, e.Message)
}

// Client is the minimal client-server API client.
type Client struct {
	base    string
	token   string
	hc      *http.Client
	lim     *rate.Limiter
	retries int
}

// NewClient returns the client for the homeserver.
func NewClient(homeserver, token string, hc *http.Client, lim *rate.Limiter, retries int) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(homeserver))
	if err != nil {
		return nil, fmt.Errorf("homeserver: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("homeserver: unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if lim == nil {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		base:    strings.TrimRight(u.String(), "/"),
		token:   token,
		hc:      hc,
		lim:     lim,
		retries: retries,
	}, nil
}

// SetToken sets the access token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// call performs the request with retries.  path must be escaped.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	return network.WithRetry(ctx, c.lim, c.retries, func(ctx context.Context) error {
		return c.do(ctx, method, path, q, body, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// a truncated body is worth another attempt
		return fmt.Errorf("%s: %w: %w", path, network.ErrRetryPlease, err)
	}
	return nil
}

// classify converts the error response into the error taxonomy.
func classify(target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.ErrCode == "" {
		apiErr.ErrCode = "M_UNKNOWN"
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || apiErr.ErrCode == "M_LIMIT_EXCEEDED":
		wait := downloader.RetryAfter(resp.Header, defRetryAfter)
		if apiErr.RetryAfterMS > 0 {
			wait = time.Duration(apiErr.RetryAfterMS) * time.Millisecond
		}
		return &network.ThrottleError{RetryAfter: wait, Source: target}
	case resp.StatusCode == http.StatusUnauthorized || apiErr.ErrCode == "M_UNKNOWN_TOKEN" || apiErr.ErrCode == "M_MISSING_TOKEN":
		return fail.Auth(string(types.SourceRoom), apiErr)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return fail.Unavailable(target, apiErr)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		if len(body) > maxErrBody {
			body = body[:maxErrBody]
		}
		return &network.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return apiErr
}

func roomPath(roomID string, elem ...string) string {
	p := pathClient + "/rooms/" + url.PathEscape(roomID)
	for _, e := range elem {
		p += "/" + e
	}
	return p
}

type loginRequest struct {
	Type       string         `json:"type"`
	Identifier map[string]any `json:"identifier"`
	Password   string         `json:"password"`
	DeviceName string         `json:"initial_device_display_name,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
}

// Session is the authenticated session.
type Session struct {
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token,omitempty"`
}

// Login logs in with the password and sets the access token.  A known
// device ID is reused so that the keys shared with it stay usable.
func (c *Client) Login(ctx context.Context, user, password, deviceID string) (Session, error) {
	req := loginRequest{
		Type:       "m.login.password",
		Identifier: map[string]any{"type": "m.id.user", "user": user},
		Password:   password,
		DeviceName: "chatbackup",
		DeviceID:   deviceID,
	}
	var s Session
	if err := c.call(ctx, http.MethodPost, pathClient+"/login", nil, req, &s); err != nil {
		var apiErr *APIError
		if errors.Is(err, fail.ErrUnavailable) || errors.As(err, &apiErr) {
			return Session{}, fail.Auth(string(types.SourceRoom), err)
		}
		return Session{}, err
	}
	c.token = s.AccessToken
	return s, nil
}

// WhoAmI validates the access token.
func (c *Client) WhoAmI(ctx context.Context) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodGet, pathClient+"/account/whoami", nil, nil, &s)
	return s, err
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	ToDevice  struct {
		Events []Event `json:"events"`
	} `json:"to_device"`
}

// Sync returns the to-device events since the token.
func (c *Client) Sync(ctx context.Context, since string) (*syncResponse, error) {
	q := url.Values{"timeout": {"0"}, "filter": {syncFilter}}
	if since != "" {
		q.Set("since", since)
	}
	var resp syncResponse
	if err := c.call(ctx, http.MethodGet, pathClient+"/sync", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinedRooms returns the IDs of the joined rooms.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	var resp struct {
		JoinedRooms []string `json:"joined_rooms"`
	}
	if err := c.call(ctx, http.MethodGet, pathClient+"/joined_rooms", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.JoinedRooms, nil
}

// State returns the current state events of the room.
func (c *Client) State(ctx context.Context, roomID string) ([]Event, error) {
	var evts []Event
	if err := c.call(ctx, http.MethodGet, roomPath(roomID, "state"), nil, nil, &evts); err != nil {
		return nil, err
	}
	return evts, nil
}

// Member is a joined member of the room.
type Member struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// JoinedMembers returns the joined members of the room.
func (c *Client) JoinedMembers(ctx context.Context, roomID string) (map[string]Member, error) {
	var resp struct {
		Joined map[string]Member `json:"joined"`
	}
	if err := c.call(ctx, http.MethodGet, roomPath(roomID, "joined_members"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Joined, nil
}

type messagesResponse struct {
	Chunk []Event `json:"chunk"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

// Messages returns the page of room events after the token, oldest first.
// An empty token starts at the beginning of the room.
func (c *Client) Messages(ctx context.Context, roomID, from string, limit int) (*messagesResponse, error) {
	q := url.Values{"dir": {"f"}, "limit": {strconv.Itoa(limit)}}
	if from != "" {
		q.Set("from", from)
	}
	var resp messagesResponse
	if err := c.call(ctx, http.MethodGet, roomPath(roomID, "messages"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// parseMXC splits the mxc:// URI into the server name and the media ID.
func parseMXC(uri string) (server, mediaID string, err error) {
	rest, ok := strings.CutPrefix(uri, "mxc://")
	if !ok {
		return "", "", fmt.Errorf("not an mxc uri: %q", uri)
	}
	server, mediaID, ok = strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return "", "", fmt.Errorf("malformed mxc uri: %q", uri)
	}
	return server, mediaID, nil
}

// mediaURL returns the download URL of the mxc uri.  Authenticated media is
// served by the client API, legacy servers use the media API.
func (c *Client) mediaURL(uri string, authenticated bool) (string, error) {
	server, id, err := parseMXC(uri)
	if err != nil {
		return "", err
	}
	prefix := "/_matrix/media/v3/download/"
	if authenticated {
		prefix = "/_matrix/client/v1/media/download/"
	}
	return c.base + prefix + url.PathEscape(server) + "/" + url.PathEscape(id), nil
}

// mediaGetter downloads mxc:// media, falling back to the legacy media
// endpoint if the homeserver has no authenticated media.
type mediaGetter struct {
	auth   *downloader.HTTPGetter
	legacy *downloader.HTTPGetter
}

func (c *Client) getter() *mediaGetter {
	header := http.Header{"Authorization": {"Bearer " + c.token}}
	return &mediaGetter{
		auth: &downloader.HTTPGetter{
			Client:  c.hc,
			Header:  header,
			Rewrite: func(s string) (string, error) { return c.mediaURL(s, true) },
		},
		legacy: &downloader.HTTPGetter{
			Client:  c.hc,
			Header:  header,
			Rewrite: func(s string) (string, error) { return c.mediaURL(s, false) },
		},
	}
}

func (g *mediaGetter) GetFile(ctx context.Context, uri string, w io.Writer) error {
	err := g.auth.GetFile(ctx, uri, w)
	var se *network.StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusBadRequest || se.Code == http.StatusMethodNotAllowed) {
		// nothing was written for an error response
		return g.legacy.GetFile(ctx, uri, w)
	}
	return err
}
