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

package downloader

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ccbackup/chatbackup/internal/network"
)

// HTTPGetter fetches files over HTTP.
type HTTPGetter struct {
	Client *http.Client
	// Header is added to every request, i.e. the Authorization header.
	Header http.Header
	// Rewrite, if set, maps the download URL to the HTTP URL, i.e. mxc://
	// to the media endpoint.
	Rewrite func(string) (string, error)
}

func (g *HTTPGetter) GetFile(ctx context.Context, downloadURL string, w io.Writer) error {
	if g.Rewrite != nil {
		u, err := g.Rewrite(downloadURL)
		if err != nil {
			return err
		}
		downloadURL = u
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	for k, vv := range g.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	cl := g.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	resp, err := cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := CheckResponse(resp, "download"); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// CheckResponse converts non-2xx responses into network errors.  429 is
// converted into ThrottleError with the Retry-After delay.
func CheckResponse(resp *http.Response, source string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &network.ThrottleError{RetryAfter: RetryAfter(resp.Header, time.Second), Source: source}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &network.StatusError{Code: resp.StatusCode, Body: string(body)}
}

// RetryAfter parses the Retry-After header (seconds), returning def if the
// header is missing or invalid.
func RetryAfter(h http.Header, def time.Duration) time.Duration {
	s := h.Get("Retry-After")
	if s == "" {
		return def
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && n >= 0 {
		return time.Duration(n * float64(time.Second))
	}
	if t, err := http.ParseTime(s); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}
