// Package catalog resolves song requests and playlists against a NetEase
// Cloud Music API gateway.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// qualityLevels is the preference order for stream resolution. Lower levels
// are tried when a higher one is unavailable or only offers a trial clip.
var qualityLevels = []string{"lossless", "exhigh", "standard"}

// playlistPageSize is the page size used when walking playlist tracks.
const playlistPageSize = 200

// Client talks to a NetEase Cloud Music API gateway over HTTP. It implements
// the playback scheduler's Catalog interface.
type Client struct {
	baseURL string
	cookie  string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithCookie attaches an account cookie to every request. Logged-in accounts
// unlock full-length streams for tracks that otherwise serve trial clips.
func WithCookie(cookie string) ClientOption {
	return func(c *Client) { c.cookie = cookie }
}

// NewClient creates a catalog client rooted at baseURL, the address of a
// NetEase Cloud Music API gateway.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Result struct {
		Songs []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"songs"`
	} `json:"result"`
}

// Search returns the first matching track id for a keyword, 0 when the
// catalog has no match.
func (c *Client) Search(ctx context.Context, keyword string) (int64, error) {
	q := url.Values{}
	q.Set("keywords", keyword)
	q.Set("limit", "1")

	var resp searchResponse
	if err := c.getJSON(ctx, "/search", q, &resp); err != nil {
		return 0, fmt.Errorf("catalog search %q: %w", keyword, err)
	}
	if len(resp.Result.Songs) == 0 {
		return 0, nil
	}
	song := resp.Result.Songs[0]
	slog.Debug("catalog.Client.Search: matched", "keyword", keyword, "track_id", song.ID, "title", song.Name)
	return song.ID, nil
}

type songURLResponse struct {
	Data []struct {
		ID            int64           `json:"id"`
		URL           string          `json:"url"`
		FreeTrialInfo json.RawMessage `json:"freeTrialInfo"`
	} `json:"data"`
}

// ResolveURL returns a full-length stream URL for a track, stepping down
// through quality levels. Entries carrying trial info are clipped previews
// and are skipped; "" is returned when no level yields a full stream.
func (c *Client) ResolveURL(ctx context.Context, trackID int64) (string, error) {
	for _, level := range qualityLevels {
		q := url.Values{}
		q.Set("id", strconv.FormatInt(trackID, 10))
		q.Set("level", level)

		var resp songURLResponse
		if err := c.getJSON(ctx, "/song/url/v1", q, &resp); err != nil {
			return "", fmt.Errorf("catalog resolve track %d: %w", trackID, err)
		}
		for _, entry := range resp.Data {
			if entry.ID != trackID || entry.URL == "" {
				continue
			}
			if isTrial(entry.FreeTrialInfo) {
				slog.Debug("catalog.Client.ResolveURL: trial clip skipped", "track_id", trackID, "level", level)
				continue
			}
			return entry.URL, nil
		}
	}
	slog.Warn("catalog.Client.ResolveURL: no full stream available", "track_id", trackID)
	return "", nil
}

// isTrial reports whether the freeTrialInfo field carries a value, which
// marks the stream as a clipped preview.
func isTrial(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

type playlistResponse struct {
	Songs []struct {
		ID int64 `json:"id"`
	} `json:"songs"`
}

// PlaylistTrackIDs lists every track id in a playlist, paging through the
// gateway until a short page signals the end.
func (c *Client) PlaylistTrackIDs(ctx context.Context, playlistID int64) ([]int64, error) {
	var ids []int64
	for offset := 0; ; offset += playlistPageSize {
		q := url.Values{}
		q.Set("id", strconv.FormatInt(playlistID, 10))
		q.Set("limit", strconv.Itoa(playlistPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var resp playlistResponse
		if err := c.getJSON(ctx, "/playlist/track/all", q, &resp); err != nil {
			return nil, fmt.Errorf("catalog playlist %d page %d: %w", playlistID, offset/playlistPageSize, err)
		}
		for _, song := range resp.Songs {
			ids = append(ids, song.ID)
		}
		if len(resp.Songs) < playlistPageSize {
			break
		}
	}
	slog.Debug("catalog.Client.PlaylistTrackIDs: playlist loaded", "playlist_id", playlistID, "tracks", len(ids))
	return ids, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if c.cookie != "" {
		q.Set("cookie", c.cookie)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
