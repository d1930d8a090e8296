package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
)

// YouTube transcript fetching.
// Primary:  watch page ytInitialPlayerResponse → captionTracks  (works from any IP)
// Fallback: ANDROID Innertube /player → captionTracks          (works from non-blocked IPs)

// YouTube fetches caption transcripts. Safe for concurrent use.
type YouTube struct {
	client    *http.Client
	langs     []string
	timeout   time.Duration
	strict    bool
	watchURL  string
	playerURL string
}

// YouTubeOption configures a YouTube fetcher.
type YouTubeOption func(*YouTube)

// WithTimeout bounds one FetchTranscript call, fallbacks included.
func WithTimeout(d time.Duration) YouTubeOption {
	return func(y *YouTube) { y.timeout = d }
}

// WithStrictCaptions makes videos without captions fail with engine.ErrNoCaptions
// instead of yielding an empty transcript.
func WithStrictCaptions(strict bool) YouTubeOption {
	return func(y *YouTube) { y.strict = strict }
}

// NewYouTube returns a fetcher preferring caption tracks in langs, in order.
// A nil client falls back to engine.Cfg.HTTPClient.
func NewYouTube(client *http.Client, langs []string, opts ...YouTubeOption) *YouTube {
	if client == nil {
		client = engine.Cfg.HTTPClient
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	y := &YouTube{
		client:    client,
		langs:     langs,
		watchURL:  ytWatchURL,
		playerURL: ytInnertubeURL,
	}
	for _, o := range opts {
		o(y)
	}
	return y
}

// FetchTranscript returns the video's caption text, cues joined by single spaces.
// A playable video without captions yields "" and a nil error, or
// engine.ErrNoCaptions in strict mode.
func (y *YouTube) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	engine.IncrTranscriptRequests()

	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	text, err := y.fetch(ctx, videoID)
	switch {
	case errors.Is(err, engine.ErrNoCaptions):
		engine.IncrNoCaptions()
		if y.strict {
			return "", err
		}
		slog.Info("youtube: captions disabled, using empty transcript", slog.String("id", videoID))
		return "", nil
	case err != nil:
		engine.IncrTranscriptErrors()
		return "", fmt.Errorf("youtube transcript %s: %w", videoID, err)
	}
	return text, nil
}

func (y *YouTube) fetch(ctx context.Context, videoID string) (string, error) {
	text, err := y.fetchViaPageScrape(ctx, videoID)
	if err == nil || ctx.Err() != nil {
		return text, err
	}

	// Watch pages served to non-browser clients sometimes omit caption tracks
	// of a playable video, so "no captions" needs the player's word too.
	pageNoCaptions := errors.Is(err, engine.ErrNoCaptions)
	if pageNoCaptions {
		slog.Debug("youtube: watch page lists no captions, asking player", slog.String("id", videoID))
	} else {
		slog.Warn("youtube: page scrape failed, trying player",
			slog.String("id", videoID), slog.Any("error", err))
	}

	text, perr := y.fetchViaPlayer(ctx, videoID)
	if perr != nil && pageNoCaptions && ctx.Err() == nil && !errors.Is(perr, engine.ErrNoCaptions) {
		slog.Debug("youtube: player unavailable, keeping watch page result",
			slog.String("id", videoID), slog.Any("error", perr))
		return "", engine.ErrNoCaptions
	}
	return text, perr
}

// ytInitialPlayerResponseMarker marks the start of the player response JSON in watch page HTML.
const ytInitialPlayerResponseMarker = "ytInitialPlayerResponse = "

// fetchViaPageScrape scrapes the watch page and extracts the caption track
// XML URL from ytInitialPlayerResponse.
func (y *YouTube) fetchViaPageScrape(ctx context.Context, videoID string) (string, error) {
	watchURL := y.watchURL + videoID

	resp, err := engine.FetchHTTP(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range engine.ChromeHeaders() {
			// Leave Accept-Encoding to the transport so gzip is decoded for us.
			if !strings.EqualFold(k, "accept-encoding") {
				req.Header.Set(k, v)
			}
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		return y.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("watch page: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(ytInitialPlayerResponseMarker))
	if idx < 0 {
		return "", errors.New("ytInitialPlayerResponse not found in watch page")
	}
	jsonData := extractJSON(body[idx+len(ytInitialPlayerResponseMarker):])
	if jsonData == nil {
		return "", errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var playerResp innertubePlayerResp
	if err := json.Unmarshal(jsonData, &playerResp); err != nil {
		return "", fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return y.fromPlayerResponse(ctx, playerResp)
}

// fetchViaPlayer uses the ANDROID Innertube /player endpoint.
func (y *YouTube) fetchViaPlayer(ctx context.Context, videoID string) (string, error) {
	reqBody, err := json.Marshal(innertubeReq{
		VideoID: videoID,
		Context: innertubeCtx{
			Client: innertubeClient{
				ClientName:        "ANDROID",
				ClientVersion:     ytAndroidVersion,
				AndroidSdkVersion: 30,
				Hl:                "en",
				Gl:                "US",
			},
		},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return "", err
	}

	resp, err := engine.FetchHTTP(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.playerURL+"?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", ytAndroidUA)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)
		return y.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("android innertube: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("android innertube: HTTP %d", resp.StatusCode)
	}

	var playerResp innertubePlayerResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 3*1024*1024)).Decode(&playerResp); err != nil {
		return "", fmt.Errorf("decode player: %w", err)
	}
	return y.fromPlayerResponse(ctx, playerResp)
}

// fromPlayerResponse picks a caption track and downloads it. A playable video
// without tracks is reported as engine.ErrNoCaptions.
func (y *YouTube) fromPlayerResponse(ctx context.Context, pr innertubePlayerResp) (string, error) {
	status, reason := "", ""
	if pr.PlayabilityStatus != nil {
		status, reason = pr.PlayabilityStatus.Status, pr.PlayabilityStatus.Reason
	}
	if status != "" && status != "OK" {
		if reason == "" {
			reason = status
		}
		return "", fmt.Errorf("video not playable: %s", reason)
	}

	if pr.Captions == nil || len(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks) == 0 {
		return "", engine.ErrNoCaptions
	}
	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	track, ok := pickBestTrack(tracks, y.langs)
	if !ok {
		return "", errors.New("all caption tracks require PoToken")
	}
	return y.fetchTimedText(ctx, track.BaseURL)
}

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with &exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack selects the best usable caption track for the given language preferences.
// Skips tracks that require PoToken; those only work in a browser.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	// 1. Manual track in preferred language
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	// 2. Auto-generated track in preferred language
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	// 3. Any English track
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// fetchTimedText fetches and parses a YouTube timedtext XML caption URL.
func (y *YouTube) fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	resp, err := engine.FetchHTTP(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		return y.client.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch timedtext: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", err
	}

	var tt ytTimedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}

	var sb strings.Builder
	for _, line := range tt.Lines {
		text := engine.CleanCaption(line.Text)
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}

// extractJSON returns the balanced JSON object at the start of b, or nil.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
