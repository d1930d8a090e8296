package sources

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_videochat/internal/engine"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID extracts an 11-character YouTube video id from a bare id or
// any common YouTube URL (watch, youtu.be, shorts, embed, live).
// Anything else is an *engine.ValidationError.
func ParseVideoID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", engine.Invalidf("vidDetails is required")
	}
	if videoIDRe.MatchString(s) {
		return s, nil
	}

	raw := s
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidVideo(s)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	var id string
	switch host {
	case "youtu.be":
		if len(segs) > 0 {
			id = segs[0]
		}
	case "youtube.com", "youtube-nocookie.com":
		switch {
		case len(segs) == 1 && segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) >= 2 && isIDPathPrefix(segs[0]):
			id = segs[1]
		}
	}

	if !videoIDRe.MatchString(id) {
		return "", invalidVideo(s)
	}
	return id, nil
}

func isIDPathPrefix(seg string) bool {
	switch seg {
	case "shorts", "embed", "live", "v", "e":
		return true
	}
	return false
}

func invalidVideo(s string) error {
	return engine.Invalidf("invalid YouTube video id or URL: %q", engine.TruncateRunes(s, 80, "..."))
}
