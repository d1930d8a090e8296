package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
)

const testTimedText = `<?xml version="1.0" encoding="utf-8" ?><transcript>` +
	`<text start="0" dur="2.5">Welcome back everyone</text>` +
	`<text start="2.5" dur="3">today it&amp;#39;s all about</text>` +
	`<text start="5.5" dur="1">   </text>` +
	`<text start="6.5" dur="4">nuclear fusion</text>` +
	`</transcript>`

// fakeYouTube serves a watch page, the ANDROID player endpoint and timedtext.
type fakeYouTube struct {
	srv          *httptest.Server
	watchBody    func(base string) string
	playerBody   func(base string) string
	watchHits    atomic.Int32
	playerHits   atomic.Int32
	timedTextHit atomic.Int32
}

func newFakeYouTube(t *testing.T) *fakeYouTube {
	t.Helper()
	f := &fakeYouTube{}
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		f.watchHits.Add(1)
		if f.watchBody == nil {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, f.watchBody(f.srv.URL))
	})
	mux.HandleFunc("/player", func(w http.ResponseWriter, r *http.Request) {
		f.playerHits.Add(1)
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if f.playerBody == nil {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, f.playerBody(f.srv.URL))
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		f.timedTextHit.Add(1)
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, testTimedText)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeYouTube) fetcher(opts ...YouTubeOption) *YouTube {
	y := NewYouTube(f.srv.Client(), []string{"en"}, append([]YouTubeOption{WithTimeout(5 * time.Second)}, opts...)...)
	y.watchURL = f.srv.URL + "/watch?v="
	y.playerURL = f.srv.URL + "/player"
	return y
}

func playerJSON(base string, withCaptions bool, status string) string {
	captions := ""
	if withCaptions {
		captions = fmt.Sprintf(`"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[`+
			`{"baseUrl":"%s/timedtext?v=x&lang=de","languageCode":"de"},`+
			`{"baseUrl":"%s/timedtext?v=x&lang=en&kind=asr","languageCode":"en","kind":"asr"}]}},`, base, base)
	}
	return fmt.Sprintf(`{%s"playabilityStatus":{"status":"%s","reason":"{tricky} \"reason\""}}`, captions, status)
}

func watchPage(playerResp string) string {
	return `<html><head><script>var ytInitialPlayerResponse = ` + playerResp +
		`;var meta = {"x":1};</script></head><body></body></html>`
}

func TestFetchTranscriptPageScrape(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(base string) string { return watchPage(playerJSON(base, true, "OK")) }

	got, err := f.fetcher().FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Welcome back everyone today it's all about nuclear fusion"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if f.playerHits.Load() != 0 {
		t.Error("player endpoint should not be called when page scrape succeeds")
	}
}

func TestFetchTranscriptFallsBackToPlayer(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(string) string { return "<html>consent wall</html>" }
	f.playerBody = func(base string) string { return playerJSON(base, true, "OK") }

	got, err := f.fetcher().FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "nuclear fusion") {
		t.Errorf("transcript = %q", got)
	}
	if f.playerHits.Load() != 1 {
		t.Errorf("player hits = %d, want 1", f.playerHits.Load())
	}
}

func TestFetchTranscriptNoCaptions(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(base string) string { return watchPage(playerJSON(base, false, "OK")) }

	t.Run("lenient", func(t *testing.T) {
		got, err := f.fetcher().FetchTranscript(context.Background(), "dQw4w9WgXcQ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("transcript = %q, want empty", got)
		}
	})

	t.Run("strict", func(t *testing.T) {
		_, err := f.fetcher(WithStrictCaptions(true)).FetchTranscript(context.Background(), "dQw4w9WgXcQ")
		if !errors.Is(err, engine.ErrNoCaptions) {
			t.Fatalf("err = %v, want ErrNoCaptions", err)
		}
		if !engine.IsValidation(err) {
			t.Error("ErrNoCaptions should map to a caller error")
		}
	})

	if f.playerHits.Load() != 2 {
		t.Errorf("player hits = %d, want one confirmation per fetch", f.playerHits.Load())
	}
	if f.timedTextHit.Load() != 0 {
		t.Error("timedtext should not be requested without tracks")
	}
}

func TestFetchTranscriptPlayerFindsCaptionsMissingFromPage(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(base string) string { return watchPage(playerJSON(base, false, "OK")) }
	f.playerBody = func(base string) string { return playerJSON(base, true, "OK") }

	got, err := f.fetcher(WithStrictCaptions(true)).FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "nuclear fusion") {
		t.Errorf("transcript = %q, want the player's captions", got)
	}
	if f.playerHits.Load() != 1 {
		t.Errorf("player hits = %d, want 1", f.playerHits.Load())
	}
}

func TestFetchTranscriptPlayerConfirmsNoCaptions(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(base string) string { return watchPage(playerJSON(base, false, "OK")) }
	f.playerBody = func(base string) string { return playerJSON(base, false, "OK") }

	_, err := f.fetcher(WithStrictCaptions(true)).FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if !errors.Is(err, engine.ErrNoCaptions) {
		t.Fatalf("err = %v, want ErrNoCaptions", err)
	}
}

func TestFetchTranscriptUnplayable(t *testing.T) {
	f := newFakeYouTube(t)
	f.watchBody = func(base string) string { return watchPage(playerJSON(base, false, "LOGIN_REQUIRED")) }
	f.playerBody = func(base string) string { return playerJSON(base, false, "ERROR") }

	_, err := f.fetcher().FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if err == nil {
		t.Fatal("expected error for unplayable video")
	}
	if engine.IsValidation(err) {
		t.Errorf("upstream failure %v must not be a caller error", err)
	}
}

func TestPickBestTrack(t *testing.T) {
	tracks := []captionTrack{
		{BaseURL: "u1", LanguageCode: "de"},
		{BaseURL: "u2&exp=xpe", LanguageCode: "fr"},
		{BaseURL: "u3", LanguageCode: "fr", Kind: "asr"},
		{BaseURL: "u4", LanguageCode: "en-GB", Kind: "asr"},
	}
	tests := []struct {
		name  string
		langs []string
		want  string
	}{
		{"manual preferred", []string{"de"}, "u1"},
		{"asr when no manual usable", []string{"fr"}, "u3"},
		{"order of langs", []string{"es", "fr", "de"}, "u3"},
		{"english fallback", []string{"ja"}, "u4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickBestTrack(tracks, tt.langs)
			if !ok || got.BaseURL != tt.want {
				t.Errorf("pickBestTrack(%v) = %q,%v want %q", tt.langs, got.BaseURL, ok, tt.want)
			}
		})
	}

	if _, ok := pickBestTrack([]captionTrack{{BaseURL: "x&exp=xpe"}}, []string{"en"}); ok {
		t.Error("PoToken-only tracks must be rejected")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", `{"a":1};rest`, `{"a":1}`},
		{"nested", `{"a":{"b":{}}} trailing`, `{"a":{"b":{}}}`},
		{"braces in string", `{"a":"}{"};`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"say \"}\" ok"};x`, `{"a":"say \"}\" ok"}`},
		{"escaped backslash", `{"a":"c:\\"};x`, `{"a":"c:\\"}`},
		{"not object", `[1,2]`, ""},
		{"unterminated", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(extractJSON([]byte(tt.in)))
			if got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
