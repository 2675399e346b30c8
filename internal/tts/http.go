package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultHTTPEndpoint is the public translate_tts endpoint, which returns
// MP3 audio for short text.
const DefaultHTTPEndpoint = "https://translate.google.com/translate_tts"

const maxClipBytes = 8 << 20

type httpSynth struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSynth fetches clips with GET <endpoint>?q=<text>&tl=<language>.
func NewHTTPSynth(endpoint string, client *http.Client) Synthesizer {
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSynth{endpoint: endpoint, client: client}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse tts endpoint: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	q := u.Query()
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", req.Text)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tts endpoint returned status %s", resp.Status)
	}
	clip, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
	if err != nil {
		return nil, fmt.Errorf("read tts clip: %w", err)
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("tts endpoint returned empty clip")
	}
	return clip, nil
}
