// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. It implements the stt.Transcriber interface.
//
// Each segment is sent over its own streaming connection: the samples are
// written as linear16 chunks, a CloseStream message flushes the recognizer and
// the final results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakline/pkg/audio"
	"github.com/MrWong99/speakline/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is the size of each binary audio message (100 ms of
	// 16 kHz linear16).
	chunkBytes = 3200
)

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithKeywords boosts recognition of the given words. Each entry is sent as
// "word:boost".
func WithKeywords(words []string, boost float64) Option {
	return func(t *Transcriber) {
		t.keywords = append([]string(nil), words...)
		t.boost = boost
	}
}

// WithEndpoint overrides the streaming endpoint, e.g. for a self-hosted
// Deepgram deployment.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
// It holds no per-request state and is safe for concurrent use.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
	boost    float64
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		boost:    1,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Name returns "deepgram".
func (t *Transcriber) Name() string { return "deepgram" }

// Transcribe streams samples to Deepgram and returns the joined final
// results.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	lang := opts.Language
	if lang == "" {
		lang = t.language
	}

	wsURL, err := t.buildURL(lang)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	pcm := audio.Float32ToPCM16(samples)
	var results []result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeAudio(gctx, conn, pcm)
	})
	g.Go(func() error {
		var err error
		results, err = readResults(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	tr := join(results)
	tr.Language = lang
	tr.Provider = t.Name()
	tr.Duration = audio.Frame{Samples: samples}.Duration()
	return tr, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (t *Transcriber) buildURL(lang string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.TargetSampleRate))
	q.Set("channels", "1")

	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost (e.g., "Speakline:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, t.boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeAudio sends pcm in chunks followed by CloseStream, which makes
// Deepgram flush its final results and close the connection.
func writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("write close stream: %w", err)
	}
	return nil
}

// readResults collects final results until Deepgram closes the stream.
func readResults(ctx context.Context, conn *websocket.Conn) ([]result, error) {
	var out []result
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return out, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		switch r, kind := parseDeepgramResponse(msg); kind {
		case "Results":
			if r.final {
				out = append(out, r)
			}
		case "Metadata":
			// Sent last, right before the server closes.
			return out, nil
		}
	}
}

// ---- responses ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	text       string
	confidence float64
	start      time.Duration
	end        time.Duration
	final      bool
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// the message type and, for Results, the first alternative.
func parseDeepgramResponse(data []byte) (result, string) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, ""
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, resp.Type
	}

	alt := resp.Channel.Alternatives[0]
	start := time.Duration(resp.Start * float64(time.Second))
	return result{
		text:       strings.TrimSpace(alt.Transcript),
		confidence: alt.Confidence,
		start:      start,
		end:        start + time.Duration(resp.Duration*float64(time.Second)),
		final:      resp.IsFinal,
	}, resp.Type
}

// join merges final results into one transcript. Confidence is the mean over
// non-empty results.
func join(results []result) stt.Transcript {
	var (
		texts []string
		segs  []stt.TextSegment
		conf  float64
	)
	for _, r := range results {
		if r.text == "" {
			continue
		}
		texts = append(texts, r.text)
		segs = append(segs, stt.TextSegment{Text: r.text, Start: r.start, End: r.end})
		conf += r.confidence
	}
	tr := stt.Transcript{Text: strings.Join(texts, " "), Segments: segs}
	if len(texts) > 0 {
		tr.Confidence = conf / float64(len(texts))
	}
	return tr
}
