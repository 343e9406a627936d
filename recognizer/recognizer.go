package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"scribe/capture"
	"scribe/encoder"
)

// Kind classifies what came back for one utterance.
type Kind int

const (
	Recognized   Kind = iota
	Timeout           // no speech started within the capture window
	Unrecognized      // audio captured but nothing decodable
	ServiceError      // remote failure: network, quota, auth
)

func (k Kind) String() string {
	switch k {
	case Recognized:
		return "recognized"
	case Timeout:
		return "timeout"
	case Unrecognized:
		return "unrecognized"
	case ServiceError:
		return "service_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Outcome struct {
	Kind       Kind
	Text       string
	Message    string // ServiceError only
	Metrics    *NetworkMetrics
	RateLimit  string
	Confidence float64
	Upload     int // bytes sent to the service
	EncodeTime time.Duration
}

func Ok(text string) Outcome        { return Outcome{Kind: Recognized, Text: text} }
func TimedOut() Outcome             { return Outcome{Kind: Timeout} }
func NotRecognized() Outcome        { return Outcome{Kind: Unrecognized} }
func Failed(message string) Outcome { return Outcome{Kind: ServiceError, Message: message} }

func (o Outcome) String() string {
	switch o.Kind {
	case Recognized:
		return fmt.Sprintf("recognized %q", o.Text)
	case ServiceError:
		return "service error: " + o.Message
	}
	return o.Kind.String()
}

// Recognizer turns one utterance into text. Transient outcomes come back as
// an Outcome; a non-nil error is something the caller cannot recover from.
type Recognizer interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Recognize(ctx context.Context, utt capture.Utterance) (Outcome, error)
}

// ServiceFailure is a failed exchange with the remote API.
type ServiceFailure struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ServiceFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// result is what an HTTP provider extracted from a successful response.
type result struct {
	Text       string
	Metrics    *NetworkMetrics
	RateLimit  string
	Confidence float64
}

type transcribeFunc func(ctx context.Context, audio []byte, enc encoder.Encoder) (*result, error)

type baseRecognizer struct {
	name   string
	client *TracedClient
	apiURL string
	format string
	lang   string
}

func (b *baseRecognizer) Name() string { return b.name }

func (b *baseRecognizer) SetLanguage(lang string) { b.lang = lang }

func (b *baseRecognizer) GetLanguage() string { return b.lang }

// recognize encodes the utterance and maps the provider's answer onto an Outcome.
func (b *baseRecognizer) recognize(ctx context.Context, utt capture.Utterance, transcribe transcribeFunc) (Outcome, error) {
	enc, err := encoder.New(b.format, utt.SampleRate)
	if err != nil {
		return Outcome{}, err
	}
	data, err := encoder.Encode(enc, utt.PCM)
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding utterance: %w", err)
	}

	res, err := transcribe(ctx, data, enc)
	if err != nil {
		var sf *ServiceFailure
		if errors.As(err, &sf) {
			out := Failed(sf.Error())
			out.Upload, out.EncodeTime = len(data), enc.EncodeTime()
			return out, nil
		}
		return Outcome{}, err
	}

	out := Outcome{
		Kind:       Recognized,
		Text:       strings.TrimSpace(res.Text),
		Metrics:    res.Metrics,
		RateLimit:  res.RateLimit,
		Confidence: res.Confidence,
		Upload:     len(data),
		EncodeTime: enc.EncodeTime(),
	}
	if out.Text == "" {
		out.Kind = Unrecognized
	}
	return out, nil
}

// send performs req and turns transport errors and non-2xx answers into ServiceFailure.
func (b *baseRecognizer) send(ctx context.Context, req *http.Request) (*TracedResponse, error) {
	resp, err := b.client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServiceFailure{Provider: b.name, Message: err.Error()}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &ServiceFailure{Provider: b.name, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(resp.Body))}
	}
	return resp, nil
}

type Options struct {
	Provider          string // groq, openai, deepgram, google; empty picks from credentials
	Language          string
	Format            string // upload container for HTTP providers; empty = provider default
	Timeout           time.Duration
	GoogleCredentials string
}

var ErrNoCredentials = errors.New("set GROQ_API_KEY, OPENAI_API_KEY, DEEPGRAM_API_KEY or GOOGLE_APPLICATION_CREDENTIALS")

func New(ctx context.Context, opts Options) (Recognizer, error) {
	provider := opts.Provider
	if provider == "" {
		provider = detectProvider(opts)
		if provider == "" {
			return nil, ErrNoCredentials
		}
	}

	var r Recognizer
	switch provider {
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("groq: GROQ_API_KEY is not set")
		}
		g := NewGroq(key)
		g.configure(opts)
		r = g
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set")
		}
		o := NewOpenAI(key)
		o.configure(opts)
		r = o
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("deepgram: DEEPGRAM_API_KEY is not set")
		}
		d := NewDeepgram(key)
		d.configure(opts)
		r = d
	case "google":
		g, err := NewGoogle(ctx, opts.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		r = g
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if opts.Language != "" {
		r.SetLanguage(opts.Language)
	}
	return r, nil
}

func (b *baseRecognizer) configure(opts Options) {
	if opts.Format != "" {
		b.format = opts.Format
	}
	if opts.Timeout > 0 {
		b.client.client.Timeout = opts.Timeout
	}
}

func detectProvider(opts Options) string {
	switch {
	case os.Getenv("DEEPGRAM_API_KEY") != "":
		return "deepgram"
	case os.Getenv("GROQ_API_KEY") != "":
		return "groq"
	case os.Getenv("OPENAI_API_KEY") != "":
		return "openai"
	case opts.GoogleCredentials != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return "google"
	}
	return ""
}

func (b *baseRecognizer) Warm(ctx context.Context) (time.Duration, error) {
	return b.client.Warm(ctx)
}

// Warm pre-connects HTTP providers. It reports false for recognizers that
// keep no connection to warm.
func Warm(ctx context.Context, r Recognizer) (time.Duration, bool, error) {
	w, ok := r.(interface {
		Warm(context.Context) (time.Duration, error)
	})
	if !ok {
		return 0, false, nil
	}
	d, err := w.Warm(ctx)
	return d, true, err
}

// Close releases provider resources when the recognizer holds any.
func Close(r Recognizer) error {
	if c, ok := r.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
