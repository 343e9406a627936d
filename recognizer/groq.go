package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"

	"scribe/capture"
	"scribe/encoder"
)

const groqAPIURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	baseRecognizer
	apiKey string
}

func NewGroq(apiKey string) *Groq {
	return &Groq{
		baseRecognizer: baseRecognizer{
			name:   "groq",
			client: NewTracedClient(groqAPIURL),
			apiURL: groqAPIURL,
			format: "flac",
		},
		apiKey: apiKey,
	}
}

func (g *Groq) Recognize(ctx context.Context, utt capture.Utterance) (Outcome, error) {
	return g.recognize(ctx, utt, g.transcribe)
}

type groqResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// noSpeechCutoff drops whisper hallucinations on near-silent audio.
const noSpeechCutoff = 0.8

func (g *Groq) transcribe(ctx context.Context, audioData []byte, enc encoder.Encoder) (*result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+enc.Extension())
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("model", "whisper-large-v3-turbo")
	writer.WriteField("response_format", "verbose_json")
	if g.lang != "" {
		writer.WriteField("language", g.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.send(ctx, req)
	if err != nil {
		return nil, err
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, &ServiceFailure{Provider: g.name, Message: fmt.Sprintf("response parse error: %v", err)}
	}

	text := gResp.Text
	var noSpeech, logProbSum float64
	for _, seg := range gResp.Segments {
		noSpeech = math.Max(noSpeech, seg.NoSpeechProb)
		logProbSum += seg.AvgLogProb
	}
	if len(gResp.Segments) > 0 && noSpeech > noSpeechCutoff {
		text = ""
	}
	confidence := 0.0
	if n := len(gResp.Segments); n > 0 {
		confidence = math.Exp(logProbSum / float64(n))
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &result{
		Text:       text,
		Metrics:    resp.Metrics,
		RateLimit:  remaining + "/" + limit,
		Confidence: confidence,
	}, nil
}
