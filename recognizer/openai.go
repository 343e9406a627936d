package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"scribe/capture"
	"scribe/encoder"
)

const openAIAPIURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	baseRecognizer
	apiKey string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		baseRecognizer: baseRecognizer{
			name:   "openai",
			client: NewTracedClient(openAIAPIURL),
			apiURL: openAIAPIURL,
			format: "wav",
		},
		apiKey: apiKey,
	}
}

func (o *OpenAI) Recognize(ctx context.Context, utt capture.Utterance) (Outcome, error) {
	return o.recognize(ctx, utt, o.transcribe)
}

func (o *OpenAI) transcribe(ctx context.Context, audioData []byte, enc encoder.Encoder) (*result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+enc.Extension())
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("model", "gpt-4o-transcribe")
	writer.WriteField("response_format", "json")
	if o.lang != "" {
		writer.WriteField("language", o.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.send(ctx, req)
	if err != nil {
		return nil, err
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, &ServiceFailure{Provider: o.name, Message: fmt.Sprintf("response parse error: %v", err)}
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &result{
		Text:      oResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
	}, nil
}
