package recognizer

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scribe/capture"
)

// speechAPI is the part of the Cloud Speech client the recognizer uses.
type speechAPI interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Google sends raw LINEAR16 audio to Cloud Speech-to-Text v1.
type Google struct {
	api  speechAPI
	lang string
}

// NewGoogle dials Cloud Speech. An empty credentialsFile falls back to
// application default credentials.
func NewGoogle(ctx context.Context, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	return newGoogleWith(client), nil
}

func newGoogleWith(api speechAPI) *Google {
	return &Google{api: api, lang: "en"}
}

func (g *Google) Name() string { return "google" }

func (g *Google) SetLanguage(lang string) { g.lang = lang }

func (g *Google) GetLanguage() string { return g.lang }

func (g *Google) Close() error { return g.api.Close() }

var googleLocales = map[string]string{
	"en": "en-US",
	"de": "de-DE",
	"es": "es-ES",
	"fr": "fr-FR",
	"it": "it-IT",
	"ja": "ja-JP",
	"pt": "pt-BR",
	"tr": "tr-TR",
	"zh": "cmn-Hans-CN",
}

func languageCode(lang string) string {
	if lang == "" {
		return "en-US"
	}
	if strings.Contains(lang, "-") {
		return lang
	}
	if code, ok := googleLocales[strings.ToLower(lang)]; ok {
		return code
	}
	return lang
}

func (g *Google) Recognize(ctx context.Context, utt capture.Utterance) (Outcome, error) {
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(utt.SampleRate),
			AudioChannelCount:          int32(utt.Channels),
			LanguageCode:               languageCode(g.lang),
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: utt.PCM},
		},
	}

	resp, err := g.api.Recognize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		out := Failed(googleErrorMessage(err))
		out.Upload = len(utt.PCM)
		return out, nil
	}

	var parts []string
	var confidence float32
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
			confidence = max(confidence, alts[0].GetConfidence())
		}
	}
	out := Ok(strings.Join(parts, " "))
	if len(parts) == 0 {
		out = NotRecognized()
	}
	out.Confidence = float64(confidence)
	out.Upload = len(utt.PCM)
	return out, nil
}

func googleErrorMessage(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return "google: " + err.Error()
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return "google: quota exceeded: " + st.Message()
	case codes.Unauthenticated, codes.PermissionDenied:
		return "google: credentials rejected: " + st.Message()
	case codes.Unavailable, codes.DeadlineExceeded:
		return "google: service unavailable: " + st.Message()
	}
	return fmt.Sprintf("google: %s: %s", st.Code(), st.Message())
}
