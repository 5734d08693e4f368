package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{c: c, SampleRateHz: 16000}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, a Audio) (Result, error) {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               NormalizeLanguage(a.Language),
		EnableAutomaticPunctuation: true,
		Model:                      "latest_short",
	}
	switch a.Format {
	case "pcm16":
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
		cfg.SampleRateHertz = g.SampleRateHz
	default:
		// sample rate is read from the Opus header
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: a.Data},
		},
	})
	if err != nil {
		return Result{}, err
	}

	// Results are consecutive segments; each contributes its top alternative.
	var out Result
	var n int
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 || r.Alternatives[0].Transcript == "" {
			continue
		}
		alt := r.Alternatives[0]
		if out.Text != "" {
			out.Text += " "
		}
		out.Text += alt.Transcript
		out.Confidence += float64(alt.Confidence)
		n++
	}
	if n > 0 {
		out.Confidence /= float64(n)
	}
	return out, nil
}

func NormalizeLanguage(v string) string {
	switch v {
	case "", "en", "en-US":
		return "en-US"
	case "id", "id-ID":
		return "id-ID"
	default:
		return v
	}
}
