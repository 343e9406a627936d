package recognizer

import (
	"context"
	"sync"

	"scribe/capture"
)

// FakeStep is one scripted answer of a Fake.
type FakeStep struct {
	Outcome Outcome
	Err     error
}

// Fake replays scripted outcomes in order. Once the script is exhausted it
// keeps returning the last step; an empty script always recognizes nothing.
type Fake struct {
	mu    sync.Mutex
	steps []FakeStep
	calls []capture.Utterance
	lang  string
}

func NewFake(steps ...FakeStep) *Fake {
	return &Fake{steps: steps}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) SetLanguage(lang string) {
	f.mu.Lock()
	f.lang = lang
	f.mu.Unlock()
}

func (f *Fake) GetLanguage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *Fake) Recognize(ctx context.Context, utt capture.Utterance) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, utt)
	if len(f.steps) == 0 {
		return NotRecognized(), nil
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.Outcome, step.Err
}

// Calls returns the utterances passed to Recognize so far.
func (f *Fake) Calls() []capture.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capture.Utterance, len(f.calls))
	copy(out, f.calls)
	return out
}
