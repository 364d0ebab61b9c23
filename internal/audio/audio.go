// Package audio turns narration text into a single normalized WAV file.
//
// Engines are tried in order; the first one that yields a decodable WAV
// wins. Only when every engine fails does Synthesize return an error.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/script2video/internal/logger"
)

var ErrEmptyText = errors.New("audio: nothing to synthesize")

// Request is passed unchanged to every engine in the chain.
type Request struct {
	Text  string
	Voice string
	// Rate is words per minute; zero leaves the engine default.
	Rate int
}

// Engine writes speech for req into dst.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, req Request, dst string) error
}

// EngineFailure is why one engine in the chain did not produce audio.
type EngineFailure struct {
	Engine string
	Err    error
}

func (f EngineFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Engine, f.Err)
}

// SynthesisError means every engine failed.
type SynthesisError struct {
	Failures []EngineFailure
}

func (e *SynthesisError) Error() string {
	if len(e.Failures) == 0 {
		return "synthesis failed: no engines configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "synthesis failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every engine failure to errors.Is and errors.As.
func (e *SynthesisError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Result describes a successful synthesis.
type Result struct {
	Path     string
	Engine   string
	Fallback bool
	Duration float64
	Trimmed  float64
}

type Synthesizer struct {
	Engines          []Engine
	TargetRMS        float64
	SilenceThreshold float64
}

func NewSynthesizer(engines ...Engine) *Synthesizer {
	return &Synthesizer{
		Engines:          engines,
		TargetRMS:        0.1,
		SilenceThreshold: 0.01,
	}
}

// Synthesize writes normalized speech for text to dst.
func (s *Synthesizer) Synthesize(ctx context.Context, text, dst, voice string, rate int) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if rate < 0 {
		return nil, fmt.Errorf("audio: rate must not be negative, got %d", rate)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, err
	}

	req := Request{Text: text, Voice: voice, Rate: rate}
	var failures []EngineFailure
	for i, eng := range s.Engines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.try(ctx, eng, req, dst)
		if err != nil {
			logger.Warnf("Движок озвучки %s не сработал: %v", eng.Name(), err)
			failures = append(failures, EngineFailure{Engine: eng.Name(), Err: err})
			continue
		}
		res.Fallback = i > 0
		if res.Fallback {
			logger.Warnf("Озвучка получена резервным движком %s", eng.Name())
		}
		return res, nil
	}
	return nil, &SynthesisError{Failures: failures}
}

// try runs one engine into a temp file next to dst and publishes the
// normalized result.
func (s *Synthesizer) try(ctx context.Context, eng Engine, req Request, dst string) (*Result, error) {
	dir := filepath.Dir(dst)
	raw, err := os.CreateTemp(dir, ".tts-raw-*.wav")
	if err != nil {
		return nil, err
	}
	rawPath := raw.Name()
	raw.Close()
	defer os.Remove(rawPath)

	if err := eng.Synthesize(ctx, req, rawPath); err != nil {
		return nil, err
	}

	clip, err := readWAV(rawPath)
	if err != nil {
		return nil, fmt.Errorf("engine output is not usable audio: %w", err)
	}
	before := clip.Duration()
	clip.TrimSilence(s.SilenceThreshold)
	if clip.Frames() == 0 {
		return nil, fmt.Errorf("engine produced only silence")
	}
	clip.NormalizeRMS(s.TargetRMS)

	out, err := os.CreateTemp(dir, ".tts-out-*.wav")
	if err != nil {
		return nil, err
	}
	outPath := out.Name()
	defer os.Remove(outPath)
	if err := clip.Encode(out); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(outPath, dst); err != nil {
		return nil, err
	}

	d := clip.Duration()
	return &Result{
		Path:     dst,
		Engine:   eng.Name(),
		Duration: d,
		Trimmed:  before - d,
	}, nil
}
