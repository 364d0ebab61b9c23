// Package frames turns scenes into numbered image sequences on disk.
package frames

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/ivlev/script2video/internal/cache"
	"github.com/ivlev/script2video/internal/logger"
	"github.com/ivlev/script2video/internal/scene"
)

// CacheDirName is the cache directory inside the frame output root.
const CacheDirName = ".cache"

// MaxFrames bounds the frames of a single scene.
const MaxFrames = 1 << 20

// FrameCount maps a duration to a frame count: round(seconds*fps), at least 1
// and at most MaxFrames. NaN counts as zero.
func FrameCount(seconds float64, fps int) int {
	v := math.Round(seconds * float64(fps))
	switch {
	case math.IsNaN(v) || v < 1:
		return 1
	case v > MaxFrames:
		return MaxFrames
	}
	return int(v)
}

// FrameName is the file name of the 1-based frame index.
func FrameName(index int) string {
	return fmt.Sprintf("frame_%06d.png", index)
}

// PromptIndex spreads k prompts evenly over n frames: frame i (0-based)
// shows prompt floor(i*k/n).
func PromptIndex(frame, frames, prompts int) int {
	if prompts <= 1 || frames <= 0 {
		return 0
	}
	return frame * prompts / frames
}

// NormalizeText collapses whitespace and applies NFC so visually equal
// prompts share a fingerprint.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Request is everything that affects a rendered image.
type Request struct {
	Prompt  string
	Caption string
	Width   int
	Height  int
	Stamp   bool
}

// Fingerprint is the cache key of the request.
func (r Request) Fingerprint() string {
	return cache.Fingerprint(
		"frame/v1",
		r.Prompt,
		r.Caption,
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		strconv.FormatBool(r.Stamp),
	)
}

// NewRequest builds the normalized request for one prompt of a scene. The
// description is shown as a caption when it says something the prompt
// does not.
func NewRequest(prompt, description string, width, height int, stamp bool) Request {
	req := Request{
		Prompt: NormalizeText(prompt),
		Width:  width,
		Height: height,
		Stamp:  stamp,
	}
	if d := NormalizeText(description); d != req.Prompt {
		req.Caption = d
	}
	return req
}

// Renderer produces encoded PNG bytes for a request.
type Renderer interface {
	Render(req Request, fingerprint string) ([]byte, error)
	Size() (width, height int)
}

// RenderError is a frame that could not be produced.
type RenderError struct {
	SceneID string
	Prompt  string
	Frame   int
	Err     error
}

func (e *RenderError) Error() string {
	switch {
	case e.Frame > 0:
		return fmt.Sprintf("render %s frame %d: %v", e.SceneID, e.Frame, e.Err)
	case e.Prompt != "":
		return fmt.Sprintf("render %s prompt %q: %v", e.SceneID, e.Prompt, e.Err)
	default:
		return fmt.Sprintf("render %s: %v", e.SceneID, e.Err)
	}
}

func (e *RenderError) Unwrap() error { return e.Err }

// SceneFrames describes the frames written for one scene.
type SceneFrames struct {
	SceneID string
	Dir     string
	Frames  int
	Prompts int
}

// Summary is the result of one Generate call.
type Summary struct {
	Scenes      []SceneFrames
	TotalFrames int
	Hits        int
	Misses      int
}

// Generator writes <root>/<scene_id>/frame_NNNNNN.png for every scene.
type Generator struct {
	Root     string
	FPS      int
	Stamp    bool
	Workers  int
	Cache    *cache.Cache
	Renderer Renderer
}

func NewGenerator(root string, fps int, c *cache.Cache, r Renderer) *Generator {
	return &Generator{
		Root:     root,
		FPS:      fps,
		Workers:  4,
		Cache:    c,
		Renderer: r,
	}
}

// Generate renders (or reuses) images and writes numbered frames for each
// scene in order. The first failure aborts the whole call.
func (g *Generator) Generate(ctx context.Context, scenes []scene.Scene) (*Summary, error) {
	if g.FPS <= 0 {
		return nil, fmt.Errorf("frame rate must be positive, got %d", g.FPS)
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes to render")
	}
	if g.Cache == nil || g.Renderer == nil {
		return nil, fmt.Errorf("frame generator is missing its cache or renderer")
	}
	if err := os.MkdirAll(g.Root, 0755); err != nil {
		return nil, &RenderError{SceneID: "*", Err: err}
	}

	sum := &Summary{}
	for _, s := range scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := g.Cache.Stats()
		sf, err := g.generateScene(ctx, s)
		if err != nil {
			return nil, err
		}
		after := g.Cache.Stats()
		hits := int(after.Hits - before.Hits)
		sum.Scenes = append(sum.Scenes, sf)
		sum.TotalFrames += sf.Frames
		sum.Hits += hits
		sum.Misses += int(after.Misses - before.Misses)
		logger.Infof("%s: %d кадров, промптов %d, из кэша %d", s.SceneID, sf.Frames, sf.Prompts, hits)
	}
	return sum, nil
}

func (g *Generator) generateScene(ctx context.Context, s scene.Scene) (SceneFrames, error) {
	id := s.SceneID
	if id == "" || id == CacheDirName || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return SceneFrames{}, &RenderError{SceneID: id, Err: fmt.Errorf("unusable scene id")}
	}

	prompts := s.VisualPrompts
	if len(prompts) == 0 {
		prompts = []string{s.Description}
	}
	seconds := s.DurationOrDefault()
	if seconds*float64(g.FPS) > MaxFrames {
		return SceneFrames{}, &RenderError{SceneID: id, Err: fmt.Errorf("duration %.0fs needs more than %d frames at %d fps", seconds, MaxFrames, g.FPS)}
	}
	n := FrameCount(seconds, g.FPS)
	width, height := g.Renderer.Size()

	// render each prompt that owns at least one frame
	keys := make([]string, len(prompts))
	for i := 0; i < n; i++ {
		p := PromptIndex(i, n, len(prompts))
		if keys[p] != "" {
			continue
		}
		req := NewRequest(prompts[p], s.Description, width, height, g.Stamp)
		fp := req.Fingerprint()
		_, _, err := g.Cache.GetOrCreate(fp, func() ([]byte, error) {
			return g.Renderer.Render(req, fp)
		})
		if err != nil {
			return SceneFrames{}, &RenderError{SceneID: id, Prompt: req.Prompt, Err: err}
		}
		keys[p] = fp
	}

	dir := filepath.Join(g.Root, id)
	if err := os.RemoveAll(dir); err != nil {
		return SceneFrames{}, &RenderError{SceneID: id, Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return SceneFrames{}, &RenderError{SceneID: id, Err: err}
	}

	eg, ctx := errgroup.WithContext(ctx)
	workers := g.Workers
	if workers < 1 {
		workers = 1
	}
	eg.SetLimit(workers)
	for i := 0; i < n; i++ {
		frame := i + 1
		fp := keys[PromptIndex(i, n, len(prompts))]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := g.Cache.Read(fp)
			if err != nil {
				return &RenderError{SceneID: id, Frame: frame, Err: err}
			}
			if err := os.WriteFile(filepath.Join(dir, FrameName(frame)), data, 0644); err != nil {
				return &RenderError{SceneID: id, Frame: frame, Err: err}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return SceneFrames{}, err
	}

	used := 0
	for _, fp := range keys {
		if fp != "" {
			used++
		}
	}
	return SceneFrames{SceneID: id, Dir: dir, Frames: n, Prompts: used}, nil
}
