package scene

import (
	"fmt"
	"math"
	"regexp"
)

// DefaultDuration is the scene length in seconds used when a script gives no hint.
const DefaultDuration = 2.0

var sceneIDPattern = regexp.MustCompile(`^scene_\d{2,}$`)

// Scene is one block of the script in structured form.
type Scene struct {
	SceneID       string   `json:"scene_id" yaml:"scene_id"`
	StartCue      *string  `json:"start_cue" yaml:"start_cue"`
	Description   string   `json:"description" yaml:"description"`
	Characters    []string `json:"characters" yaml:"characters"`
	Dialogue      []Line   `json:"dialogue" yaml:"dialogue"`
	VisualPrompts []string `json:"visual_prompts" yaml:"visual_prompts"`
	DurationHint  *float64 `json:"duration_hint" yaml:"duration_hint"`
}

// Line is a single spoken line.
type Line struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	Text    string `json:"text" yaml:"text"`
}

// Document is the hand-off unit between the parser and the generators.
type Document struct {
	Scenes []Scene `json:"scenes" yaml:"scenes"`
}

// DurationOrDefault returns the duration hint in seconds, or DefaultDuration
// when the hint is absent or not a positive finite number.
func (s Scene) DurationOrDefault() float64 {
	if validDuration(s.DurationHint) {
		return *s.DurationHint
	}
	return DefaultDuration
}

func validDuration(h *float64) bool {
	return h != nil && *h > 0 && !math.IsInf(*h, 0)
}

// SceneID formats a sequence number as scene_NN.
func SceneID(n int) string {
	return fmt.Sprintf("scene_%02d", n)
}

// normalize replaces absent collections with empty ones and fills the
// visual prompt default.
func (s *Scene) normalize() {
	if s.Characters == nil {
		s.Characters = []string{}
	}
	if s.Dialogue == nil {
		s.Dialogue = []Line{}
	}
	if len(s.VisualPrompts) == 0 && s.Description != "" {
		s.VisualPrompts = []string{s.Description}
	}
}

// Validate checks the document invariants: ids well formed, unique and in
// discovery order; description and prompts present; hints positive.
func (d *Document) Validate() error {
	if len(d.Scenes) == 0 {
		return fmt.Errorf("document has no scenes")
	}
	seen := make(map[string]bool, len(d.Scenes))
	prev := -1
	for i := range d.Scenes {
		s := &d.Scenes[i]
		s.normalize()

		if !sceneIDPattern.MatchString(s.SceneID) {
			return fmt.Errorf("scene %d: invalid scene_id %q", i+1, s.SceneID)
		}
		if seen[s.SceneID] {
			return fmt.Errorf("scene %d: duplicate scene_id %q", i+1, s.SceneID)
		}
		seen[s.SceneID] = true

		var n int
		fmt.Sscanf(s.SceneID, "scene_%d", &n)
		if n <= prev {
			return fmt.Errorf("scene %d: scene_id %q is out of order", i+1, s.SceneID)
		}
		prev = n

		if s.Description == "" {
			return fmt.Errorf("%s: description is empty", s.SceneID)
		}
		if len(s.VisualPrompts) == 0 {
			return fmt.Errorf("%s: visual_prompts is empty", s.SceneID)
		}
		if s.DurationHint != nil && !validDuration(s.DurationHint) {
			return fmt.Errorf("%s: duration_hint must be a positive finite number, got %v", s.SceneID, *s.DurationHint)
		}
	}
	return nil
}
