package scene

import (
	"strings"
)

// fallbackNarration is spoken when a script carries no text at all.
const fallbackNarration = "Scene narration."

// NarrationText builds the single synthesis request for a whole script:
// per scene the description, then each dialogue line. Each part ends with
// terminal punctuation so the engine pauses between them.
func NarrationText(scenes []Scene, includeSpeakers bool) string {
	var parts []string
	for _, s := range scenes {
		if d := strings.TrimSpace(s.Description); d != "" {
			parts = append(parts, sentence(d))
		}
		for _, l := range s.Dialogue {
			text := strings.TrimSpace(l.Text)
			if text == "" {
				continue
			}
			if includeSpeakers && l.Speaker != "" {
				text = l.Speaker + " says: " + text
			}
			parts = append(parts, sentence(text))
		}
	}
	if len(parts) == 0 {
		return fallbackNarration
	}
	return strings.Join(parts, " ")
}

func sentence(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?', '"', '\'':
		return s
	}
	return s + "."
}
