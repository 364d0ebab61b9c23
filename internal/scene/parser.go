package scene

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ivlev/script2video/internal/logger"
)

// ParseError reports a script that cannot be turned into scenes.
// Line is 1-based; zero means the error is not tied to a line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Msg)
	}
	return "parse error: " + e.Msg
}

var (
	markerRE    = regexp.MustCompile(`^Scene\s+(\d+)(?:\s*:|\s+-|\s*$)\s*(.*)$`)
	narrationRE = regexp.MustCompile(`^Narration:\s*(.*)$`)
	visualRE    = regexp.MustCompile(`^Visual(?::|\s*-)\s*(.*)$`)
	durationRE  = regexp.MustCompile(`^Duration:\s*(.*)$`)
	durValueRE  = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?|[+-]?\.\d+)\s*(seconds|second|secs|sec|s)?\.?$`)
)

type line struct {
	no   int
	text string
}

// builder accumulates one scene while the parser walks the script.
type builder struct {
	num         int
	explicit    bool
	cue         string
	description []string
	prompts     []string
	dialogue    []Line
	characters  []string
	duration    *float64
}

func (b *builder) addCharacter(name string) {
	for _, c := range b.characters {
		if c == name {
			return
		}
	}
	b.characters = append(b.characters, name)
}

func (b *builder) build() Scene {
	s := Scene{
		SceneID:      SceneID(b.num),
		Description:  strings.Join(b.description, " "),
		Characters:   b.characters,
		Dialogue:     b.dialogue,
		DurationHint: b.duration,
	}
	if b.cue != "" {
		cue := b.cue
		s.StartCue = &cue
	}
	if s.Description == "" {
		if b.cue != "" {
			s.Description = b.cue
		} else {
			s.Description = fmt.Sprintf("Scene %d", b.num)
		}
	}
	s.VisualPrompts = b.prompts
	if len(s.VisualPrompts) == 0 {
		s.VisualPrompts = []string{strings.TrimSpace(s.Description)}
	}
	s.normalize()
	return s
}

// Parse turns raw script text into ordered scenes.
//
// A script without Scene markers gets one scene per blank-line separated
// block. Once a script has a marker, only markers start scenes: lines
// before the first marker open that scene and unmarked blocks continue the
// scene above them.
func Parse(text string) ([]Scene, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Msg: "script is empty"}
	}

	blocks := splitBlocks(text)
	var scenes []Scene
	if hasMarker(blocks) {
		scenes = parseMarked(blocks)
	} else {
		scenes = parseBlocks(blocks)
	}
	if len(scenes) == 0 {
		return nil, &ParseError{Msg: "no scenes parsed from input"}
	}
	return scenes, nil
}

func hasMarker(blocks [][]line) bool {
	for _, block := range blocks {
		for _, ln := range block {
			if markerRE.MatchString(ln.text) {
				return true
			}
		}
	}
	return false
}

func parseBlocks(blocks [][]line) []Scene {
	scenes := make([]Scene, 0, len(blocks))
	for pos, block := range blocks {
		b := &builder{num: pos + 1}
		for _, ln := range block {
			classify(b, ln.text)
		}
		scenes = append(scenes, b.build())
	}
	return scenes
}

func parseMarked(blocks [][]line) []Scene {
	var scenes []Scene
	var cur *builder
	last := 0
	for _, block := range blocks {
		for _, ln := range block {
			m := markerRE.FindStringSubmatch(ln.text)
			if m == nil {
				if cur == nil {
					cur = &builder{}
				}
				classify(cur, ln.text)
				continue
			}

			if cur != nil && cur.explicit {
				scenes = append(scenes, cur.build())
				cur = nil
			}
			if cur == nil {
				cur = &builder{}
			}
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= last {
				logger.Warnf("строка %d: сцена %s идёт после сцены %d, присвоен номер %d", ln.no, m[1], last, last+1)
				n = last + 1
			}
			// lines above the first marker belong to its scene
			cur.num = n
			cur.explicit = true
			cur.cue = strings.TrimSpace(m[2])
			last = n
		}
	}
	if cur != nil {
		scenes = append(scenes, cur.build())
	}
	return scenes
}

func splitBlocks(text string) [][]line {
	var blocks [][]line
	var cur []line
	for i, raw := range strings.Split(text, "\n") {
		t := strings.TrimSpace(raw)
		if t == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line{no: i + 1, text: t})
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func classify(b *builder, text string) {
	if m := narrationRE.FindStringSubmatch(text); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			b.description = append(b.description, t)
		}
		return
	}
	if m := visualRE.FindStringSubmatch(text); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			b.prompts = append(b.prompts, t)
		}
		return
	}
	if m := durationRE.FindStringSubmatch(text); m != nil {
		if d, ok := parseDuration(m[1]); ok {
			b.duration = &d
		}
		return
	}
	if speaker, said, ok := splitDialogue(text); ok {
		b.dialogue = append(b.dialogue, Line{Speaker: speaker, Text: said})
		b.addCharacter(speaker)
		return
	}
	b.description = append(b.description, text)
}

// parseDuration accepts "5", "5.5s", "3 sec", "2 seconds". Values that are
// not strictly positive are rejected.
func parseDuration(v string) (float64, bool) {
	m := durValueRE.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(m[1], 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// splitDialogue treats "Name: text" as dialogue when the part before the
// first colon is 1-3 capitalized words, carries no terminal punctuation and
// the spoken text is non-empty. Everything else is narration.
func splitDialogue(text string) (string, string, bool) {
	idx := strings.Index(text, ":")
	if idx <= 0 {
		return "", "", false
	}
	speaker := strings.TrimSpace(text[:idx])
	said := strings.TrimSpace(text[idx+1:])
	if speaker == "" || said == "" {
		return "", "", false
	}
	if strings.ContainsAny(speaker[len(speaker)-1:], ".!?") {
		return "", "", false
	}

	words := strings.Fields(speaker)
	if len(words) == 0 || len(words) > 3 {
		return "", "", false
	}
	for _, w := range words {
		if !isNameWord(w) {
			return "", "", false
		}
	}
	return strings.Join(words, " "), said, true
}

func isNameWord(w string) bool {
	for i, r := range w {
		if i == 0 {
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' || r == '.' {
			continue
		}
		return false
	}
	return true
}
