package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf8", []byte("Scene 1: Café"), "Scene 1: Café"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "Scene 1"...), "Scene 1"},
		{"utf16le bom", []byte{0xFF, 0xFE, 'S', 0, 'c', 0, 'e', 0, 'n', 0, 'e', 0}, "Scene"},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'S', 0, 'c', 0, 'e', 0, 'n', 0, 'e'}, "Scene"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeTextLegacyCharset(t *testing.T) {
	// "Le café était déjà fermé" repeated, in ISO-8859-1
	line := []byte("Narration: Le caf\xe9 \xe9tait d\xe9j\xe0 ferm\xe9 quand il est arriv\xe9 \xe0 la gare.\n")
	var data []byte
	for i := 0; i < 20; i++ {
		data = append(data, line...)
	}
	got, err := DecodeText(data)
	require.NoError(t, err)
	assert.Contains(t, got, "café")
	assert.Contains(t, got, "déjà")
}

func TestLoadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.txt")
	require.NoError(t, os.WriteFile(path, []byte("\xEF\xBB\xBFScene 1: Exterior\nNarration: Hi."), 0644))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Scene 1: Exterior\nNarration: Hi.", got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestHTMLText(t *testing.T) {
	page := `<html><head><style>p { color: red }</style></head><body>
<h1>Scene 1: Exterior - Day</h1>
<p>Narration: A quiet
   street &amp; a cafe.</p>
<hr>
<h2>Scene 2: Interior</h2>
<p>Alice: Hello!<br>Bob: Hi.</p>
<p></p>
<ul><li>Visual: Two cups</li></ul>
<script>var x = 1;</script>
</body></html>`

	got, err := HTMLText([]byte(page))
	require.NoError(t, err)
	assert.Equal(t,
		"Scene 1: Exterior - Day\nNarration: A quiet street & a cafe.\n\nScene 2: Interior\nAlice: Hello!\nBob: Hi.\n\nVisual: Two cups",
		got)
}

func TestOpenPicksSourceByExtension(t *testing.T) {
	src, err := Open("script.HTML")
	require.NoError(t, err)
	assert.IsType(t, &HTMLSource{}, src)

	src, err = Open("script.md")
	require.NoError(t, err)
	assert.IsType(t, &TextSource{}, src)
}
