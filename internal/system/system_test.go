package system

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestScript(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	newer := filepath.Join(dir, "newer.PDF")
	ignored := filepath.Join(dir, "notes.docx")
	for _, p := range []string{old, newer, ignored} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, now, now))
	require.NoError(t, os.Chtimes(ignored, now.Add(time.Hour), now.Add(time.Hour)))

	got, err := FindLatestScript(dir)
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestFindLatestScriptEmpty(t *testing.T) {
	_, err := FindLatestScript(t.TempDir())
	assert.Error(t, err)

	_, err = FindLatestScript(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.480000\n")
	require.NoError(t, err)
	assert.InDelta(t, 12.48, d, 1e-9)

	_, err = parseDuration("N/A")
	assert.Error(t, err)
	_, err = parseDuration("0")
	assert.Error(t, err)
}

func TestPickEncoder(t *testing.T) {
	tests := []struct {
		name     string
		encoders string
		want     string
	}{
		{"videotoolbox", " V....D h264_videotoolbox  VideoToolbox H.264 Encoder", "h264_videotoolbox"},
		{"nvenc", " V....D h264_nvenc  NVIDIA NVENC H.264 encoder", "h264_nvenc"},
		{"software", " V....D libx264  libx264 H.264", "libx264"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickEncoder(tt.encoders))
		})
	}
}

func TestDefaultQuality(t *testing.T) {
	assert.Equal(t, 75, DefaultQuality("h264_videotoolbox"))
	assert.Equal(t, 28, DefaultQuality("h264_nvenc"))
	assert.Equal(t, 23, DefaultQuality("libx264"))
}

func TestImagePoolReusesBySize(t *testing.T) {
	p := NewImagePool()
	rect := image.Rect(0, 0, 8, 4)
	img := p.Get(rect)
	require.NotNil(t, img)
	assert.Equal(t, rect, img.Rect)
	p.Put(img)

	other := p.Get(image.Rect(0, 0, 2, 2))
	assert.Equal(t, 2, other.Rect.Dx())
	p.Put(nil)
}

func TestCollectHostStats(t *testing.T) {
	s := CollectHostStats(t.TempDir())
	assert.NotEmpty(t, s.OS)
	assert.Contains(t, s.String(), s.Arch)
}
