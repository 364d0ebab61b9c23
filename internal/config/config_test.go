package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.FPS)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
	assert.Equal(t, "build", cfg.WorkDir)
	assert.True(t, cfg.IncludeSpeakers)
	assert.True(t, cfg.PadToAudio)
	assert.False(t, cfg.StampQR)
	assert.Equal(t, "espeak-ng", cfg.TTS.PrimaryBinary)
	assert.Equal(t, "audio", cfg.TTS.RemoteAudioPath)
	assert.Equal(t, 2*time.Minute, cfg.TTS.Timeout)
	assert.InDelta(t, 0.1, cfg.Audio.TargetRMS, 1e-9)
	assert.InDelta(t, 0.01, cfg.Audio.SilenceThreshold, 1e-9)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("build", "frames", ".cache"), cfg.CacheDir())
	assert.Equal(t, filepath.Join("build", "scenes.json"), cfg.ScenesPath())
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ttv.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
fps: 30
width: 640
height: 360
voice: en-gb
tts:
  remote_url: http://file.example/tts
  timeout: 45s
audio:
  target_rms: 0.2
`), 0644))

	t.Setenv("TTV_WIDTH", "800")
	t.Setenv("TTV_TTS_REMOTE_URL", "http://env.example/tts")

	cfg, err := Load(newFlags(t, "--fps", "12", "--pad-to-audio=false"), file)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.FPS, "flag beats file")
	assert.Equal(t, 800, cfg.Width, "env beats file")
	assert.Equal(t, 360, cfg.Height, "file beats default")
	assert.Equal(t, "en-gb", cfg.Voice)
	assert.Equal(t, "http://env.example/tts", cfg.TTS.RemoteURL)
	assert.Equal(t, 45*time.Second, cfg.TTS.Timeout)
	assert.InDelta(t, 0.2, cfg.Audio.TargetRMS, 1e-9)
	assert.False(t, cfg.PadToAudio)
}

func TestUnchangedFlagsDoNotOverride(t *testing.T) {
	t.Setenv("TTV_FPS", "15")
	cfg, err := Load(newFlags(t, "--voice", "en"), "")
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.FPS)
	assert.Equal(t, "en", cfg.Voice)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(nil, "")
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero fps", func(c *Config) { c.FPS = 0 }, "fps"},
		{"odd width", func(c *Config) { c.Width = 641 }, "even"},
		{"negative height", func(c *Config) { c.Height = -2 }, "positive"},
		{"negative rate", func(c *Config) { c.Rate = -5 }, "rate"},
		{"rms too high", func(c *Config) { c.Audio.TargetRMS = 1.5 }, "target_rms"},
		{"threshold one", func(c *Config) { c.Audio.SilenceThreshold = 1 }, "silence_threshold"},
		{"empty work dir", func(c *Config) { c.WorkDir = " " }, "work_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
