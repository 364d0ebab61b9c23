// Package config holds run settings. Values come from, in rising order of
// precedence: defaults, a YAML file, TTV_* environment variables (a .env
// file is loaded first), and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "TTV"

type Config struct {
	ScriptPath      string `mapstructure:"script" yaml:"script"`
	OutputVideo     string `mapstructure:"output" yaml:"output"`
	FPS             int    `mapstructure:"fps" yaml:"fps"`
	Width           int    `mapstructure:"width" yaml:"width"`
	Height          int    `mapstructure:"height" yaml:"height"`
	WorkDir         string `mapstructure:"work_dir" yaml:"work_dir"`
	Workers         int    `mapstructure:"workers" yaml:"workers"`
	Voice           string `mapstructure:"voice" yaml:"voice"`
	Rate            int    `mapstructure:"rate" yaml:"rate"`
	IncludeSpeakers bool   `mapstructure:"include_speakers" yaml:"include_speakers"`
	PadToAudio      bool   `mapstructure:"pad_to_audio" yaml:"pad_to_audio"`
	StampQR         bool   `mapstructure:"stamp_qr" yaml:"stamp_qr"`
	CacheMemEntries int    `mapstructure:"cache_mem_entries" yaml:"cache_mem_entries"`
	VideoEncoder    string `mapstructure:"video_encoder" yaml:"video_encoder"`
	Quality         int    `mapstructure:"quality" yaml:"quality"`
	FFmpegPath      string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	ShowStats       bool   `mapstructure:"show_stats" yaml:"show_stats"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`

	TTS   TTSConfig   `mapstructure:"tts" yaml:"tts"`
	Audio AudioConfig `mapstructure:"audio" yaml:"audio"`

	BuildVersion string `mapstructure:"-" yaml:"-"`
}

type TTSConfig struct {
	PrimaryBinary   string        `mapstructure:"primary_binary" yaml:"primary_binary"`
	RemoteURL       string        `mapstructure:"remote_url" yaml:"remote_url"`
	RemoteAPIKey    string        `mapstructure:"remote_api_key" yaml:"remote_api_key"`
	RemoteAudioPath string        `mapstructure:"remote_audio_path" yaml:"remote_audio_path"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AudioConfig struct {
	TargetRMS        float64 `mapstructure:"target_rms" yaml:"target_rms"`
	SilenceThreshold float64 `mapstructure:"silence_threshold" yaml:"silence_threshold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("script", "")
	v.SetDefault("output", "")
	v.SetDefault("fps", 24)
	v.SetDefault("width", 1280)
	v.SetDefault("height", 720)
	v.SetDefault("work_dir", "build")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("voice", "")
	v.SetDefault("rate", 0)
	v.SetDefault("include_speakers", true)
	v.SetDefault("pad_to_audio", true)
	v.SetDefault("stamp_qr", false)
	v.SetDefault("cache_mem_entries", 64)
	v.SetDefault("video_encoder", "")
	v.SetDefault("quality", 0)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("show_stats", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("tts.primary_binary", "espeak-ng")
	v.SetDefault("tts.remote_url", "")
	v.SetDefault("tts.remote_api_key", "")
	v.SetDefault("tts.remote_audio_path", "audio")
	v.SetDefault("tts.timeout", "2m")
	v.SetDefault("audio.target_rms", 0.1)
	v.SetDefault("audio.silence_threshold", 0.01)
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"script":           "script",
	"output":           "output",
	"fps":              "fps",
	"width":            "width",
	"height":           "height",
	"work-dir":         "work_dir",
	"workers":          "workers",
	"voice":            "voice",
	"rate":             "rate",
	"include-speakers": "include_speakers",
	"pad-to-audio":     "pad_to_audio",
	"stamp-qr":         "stamp_qr",
	"encoder":          "video_encoder",
	"quality":          "quality",
	"ffmpeg":           "ffmpeg_path",
	"stats":            "show_stats",
	"log-level":        "log_level",
	"tts-url":          "tts.remote_url",
}

// RegisterFlags adds the config flags to fs. Flag defaults are only shown
// in help; unset flags never override the file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("script", "s", "", "Путь к сценарию (по умолчанию: самый свежий файл в input/scripts/)")
	fs.StringP("output", "o", "", "Путь к видео (если пусто, генерируется автоматически в output/)")
	fs.Int("fps", 24, "FPS")
	fs.Int("width", 1280, "Ширина кадра")
	fs.Int("height", 720, "Высота кадра")
	fs.String("work-dir", "build", "Рабочая папка для кадров, аудио и scenes.json")
	fs.Int("workers", runtime.NumCPU(), "Потоки записи кадров")
	fs.String("voice", "", "Голос TTS (например, en-us)")
	fs.Int("rate", 0, "Скорость речи, слов в минуту (0 - по умолчанию движка)")
	fs.Bool("include-speakers", true, "Озвучивать имена персонажей перед репликами")
	fs.Bool("pad-to-audio", true, "Удерживать последний кадр, если аудио длиннее видео")
	fs.Bool("stamp-qr", false, "Добавлять QR-код отпечатка в угол кадра")
	fs.String("encoder", "", "H.264 энкодер (пусто - автоопределение)")
	fs.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	fs.String("ffmpeg", "ffmpeg", "Путь к ffmpeg")
	fs.Bool("stats", false, "Показать отчёт о производительности и дописать benchmark.log")
	fs.String("log-level", "info", "Уровень логирования: debug, info, warn, error")
	fs.String("tts-url", "", "URL резервного HTTP TTS сервиса")
}

// Load builds a Config. fs may be nil; configFile may be empty.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	var problems []string
	if c.FPS <= 0 {
		problems = append(problems, fmt.Sprintf("fps must be positive, got %d", c.FPS))
	}
	if c.Width <= 0 || c.Height <= 0 {
		problems = append(problems, fmt.Sprintf("frame size must be positive, got %dx%d", c.Width, c.Height))
	} else if c.Width%2 != 0 || c.Height%2 != 0 {
		// yuv420p needs even dimensions
		problems = append(problems, fmt.Sprintf("frame size must be even, got %dx%d", c.Width, c.Height))
	}
	if c.Rate < 0 {
		problems = append(problems, fmt.Sprintf("rate must not be negative, got %d", c.Rate))
	}
	if c.Audio.TargetRMS <= 0 || c.Audio.TargetRMS > 1 {
		problems = append(problems, fmt.Sprintf("audio.target_rms must be in (0, 1], got %v", c.Audio.TargetRMS))
	}
	if c.Audio.SilenceThreshold < 0 || c.Audio.SilenceThreshold >= 1 {
		problems = append(problems, fmt.Sprintf("audio.silence_threshold must be in [0, 1), got %v", c.Audio.SilenceThreshold))
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		problems = append(problems, "work_dir is empty")
	}
	if c.Quality < 0 {
		problems = append(problems, fmt.Sprintf("quality must not be negative, got %d", c.Quality))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) FramesDir() string { return filepath.Join(c.WorkDir, "frames") }

func (c *Config) CacheDir() string { return filepath.Join(c.FramesDir(), ".cache") }

func (c *Config) ScenesPath() string { return filepath.Join(c.WorkDir, "scenes.json") }

func (c *Config) AudioPath() string { return filepath.Join(c.WorkDir, "narration.wav") }
