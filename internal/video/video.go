// Package video assembles numbered frames and a narration track into an
// H.264 MP4 by running ffmpeg.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/script2video/internal/logger"
	"github.com/ivlev/script2video/internal/system"
)

var (
	ErrFFmpegNotFound = errors.New("ffmpeg not found on PATH")
	ErrNoFrames       = errors.New("no frames to assemble")
)

var frameExtensions = []string{".png", ".jpg", ".jpeg"}

// AssemblyError carries the encoder's own diagnostics.
type AssemblyError struct {
	Msg    string
	Output string
	Err    error
}

func (e *AssemblyError) Error() string {
	s := e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		s += "\n" + out
	}
	return s
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Job is one assembly request.
type Job struct {
	// FrameDir holds one subdirectory of frames per scene.
	FrameDir string
	// SceneIDs fixes the scene order. Empty means every visible
	// subdirectory in name order.
	SceneIDs  []string
	AudioPath string
	FPS       int
	Output    string
	// PadSeconds holds the last frame this much longer.
	PadSeconds float64
}

type Assembler interface {
	Assemble(ctx context.Context, job Job) error
}

type FFmpegAssembler struct {
	Binary  string
	Encoder string
	Quality int
}

func NewFFmpegAssembler(binary, encoder string, quality int) *FFmpegAssembler {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegAssembler{Binary: binary, Encoder: encoder, Quality: quality}
}

func (a *FFmpegAssembler) Assemble(ctx context.Context, job Job) error {
	if job.FPS <= 0 {
		return &AssemblyError{Msg: fmt.Sprintf("invalid frame rate %d", job.FPS)}
	}
	if job.Output == "" {
		return &AssemblyError{Msg: "output path is empty"}
	}

	frames, err := CollectFrames(job.FrameDir, job.SceneIDs)
	if err != nil {
		return &AssemblyError{Msg: "collect frames", Err: err}
	}

	bin, err := exec.LookPath(a.Binary)
	if err != nil {
		return &AssemblyError{Msg: "cannot run encoder", Err: ErrFFmpegNotFound}
	}

	if job.AudioPath != "" {
		if _, err := os.Stat(job.AudioPath); err != nil {
			return &AssemblyError{Msg: "audio track", Err: err}
		}
	}

	outDir := filepath.Dir(job.Output)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return &AssemblyError{Msg: "create output directory", Err: err}
	}

	stageDir, err := os.MkdirTemp(outDir, ".frames-stage-*")
	if err != nil {
		return &AssemblyError{Msg: "create staging directory", Err: err}
	}
	defer os.RemoveAll(stageDir)

	pattern, err := stageFrames(frames, stageDir)
	if err != nil {
		return &AssemblyError{Msg: "stage frames", Err: err}
	}

	encoder := a.Encoder
	if encoder == "" {
		encoder = system.GetBestH264Encoder(bin)
		if encoder != "libx264" {
			logger.Infof("Обнаружено аппаратное ускорение: %s", encoder)
		}
	}
	quality := a.Quality
	if quality <= 0 {
		quality = system.DefaultQuality(encoder)
	}

	args := buildArgs(pattern, job, encoder, quality)
	logger.Debugf("ffmpeg %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(job.Output)
		return &AssemblyError{Msg: "ffmpeg failed", Output: string(out), Err: err}
	}
	logger.WithFields(logrus.Fields{
		"frames":  len(frames),
		"encoder": encoder,
		"padded":  job.PadSeconds,
	}).Infof("Видео собрано: %s", job.Output)
	return nil
}

func buildArgs(pattern string, job Job, encoder string, quality int) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-framerate", fmt.Sprintf("%d", job.FPS),
		"-i", pattern,
	}
	if job.AudioPath != "" {
		args = append(args, "-i", job.AudioPath)
	}
	if job.PadSeconds > 0 {
		args = append(args, "-vf", fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", job.PadSeconds))
	}

	args = append(args, "-c:v", encoder, "-pix_fmt", "yuv420p")
	args = append(args, qualityArgs(encoder, quality)...)

	if job.AudioPath != "" {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-c:a", "aac", "-shortest")
	}
	args = append(args, "-movflags", "+faststart", job.Output)
	return args
}

func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox часто не поддерживает -q:v напрямую на всех версиях. Используем битрейт.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// CollectFrames lists frame files scene by scene. Within a scene frames
// are ordered by name, which the zero padded index makes numeric.
func CollectFrames(root string, sceneIDs []string) ([]string, error) {
	if root == "" {
		return nil, ErrNoFrames
	}
	if len(sceneIDs) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				sceneIDs = append(sceneIDs, e.Name())
			}
		}
		sort.Strings(sceneIDs)
	}

	var frames []string
	ext := ""
	for _, id := range sceneIDs {
		dir := filepath.Join(root, id)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && isFrame(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			e := strings.ToLower(filepath.Ext(n))
			if ext == "" {
				ext = e
			} else if e != ext {
				return nil, fmt.Errorf("mixed frame formats %s and %s in %s", ext, e, dir)
			}
			frames = append(frames, filepath.Join(dir, n))
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

func isFrame(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	for _, ext := range frameExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// stageFrames links frames into dir as one contiguous sequence and
// returns the ffmpeg input pattern.
func stageFrames(frames []string, dir string) (string, error) {
	ext := strings.ToLower(filepath.Ext(frames[0]))
	for i, src := range frames {
		dst := filepath.Join(dir, fmt.Sprintf("frame_%06d%s", i+1, ext))
		if err := os.Link(src, dst); err != nil {
			if err := copyFile(src, dst); err != nil {
				return "", err
			}
		}
	}
	return filepath.Join(dir, "frame_%06d"+ext), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
