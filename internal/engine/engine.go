// Package engine runs the whole script to video pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/script2video/internal/audio"
	"github.com/ivlev/script2video/internal/cache"
	"github.com/ivlev/script2video/internal/config"
	"github.com/ivlev/script2video/internal/frames"
	"github.com/ivlev/script2video/internal/logger"
	"github.com/ivlev/script2video/internal/scene"
	"github.com/ivlev/script2video/internal/source"
	"github.com/ivlev/script2video/internal/system"
	"github.com/ivlev/script2video/internal/video"
)

// Stage names a pipeline step in errors and timings.
type Stage string

const (
	StageLoad      Stage = "load"
	StageParse     Stage = "parse"
	StageDocument  Stage = "document"
	StageFrames    Stage = "frames"
	StageNarration Stage = "narration"
	StageAudio     Stage = "audio"
	StageReconcile Stage = "reconcile"
	StageAssemble  Stage = "assemble"
)

// lowDiskMB is the free space below which a run starts with a warning.
const lowDiskMB = 500

// StageError is the only error Run returns for a failed stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type FrameGenerator interface {
	Generate(ctx context.Context, scenes []scene.Scene) (*frames.Summary, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, dst, voice string, rate int) (*audio.Result, error)
}

type Pipeline struct {
	Config    *config.Config
	Frames    FrameGenerator
	Audio     Synthesizer
	Assembler video.Assembler
	Cache     *cache.Cache

	// AudioDuration measures the narration track.
	AudioDuration func(ctx context.Context, path string) (float64, error)
	// BenchmarkLog receives one line per run when ShowStats is set.
	BenchmarkLog string
}

// NewPipeline wires the production collaborators from cfg.
func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.CacheDir(), cfg.CacheMemEntries)
	if err != nil {
		return nil, err
	}
	renderer, err := frames.NewTextRenderer(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	gen := frames.NewGenerator(cfg.FramesDir(), cfg.FPS, c, renderer)
	gen.Stamp = cfg.StampQR
	if cfg.Workers > 0 {
		gen.Workers = cfg.Workers
	}

	engines := []audio.Engine{&audio.EspeakEngine{Binary: cfg.TTS.PrimaryBinary}}
	if cfg.TTS.RemoteURL != "" {
		remote := audio.NewRemoteEngine(cfg.TTS.RemoteURL, cfg.TTS.RemoteAPIKey, cfg.TTS.RemoteAudioPath, cfg.TTS.Timeout)
		remote.FFmpeg = cfg.FFmpegPath
		engines = append(engines, remote)
	} else {
		logger.Warnf("tts.remote_url не задан, резервного движка озвучки нет")
	}
	synth := audio.NewSynthesizer(engines...)
	synth.TargetRMS = cfg.Audio.TargetRMS
	synth.SilenceThreshold = cfg.Audio.SilenceThreshold

	return &Pipeline{
		Config:        cfg,
		Frames:        gen,
		Audio:         synth,
		Assembler:     video.NewFFmpegAssembler(cfg.FFmpegPath, cfg.VideoEncoder, cfg.Quality),
		Cache:         c,
		AudioDuration: audio.Duration,
		BenchmarkLog:  "benchmark.log",
	}, nil
}

// run carries the state of one Run call.
type run struct {
	report *Report
	stage  Stage
	start  time.Time
}

func (r *run) begin(s Stage) {
	r.stage = s
	r.start = time.Now()
}

func (r *run) end() {
	r.report.Timings = append(r.report.Timings, StageTiming{Stage: r.stage, Duration: time.Since(r.start)})
}

func (r *run) fail(err error) error {
	r.end()
	return &StageError{Stage: r.stage, Err: err}
}

// ParseScript loads and parses a script and writes the scene document.
func (p *Pipeline) ParseScript(scriptPath string) ([]scene.Scene, error) {
	r := &run{report: newReport(scriptPath, "")}
	return p.parse(r, scriptPath)
}

func (p *Pipeline) parse(r *run, scriptPath string) ([]scene.Scene, error) {
	r.begin(StageLoad)
	text, err := source.Load(scriptPath)
	if err != nil {
		return nil, r.fail(err)
	}
	r.end()

	r.begin(StageParse)
	scenes, err := scene.Parse(text)
	if err != nil {
		return nil, r.fail(err)
	}
	r.end()
	logger.Infof("Разобрано сцен: %d из %s", len(scenes), scriptPath)

	r.begin(StageDocument)
	if err := scene.WriteDocument(scenes, p.Config.ScenesPath()); err != nil {
		return nil, r.fail(err)
	}
	r.end()
	return scenes, nil
}

// Run produces a video from a script file.
func (p *Pipeline) Run(ctx context.Context, scriptPath string) (*Report, error) {
	r := &run{report: newReport(scriptPath, p.outputPath(scriptPath))}
	scenes, err := p.parse(r, scriptPath)
	if err != nil {
		p.discard(r.report.Output)
		return r.report, err
	}
	return p.produce(ctx, r, scenes)
}

// RunDocument produces a video from an existing scene document.
func (p *Pipeline) RunDocument(ctx context.Context, docPath string) (*Report, error) {
	r := &run{report: newReport(docPath, p.outputPath(docPath))}
	r.begin(StageDocument)
	doc, err := scene.ReadDocument(docPath)
	if err != nil {
		p.discard(r.report.Output)
		return r.report, r.fail(err)
	}
	r.end()
	return p.produce(ctx, r, doc.Scenes)
}

// AssembleOnly muxes an existing frame tree and audio file.
func (p *Pipeline) AssembleOnly(ctx context.Context, frameDir, audioPath, output string) error {
	if output == "" {
		output = p.outputPath(frameDir)
	}
	err := p.Assembler.Assemble(ctx, video.Job{
		FrameDir:  frameDir,
		AudioPath: audioPath,
		FPS:       p.Config.FPS,
		Output:    output,
	})
	if err != nil {
		return &StageError{Stage: StageAssemble, Err: err}
	}
	return nil
}

func (p *Pipeline) produce(ctx context.Context, r *run, scenes []scene.Scene) (*Report, error) {
	startTime := time.Now()
	rep := r.report
	rep.Scenes = len(scenes)
	logger.WithField("run_id", rep.RunID).Infof("Сборка %s из %d сцен", rep.Output, len(scenes))

	if free, err := system.FreeDiskMB(p.Config.WorkDir); err == nil && free < lowDiskMB {
		logger.Warnf("Мало места на диске: %d МБ свободно в %s", free, p.Config.WorkDir)
	}

	fail := func(err error) (*Report, error) {
		p.discard(rep.Output)
		rep.Total = time.Since(startTime)
		return rep, r.fail(err)
	}

	r.begin(StageFrames)
	sum, err := p.Frames.Generate(ctx, scenes)
	if err != nil {
		return fail(err)
	}
	r.end()
	rep.Frames = sum.TotalFrames
	rep.CacheHits = sum.Hits
	rep.CacheMisses = sum.Misses
	logger.Infof("Записано кадров: %d (из кэша %d, отрисовано %d)", sum.TotalFrames, sum.Hits, sum.Misses)

	r.begin(StageNarration)
	text := scene.NarrationText(scenes, p.Config.IncludeSpeakers)
	if strings.TrimSpace(text) == "" {
		return fail(audio.ErrEmptyText)
	}
	r.end()

	r.begin(StageAudio)
	res, err := p.Audio.Synthesize(ctx, text, p.Config.AudioPath(), p.Config.Voice, p.Config.Rate)
	if err != nil {
		return fail(err)
	}
	r.end()
	rep.TTSEngine = res.Engine
	rep.Fallback = res.Fallback

	r.begin(StageReconcile)
	rep.VideoSeconds = float64(sum.TotalFrames) / float64(p.Config.FPS)
	rep.AudioSeconds, err = p.AudioDuration(ctx, p.Config.AudioPath())
	if err != nil {
		return fail(err)
	}
	if rep.AudioSeconds <= 0 {
		return fail(fmt.Errorf("narration has no duration"))
	}
	rep.PadSeconds = reconcile(rep.VideoSeconds, rep.AudioSeconds, p.Config.FPS, p.Config.PadToAudio)
	r.end()

	r.begin(StageAssemble)
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.SceneID
	}
	err = p.Assembler.Assemble(ctx, video.Job{
		FrameDir:   p.Config.FramesDir(),
		SceneIDs:   ids,
		AudioPath:  p.Config.AudioPath(),
		FPS:        p.Config.FPS,
		Output:     rep.Output,
		PadSeconds: rep.PadSeconds,
	})
	if err != nil {
		return fail(err)
	}
	r.end()

	rep.Total = time.Since(startTime)
	if p.Config.ShowStats {
		p.printStats(rep)
	}
	return rep, nil
}

// reconcile compares track lengths and returns how long to hold the last
// frame. Differences under one frame are ignored.
func reconcile(videoSecs, audioSecs float64, fps int, pad bool) float64 {
	diff := audioSecs - videoSecs
	frame := 1 / float64(fps)
	switch {
	case diff > frame && pad:
		logger.Infof("Озвучка длиннее кадров на %.2fs, последний кадр будет удержан", diff)
		return diff
	case diff > frame:
		logger.Warnf("Озвучка (%.2fs) длиннее кадров (%.2fs), она будет обрезана", audioSecs, videoSecs)
	case diff < -frame:
		logger.Warnf("Кадры (%.2fs) длиннее озвучки (%.2fs), видео закончится вместе с аудио", videoSecs, audioSecs)
	}
	return 0
}

// discard removes artifacts of a failed run. Frames and the cache stay.
func (p *Pipeline) discard(output string) {
	for _, path := range []string{p.Config.AudioPath(), output} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("Не удалось удалить %s: %v", path, err)
		}
	}
}

func (p *Pipeline) outputPath(input string) string {
	if p.Config.OutputVideo != "" {
		return p.Config.OutputVideo
	}
	return DefaultOutputPath("output", input, time.Now())
}

// DefaultOutputPath names the video after its input plus a timestamp.
func DefaultOutputPath(dir, input string, now time.Time) string {
	baseName := filepath.Base(filepath.Clean(input))
	ext := filepath.Ext(baseName)
	nameOnly := strings.TrimSuffix(baseName, ext)
	cleanName := strings.ReplaceAll(nameOnly, " ", "_")
	if cleanName == "" || cleanName == "." || cleanName == string(filepath.Separator) {
		cleanName = "video"
	}
	timestamp := now.Format("2006-01-02_15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", cleanName, timestamp))
}

func newReport(input, output string) *Report {
	return &Report{
		RunID:  uuid.NewString(),
		Input:  input,
		Output: output,
	}
}
