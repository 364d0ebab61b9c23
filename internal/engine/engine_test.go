package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/script2video/internal/audio"
	"github.com/ivlev/script2video/internal/config"
	"github.com/ivlev/script2video/internal/frames"
	"github.com/ivlev/script2video/internal/scene"
	"github.com/ivlev/script2video/internal/video"
)

const demoScript = `Scene 1: Exterior - Day
Narration: A quiet street in the morning.

Scene 2: Interior - Cafe
Narration: Two friends meet.
Alice: Hello, how are you?
Bob: I'm doing well, thanks!
`

type fakeFrames struct {
	err    error
	scenes []scene.Scene
	fps    int
}

func (f *fakeFrames) Generate(ctx context.Context, scenes []scene.Scene) (*frames.Summary, error) {
	f.scenes = scenes
	if f.err != nil {
		return nil, f.err
	}
	sum := &frames.Summary{}
	for _, s := range scenes {
		n := frames.FrameCount(s.DurationOrDefault(), f.fps)
		sum.Scenes = append(sum.Scenes, frames.SceneFrames{SceneID: s.SceneID, Frames: n})
		sum.TotalFrames += n
		sum.Misses++
	}
	return sum, nil
}

type fakeSynth struct {
	err   error
	calls int
	text  string
	voice string
	rate  int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, dst, voice string, rate int) (*audio.Result, error) {
	f.calls++
	f.text, f.voice, f.rate = text, voice, rate
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(dst, []byte("RIFF"), 0644); err != nil {
		return nil, err
	}
	return &audio.Result{Path: dst, Engine: "fake"}, nil
}

type fakeAssembler struct {
	mu   sync.Mutex
	err  error
	jobs []video.Job
}

func (f *fakeAssembler) Assemble(ctx context.Context, job video.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	// a failing encoder may still leave a partial file behind
	if err := os.WriteFile(job.Output, []byte("mp4"), 0644); err != nil {
		return err
	}
	return f.err
}

type fixture struct {
	p      *Pipeline
	cfg    *config.Config
	frames *fakeFrames
	synth  *fakeSynth
	asm    *fakeAssembler
	script string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.WorkDir = filepath.Join(dir, "build")
	cfg.OutputVideo = filepath.Join(dir, "out.mp4")
	cfg.Voice = "en-us"
	cfg.Rate = 150

	script := filepath.Join(dir, "demo.txt")
	require.NoError(t, os.WriteFile(script, []byte(demoScript), 0644))

	f := &fixture{
		cfg:    cfg,
		frames: &fakeFrames{fps: cfg.FPS},
		synth:  &fakeSynth{},
		asm:    &fakeAssembler{},
		script: script,
	}
	f.p = &Pipeline{
		Config:    cfg,
		Frames:    f.frames,
		Audio:     f.synth,
		Assembler: f.asm,
		AudioDuration: func(ctx context.Context, path string) (float64, error) {
			return 5.0, nil
		},
	}
	return f
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	rep, err := f.p.Run(context.Background(), f.script)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 2, rep.Scenes)
	assert.Equal(t, 96, rep.Frames)
	assert.InDelta(t, 4.0, rep.VideoSeconds, 1e-9)
	assert.InDelta(t, 5.0, rep.AudioSeconds, 1e-9)
	assert.InDelta(t, 1.0, rep.PadSeconds, 1e-9)
	assert.Equal(t, "fake", rep.TTSEngine)

	require.Len(t, f.asm.jobs, 1)
	job := f.asm.jobs[0]
	assert.Equal(t, []string{"scene_01", "scene_02"}, job.SceneIDs)
	assert.Equal(t, f.cfg.FramesDir(), job.FrameDir)
	assert.Equal(t, f.cfg.AudioPath(), job.AudioPath)
	assert.Equal(t, 24, job.FPS)
	assert.Equal(t, f.cfg.OutputVideo, job.Output)

	assert.Equal(t, "en-us", f.synth.voice)
	assert.Equal(t, 150, f.synth.rate)
	assert.True(t, strings.HasPrefix(f.synth.text, "A quiet street in the morning."))
	assert.Contains(t, f.synth.text, "Alice says: Hello, how are you?")

	doc, err := scene.ReadDocument(f.cfg.ScenesPath())
	require.NoError(t, err)
	require.Len(t, doc.Scenes, 2)
	assert.Equal(t, []string{"Alice", "Bob"}, doc.Scenes[1].Characters)

	var stages []Stage
	for _, tm := range rep.Timings {
		stages = append(stages, tm.Stage)
	}
	assert.Equal(t, []Stage{StageLoad, StageParse, StageDocument, StageFrames, StageNarration, StageAudio, StageReconcile, StageAssemble}, stages)
}

func TestRunWithoutPadding(t *testing.T) {
	f := newFixture(t)
	f.cfg.PadToAudio = false
	rep, err := f.p.Run(context.Background(), f.script)
	require.NoError(t, err)
	assert.Zero(t, rep.PadSeconds)
	assert.Zero(t, f.asm.jobs[0].PadSeconds)
}

func TestRunFrameFailureDiscardsAudio(t *testing.T) {
	f := newFixture(t)
	// narration left over from an earlier run
	require.NoError(t, os.MkdirAll(f.cfg.WorkDir, 0755))
	require.NoError(t, os.WriteFile(f.cfg.AudioPath(), []byte("old"), 0644))

	f.frames.err = &frames.RenderError{SceneID: "scene_02", Err: errors.New("disk full")}
	_, err := f.p.Run(context.Background(), f.script)
	require.Error(t, err)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageFrames, serr.Stage)
	var rerr *frames.RenderError
	assert.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "stage frames failed")

	assert.Zero(t, f.synth.calls)
	assert.Empty(t, f.asm.jobs)
	assert.NoFileExists(t, f.cfg.AudioPath())
}

func TestRunSynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.err = &audio.SynthesisError{Failures: []audio.EngineFailure{
		{Engine: "espeak-ng", Err: errors.New("not found")},
		{Engine: "remote", Err: errors.New("timeout")},
	}}
	_, err := f.p.Run(context.Background(), f.script)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageAudio, serr.Stage)
	var synErr *audio.SynthesisError
	assert.ErrorAs(t, err, &synErr)
	assert.Empty(t, f.asm.jobs)
}

func TestRunAssemblyFailureRemovesOutput(t *testing.T) {
	f := newFixture(t)
	f.asm.err = &video.AssemblyError{Msg: "cannot run encoder", Err: video.ErrFFmpegNotFound}
	_, err := f.p.Run(context.Background(), f.script)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageAssemble, serr.Stage)
	assert.ErrorIs(t, err, video.ErrFFmpegNotFound)
	assert.Contains(t, err.Error(), "ffmpeg not found on PATH")

	assert.NoFileExists(t, f.cfg.OutputVideo)
	assert.NoFileExists(t, f.cfg.AudioPath())
}

func TestRunParseFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.script, []byte("   \n\n"), 0644))
	_, err := f.p.Run(context.Background(), f.script)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageParse, serr.Stage)
	var perr *scene.ParseError
	assert.ErrorAs(t, err, &perr)
	assert.Nil(t, f.frames.scenes)
}

func TestRunMissingScript(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageLoad, serr.Stage)
}

func TestRunDocument(t *testing.T) {
	f := newFixture(t)
	scenes, err := f.p.ParseScript(f.script)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	rep, err := f.p.RunDocument(context.Background(), f.cfg.ScenesPath())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scenes)
	assert.Equal(t, scenes, f.frames.scenes)
}

func TestAssembleOnly(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(t.TempDir(), "only.mp4")
	require.NoError(t, f.p.AssembleOnly(context.Background(), "frames", "a.wav", out))
	require.Len(t, f.asm.jobs, 1)
	assert.Equal(t, video.Job{FrameDir: "frames", AudioPath: "a.wav", FPS: 24, Output: out}, f.asm.jobs[0])

	f.asm.err = errors.New("boom")
	err := f.p.AssembleOnly(context.Background(), "frames", "", out)
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageAssemble, serr.Stage)
}

func TestShowStatsAppendsBenchmark(t *testing.T) {
	f := newFixture(t)
	f.cfg.ShowStats = true
	f.cfg.BuildVersion = "test"
	f.p.BenchmarkLog = filepath.Join(t.TempDir(), "benchmark.log")

	_, err := f.p.Run(context.Background(), f.script)
	require.NoError(t, err)
	_, err = f.p.Run(context.Background(), f.script)
	require.NoError(t, err)

	data, err := os.ReadFile(f.p.BenchmarkLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Build: test")
	assert.Contains(t, lines[0], "Input: demo.txt")
}

func TestNewPipelineValidates(t *testing.T) {
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.FPS = 0
	_, err = NewPipeline(cfg)
	assert.Error(t, err)
}

func TestNewPipelineWiresCollaborators(t *testing.T) {
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.WorkDir = t.TempDir()
	cfg.Width, cfg.Height = 320, 180
	cfg.TTS.RemoteURL = "http://localhost:1/tts"

	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	assert.DirExists(t, cfg.CacheDir())
	assert.IsType(t, &frames.Generator{}, p.Frames)
	synth, ok := p.Audio.(*audio.Synthesizer)
	require.True(t, ok)
	require.Len(t, synth.Engines, 2)
	assert.Equal(t, "espeak-ng", synth.Engines[0].Name())
	assert.Equal(t, "remote", synth.Engines[1].Name())
}
