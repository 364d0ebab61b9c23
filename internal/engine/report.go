package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/script2video/internal/logger"
	"github.com/ivlev/script2video/internal/system"
)

type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Report summarizes one run, successful or not.
type Report struct {
	RunID        string
	Input        string
	Output       string
	Scenes       int
	Frames       int
	VideoSeconds float64
	AudioSeconds float64
	PadSeconds   float64
	TTSEngine    string
	Fallback     bool
	CacheHits    int
	CacheMisses  int
	Timings      []StageTiming
	Total        time.Duration
}

func (r *Report) StageDuration(s Stage) time.Duration {
	var d time.Duration
	for _, t := range r.Timings {
		if t.Stage == s {
			d += t.Duration
		}
	}
	return d
}

// String renders the performance report shown with --stats.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- [PERFORMANCE REPORT] ---\n")
	fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "Scenes: %d, Frames: %d\n", r.Scenes, r.Frames)
	fmt.Fprintf(&b, "Video: %.2fs, Audio: %.2fs, Hold: %.2fs\n", r.VideoSeconds, r.AudioSeconds, r.PadSeconds)
	fmt.Fprintf(&b, "TTS engine: %s (fallback: %v)\n", r.TTSEngine, r.Fallback)
	fmt.Fprintf(&b, "Cache: %d hits, %d renders\n", r.CacheHits, r.CacheMisses)
	for _, t := range r.Timings {
		fmt.Fprintf(&b, "%-10s %.2fs\n", string(t.Stage)+":", t.Duration.Seconds())
	}
	fmt.Fprintf(&b, "Total Time: %.2fs\n", r.Total.Seconds())
	b.WriteString("----------------------------\n")
	return b.String()
}

// benchmarkLine is the one-line form appended to benchmark.log.
func (r *Report) benchmarkLine(build string, host system.HostStats, now time.Time) string {
	return fmt.Sprintf("[%s] Build: %s | Run: %s | Input: %s | Scenes: %d | Frames: %d | Hits: %d | Frames stage: %.2fs | Audio: %.2fs | Assemble: %.2fs | Total: %.2fs | Host: %s\n",
		now.Format("2006-01-02 15:04:05"),
		build,
		r.RunID,
		filepath.Base(r.Input),
		r.Scenes,
		r.Frames,
		r.CacheHits,
		r.StageDuration(StageFrames).Seconds(),
		r.StageDuration(StageAudio).Seconds(),
		r.StageDuration(StageAssemble).Seconds(),
		r.Total.Seconds(),
		host,
	)
}

func (p *Pipeline) printStats(r *Report) {
	fmt.Print(r.String())

	if p.BenchmarkLog == "" {
		return
	}
	host := system.CollectHostStats(p.Config.WorkDir)
	// Логирование в файл
	f, err := os.OpenFile(p.BenchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warnf("Не удалось записать %s: %v", p.BenchmarkLog, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(r.benchmarkLine(p.Config.BuildVersion, host, time.Now())); err != nil {
		logger.Warnf("Не удалось записать %s: %v", p.BenchmarkLog, err)
	}
}
