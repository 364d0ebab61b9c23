package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ivlev/script2video/internal/system"
)

// outputBitDepth is the sample size of every file this package writes.
const outputBitDepth = 16

// clip is decoded PCM as interleaved floats in [-1, 1].
type clip struct {
	rate     int
	channels int
	samples  []float64
}

func readWAV(path string) (*clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeWAV(f)
}

func decodeWAV(r io.ReadSeeker) (*clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a PCM WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, fmt.Errorf("WAV file has no usable format")
	}
	depth := int(d.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}

	scale := float64(int64(1) << (depth - 1))
	c := &clip{
		rate:     buf.Format.SampleRate,
		channels: buf.Format.NumChannels,
		samples:  make([]float64, len(buf.Data)),
	}
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		c.samples[i] = float64(v) / scale
	}
	if c.Frames() == 0 {
		return nil, fmt.Errorf("WAV file has no samples")
	}
	return c, nil
}

func (c *clip) Frames() int {
	return len(c.samples) / c.channels
}

func (c *clip) Duration() float64 {
	return float64(c.Frames()) / float64(c.rate)
}

// TrimSilence drops leading and trailing frames whose loudest channel stays
// at or below threshold. A clip that is silent throughout is left alone.
func (c *clip) TrimSilence(threshold float64) {
	n := c.Frames()
	loud := func(frame int) bool {
		for ch := 0; ch < c.channels; ch++ {
			if math.Abs(c.samples[frame*c.channels+ch]) > threshold {
				return true
			}
		}
		return false
	}
	start := 0
	for start < n && !loud(start) {
		start++
	}
	if start == n {
		return
	}
	end := n
	for end > start && !loud(end-1) {
		end--
	}
	c.samples = c.samples[start*c.channels : end*c.channels]
}

func (c *clip) RMS() float64 {
	if len(c.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(c.samples)))
}

// NormalizeRMS scales the clip to the target RMS level, clipping peaks.
func (c *clip) NormalizeRMS(target float64) {
	rms := c.RMS()
	if rms == 0 || target <= 0 {
		return
	}
	gain := target / rms
	for i, v := range c.samples {
		c.samples[i] = math.Max(-1, math.Min(1, v*gain))
	}
}

// Encode writes the clip as 16-bit PCM WAV.
func (c *clip) Encode(w io.WriteSeeker) error {
	const peak = 1<<(outputBitDepth-1) - 1
	data := make([]int, len(c.samples))
	for i, v := range c.samples {
		data[i] = int(math.Round(v * peak))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: c.channels, SampleRate: c.rate},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}
	enc := wav.NewEncoder(w, c.rate, outputBitDepth, c.channels, 1)
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// Duration returns the length of an audio file in seconds. WAV files are
// measured from their header; anything else is asked of ffprobe.
func Duration(ctx context.Context, path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if d.IsValidFile() {
		dur, err := d.Duration()
		if err == nil && dur > 0 {
			return dur.Seconds(), nil
		}
	}
	return system.GetAudioDuration(ctx, path)
}
