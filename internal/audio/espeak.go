package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// EspeakEngine is the offline engine: espeak-ng reading text from stdin.
type EspeakEngine struct {
	Binary string
}

func (e *EspeakEngine) Name() string { return "espeak-ng" }

func (e *EspeakEngine) binary() string {
	if e.Binary == "" {
		return "espeak-ng"
	}
	return e.Binary
}

func (e *EspeakEngine) args(req Request, dst string) []string {
	args := []string{"--stdin", "-w", dst}
	if v := strings.TrimSpace(req.Voice); v != "" {
		args = append(args, "-v", v)
	}
	if req.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(req.Rate))
	}
	return args
}

func (e *EspeakEngine) Synthesize(ctx context.Context, req Request, dst string) error {
	bin, err := exec.LookPath(e.binary())
	if err != nil {
		return fmt.Errorf("%s not found on PATH", e.binary())
	}
	cmd := exec.CommandContext(ctx, bin, e.args(req, dst)...)
	cmd.Stdin = strings.NewReader(req.Text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s error: %v, output: %s", e.binary(), err, strings.TrimSpace(string(out)))
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%s wrote no audio", e.binary())
	}
	return nil
}
