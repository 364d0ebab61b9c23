package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	dataURLPattern = regexp.MustCompile(`^data:audio/[^;]+;base64,`)
)

// RemoteEngine is the network fallback: an HTTP service that takes JSON
// and answers with audio, either as the body or base64 inside JSON.
type RemoteEngine struct {
	URL    string
	APIKey string
	// AudioPath is the gjson path of the base64 audio in JSON answers.
	AudioPath string
	// FFmpeg transcodes non-WAV answers.
	FFmpeg string
	Client *http.Client
}

func NewRemoteEngine(url, apiKey, audioPath string, timeout time.Duration) *RemoteEngine {
	if audioPath == "" {
		audioPath = "audio"
	}
	return &RemoteEngine{
		URL:       url,
		APIKey:    apiKey,
		AudioPath: audioPath,
		FFmpeg:    "ffmpeg",
		Client:    &http.Client{Timeout: timeout},
	}
}

func (e *RemoteEngine) Name() string { return "remote" }

type remoteRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Rate  int    `json:"rate,omitempty"`
}

func (e *RemoteEngine) Synthesize(ctx context.Context, req Request, dst string) error {
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("remote tts url is not configured")
	}
	body, err := json.Marshal(remoteRequest{Text: req.Text, Voice: req.Voice, Rate: req.Rate})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav, audio/*, application/json")
	if e.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("remote tts returned %d: %s", resp.StatusCode, truncate(msg, 200))
	}
	if len(data) == 0 {
		return fmt.Errorf("remote tts returned an empty body")
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || (mediaType == "" && gjson.ValidBytes(data)):
		audio, err := e.extractJSON(data)
		if err != nil {
			return err
		}
		return e.store(ctx, audio, dst)
	case strings.HasPrefix(mediaType, "audio/"), mediaType == "application/octet-stream", mediaType == "":
		return e.store(ctx, data, dst)
	default:
		return fmt.Errorf("remote tts returned unexpected content type %q", mediaType)
	}
}

func (e *RemoteEngine) extractJSON(data []byte) ([]byte, error) {
	v := gjson.GetBytes(data, e.AudioPath)
	if !v.Exists() || v.String() == "" {
		return nil, fmt.Errorf("remote tts response has no audio at %q", e.AudioPath)
	}
	s := dataURLPattern.ReplaceAllString(strings.TrimSpace(v.String()), "")
	audio, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return audio, nil
}

// store writes WAV bytes to dst directly; any other format goes through
// ffmpeg.
func (e *RemoteEngine) store(ctx context.Context, audio []byte, dst string) error {
	if isWAV(audio) {
		return os.WriteFile(dst, audio, 0644)
	}

	src := dst + ".src"
	if err := os.WriteFile(src, audio, 0644); err != nil {
		return err
	}
	defer os.Remove(src)

	bin := e.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, "-y", "-v", "error", "-i", src, "-acodec", "pcm_s16le", "-f", "wav", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("transcode remote audio: %v, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
