package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = int(offset)
	case io.SeekCurrent:
		s.pos += int(offset)
	case io.SeekEnd:
		s.pos = len(s.buf) + int(offset)
	}
	return int64(s.pos), nil
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	var sb seekBuffer
	require.NoError(t, tone(8000, 0.25, 0.5, 0).Encode(&sb))
	return sb.buf
}

func TestRemoteEngineWAVBody(t *testing.T) {
	wav := wavBytes(t)
	var got remoteRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer srv.Close()

	e := NewRemoteEngine(srv.URL, "secret", "", 5*time.Second)
	dst := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, e.Synthesize(context.Background(), Request{Text: "Hello.", Voice: "alloy", Rate: 150}, dst))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, remoteRequest{Text: "Hello.", Voice: "alloy", Rate: 150}, got)

	c, err := readWAV(dst)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, c.Duration(), 0.01)
}

func TestRemoteEngineJSONBody(t *testing.T) {
	wav := wavBytes(t)
	tests := []struct {
		name    string
		path    string
		payload string
	}{
		{"plain", "audio", `{"audio":"` + base64.StdEncoding.EncodeToString(wav) + `"}`},
		{"nested", "output.audio.data", `{"output":{"audio":{"data":"` + base64.StdEncoding.EncodeToString(wav) + `"}}}`},
		{"data url", "audio", `{"audio":"data:audio/wav;base64,` + base64.StdEncoding.EncodeToString(wav) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				io.WriteString(w, tt.payload)
			}))
			defer srv.Close()

			e := NewRemoteEngine(srv.URL, "", tt.path, 5*time.Second)
			dst := filepath.Join(t.TempDir(), "a.wav")
			require.NoError(t, e.Synthesize(context.Background(), Request{Text: "hi"}, dst))
			_, err := readWAV(dst)
			assert.NoError(t, err)
		})
	}
}

func TestRemoteEngineErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		ctype   string
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "text/plain", "overloaded", "500"},
		{"missing audio", http.StatusOK, "application/json", `{"error":"quota"}`, "no audio"},
		{"bad base64", http.StatusOK, "application/json", `{"audio":"!!!"}`, "base64"},
		{"empty", http.StatusOK, "audio/wav", "", "empty"},
		{"html", http.StatusOK, "text/html", "<html></html>", "content type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			e := NewRemoteEngine(srv.URL, "", "audio", 5*time.Second)
			err := e.Synthesize(context.Background(), Request{Text: "hi"}, filepath.Join(t.TempDir(), "a.wav"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRemoteEngineUnconfigured(t *testing.T) {
	e := NewRemoteEngine("", "", "", time.Second)
	err := e.Synthesize(context.Background(), Request{Text: "hi"}, filepath.Join(t.TempDir(), "a.wav"))
	assert.Error(t, err)
}

func TestIsWAV(t *testing.T) {
	assert.True(t, isWAV(wavBytes(t)))
	assert.False(t, isWAV([]byte("ID3\x04 mp3 data here")))
	assert.False(t, isWAV(bytes.Repeat([]byte{0}, 4)))
}
