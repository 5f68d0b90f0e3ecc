package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
)

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		RunID:       "run-1",
		Status:      snapshot.StatusComplete,
		ExtractedAt: time.Date(2024, 6, 15, 7, 0, 0, 0, time.UTC),
		Project:     &snapshot.ProjectInfo{ID: "0-1", Name: "Payments", ShortName: "PAY"},
		Metrics: &metrics.Snapshot{
			WindowHours:    24,
			StaleDays:      30,
			OpenIssues:     2,
			ResolvedIssues: 1,
			Workload:       map[string]int{"alice": 1, "Unassigned": 1},
			OpenByState:    map[string]int{"Open": 2},
			Last24h:        metrics.WindowCounters{Resolved: 1, ResolvedIssueIDs: []string{"PAY-2"}},
		},
		Degraded: snapshot.Degradation{ResolvedStatesFallback: true},
	}
}

func TestSummary(t *testing.T) {
	out := Summary(testSnapshot())
	assert.Contains(t, out, "# Project pulse: Payments (PAY)")
	assert.Contains(t, out, "- Resolved: 1 (PAY-2)")
	assert.Contains(t, out, "- Open: 2")
	assert.Contains(t, out, "| Unassigned | 1 |")
	assert.Contains(t, out, "default list")
	// ties sort by name
	assert.Less(t, strings.Index(out, "| Unassigned |"), strings.Index(out, "| alice |"))
	assert.Equal(t, out, Summary(testSnapshot()), "summary is not deterministic")

	failed := Summary(snapshot.Failed("r", time.Now(), errors.New("no issues")))
	assert.Contains(t, failed, "**Extraction failed:** no issues")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Daily - 2024-06-15", Subject("Daily", testSnapshot()))
	failed := snapshot.Failed("r", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), nil)
	assert.Equal(t, "Project pulse - 2024-06-15 (extraction failed)", Subject("", failed))
}

type fakeNarrator struct {
	n   *Narration
	err error
}

func (f fakeNarrator) Narrate(context.Context, *snapshot.Snapshot) (*Narration, error) {
	return f.n, f.err
}

type fakeSynth struct {
	path string
	err  error
	got  string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (string, error) {
	f.got = text
	return f.path, f.err
}

type fakeMailer struct {
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestDeliver(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "briefing.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("id3"), 0o600))

	t.Run("full chain", func(t *testing.T) {
		synth := &fakeSynth{path: audio}
		mailer := &fakeMailer{}
		out, err := Deliver(context.Background(), testSnapshot(), Collaborators{
			Narrator:    fakeNarrator{n: &Narration{Analysis: "**Project Health:** Good", VoiceScript: "All good."}},
			Synthesizer: synth,
			Mailer:      mailer,
			Recipients:  []string{"lead@example.com"},
		})
		require.NoError(t, err)
		assert.True(t, out.Mailed)
		assert.Empty(t, out.Errors)
		assert.Equal(t, "All good.", synth.got)
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "**Project Health:** Good", mailer.sent[0].Body)
		assert.Equal(t, []string{audio}, mailer.sent[0].Attachments)
	})

	t.Run("narration failure becomes body", func(t *testing.T) {
		mailer := &fakeMailer{}
		out, err := Deliver(context.Background(), testSnapshot(), Collaborators{
			Narrator:    fakeNarrator{err: errors.New("quota exceeded")},
			Synthesizer: &fakeSynth{path: audio},
			Mailer:      mailer,
			Recipients:  []string{"lead@example.com"},
		})
		require.NoError(t, err)
		require.Len(t, out.Errors, 1)
		require.Len(t, mailer.sent, 1)
		assert.Contains(t, mailer.sent[0].Body, "Narration failed: quota exceeded")
		assert.Contains(t, mailer.sent[0].Body, "- Open: 2")
		assert.Empty(t, mailer.sent[0].Attachments)
	})

	t.Run("audio failure drops attachment", func(t *testing.T) {
		mailer := &fakeMailer{}
		out, err := Deliver(context.Background(), testSnapshot(), Collaborators{
			Narrator:    fakeNarrator{n: &Narration{Analysis: "text", VoiceScript: "spoken"}},
			Synthesizer: &fakeSynth{path: filepath.Join(t.TempDir(), "missing.mp3")},
			Mailer:      mailer,
			Recipients:  []string{"lead@example.com"},
		})
		require.NoError(t, err)
		assert.Len(t, out.Errors, 1)
		assert.True(t, out.Mailed)
		assert.Empty(t, mailer.sent[0].Attachments)
	})

	t.Run("no recipients", func(t *testing.T) {
		mailer := &fakeMailer{}
		_, err := Deliver(context.Background(), testSnapshot(), Collaborators{Mailer: mailer})
		assert.ErrorIs(t, err, ErrNoRecipients)
		assert.Empty(t, mailer.sent)
	})

	t.Run("mail failure", func(t *testing.T) {
		_, err := Deliver(context.Background(), testSnapshot(), Collaborators{
			Mailer:     &fakeMailer{err: errors.New("smtp down")},
			Recipients: []string{"lead@example.com"},
		})
		assert.ErrorContains(t, err, "smtp down")
	})

	t.Run("no mailer", func(t *testing.T) {
		out, err := Deliver(context.Background(), testSnapshot(), Collaborators{})
		require.NoError(t, err)
		assert.False(t, out.Mailed)
		assert.Contains(t, out.Message.Body, "# Project pulse")
	})
}

func TestAnthropicNarrator(t *testing.T) {
	var calls atomic.Int32
	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
			prompt = req.Messages[0].Content[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": req.Model,
			"content": []map[string]any{{
				"type": "text",
				"text": "**Project Health:** Watch\n\n" + voiceMarker + "\nProject health is watch.\n  One issue resolved.",
			}},
			"usage": map[string]any{"input_tokens": 100, "output_tokens": 20},
		})
	}))
	defer server.Close()

	n, err := NewAnthropicNarrator("test-key", "", 0, option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	got, err := n.Narrate(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "**Project Health:** Watch", got.Analysis)
	assert.Equal(t, "Project health is watch. One issue resolved.", got.VoiceScript)
	assert.Contains(t, prompt, "the Payments project")
	assert.Contains(t, prompt, "- Open: 2")
}

func TestAnthropicNarratorNonRetryable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer server.Close()

	n, err := NewAnthropicNarrator("test-key", "claude-haiku-4-5", 256, option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	require.NoError(t, err)
	_, err = n.Narrate(context.Background(), testSnapshot())
	assert.ErrorContains(t, err, "non-retryable")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewAnthropicNarratorRequiresKey(t *testing.T) {
	_, err := NewAnthropicNarrator("", "", 0)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestOutboxMailer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	m := &OutboxMailer{Dir: dir, Now: func() time.Time { return time.Date(2024, 6, 15, 7, 0, 0, 0, time.UTC) }}

	out, err := Deliver(context.Background(), testSnapshot(), Collaborators{
		Mailer:        m,
		Recipients:    []string{"lead@example.com", "cto@example.com"},
		SubjectPrefix: "Payments pulse",
	})
	require.NoError(t, err)
	assert.True(t, out.Mailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "20240615T070000Z-payments-pulse-2024-06-15.md", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "To: lead@example.com, cto@example.com\nSubject: Payments pulse - 2024-06-15\n\n"))
	assert.Contains(t, text, "# Project pulse: Payments (PAY)")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "report", slug("!!!"))
	assert.Equal(t, "a-b-c", slug("A  b / C."))
	assert.LessOrEqual(t, len(slug(strings.Repeat("word ", 40))), 60)
}
