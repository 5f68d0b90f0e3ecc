package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/telemetry"
)

const (
	DefaultModel     = "claude-haiku-4-5"
	DefaultMaxTokens = 1024

	aiScopeName = "github.com/steveyegge/pulse/report"
	// voiceMarker separates the analysis from the voice script in replies.
	voiceMarker = "## Voice Script"
)

// ErrAPIKeyRequired is returned when no Anthropic API key is configured.
var ErrAPIKeyRequired = errors.New("API key required")

// AnthropicNarrator narrates snapshots with the Anthropic Messages API.
type AnthropicNarrator struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	prompt         *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewAnthropicNarrator creates a narrator. Extra options are passed to the
// SDK client (tests point it at an httptest server).
func NewAnthropicNarrator(apiKey, model string, maxTokens int, opts ...option.RequestOption) (*AnthropicNarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set report.api_key or ANTHROPIC_API_KEY", ErrAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	tmpl, err := template.New("narration").Parse(narrationPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse narration template: %w", err)
	}
	aiMetricsOnce.Do(initAIMetrics)

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicNarrator{
		client:         anthropic.NewClient(opts...),
		model:          anthropic.Model(model),
		maxTokens:      int64(maxTokens),
		prompt:         tmpl,
		maxRetries:     2,
		initialBackoff: time.Second,
	}, nil
}

// Narrate implements Narrator.
func (a *AnthropicNarrator) Narrate(ctx context.Context, snap *snapshot.Snapshot) (*Narration, error) {
	prompt, err := a.renderPrompt(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}
	text, err := a.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitNarration(text), nil
}

type promptData struct {
	Project string
	Summary string
}

func (a *AnthropicNarrator) renderPrompt(snap *snapshot.Snapshot) (string, error) {
	data := promptData{Summary: Summary(snap)}
	if snap.Project != nil {
		data.Project = snap.Project.Name
		if data.Project == "" {
			data.Project = snap.Project.ID
		}
	}
	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// splitNarration separates the analysis from the trailing voice script.
func splitNarration(text string) *Narration {
	analysis, voice, found := strings.Cut(text, voiceMarker)
	n := &Narration{Analysis: strings.TrimSpace(analysis)}
	if found {
		n.VoiceScript = strings.Join(strings.Fields(voice), " ")
	}
	return n
}

var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter(aiScopeName)
	aiMetrics.inputTokens, _ = m.Int64Counter("pulse.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("pulse.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("pulse.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (a *AnthropicNarrator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	ctx, span := telemetry.Tracer(aiScopeName).Start(ctx, "anthropic.messages.new")
	defer span.End()
	modelAttr := attribute.String("pulse.ai.model", string(a.model))
	span.SetAttributes(modelAttr)

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := a.initialBackoff << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		msg, err := a.client.Messages.New(ctx, params)
		if err == nil {
			aiMetrics.inputTokens.Add(ctx, msg.Usage.InputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.outputTokens.Add(ctx, msg.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.duration.Record(ctx, float64(time.Since(t0).Milliseconds()), metric.WithAttributes(modelAttr))
			span.SetAttributes(attribute.Int("pulse.ai.attempts", attempt+1))

			var parts []string
			for _, block := range msg.Content {
				if block.Type == "text" {
					parts = append(parts, block.Text)
				}
			}
			if len(parts) == 0 {
				return "", fmt.Errorf("unexpected response format: no text blocks")
			}
			return strings.Join(parts, "\n"), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", fmt.Errorf("failed after %d attempts: %w", a.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

const narrationPrompt = `You are writing the daily status briefing for the engineering leadership of {{if .Project}}the {{.Project}} project{{else}}a software project{{end}}. The data below was extracted from the issue tracker this morning.

{{.Summary}}

Write the briefing in markdown with these sections:

**Project Health:** one line (Good, Watch, or At Risk) with the main reason.

**Last 24 Hours:** what was created, resolved, and newly blocked. Name issue ids where given.

**Risks:** stale work, blockers, and overloaded assignees. Say "None identified" if there are none.

**Focus:** two or three concrete suggestions for today.

If the data quality section reports problems, mention them briefly under Risks.

Then add a line containing exactly "` + voiceMarker + `" followed by a spoken version of the briefing: plain sentences, no markdown, under 120 words.`
