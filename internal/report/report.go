// Package report hands a snapshot to the downstream collaborators: a
// narrator that writes prose, a synthesizer that turns it into audio, and
// a mailer. Only the narrator has a concrete implementation here.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/steveyegge/pulse/internal/snapshot"
)

// ErrNoRecipients is returned by Deliver when there is a mailer but nobody
// to send to.
var ErrNoRecipients = errors.New("no report recipients configured")

// Narration is the prose produced for one snapshot.
type Narration struct {
	// Analysis is markdown for the mail body.
	Analysis    string `json:"analysis"`
	// VoiceScript is plain text for audio synthesis. May be empty.
	VoiceScript string `json:"voice_script,omitempty"`
}

// Narrator writes a narration of a snapshot.
type Narrator interface {
	Narrate(ctx context.Context, snap *snapshot.Snapshot) (*Narration, error)
}

// Synthesizer renders text to an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Message is one outbound report mail.
type Message struct {
	Subject     string
	Body        string
	Recipients  []string
	Attachments []string
}

// Mailer sends a report mail.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Collaborators wires the optional downstream steps. Nil members are
// skipped.
type Collaborators struct {
	Narrator    Narrator
	Synthesizer Synthesizer
	Mailer      Mailer

	Recipients    []string
	SubjectPrefix string

	Log *slog.Logger
}

// Outcome records what Deliver did.
type Outcome struct {
	Narration *Narration
	Message   *Message
	Mailed    bool
	// Errors holds the non-fatal failures of individual steps.
	Errors []error
}

// Deliver narrates the snapshot, synthesizes the voice script, and mails the
// result. A narration failure becomes the body text and a synthesis
// failure drops the attachment; neither stops the mail. Only a mail
// failure, or a mailer without recipients, is returned as an error.
func Deliver(ctx context.Context, snap *snapshot.Snapshot, c Collaborators) (*Outcome, error) {
	log := c.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	out := &Outcome{}

	body := Summary(snap)
	if c.Narrator != nil && snap.OK() {
		n, err := c.Narrator.Narrate(ctx, snap)
		switch {
		case err != nil:
			log.Error("narration failed", "error", err)
			out.Errors = append(out.Errors, fmt.Errorf("narrate: %w", err))
			body = fmt.Sprintf("Narration failed: %v\n\n%s", err, body)
		case n.Analysis == "":
			log.Warn("narration returned no analysis")
		default:
			out.Narration = n
			body = n.Analysis
		}
	}

	var attachments []string
	if c.Synthesizer != nil && out.Narration != nil && out.Narration.VoiceScript != "" {
		path, err := c.Synthesizer.Synthesize(ctx, out.Narration.VoiceScript)
		if err == nil {
			_, err = os.Stat(path)
		}
		if err != nil {
			log.Error("voice synthesis failed, mailing without audio", "error", err)
			out.Errors = append(out.Errors, fmt.Errorf("synthesize: %w", err))
		} else {
			attachments = append(attachments, path)
		}
	}

	out.Message = &Message{
		Subject:     Subject(c.SubjectPrefix, snap),
		Body:        body,
		Recipients:  c.Recipients,
		Attachments: attachments,
	}

	if c.Mailer == nil {
		return out, nil
	}
	if len(c.Recipients) == 0 {
		return out, ErrNoRecipients
	}
	if err := c.Mailer.Send(ctx, *out.Message); err != nil {
		return out, fmt.Errorf("send report: %w", err)
	}
	out.Mailed = true
	log.Info("report sent", "recipients", len(c.Recipients), "attachments", len(attachments))
	return out, nil
}

// Subject builds the mail subject for a snapshot.
func Subject(prefix string, snap *snapshot.Snapshot) string {
	if prefix == "" {
		prefix = "Project pulse"
	}
	date := snap.ExtractedAt
	if date.IsZero() {
		date = time.Now()
	}
	s := fmt.Sprintf("%s - %s", prefix, date.UTC().Format(time.DateOnly))
	if !snap.OK() {
		s += " (extraction failed)"
	}
	return s
}
