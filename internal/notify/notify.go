// Package notify delivers one-time codes and vote confirmations to voters.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ballotd/pkg/async"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type Purpose string

const (
	PurposeCode         Purpose = "one_time_code"
	PurposeConfirmation Purpose = "vote_confirmation"
)

type Message struct {
	To      string            `json:"to"`
	Purpose Purpose           `json:"purpose"`
	Subject string            `json:"subject"`
	Payload map[string]string `json:"payload"`
}

// Body renders the named payload fields as plain text lines.
func (m Message) Body(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: %s\r\n", f, m.Payload[f])
	}
	return b.String()
}

// Text is the mail body for the message purpose.
func (m Message) Text() string {
	switch m.Purpose {
	case PurposeCode:
		return "Your one-time voting code is " + m.Payload["code"] +
			".\r\nIt expires in " + m.Payload["expires_in"] + ".\r\n"
	case PurposeConfirmation:
		return "Your vote has been recorded.\r\n\r\n" +
			m.Body("election", "verification_tag", "cast_at") +
			"\r\nKeep the verification tag to check your ballot was counted.\r\n"
	}
	return m.Body()
}

// Dispatcher sends messages to voters. Implementations are safe for
// concurrent use and are closed once on shutdown.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

func CodeMessage(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Purpose: PurposeCode,
		Subject: "Your voting code",
		Payload: map[string]string{
			"code":       code,
			"expires_in": ttl.String(),
		},
	}
}

func ConfirmationMessage(to, election, tag string, castAt time.Time) Message {
	return Message{
		To:      to,
		Purpose: PurposeConfirmation,
		Subject: "Vote confirmation",
		Payload: map[string]string{
			"election":         election,
			"verification_tag": tag,
			"cast_at":          castAt.UTC().Format(time.RFC3339),
		},
	}
}

// Deliver sends msg through d, giving up after timeout.
func Deliver(ctx context.Context, d Dispatcher, timeout time.Duration, msg Message) error {
	return async.Within(ctx, timeout, func(ctx context.Context) error {
		return d.Send(ctx, msg)
	})
}

// LogDispatcher writes messages to the log instead of delivering them. Codes
// are only revealed when Reveal is set, which is meant for development.
type LogDispatcher struct {
	Reveal bool
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	payload := msg.Payload
	if !d.Reveal && msg.Purpose == PurposeCode {
		payload = map[string]string{"expires_in": msg.Payload["expires_in"], "code": "******"}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log.Info().
		Str("to", msg.To).
		Str("purpose", string(msg.Purpose)).
		RawJSON("payload", raw).
		Msg(msg.Subject)
	return nil
}

func (d *LogDispatcher) Close() error {
	return nil
}

// Recorder keeps every message in memory. Err, when set, is returned instead.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
	Delay    time.Duration
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Close() error {
	return nil
}

// Messages returns a copy of what was sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the latest message for purpose.
func (r *Recorder) Last(purpose Purpose) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Purpose == purpose {
			return r.messages[i], true
		}
	}
	return Message{}, false
}
