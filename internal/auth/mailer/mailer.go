// Package mailer hands account emails to a delivery backend.
package mailer

//go:generate mockgen -source=mailer.go -destination=mocks/mock_dispatcher.go -package=mocks Dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
)

// Kind selects the message template.
type Kind string

const (
	KindPasswordReset    Kind = "password_reset"
	KindUsernameRecovery Kind = "username_recovery"
	KindInvitation       Kind = "invitation"
	KindPasswordChanged  Kind = "password_changed"
)

// Message is one outgoing email. Data feeds the template of Kind; the
// recovery kinds expect "link" and "expires_in".
type Message struct {
	Kind Kind
	To   string
	Data map[string]string
}

// Dispatcher delivers a message. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

var ErrUnknownKind = errors.New("mailer: unknown message kind")

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[Kind]messageTemplate{
	KindPasswordReset: {
		subject: "Reset your password",
		body: template.Must(template.New("password_reset").Parse(
			"Someone asked to reset the password for this address.\n\n" +
				"Open {{.link}} within {{.expires_in}} to choose a new one.\n" +
				"If it was not you, ignore this message.\n")),
	},
	KindUsernameRecovery: {
		subject: "Your username",
		body: template.Must(template.New("username_recovery").Parse(
			"Open {{.link}} within {{.expires_in}} to see the username of this account.\n")),
	},
	KindInvitation: {
		subject: "You have been invited",
		body: template.Must(template.New("invitation").Parse(
			"You have been invited as {{.role}}.\n\n" +
				"Open {{.link}} within {{.expires_in}} to pick a username and password.\n")),
	},
	KindPasswordChanged: {
		subject: "Your password was changed",
		body: template.Must(template.New("password_changed").Parse(
			"The password of your account was changed and every session was signed out.\n" +
				"If this was not you, reset your password now.\n")),
	},
}

// Render returns the subject and body for msg.
func Render(msg Message) (string, string, error) {
	t, ok := templates[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, msg.Data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", msg.Kind, err)
	}
	return t.subject, buf.String(), nil
}

// LogDispatcher writes messages to the log instead of sending them. It is
// the delivery backend for development and tests.
type LogDispatcher struct {
	Logger *slog.Logger

	// RevealBody includes the rendered body, and with it any recovery
	// link, in the log record. Never enable it in production.
	RevealBody bool
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
		slog.String("subject", subject),
	}
	if d.RevealBody {
		attrs = append(attrs, slog.String("body", body))
	}
	d.Logger.InfoContext(ctx, "email dispatched", attrs...)
	return nil
}
