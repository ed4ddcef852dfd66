package smtpemail

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Settings is an SMTP relay configuration.
type Settings struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Username string `json:"username" validate:"max=256"`
	Password string `json:"password" validate:"max=256"`
	From     string `json:"from" validate:"required,email"`
	// ImplicitTLS dials TLS directly (port 465) instead of upgrading with STARTTLS.
	ImplicitTLS bool `json:"implicit_tls"`
}

// Message is a plain text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer talks to an SMTP relay.
type Mailer interface {
	// Check connects and authenticates without sending.
	Check(ctx context.Context, s Settings) error
	Send(ctx context.Context, s Settings, msg Message) error
}

// RelayMailer is the go-mail backed Mailer.
type RelayMailer struct {
	DialTimeout time.Duration
}

func (m RelayMailer) Check(ctx context.Context, s Settings) error {
	c, err := m.client(s)
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return relayError("smtp connect", err)
	}
	return c.Close()
}

func (m RelayMailer) Send(ctx context.Context, s Settings, msg Message) error {
	c, err := m.client(s)
	if err != nil {
		return err
	}
	out, err := newMessage(s.From, msg)
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, out); err != nil {
		return relayError("smtp send", err)
	}
	return nil
}

func (m RelayMailer) client(s Settings) (*mail.Client, error) {
	timeout := m.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts := []mail.Option{mail.WithPort(s.Port), mail.WithTimeout(timeout)}
	if s.ImplicitTLS {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}
	c, err := mail.NewClient(s.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}

func newMessage(from string, msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp to address: %w", err)
	}
	out.Subject(sanitizeHeader(msg.Subject))
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}

// relayError marks replies that reject the login so the handler can declare
// them.
func relayError(op string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch reply.Code {
		case 530, 534, 535:
			return &authError{err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type authError struct{ err error }

func (e *authError) Error() string { return "smtp auth: " + e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
