package sender

import (
	"context"
	"crypto/tls"
	"errors"

	"gopkg.in/gomail.v2"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	NoVerify bool
}

// SMTP sends each message over its own connection.
type SMTP struct {
	from   string
	dialer *gomail.Dialer
	send   func(d *gomail.Dialer, m *gomail.Message) error
}

func NewSMTP(c SMTPConfig) (*SMTP, error) {
	if c.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if c.From == "" {
		return nil, errors.New("smtp from address is required")
	}

	var d *gomail.Dialer
	if c.Username == "" {
		d = &gomail.Dialer{Host: c.Host, Port: c.Port}
	} else {
		d = gomail.NewPlainDialer(c.Host, c.Port, c.Username, c.Password)
	}
	if c.NoVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &SMTP{
		from:   c.From,
		dialer: d,
		send: func(d *gomail.Dialer, m *gomail.Message) error {
			return d.DialAndSend(m)
		},
	}, nil
}

func (s *SMTP) message(address string, c Content) *gomail.Message {
	from := s.from
	if c.From != "" {
		from = c.From
	}

	m := gomail.NewMessage()
	if c.SenderName != "" {
		m.SetAddressHeader("From", from, c.SenderName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", address)
	m.SetHeader("Subject", c.Subject)
	m.SetBody("text/plain", c.Body)
	return m
}

// Send blocks until the server accepts the message or ctx is done. The dial
// itself cannot be interrupted, so a cancelled send may still complete.
func (s *SMTP) Send(ctx context.Context, address string, channel models.Channel, c Content) error {
	m := s.message(address, c)

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.dialer, m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &Failure{Channel: channel, Address: address, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &Failure{Channel: channel, Address: address, Reason: "timed out", Err: ctx.Err()}
	}
}
