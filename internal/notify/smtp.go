package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SMTPDispatcher sends mail through a relay, upgrading to TLS when the relay
// offers STARTTLS.
type SMTPDispatcher struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (d *SMTPDispatcher) addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.addr())
	if err != nil {
		return errors.Wrap(err, "smtp: dial")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, d.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp: greeting")
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err = c.StartTLS(&tls.Config{ServerName: d.Host}); err != nil {
			return errors.Wrap(err, "smtp: starttls")
		}
	}
	if d.Username != "" {
		if err = c.Auth(smtp.PlainAuth("", d.Username, d.Password, d.Host)); err != nil {
			return errors.Wrap(err, "smtp: auth")
		}
	}
	if err = c.Mail(d.From); err != nil {
		return errors.Wrap(err, "smtp: mail from")
	}
	if err = c.Rcpt(msg.To); err != nil {
		return errors.Wrap(err, "smtp: rcpt to")
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp: data")
	}
	if _, err = w.Write(d.render(msg)); err != nil {
		return errors.Wrap(err, "smtp: write")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "smtp: data end")
	}
	return errors.Wrap(c.Quit(), "smtp: quit")
}

func (d *SMTPDispatcher) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), d.Host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Text())
	return []byte(b.String())
}

func (d *SMTPDispatcher) Close() error {
	return nil
}
