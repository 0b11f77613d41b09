package mail

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
)

// SMTP delivers batches through a relay, one connection per batch.
type SMTP struct {
	Addr     string
	Username string // optional; PLAIN auth when set
	Password string
	Log      zerolog.Logger
	Now      func() time.Time
}

// SMTPFactory builds SMTP senders from the smtp_server, smtp_port and
// optional smtp_user/smtp_passwd parameters.
func SMTPFactory(log zerolog.Logger) Factory {
	return func(params config.Params) (Sender, error) {
		if err := params.Require("smtp", "smtp_server"); err != nil {
			return nil, err
		}
		port, err := params.Int("smtp_port", 25)
		if err != nil {
			return nil, err
		}
		return &SMTP{
			Addr:     net.JoinHostPort(params.Get("smtp_server"), strconv.Itoa(port)),
			Username: params.Get("smtp_user"),
			Password: params.Get("smtp_passwd"),
			Log:      log,
		}, nil
	}
}

// Send delivers every mail of b over a single connection.
func (s *SMTP) Send(ctx context.Context, b Batch) error {
	if len(b.Bodies) == 0 {
		s.Log.Debug().Msg("no mails to send")
		return nil
	}

	s.Log.Debug().Str("addr", s.Addr).Msg("connecting to the relay")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeExternalService, "connecting to SMTP relay %s", s.Addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	host, _, _ := net.SplitHostPort(s.Addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return apperr.Wrapf(err, apperr.CodeExternalService, "SMTP handshake with %s", s.Addr)
	}
	defer c.Close()

	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, host)); err != nil {
			return apperr.Wrap(err, apperr.CodeExternalService, "SMTP authentication")
		}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	for _, to := range b.Recipients() {
		msg, err := Compose(b.From, to, b.Subject, b.Bodies[to], now())
		if err != nil {
			return err
		}
		if err := deliver(c, b.From, to, msg); err != nil {
			return apperr.Wrapf(err, apperr.CodeExternalService, "sending mail to %s", to)
		}
		s.Log.Debug().Str("to", to).Msg("sent outgoing email")
	}
	return c.Quit()
}

func deliver(c *smtp.Client, from, to string, msg []byte) error {
	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Compose builds a MIME message whose single HTML part shows body as
// preformatted text.
func Compose(from, to, subject, body string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	related := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID(date))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%s\r\n\r\n", related.Boundary())
	buf.WriteString("This is a multi-part message in MIME format.\r\n")

	var altBuf bytes.Buffer
	alternative := multipart.NewWriter(&altBuf)
	part, err := alternative.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte("<HTML><BODY><div><pre>" + body + "</pre></div></BODY></HTML>")); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	if err := alternative.Close(); err != nil {
		return nil, err
	}

	outer, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + alternative.Boundary()},
	})
	if err != nil {
		return nil, err
	}
	if _, err := outer.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := related.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func messageID(date time.Time) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("<%d.%d.%s@%s>", date.UnixNano(), os.Getpid(), hex.EncodeToString(b[:]), host)
}
