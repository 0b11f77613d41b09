package mail

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	netmail "net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/config"
)

func TestComposeStructure(t *testing.T) {
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := Compose("hooks@example.com", "karl@example.com", "PRJ/repo - Hook notify: Files you own were modified", "<b>Branch:</b> master\n", date)
	require.NoError(t, err)

	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "hooks@example.com", msg.Header.Get("From"))
	assert.Equal(t, "karl@example.com", msg.Header.Get("To"))
	assert.NotEmpty(t, msg.Header.Get("Message-ID"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "PRJ/repo - Hook notify: Files you own were modified", subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)

	related := multipart.NewReader(msg.Body, params["boundary"])
	outer, err := related.NextPart()
	require.NoError(t, err)
	mediaType, params, err = mime.ParseMediaType(outer.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	alternative := multipart.NewReader(outer, params["boundary"])
	html, err := alternative.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", html.Header.Get("Content-Type"))
	body, err := io.ReadAll(quotedprintable.NewReader(html))
	require.NoError(t, err)
	// quoted-printable text mode puts CRLF on the wire
	assert.Equal(t, "<HTML><BODY><div><pre><b>Branch:</b> master\r\n</pre></div></BODY></HTML>", string(body))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	sender, err := r.Factory()(config.Params{})
	require.NoError(t, err)

	b := Batch{From: "a@example.com", Subject: "s", Bodies: map[string]string{"y@example.com": "1", "x@example.com": "2"}}
	require.NoError(t, sender.Send(context.Background(), b))

	got := r.Batches()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"x@example.com", "y@example.com"}, got[0].Recipients())
}

func TestSMTPFactoryRequiresServer(t *testing.T) {
	_, err := SMTPFactory(zerolog.Nop())(config.Params{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))

	_, err = SMTPFactory(zerolog.Nop())(config.Params{"smtp_server": "relay", "smtp_port": "x"})
	require.Error(t, err)

	s, err := SMTPFactory(zerolog.Nop())(config.Params{"smtp_server": "relay"})
	require.NoError(t, err)
	assert.Equal(t, "relay:25", s.(*SMTP).Addr)
}

// fakeRelay is a minimal SMTP server accepting every message.
type fakeRelay struct {
	ln net.Listener
	wg sync.WaitGroup

	mu   sync.Mutex
	rcpt []string
	data []string
}

func startRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{ln: ln}
	r.wg.Add(1)
	go r.serve()
	t.Cleanup(func() {
		ln.Close()
		r.wg.Wait()
	})
	return r
}

func (r *fakeRelay) serve() {
	defer r.wg.Done()
	conn, err := r.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	rd := bufio.NewReader(conn)
	reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }
	reply("220 fake ESMTP")
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			r.mu.Lock()
			r.rcpt = append(r.rcpt, strings.TrimSpace(line[len("RCPT TO:"):]))
			r.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := rd.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			r.mu.Lock()
			r.data = append(r.data, b.String())
			r.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTPSend(t *testing.T) {
	relay := startRelay(t)
	s := &SMTP{Addr: relay.ln.Addr().String(), Log: zerolog.Nop()}

	err := s.Send(context.Background(), Batch{
		From:    "hooks@example.com",
		Subject: "hello",
		Bodies: map[string]string{
			"mary@example.com": "for mary",
			"karl@example.com": "for karl",
		},
	})
	require.NoError(t, err)

	relay.ln.Close()
	relay.wg.Wait()
	assert.Equal(t, []string{"<karl@example.com>", "<mary@example.com>"}, relay.rcpt)
	require.Len(t, relay.data, 2)
	assert.Contains(t, relay.data[0], "for karl")
	assert.Contains(t, relay.data[1], "for mary")
}

func TestSMTPSendNothing(t *testing.T) {
	s := &SMTP{Addr: "127.0.0.1:1", Log: zerolog.Nop()}
	assert.NoError(t, s.Send(context.Background(), Batch{}))
}

func TestSMTPUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := &SMTP{Addr: addr, Log: zerolog.Nop()}
	err = s.Send(context.Background(), Batch{Bodies: map[string]string{"karl@example.com": "x"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeExternalService))
}
