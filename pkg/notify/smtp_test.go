package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal SMTP server accepting one message per connection.
type fakeRelay struct {
	ln   net.Listener
	mu   sync.Mutex
	rcpt []string
	data []string
}

func startRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go r.serve()
	return r
}

func (r *fakeRelay) config() SMTPConfig {
	addr := r.ln.Addr().(*net.TCPAddr)
	return SMTPConfig{Host: "127.0.0.1", Port: addr.Port}
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 fake ESMTP")
	inData := false
	var body strings.Builder
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if inData {
			if line == "." {
				inData = false
				r.mu.Lock()
				r.data = append(r.data, body.String())
				r.mu.Unlock()
				reply("250 queued")
				continue
			}
			body.WriteString(line + "\n")
			continue
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO"):
			r.mu.Lock()
			r.rcpt = append(r.rcpt, line[len("RCPT TO:"):])
			r.mu.Unlock()
			reply("250 ok")
		case cmd == "DATA":
			inData = true
			reply("354 go ahead")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestSMTPSender_Send(t *testing.T) {
	relay := startRelay(t)
	s, err := NewSMTPSender(relay.config())
	require.NoError(t, err)

	id, err := s.Send(context.Background(), Message{
		From:    "noreply@example.com",
		To:      []string{"alice@example.com"},
		Subject: "Gene analysis results - job job-1",
		HTML:    "<p>done</p>",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<") && strings.HasSuffix(id, "@geneflow>"), id)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.data, 1)
	assert.Equal(t, []string{"<alice@example.com>"}, relay.rcpt)
	assert.Contains(t, relay.data[0], "Subject: Gene analysis results - job job-1")
	assert.Contains(t, relay.data[0], "Message-Id: "+id)
	assert.Contains(t, relay.data[0], "text/html")
}

func TestSMTPSender_ContextCancel(t *testing.T) {
	// A listener that accepts and never greets.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	s, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Send(ctx, Message{From: "a@example.com", To: []string{"b@example.com"}})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSMTPSender_Invalid(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: "localhost"})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), Message{From: "a@example.com"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestSMTPConfig_Addr(t *testing.T) {
	assert.Equal(t, "smtp.example.com:587", SMTPConfig{Host: "smtp.example.com"}.Addr())
	assert.Equal(t, "smtp.example.com:"+strconv.Itoa(2525), SMTPConfig{Host: "smtp.example.com", Port: 2525}.Addr())
}
