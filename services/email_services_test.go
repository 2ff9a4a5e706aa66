package services_test

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"registrar/config"
	"registrar/models"
	"registrar/services"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mailerFor(t *testing.T, ln net.Listener) *services.SMTPMailer {
	t.Helper()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return services.NewSMTPMailer(&config.Config{
		ClientUrl: "https://hive.example.com/",
		MailHost:  host,
		MailPort:  port,
		MailFrom:  "noreply@example.com",
	})
}

func invitationFor(email string) models.TeamInvitation {
	return models.TeamInvitation{
		ID:           "inv-1",
		InviteeEmail: email,
		Token:        "tok-123",
		ExpiresAt:    epoch.Add(7 * 24 * time.Hour),
	}
}

// serveSMTP answers one session with the bare minimum of the protocol and returns the DATA payload
func serveSMTP(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch verb := strings.ToUpper(strings.Fields(line + " x")[0]); verb {
			case "EHLO", "HELO":
				tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				tp.PrintfLine("250 OK")
			case "DATA":
				tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				out <- string(body)
				tp.PrintfLine("250 queued")
			case "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return out
}

func TestSMTPMailerDeliversInvitation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	received := serveSMTP(t, ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = mailerFor(t, ln).SendInvitation(ctx, invitationFor("alice@example.com"), services.InvitationContext{
		CompetitionTitle: "Spring Hive",
		TeamName:         "<Hive Minds>",
		InviterName:      "Lea",
	})
	require.NoError(t, err)

	select {
	case body := <-received:
		assert.Contains(t, body, "To: alice@example.com")
		assert.Contains(t, body, "https://hive.example.com/invitations/tok-123")
		assert.Contains(t, body, "&lt;Hive Minds&gt;")
	case <-time.After(time.Second):
		t.Fatal("no message reached the server")
	}
}

func TestSMTPMailerGivesUpOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept and never greet
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = mailerFor(t, ln).SendInvitation(ctx, invitationFor("alice@example.com"), services.InvitationContext{TeamName: "Hive Minds"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err = mailerFor(t, ln).SendConfirmation(ctx, models.User{Email: "alice@example.com"}, models.Competition{Title: "Spring Hive"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogMailerLogsLinkAtDebug(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	mailer := services.NewLogMailer(logger, "http://localhost:3000/")
	inv := invitationFor("alice@example.com")

	require.NoError(t, mailer.SendInvitation(context.Background(), inv, services.InvitationContext{TeamName: "Hive Minds"}))
	require.Len(t, hook.AllEntries(), 1, "the link stays hidden below debug")
	assert.NotContains(t, hook.LastEntry().Data, "link")

	hook.Reset()
	logger.SetLevel(logrus.DebugLevel)
	require.NoError(t, mailer.SendInvitation(context.Background(), inv, services.InvitationContext{TeamName: "Hive Minds"}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "http://localhost:3000/invitations/tok-123", entry.Data["link"])
	assert.Equal(t, "alice@example.com", entry.Data["to"])
}
