package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"registrar/config"
	"registrar/models"

	"github.com/sirupsen/logrus"
)

// smtpSessionTimeout bounds a session when the caller set no deadline
const smtpSessionTimeout = time.Minute

// SMTPMailer delivers the coordinator's transactional emails over SMTP
type SMTPMailer struct {
	host      string
	port      string
	username  string
	password  string
	from      string
	clientUrl string
}

func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	from := cfg.MailFrom
	if from == "" {
		from = cfg.MailUsername
	}
	return &SMTPMailer{
		host:      cfg.MailHost,
		port:      cfg.MailPort,
		username:  cfg.MailUsername,
		password:  cfg.MailPassword,
		from:      from,
		clientUrl: strings.TrimRight(cfg.ClientUrl, "/"),
	}
}

func (s *SMTPMailer) SendInvitation(ctx context.Context, invitation models.TeamInvitation, ic InvitationContext) error {
	link := invitationLink(s.clientUrl, invitation.Token)
	inviter := ic.InviterName
	if inviter == "" {
		inviter = "A team leader"
	}

	body := fmt.Sprintf(`
                <h1 style="color: #ffffff; margin-bottom: 30px; font-size: 24px;">Join team %s</h1>
                <p style="color: #9ca3af; margin-bottom: 30px; font-size: 16px;">%s invited you to compete with their team in %s. This invitation expires on %s.</p>
                <a href="%s" style="display: inline-block; background-color: #d97706; color: #ffffff; text-decoration: none; padding: 12px 30px; border-radius: 25px; font-weight: bold; margin-bottom: 30px;">Answer the invitation</a>
                <p style="color: #9ca3af; font-size: 14px;">If you don't know this team, you can ignore this email.</p>`,
		html.EscapeString(ic.TeamName),
		html.EscapeString(inviter),
		html.EscapeString(ic.CompetitionTitle),
		invitation.ExpiresAt.UTC().Format(time.RFC1123),
		link,
	)
	return s.send(ctx, invitation.InviteeEmail, "You are invited to join "+ic.TeamName, body)
}

func (s *SMTPMailer) SendTeamLeaderNotification(ctx context.Context, leader models.User, event LeaderEvent) error {
	items := make([]string, 0, len(event.Emails))
	for _, email := range event.Emails {
		items = append(items, fmt.Sprintf(`<li style="color: #ffffff;">%s</li>`, html.EscapeString(email)))
	}

	body := fmt.Sprintf(`
                <h1 style="color: #ffffff; margin-bottom: 30px; font-size: 24px;">Invitations expired</h1>
                <p style="color: #9ca3af; margin-bottom: 20px; font-size: 16px;">These invitations to team %s for %s expired without an answer:</p>
                <ul style="text-align: left; display: inline-block; margin-bottom: 30px;">%s</ul>
                <p style="color: #9ca3af; font-size: 14px;">You can invite other members or complete your registration from your dashboard.</p>`,
		html.EscapeString(event.TeamName),
		html.EscapeString(event.CompetitionTitle),
		strings.Join(items, ""),
	)
	return s.send(ctx, leader.Email, "Invitations to "+event.TeamName+" expired", body)
}

func (s *SMTPMailer) SendConfirmation(ctx context.Context, user models.User, competition models.Competition) error {
	body := fmt.Sprintf(`
                <h1 style="color: #ffffff; margin-bottom: 30px; font-size: 24px;">You're in, %s!</h1>
                <p style="color: #9ca3af; margin-bottom: 30px; font-size: 16px;">Your registration for %s is confirmed. The competition starts on %s.</p>
                <a href="%s" style="display: inline-block; background-color: #d97706; color: #ffffff; text-decoration: none; padding: 12px 30px; border-radius: 25px; font-weight: bold; margin-bottom: 30px;">Go to the platform</a>`,
		html.EscapeString(user.DisplayName()),
		html.EscapeString(competition.Title),
		competition.StartDate.UTC().Format(time.RFC1123),
		s.clientUrl,
	)
	return s.send(ctx, user.Email, "Registration confirmed for "+competition.Title, body)
}

func (s *SMTPMailer) send(ctx context.Context, to, subject, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	htmlTemplate := strings.TrimSpace(`
From: %s
To: %s
MIME-version: 1.0
Content-Type: text/html; charset="UTF-8"
Subject: %s

<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
</head>
<body style="background-color: #f9fafb; margin: 0; padding: 0; font-family: Arial, sans-serif;">
    <table width="100%%" cellpadding="0" cellspacing="0" style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <tr>
            <td style="background: linear-gradient(to right, #1a1a1a, #2d2d2d); padding: 40px 20px; text-align: center; border-radius: 12px;">%s
            </td>
        </tr>
    </table>
</body>
</html>
`)

	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)
	msg := []byte(fmt.Sprintf(htmlTemplate, s.from, to, subject, html.EscapeString(subject), content))

	if err := s.deliver(ctx, to, msg); err != nil {
		if ctxErr := contextCause(ctx); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
	return nil
}

// contextCause reports why ctx ended, the connection deadline may fire before ctx notices
func contextCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

// deliver runs one SMTP session bounded by ctx, a silent server cannot hold the caller past its deadline
func (s *SMTPMailer) deliver(ctx context.Context, to string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpSessionTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set smtp deadline: %w", err)
	}
	// Cancellation expires the deadline so blocked reads and writes return at once
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok && s.username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	return client.Quit()
}

func invitationLink(clientUrl, token string) string {
	return fmt.Sprintf("%s/invitations/%s", clientUrl, token)
}

// LogMailer only logs deliveries, used when no SMTP server is configured
type LogMailer struct {
	log       logrus.FieldLogger
	clientUrl string
}

func NewLogMailer(logger logrus.FieldLogger, clientUrl string) *LogMailer {
	return &LogMailer{
		log:       logger.WithField("component", "log_mailer"),
		clientUrl: strings.TrimRight(clientUrl, "/"),
	}
}

func (m *LogMailer) SendInvitation(ctx context.Context, invitation models.TeamInvitation, ic InvitationContext) error {
	entry := m.log.WithFields(logrus.Fields{
		"to":            invitation.InviteeEmail,
		"invitation_id": invitation.ID,
		"team":          ic.TeamName,
	})
	entry.Info("Invitation email")
	// The link carries the token, it only shows up when debug logging is on
	entry.WithField("link", invitationLink(m.clientUrl, invitation.Token)).Debug("Invitation link")
	return nil
}

func (m *LogMailer) SendTeamLeaderNotification(ctx context.Context, leader models.User, event LeaderEvent) error {
	m.log.WithFields(logrus.Fields{
		"to":     leader.Email,
		"kind":   event.Kind,
		"emails": event.Emails,
	}).Info("Team leader notification")
	return nil
}

func (m *LogMailer) SendConfirmation(ctx context.Context, user models.User, competition models.Competition) error {
	m.log.WithFields(logrus.Fields{
		"to":          user.Email,
		"competition": competition.Title,
	}).Info("Confirmation email")
	return nil
}
