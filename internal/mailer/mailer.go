// Package mailer sends the single best-effort notification email for a
// detected OTP over STARTTLS-capable authenticated SMTP.
package mailer

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"otplink/internal/forwarding"
)

const defaultSMTPPort = 587

// SMTP performs one submission per Send call. No retry, no queueing; failure
// is reported to the caller and nothing else happens.
type SMTP struct {
	timeout time.Duration
}

func NewSMTP(timeout time.Duration) *SMTP {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SMTP{timeout: timeout}
}

// Send builds and submits the OTP notification email. The dial, every SMTP
// command, and the submission are each bounded by the configured timeout; a
// timeout is a send failure like any other.
func (m *SMTP) Send(otp, sender, message string, at time.Time, settings *forwarding.MailSettings) error {
	port := settings.SMTPPort
	if port == 0 {
		port = defaultSMTPPort
	}
	addr := net.JoinHostPort(settings.SMTPHost, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, m.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}

	c, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: settings.SMTPHost})
	if err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}
	defer c.Close()
	c.CommandTimeout = m.timeout
	c.SubmissionTimeout = m.timeout

	if err := c.Hello("otplink"); err != nil {
		return fmt.Errorf("SMTP hello failed: %w", err)
	}
	if err := c.Auth(sasl.NewPlainClient("", settings.Username, settings.Password)); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	msg := buildMessage(otp, sender, message, at, settings)
	if err := c.SendMail(settings.Username, []string{settings.Recipient}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("SMTP submission failed: %w", err)
	}

	return c.Quit()
}

// buildMessage renders the plain-text notification. Subject and body lines
// are the format the companion app documents for its users.
func buildMessage(otp, sender, message string, at time.Time, settings *forwarding.MailSettings) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", settings.Username))
	b.WriteString(fmt.Sprintf("To: %s\r\n", settings.Recipient))
	b.WriteString(fmt.Sprintf("Subject: OTPLink - OTP: %s from %s\r\n", otp, sender))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", at.Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("OTP: %s\r\n", otp))
	b.WriteString(fmt.Sprintf("From: %s\r\n", sender))
	b.WriteString(fmt.Sprintf("Message: %s\r\n", message))
	b.WriteString(fmt.Sprintf("Time: %s\r\n", at.Format(time.RFC1123Z)))
	b.WriteString("\r\nForwarded by OTPLink\r\n")

	return b.String()
}
