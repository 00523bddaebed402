package transport

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// smtpConnect dials the peer according to its TLS mode and authenticates.
func smtpConnect(settings Settings) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	var client *smtp.Client
	if settings.Secure {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: settings.Host, MinVersion: tls.VersionTLS12})
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial: %w", err)
		}
		client, err = smtp.NewClient(conn, settings.Host)
		if err != nil {
			return nil, fmt.Errorf("smtp client: %w", err)
		}
	} else {
		var err error
		client, err = smtp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("smtp dial: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: settings.Host, MinVersion: tls.VersionTLS12}); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if settings.Username != "" {
		auth := smtp.PlainAuth("", settings.Username, settings.Password, settings.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	return client, nil
}

// submit runs one MAIL/RCPT/DATA cycle on an open client and returns the
// Message-ID assigned to the message.
func submit(client *smtp.Client, settings Settings, env Envelope) (string, error) {
	if err := client.Mail(env.FromEmail); err != nil {
		return "", fmt.Errorf("smtp from: %w", err)
	}
	if err := client.Rcpt(env.To); err != nil {
		return "", fmt.Errorf("smtp rcpt: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), settings.Host)
	body := buildMessage(messageID, env)
	if _, err := writer.Write([]byte(body)); err != nil {
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("smtp close: %w", err)
	}

	return messageID, nil
}

func buildMessage(messageID string, env Envelope) string {
	from := env.FromEmail
	if env.FromName != "" {
		from = fmt.Sprintf("%q <%s>", env.FromName, env.FromEmail)
	}

	boundary := strings.ReplaceAll(uuid.NewString(), "-", "")

	lines := []string{
		"Message-ID: " + messageID,
		"From: " + from,
		"To: " + env.To,
		"Subject: " + env.Subject,
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + boundary,
		"",
		"--" + boundary,
		"Content-Type: text/plain; charset=utf-8",
		"",
		env.Text,
		"",
		"--" + boundary,
		"Content-Type: text/html; charset=utf-8",
		"",
		env.HTML,
		"",
		"--" + boundary + "--",
		"",
	}
	return strings.Join(lines, "\r\n")
}
