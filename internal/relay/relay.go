// Package relay hands outbound messages to an SMTP server. The mailbox
// service treats it as an opaque collaborator.
package relay

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Outbound is a message ready for transmission.
type Outbound struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Relay delivers outbound messages.
type Relay interface {
	Send(msg *Outbound) error
}

// Config holds the SMTP connection settings for the relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPRelay sends mail through a real SMTP server, using implicit TLS on
// port 465 and STARTTLS otherwise.
type SMTPRelay struct {
	config Config
	logger *logrus.Logger
}

// NewSMTPRelay creates a relay for the given SMTP settings.
func NewSMTPRelay(cfg Config, logger *logrus.Logger) *SMTPRelay {
	return &SMTPRelay{
		config: cfg,
		logger: logger,
	}
}

// Send transmits the message. Failures propagate to the caller as
// delivery errors.
func (r *SMTPRelay) Send(msg *Outbound) error {
	addr := fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	tlsConfig := &tls.Config{ServerName: r.config.Host}

	var cl *smtp.Client
	if r.config.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		cl, err = smtp.NewClient(conn, r.config.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		var err error
		cl, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		if err := cl.StartTLS(tlsConfig); err != nil {
			cl.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	defer cl.Close()

	if r.config.Password != "" {
		auth := smtp.PlainAuth("", r.config.Username, r.config.Password, r.config.Host)
		if err := cl.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := r.deliver(cl, msg); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Relayed message")
	return cl.Quit()
}

// deliver runs the envelope exchange and streams the message data.
func (r *SMTPRelay) deliver(cl *smtp.Client, msg *Outbound) error {
	if err := cl.Mail(msg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range msg.To {
		if err := cl.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(BuildMessage(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return nil
}

// BuildMessage renders the outbound message as RFC 822 bytes.
func BuildMessage(msg *Outbound) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}

// NopRelay logs instead of sending; used when no SMTP server is
// configured (the pure in-memory demo mode).
type NopRelay struct {
	logger *logrus.Logger
}

// NewNopRelay creates a logging-only relay.
func NewNopRelay(logger *logrus.Logger) *NopRelay {
	return &NopRelay{logger: logger}
}

// Send logs the message and reports success.
func (r *NopRelay) Send(msg *Outbound) error {
	r.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Relay disabled, message not transmitted")
	return nil
}
