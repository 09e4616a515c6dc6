package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"fieldserve_backend/platform/config"
)

// SMTPSender implements Sender using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host          string
	port          int
	username      string
	password      string
	fromName      string
	fromEmail     string
	operatorEmail string
}

// NewSMTPSender creates a new SMTPSender from the email configuration.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		host:          cfg.GetSMTPHost(),
		port:          cfg.GetSMTPPort(),
		username:      cfg.GetSMTPUsername(),
		password:      cfg.GetSMTPPassword(),
		fromName:      cfg.GetEmailFromName(),
		fromEmail:     cfg.GetEmailFromAddress(),
		operatorEmail: cfg.GetOperatorEmail(),
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

// SendDeadLetterAlert notifies the operator that a retry queue entry has
// exhausted its attempts and needs manual attention.
func (s *SMTPSender) SendDeadLetterAlert(ctx context.Context, notice DeadLetterNotice) error {
	content, err := renderEmailTemplate("dead_letter.html", deadLetterEmailData{
		baseEmailData: baseEmailData{
			Title:   "Manual intervention required",
			Heading: "A service request could not be processed",
		},
		EntryID:       notice.EntryID,
		TransactionID: notice.TransactionID,
		Operation:     notice.Operation,
		LastError:     notice.LastError,
		Attempts:      notice.Attempts,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, s.operatorEmail, subjectDeadLetter, content)
}

// SendDispatchExpiredAlert notifies the operator that a job request closed
// without any subcontractor accepting it.
func (s *SMTPSender) SendDispatchExpiredAlert(ctx context.Context, notice DispatchExpiredNotice) error {
	content, err := renderEmailTemplate("dispatch_expired.html", dispatchExpiredEmailData{
		baseEmailData: baseEmailData{
			Title:   "Unassigned job request",
			Heading: "No subcontractor accepted this job",
		},
		JobRequestID: notice.JobRequestID,
		ServiceType:  notice.ServiceType,
		AreaCode:     notice.AreaCode,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, s.operatorEmail, subjectDispatchExpired, content)
}
