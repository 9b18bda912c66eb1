package mailer

import (
	"fmt"
	"html"

	"annotation-collab-be/internal/pkg/logger"

	"gopkg.in/gomail.v2"
)

type IEmailService interface {
	SendPersistenceAlert(toEmail, documentID string, failures int, lastError string, recovered bool) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	senderName  string
	logger      logger.ILogger
}

func NewEmailService(host string, port int, username, password, senderEmail, senderName string, log logger.ILogger) IEmailService {
	return &emailService{
		dialer:      gomail.NewDialer(host, port, username, password),
		senderEmail: senderEmail,
		senderName:  senderName,
		logger:      log,
	}
}

func (s *emailService) SendPersistenceAlert(toEmail, documentID string, failures int, lastError string, recovered bool) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", toEmail)

	var body string
	if recovered {
		m.SetHeader("Subject", fmt.Sprintf("[recovered] Document %s is persisting again", documentID))
		body = fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Persistence recovered</h2>
			<p>Document <code>%s</code> was written successfully after %d failed attempts.</p>
		</div>
	`, html.EscapeString(documentID), failures)
	} else {
		m.SetHeader("Subject", fmt.Sprintf("[alert] Document %s is not being persisted", documentID))
		body = fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Persistence failing</h2>
			<p>Snapshot writes for document <code>%s</code> failed %d times in a row.</p>
			<p>Last error:</p>
			<pre>%s</pre>
			<p>The in-memory state is kept and writes keep being retried.</p>
		</div>
	`, html.EscapeString(documentID), failures, html.EscapeString(lastError))
	}
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("Mailer", "Failed to send persistence alert", map[string]interface{}{
			"to":          toEmail,
			"document_id": documentID,
			"error":       err.Error(),
		})
		return err
	}

	s.logger.Info("Mailer", "Persistence alert sent", map[string]interface{}{
		"to":          toEmail,
		"document_id": documentID,
		"recovered":   recovered,
	})
	return nil
}
