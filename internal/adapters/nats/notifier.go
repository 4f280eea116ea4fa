package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Notifier hands register/login codes to the notification service. Delivery
// failure is surfaced to the caller, never swallowed: a code the user cannot
// receive is a dead registration.
type Notifier interface {
	SendEmailCode(email, code string) error
	SendSMSCode(phone, code string) error
}

type natsNotifier struct {
	conn         *nats.Conn
	emailSubject string
	smsSubject   string
}

func NewNotifier(conn *nats.Conn, emailSubject, smsSubject string) Notifier {
	return &natsNotifier{conn: conn, emailSubject: emailSubject, smsSubject: smsSubject}
}

type codeMessage struct {
	Recipient string `json:"recipient"`
	Code      string `json:"code"`
}

func (n *natsNotifier) SendEmailCode(email, code string) error {
	return n.publish(n.emailSubject, codeMessage{Recipient: email, Code: code})
}

func (n *natsNotifier) SendSMSCode(phone, code string) error {
	return n.publish(n.smsSubject, codeMessage{Recipient: phone, Code: code})
}

func (n *natsNotifier) publish(subject string, msg codeMessage) error {
	if n.conn == nil {
		return fmt.Errorf("notification transport is not connected")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.conn.Publish(subject, payload)
}
