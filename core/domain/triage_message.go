package domain

import "time"

// InboundMessage is one customer email as read from the inbox. Identity is ID.
type InboundMessage struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"thread_id"`
	Subject         string    `json:"subject"`
	SenderDisplay   string    `json:"sender"`
	SenderAddress   string    `json:"sender_email"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"received_at"`
	Labels          []string  `json:"labels,omitempty"`
	MessageIDHeader string    `json:"message_id_header,omitempty"` // RFC 5322 Message-ID, used for reply threading
}

// Text is the classification input: subject and body joined.
func (m *InboundMessage) Text() string {
	if m.Subject == "" {
		return m.Body
	}
	return m.Subject + " " + m.Body
}

// ReplySubject prefixes "Re: " unless the subject already carries it.
func (m *InboundMessage) ReplySubject() string {
	if len(m.Subject) >= 3 && (m.Subject[:3] == "Re:" || m.Subject[:3] == "RE:" || m.Subject[:3] == "re:") {
		return m.Subject
	}
	return "Re: " + m.Subject
}
