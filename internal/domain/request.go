package domain

// Request is a validated question submission. It is immutable once enqueued.
type Request struct {
	RequestID      string `json:"request_id"`
	UserID         string `json:"user_id"`
	Question       string `json:"question"`
	Topic          string `json:"topic"`
	Timestamp      string `json:"timestamp"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// AnswerRecord is the persisted outcome of processing a Request.
type AnswerRecord struct {
	RequestID  string `json:"request_id"`
	UserID     string `json:"user_id"`
	Question   string `json:"question"`
	Topic      string `json:"topic"`
	Answer     string `json:"answer"`
	Timestamp  string `json:"timestamp"`
	AnsweredAt string `json:"answered_at,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}

// DeadLetter is a queue message that exceeded its receive limit.
type DeadLetter struct {
	MessageID      string `json:"message_id"`
	Body           string `json:"body"`
	ReceiveCount   int    `json:"receive_count"`
	Reason         string `json:"reason,omitempty"`
	DeadLetteredAt string `json:"dead_lettered_at,omitempty"`
}
