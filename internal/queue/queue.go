// Package queue provides the durable work queue: Amazon SQS in production and
// an SQLite implementation with the same delivery semantics for local runs.
package queue

import "errors"

// ErrStaleReceipt is returned when deleting with a receipt handle that no
// longer identifies the current delivery, for example because the visibility
// timeout expired and the message was redelivered.
var ErrStaleReceipt = errors.New("queue: stale receipt handle")

// Message is one delivery of a queued body.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	// ReceiveCount includes the current delivery.
	ReceiveCount int
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Visible     int
	InFlight    int
	DeadLetters int
}
