package domain

import "time"

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryAbandoned DeliveryStatus = "abandoned"
)

// DeliveryAttempt records one try at delivering an analysis result to a
// subscriber. The attempts for a (post, subscriber) pair form the delivery
// history and terminate in delivered or abandoned.
type DeliveryAttempt struct {
	PostKey      PostKey        `json:"post_key"`
	SubscriberID int64          `json:"subscriber_id"`
	Attempt      int            `json:"attempt"`
	Status       DeliveryStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	AttemptedAt  time.Time      `json:"attempted_at"`
}

// Terminal reports whether the attempt ends the delivery history for its
// subscriber.
func (a DeliveryAttempt) Terminal() bool {
	return a.Status == DeliveryDelivered || a.Status == DeliveryAbandoned
}
