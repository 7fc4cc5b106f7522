package model

import "time"

// NotificationStatus is the outcome of one channel attempt
type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)

// NotificationRecord audits a single channel attempt for an alert
type NotificationRecord struct {
	ID              string             `json:"id"`
	AlertInstanceID string             `json:"alert_instance_id"`
	Channel         Channel            `json:"channel"`
	Recipient       string             `json:"recipient"`
	Status          NotificationStatus `json:"status"`
	Error           string             `json:"error,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}
