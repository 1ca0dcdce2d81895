package main

import "time"

// DeliverRequest is one inbound message from the reception collaborator.
// Timestamp is epoch milliseconds; zero means "now".
type DeliverRequest struct {
	Sender    string `json:"sender" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Timestamp int64  `json:"timestamp"`
}

// ReceivedAt resolves the delivery time.
func (r *DeliverRequest) ReceivedAt() time.Time {
	if r.Timestamp <= 0 {
		return time.Now()
	}
	return time.UnixMilli(r.Timestamp)
}

// DedupCheckResponse answers the companion application's duplicate query.
type DedupCheckResponse struct {
	Processed bool   `json:"processed"`
	Key       string `json:"key"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Store     string            `json:"store"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
