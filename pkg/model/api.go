package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// CollectorInfo is the API view of one registered collector.
type CollectorInfo struct {
	Handle uint64 `json:"handle"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	State  string `json:"state,omitempty"`
}

// ScheduleResult reports the outcome of one scheduling pass.
type ScheduleResult struct {
	Collectors int    `json:"collectors"`
	Duration   string `json:"duration"`
}
