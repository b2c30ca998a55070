// Package audit captures the security-relevant events of the identity
// service. Events are fire-and-forget: a failing sink is logged, never
// surfaced to the caller.
package audit

import (
	"time"

	"github.com/mssola/useragent"
)

// EventType enumerates emitted events.
type EventType string

const (
	EventAdminRegistered      EventType = "admin.registered"
	EventAdminLoginSucceeded  EventType = "admin.login.succeeded"
	EventAdminLoginFailed     EventType = "admin.login.failed"
	EventAdminPasswordChanged EventType = "admin.password.changed"
	EventAdminUpdated         EventType = "admin.updated"
)

// Event is one audit record.
type Event struct {
	Type      EventType `json:"type"`
	AdminID   string    `json:"admin_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Browser   string    `json:"browser,omitempty"`
	OS        string    `json:"os,omitempty"`
	Mobile    bool      `json:"mobile,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WithClient annotates the event with details parsed from a raw User-Agent
// header. Unparseable agents leave the fields empty.
func (e Event) WithClient(rawUserAgent string) Event {
	if rawUserAgent == "" {
		return e
	}
	ua := useragent.New(rawUserAgent)
	name, version := ua.Browser()
	if version != "" {
		name += "/" + version
	}
	e.Browser = name
	e.OS = ua.OS()
	e.Mobile = ua.Mobile()
	return e
}
