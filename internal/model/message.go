// Package model defines the core domain models used throughout the application.
package model

import "time"

// SourceChannel identifies where a raw message came from.
type SourceChannel string

// Source channel constants.
const (
	ChannelEmail SourceChannel = "email"
	ChannelSMS   SourceChannel = "sms"
)

// Attachment is an opaque blob delivered alongside a message body.
type Attachment struct {
	Name string
	Data []byte
}

// RawMessage is an inbound receipt message as delivered by the intake
// boundary. It is immutable once received.
type RawMessage struct {
	ReceivedAt  time.Time
	ID          string
	Body        string
	Channel     SourceChannel
	Attachments []Attachment
}
