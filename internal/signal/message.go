// Package signal defines the wire-adjacent data model shared by every
// component downstream of the websocket receiver: the raw envelope, the
// parsed Message, and the descriptors Messages carry.
package signal

import "time"

// RawEnvelope is the opaque payload received from the upstream gateway. It is
// never interpreted outside the Parser; everything else treats it as bytes
// plus the moment it entered the runtime.
type RawEnvelope struct {
	Payload    []byte
	EnqueuedAt time.Time
}

// Clone returns a deep copy so storage and retry paths never alias the
// original payload slice.
func (e RawEnvelope) Clone() RawEnvelope {
	cp := make([]byte, len(e.Payload))
	copy(cp, e.Payload)
	return RawEnvelope{Payload: cp, EnqueuedAt: e.EnqueuedAt}
}

// Attachment describes a single inbound or outbound attachment reference.
type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Quote references a prior message a reply or quote-reaction points at.
type Quote struct {
	TargetTimestamp int64  `json:"target_timestamp"`
	TargetAuthor    string `json:"target_author"`
	Text            string `json:"text,omitempty"`
}

// Reaction captures an emoji reaction to a prior message.
type Reaction struct {
	Emoji           string `json:"emoji"`
	TargetTimestamp int64  `json:"target_timestamp"`
	TargetAuthor    string `json:"target_author"`
	Remove          bool   `json:"remove,omitempty"`
}

// Message is the parsed, typed form of a RawEnvelope. Source is always
// non-empty; GroupID is set for group messages, otherwise replies address
// Source directly.
type Message struct {
	Source      string       `json:"source"`
	Timestamp   int64        `json:"timestamp"`
	GroupID     string       `json:"group_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Quote       *Quote       `json:"quote,omitempty"`
	Reaction    *Reaction    `json:"reaction,omitempty"`
}

// ReplyTarget returns the identifier a reply should be addressed to: the
// group when the message arrived in one, otherwise the direct source.
func (m Message) ReplyTarget() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.Source
}

// IsGroup reports whether the message arrived in a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != ""
}
