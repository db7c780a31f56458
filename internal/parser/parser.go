// Package parser turns a RawEnvelope into a signal.Message. It performs no
// I/O and is fully deterministic.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
)

// wireEnvelope mirrors the upstream gateway's JSON-RPC envelope shape. Field
// names follow signald/signal-cli conventions; unknown fields are ignored by
// encoding/json's default decoding behavior.
type wireEnvelope struct {
	Envelope struct {
		Source    string `json:"source"`
		Timestamp int64  `json:"timestamp"`
		DataMessage *struct {
			GroupInfo *struct {
				GroupID string `json:"groupId"`
			} `json:"groupInfo"`
			Message     string `json:"message"`
			Attachments []struct {
				ID          string `json:"id"`
				ContentType string `json:"contentType"`
				Filename    string `json:"filename"`
				Size        int64  `json:"size"`
			} `json:"attachments"`
			Quote *struct {
				ID     int64  `json:"id"`
				Author string `json:"author"`
				Text   string `json:"text"`
			} `json:"quote"`
			Reaction *struct {
				Emoji           string `json:"emoji"`
				TargetTimestamp int64  `json:"targetSentTimestamp"`
				TargetAuthor    string `json:"targetAuthor"`
				IsRemove        bool   `json:"isRemove"`
			} `json:"reaction"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// Parse converts a RawEnvelope into a Message, or returns a
// signalerr.KindUnparseable error when source/timestamp are missing or the
// payload isn't valid JSON.
func Parse(raw signal.RawEnvelope) (signal.Message, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw.Payload, &w); err != nil {
		return signal.Message{}, signalerr.New(signalerr.KindUnparseable, "", fmt.Errorf("decode: %w", err))
	}
	if w.Envelope.Source == "" {
		return signal.Message{}, signalerr.New(signalerr.KindUnparseable, "", fmt.Errorf("missing source"))
	}
	if w.Envelope.Timestamp == 0 {
		return signal.Message{}, signalerr.New(signalerr.KindUnparseable, "", fmt.Errorf("missing timestamp"))
	}

	msg := signal.Message{
		Source:    w.Envelope.Source,
		Timestamp: w.Envelope.Timestamp,
	}

	dm := w.Envelope.DataMessage
	if dm == nil {
		return msg, nil
	}
	if dm.GroupInfo != nil && dm.GroupInfo.GroupID != "" {
		msg.GroupID = dm.GroupInfo.GroupID
	}
	if dm.Message != "" {
		msg.Text = dm.Message
	}
	for _, a := range dm.Attachments {
		msg.Attachments = append(msg.Attachments, signal.Attachment{
			ID:          a.ID,
			ContentType: a.ContentType,
			Filename:    a.Filename,
			SizeBytes:   a.Size,
		})
	}
	if dm.Quote != nil {
		msg.Quote = &signal.Quote{
			TargetTimestamp: dm.Quote.ID,
			TargetAuthor:    dm.Quote.Author,
			Text:            dm.Quote.Text,
		}
	}
	if dm.Reaction != nil {
		msg.Reaction = &signal.Reaction{
			Emoji:           dm.Reaction.Emoji,
			TargetTimestamp: dm.Reaction.TargetTimestamp,
			TargetAuthor:    dm.Reaction.TargetAuthor,
			Remove:          dm.Reaction.IsRemove,
		}
	}
	return msg, nil
}
