package message

import (
	"fmt"

	"github.com/roach88/mestor/internal/store"
	"github.com/roach88/mestor/internal/stream"
)

// ToRecord converts a message into its stored form.
func ToRecord(msg Message) (store.Record, error) {
	data, err := MarshalPayload(msg.Data)
	if err != nil {
		return store.Record{}, fmt.Errorf("message %q: data: %w", msg.ID, err)
	}
	metadata, err := MarshalPayload(msg.Metadata)
	if err != nil {
		return store.Record{}, fmt.Errorf("message %q: metadata: %w", msg.ID, err)
	}

	return store.Record{
		ID:             msg.ID,
		Type:           msg.Type,
		StreamName:     msg.StreamName,
		Category:       stream.Category(msg.StreamName),
		Position:       msg.Position,
		GlobalPosition: msg.GlobalPosition,
		Time:           msg.Time,
		Data:           data,
		Metadata:       metadata,
	}, nil
}

// FromRecord converts a stored record back into a message.
func FromRecord(rec store.Record) (Message, error) {
	data, err := UnmarshalPayload(rec.Data)
	if err != nil {
		return Message{}, fmt.Errorf("message %q: data: %w", rec.ID, err)
	}
	metadata, err := UnmarshalPayload(rec.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("message %q: metadata: %w", rec.ID, err)
	}

	return Message{
		ID:             rec.ID,
		Type:           rec.Type,
		StreamName:     rec.StreamName,
		Position:       rec.Position,
		GlobalPosition: rec.GlobalPosition,
		Time:           rec.Time,
		Data:           data,
		Metadata:       metadata,
	}, nil
}

// FromRecords converts records in order.
func FromRecords(recs []store.Record) ([]Message, error) {
	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
