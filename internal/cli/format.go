package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/mestor"
	"github.com/roach88/mestor/internal/message"
)

// writeMessage renders msg as one line of key=value pairs.
func writeMessage(w io.Writer, msg mestor.Message) error {
	_, err := fmt.Fprintf(w, "global_position=%d stream=%s position=%d type=%s id=%s time=%s",
		msg.GlobalPosition, msg.StreamName, msg.Position, msg.Type, msg.ID, msg.Time.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if err := writePayload(w, "data", msg.Data); err != nil {
		return err
	}
	if err := writePayload(w, "metadata", msg.Metadata); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func writePayload(w io.Writer, key string, p mestor.Payload) error {
	if p == nil {
		return nil
	}
	raw, err := message.MarshalPayload(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, " %s=%s", key, raw)
	return err
}

// parsePayload decodes a JSON object flag value. Empty means no payload.
func parsePayload(flag, value string) (mestor.Payload, error) {
	if value == "" {
		return nil, nil
	}
	p, err := message.UnmarshalPayload([]byte(value))
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object: %v", flag, err))
	}
	return p, nil
}
