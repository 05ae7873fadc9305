package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mestor"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Type            string
	ID              string
	Data            string
	Metadata        string
	ExpectedVersion int64
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <stream>",
		Short: "Append a message to a stream",
		Long: `Append one message to a stream and print its assigned positions.

Exit codes:
  0 - Message written
  1 - Write rejected (version conflict, duplicate id, invalid message)
  2 - Command error (bad flags, store unavailable, etc.)

Examples:
  mestor write orders-42 --type OrderPlaced --data '{"total":1200}'
  mestor write orders-42 --type OrderShipped --expected-version 1
  mestor write orders-43 --type OrderPlaced --expected-version 0 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(contextOf(cmd), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "message type (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.ID, "id", "", "message id (defaults to a new UUIDv7)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "message data as a JSON object")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "message metadata as a JSON object")
	cmd.Flags().Int64Var(&opts.ExpectedVersion, "expected-version", -1, "required last stream position (-1 skips the check, 0 requires an empty stream)")

	return cmd
}

func runWrite(ctx context.Context, opts *WriteOptions, cmd *cobra.Command, streamName string) error {
	if opts.ExpectedVersion < -1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--expected-version must be -1 or more, got %d", opts.ExpectedVersion))
	}

	data, err := parsePayload("data", opts.Data)
	if err != nil {
		return err
	}
	metadata, err := parsePayload("metadata", opts.Metadata)
	if err != nil {
		return err
	}

	client, _, err := opts.openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	id := opts.ID
	if id == "" {
		id = client.NewID()
	}
	expected := mestor.AnyVersion()
	if opts.ExpectedVersion >= 0 {
		expected = mestor.Exact(opts.ExpectedVersion)
	}

	out := opts.formatter(cmd)
	written, err := client.Write(ctx, streamName, mestor.Message{
		ID:       id,
		Type:     opts.Type,
		Data:     data,
		Metadata: metadata,
	}, expected)
	if err != nil {
		_ = out.Error(ErrorCode(err), err.Error(), nil)
		return writeExitError(err)
	}

	return out.Result(written, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Wrote %s to %s at position %d (global position %d)\n",
			written.ID, written.StreamName, written.Position, written.GlobalPosition)
		return err
	})
}
