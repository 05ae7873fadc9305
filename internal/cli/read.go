package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mestor"
	"github.com/roach88/mestor/internal/reader"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	From int64
	Max  int
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read <stream>",
		Short: "Read messages from a stream in global order",
		Long: `Read messages from a category or entity stream, ordered by global position.

Examples:
  mestor read orders
  mestor read orders-42 --from 10 --max 50
  mestor read orders --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(contextOf(cmd), opts, cmd, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "lowest global position to return")
	cmd.Flags().IntVar(&opts.Max, "max", reader.DefaultMaxMessages, "maximum number of messages")

	return cmd
}

func runRead(ctx context.Context, opts *ReadOptions, cmd *cobra.Command, streamName string) error {
	client, _, err := opts.openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	msgs, err := client.Read(ctx, streamName, opts.From, opts.Max)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read "+streamName, err)
	}
	opts.formatter(cmd).VerboseLog("read %d messages from %s", len(msgs), streamName)

	return opts.formatter(cmd).Result(msgs, func(w io.Writer) error {
		if len(msgs) == 0 {
			_, err := fmt.Fprintf(w, "No messages in %s.\n", streamName)
			return err
		}
		for _, msg := range msgs {
			if err := writeMessage(w, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewLastCommand creates the last command.
func NewLastCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "last <stream>",
		Short: "Show the most recent message of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLast(contextOf(cmd), rootOpts, cmd, args[0])
		},
	}
}

func runLast(ctx context.Context, opts *RootOptions, cmd *cobra.Command, streamName string) error {
	client, _, err := opts.openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	msg, ok, err := client.ReadLastMessage(ctx, streamName)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read "+streamName, err)
	}

	var data *mestor.Message
	if ok {
		data = &msg
	}
	return opts.formatter(cmd).Result(data, func(w io.Writer) error {
		if !ok {
			_, err := fmt.Fprintf(w, "No messages in %s.\n", streamName)
			return err
		}
		return writeMessage(w, msg)
	})
}

// PositionResult is the JSON shape of the position command.
type PositionResult struct {
	Stream   string `json:"stream"`
	Category string `json:"category"`
	Position int64  `json:"position"`
}

// NewPositionCommand creates the position command.
func NewPositionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "position <stream>",
		Short: "Show the current position counter of a stream's category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosition(contextOf(cmd), rootOpts, cmd, args[0])
		},
	}
}

func runPosition(ctx context.Context, opts *RootOptions, cmd *cobra.Command, streamName string) error {
	client, _, err := opts.openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	pos, err := client.CurrentPosition(ctx, streamName)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read position of "+streamName, err)
	}

	result := PositionResult{Stream: streamName, Category: categoryOf(streamName), Position: pos}
	return opts.formatter(cmd).Result(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: %d\n", result.Category, result.Position)
		return err
	})
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
