package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mestor/internal/stream"
)

// StreamResult is the JSON shape of the stream command.
type StreamResult struct {
	stream.Name
	Type string `json:"type"`
}

// NewStreamCommand creates the stream command. It needs no store.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <name>",
		Short: "Show how a stream name splits into category and entity id",
		Long: `Show the category, entity id and type of a stream name.

The category is the text before the first "-"; everything after it is the
entity id. A name without "-" is a category stream.

Examples:
  mestor stream orders-42
  mestor stream account-7f3a-eu`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := stream.Parse(args[0])
			result := StreamResult{Name: name, Type: name.Type.String()}
			return rootOpts.formatter(cmd).Result(result, func(w io.Writer) error {
				return writeStreamName(w, name)
			})
		},
	}
}

func writeStreamName(w io.Writer, name stream.Name) error {
	entityID := name.EntityID
	if entityID == "" {
		entityID = "-"
	}
	_, err := fmt.Fprintf(w, "name:      %s\ncategory:  %s\nentity id: %s\ntype:      %s\n",
		name.Raw, name.Category, entityID, name.Type)
	return err
}

func categoryOf(streamName string) string {
	return stream.Category(streamName)
}
