package main

import (
	"encoding/json"
	"fmt"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/spf13/cobra"
)

func newPublishCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "publish <channel> <payload-json>",
		Short:   "Publish an event, e.g. to test a gateway",
		Example: `  streamctl publish comment-added '{"itemId":"v2","comment":{"id":"c1","content":"hi"}}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			evt := entity.Event{Channel: entity.Channel(args[0]), Payload: json.RawMessage(args[1])}
			payload, err := evt.DecodePayload()
			if err != nil {
				return err
			}
			bus, err := c.infra.Bus(cmd.Context())
			if err != nil {
				return err
			}
			if err := eventbus.NewPublisher(bus, c.log).Publish(cmd.Context(), payload); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s for item %s\n", payload.Channel(), payload.ForItem())
			return err
		},
	}
}
