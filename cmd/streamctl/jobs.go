package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"github.com/rohittredhu/stream-flix/internal/usecase"
	"github.com/spf13/cobra"
)

func newSubmitCmd(c *cli) *cobra.Command {
	var req usecase.SubmitRequest
	var thumbnail string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a pending item and enqueue its processing job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			if thumbnail != "" {
				req.ThumbnailFilePath = &thumbnail
			}
			item, jobID, err := svc.SubmitProcessing(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"itemId": item.ID, "jobId": jobID})
		},
	}
	cmd.Flags().StringVar(&req.UploaderID, "uploader", "", "uploader user id")
	cmd.Flags().StringVar(&req.Title, "title", "", "item title")
	cmd.Flags().StringVar(&req.Description, "description", "", "item description")
	cmd.Flags().StringVar(&req.MediaFilePath, "media", "", "path of the uploaded media file")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "path of the uploaded thumbnail, optional")
	_ = cmd.MarkFlagRequired("uploader")
	_ = cmd.MarkFlagRequired("media")
	return cmd
}

// newEnqueueCmd enqueues a job for an existing item without touching the
// database, e.g. to re-run a failed ingestion.
func newEnqueueCmd(c *cli) *cobra.Command {
	var payload entity.ProcessItemPayload
	var thumbnail string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a processing job for an existing item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if thumbnail != "" {
				payload.ThumbnailFilePath = &thumbnail
			}
			if err := payload.Validate(); err != nil {
				return err
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			q, err := c.infra.Queue(cmd.Context())
			if err != nil {
				return err
			}
			jobID, err := q.Enqueue(cmd.Context(), entity.JobKindProcessItem, raw, c.jobOptions())
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			metrics.JobsEnqueuedTotal.WithLabelValues(entity.JobKindProcessItem).Inc()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return err
		},
	}
	cmd.Flags().StringVar(&payload.ItemID, "item", "", "item id")
	cmd.Flags().StringVar(&payload.MediaFilePath, "media", "", "path of the uploaded media file")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "path of the uploaded thumbnail, optional")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state, progress and attempts of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := c.inspector(cmd.Context())
			if err != nil {
				return err
			}
			job, err := in.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newFailedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "failed [limit]",
		Short: "List dead-lettered jobs, most recent first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 20
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid limit %q", args[0])
				}
				limit = n
			}
			in, err := c.inspector(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := in.Failed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
}
