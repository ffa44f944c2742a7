package main

import (
	"fmt"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/spf13/cobra"
)

func newItemCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Read and edit items",
	}
	cmd.AddCommand(
		newItemGetCmd(c),
		newItemListCmd(c),
		newItemUpdateCmd(c),
		newItemViewCmd(c),
		newItemLikeCmd(c),
		newItemCommentCmd(c),
	)
	return cmd
}

func newItemGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <item-id>",
		Short: "Show an item, served from the cache when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			item, err := svc.GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
}

func newItemListCmd(c *cli) *cobra.Command {
	var q entity.ListQuery
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a page of items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Status = entity.ItemStatus(status)
			if q.Status != "" && !q.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			page, err := svc.ListItems(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 10, "page size")
	cmd.Flags().StringVar(&status, "status", string(entity.ItemStatusReady), "pending, processing, ready or failed")
	return cmd
}

func newItemUpdateCmd(c *cli) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Change the title or description of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta entity.ItemMetadata
			if cmd.Flags().Changed("title") {
				meta.Title = &title
			}
			if cmd.Flags().Changed("description") {
				meta.Description = &description
			}
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			item, err := svc.UpdateItem(cmd.Context(), args[0], meta)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func newItemViewCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "view <item-id>",
		Short: "Count one view of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			item, err := svc.IncrementViews(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"viewCount": item.ViewCount})
		},
	}
}

func newItemLikeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "like <item-id> <user-id>",
		Short: "Toggle a user's like on an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			liked, err := svc.ToggleLike(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"liked": liked})
		},
	}
}

func newItemCommentCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <item-id> <user-id> <content>",
		Short: "Add a comment to an item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context())
			if err != nil {
				return err
			}
			comment, err := svc.AddComment(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), comment)
		},
	}
}
