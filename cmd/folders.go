package cmd

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/source"
)

var countMessages bool

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the folders of the configured source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}
		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		ctx := cmd.Context()
		src, err := source.Open(ctx, sourceOptions(cfg), logger)
		if err != nil {
			return err
		}
		defer src.Close()

		folders, err := src.Folders(ctx)
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}

		data := pterm.TableData{{"Folder"}}
		if countMessages {
			data[0] = append(data[0], "Messages")
		}
		for _, folder := range folders {
			row := []string{folder}
			if countMessages {
				ids, err := src.List(ctx, folder)
				if err != nil {
					logger.Warn("listing folder failed", "folder", folder, "err", err)
					row = append(row, "?")
				} else {
					row = append(row, strconv.Itoa(len(ids)))
				}
			}
			data = append(data, row)
		}

		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	foldersCmd.Flags().BoolVar(&countMessages, "count", false, "Also count the messages in each folder")
	rootCmd.AddCommand(foldersCmd)
}
