package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/extract"
	"github.com/dhcgn/mailbox-export/layout"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/state"
)

var inspectOut string

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "Interpret .eml files and print the records they would export",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := inspectOut
		if out == "" {
			tmp, err := os.MkdirTemp("", "mailbox-export-inspect-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			out = filepath.Join(tmp, "export")
		}

		l, err := layout.Prepare(out)
		if err != nil {
			return err
		}
		folder, err := l.Folder("inspect")
		if err != nil {
			return err
		}

		assembler := extract.New(state.NewIndex(), nil)
		for i, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			msg := model.Message{ID: filepath.Base(path), Folder: "inspect", Ordinal: i + 1, Size: int64(len(raw)), Raw: raw}

			rec, kept, err := assembler.Assemble(msg, folder)
			if err != nil {
				pterm.Error.Printf("%s: %v\n", path, err)
				continue
			}

			pterm.DefaultSection.Println(path)
			if !kept {
				pterm.Warning.Println("duplicate of an earlier file, would not be exported")
			}
			if err := renderRecord(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectOut, "out", "", "Keep HTML dumps and attachments in this directory")
	rootCmd.AddCommand(inspectCmd)
}

func renderRecord(rec model.Record) error {
	data := pterm.TableData{{"Column", "Value"}}
	for i, value := range rec.Row() {
		data = append(data, []string{model.Columns[i], preview(value, 120)})
	}
	if len(rec.Header.Missing) > 0 {
		data = append(data, []string{"Missing headers", strings.Join(rec.Header.Missing, ", ")})
	}
	data = append(data, []string{"Attachments", strconv.Itoa(len(rec.Attachments))})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + fmt.Sprintf("… (%d more)", len(runes)-n)
}
