package cmd

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/header"
	"github.com/dhcgn/mailbox-export/source"
	"github.com/dhcgn/mailbox-export/stats"
)

var (
	reportDir string
	topN      int
)

var headersToTrack = []string{"Folder", "Delivered-To", "Subject", "From", "To"}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the most frequent senders, recipients and subjects of the configured folders",
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

		folders, err := resolveFolders(ctx, cfg, src)
		if err != nil {
			return err
		}

		f, err := filter.New(filterOptions(cfg))
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		counter := make(map[string]map[string]int)
		for _, h := range headersToTrack {
			counter[h] = make(map[string]int)
		}

		messageCount := 0
		skippedCount := 0
		failedCount := 0
		printStats := func() {
			// ANSI escape code to clear screen and move cursor to top-left
			fmt.Print("\033[H\033[2J")
			totalMessages := messageCount + skippedCount
			var filterPercent float64
			if totalMessages > 0 {
				filterPercent = float64(skippedCount) / float64(totalMessages) * 100
			}
			fmt.Printf("Processed %d messages (skipped %d by filters, %.2f%%, %d unreadable)...\n\n", messageCount, skippedCount, filterPercent, failedCount)

			if printFilterStats(f.GetStats()) {
				fmt.Println("---")
				fmt.Println()
			}

			for _, h := range headersToTrack {
				fmt.Printf("Top %d %s:\n", topN, h)
				stats.PrettyPrintTop(counter[h], topN)
				fmt.Println()
			}
		}

		for _, folder := range folders {
			ids, err := src.List(ctx, folder)
			if err != nil {
				return fmt.Errorf("list %s: %w", folder, err)
			}
			for _, id := range ids {
				msg, err := src.Fetch(ctx, folder, id)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("fetch failed", "folder", folder, "id", id, "err", err)
					failedCount++
					continue
				}
				if !f.AllowsMessage(msg.Raw) {
					skippedCount++
					continue
				}

				values, err := trackedValues(folder, msg.Raw)
				if err != nil {
					logger.Debug("unreadable header", "folder", folder, "id", id, "err", err)
					failedCount++
					continue
				}

				messageCount++
				for h, value := range values {
					if value != "" {
						counter[h][value]++
					}
				}

				if messageCount%250 == 0 {
					printStats()
				}
			}
		}

		// Final print
		printStats()

		if err := saveCSVReports(counter, headersToTrack, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	rootCmd.AddCommand(statsCmd)
}

// trackedValues reads the counted header values of one raw message. Sender,
// recipients and subject are interpreted the same way the export does.
func trackedValues(folder string, raw []byte) (map[string]string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	h := header.Interpret(entity.Header)
	return map[string]string{
		"Folder":       folder,
		"Delivered-To": strings.TrimSpace(entity.Header.Get("Delivered-To")),
		"Subject":      h.Subject,
		"From":         h.Sender,
		"To":           h.Recipients,
	}, nil
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, h := range headers {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(h)))
		if err := writeCountsCSV(path, stats.Top(counter[h], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCountsCSV(path string, counts []stats.Count) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Key, strconv.Itoa(c.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func normalizeHeaderName(h string) string {
	name := strings.ToLower(h)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

// printFilterStats prints the hit counts of every configured pattern and
// reports whether anything was printed.
func printFilterStats(s filter.Stats) bool {
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters:", s.IncludeHeaderPatterns, s.IncludeHeaderHits},
		{"Include Body Filters:", s.IncludeBodyPatterns, s.IncludeBodyHits},
		{"Exclude Header Filters:", s.ExcludeHeaderPatterns, s.ExcludeHeaderHits},
		{"Exclude Body Filters:", s.ExcludeBodyPatterns, s.ExcludeBodyHits},
	}

	printed := false
	for _, sec := range sections {
		if len(sec.patterns) == 0 {
			continue
		}
		printed = true
		fmt.Println(sec.title)
		printFilterHits(sec.patterns, sec.hits)
		fmt.Println()
	}
	return printed
}

func printFilterHits(patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Printf("  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Printf("  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
