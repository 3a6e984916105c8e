package progress

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mailbox-export/stats"
)

// Bar tracks settled messages against the number listed so far. The total
// grows as folders are listed.
type Bar struct {
	mu      sync.Mutex
	pb      *pterm.ProgressbarPrinter
	enabled bool
	total   int
	done    int
}

// New creates a progress bar that renders only at the info log level.
func New(logLevel string, enabled bool) *Bar {
	return &Bar{enabled: enabled && logLevel == "info"}
}

func (b *Bar) Enabled() bool {
	return b.enabled
}

// Counts returns the settled and listed message counts.
func (b *Bar) Counts() (done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done, b.total
}

// Update advances the bar for one event.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case evt.Type == stats.EventTypeListed:
		b.total += evt.Count
		if evt.Count > 0 {
			b.render(func(pb *pterm.ProgressbarPrinter) { pb.Total = b.total })
		}
	case evt.Terminal():
		b.done++
		b.render(func(pb *pterm.ProgressbarPrinter) {
			pb.Increment()
			if evt.Folder != "" {
				pb.UpdateTitle("Exporting " + truncate(evt.Folder, 40))
			}
		})
		if evt.Type == stats.EventTypeError && evt.Err != nil && b.enabled {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	case evt.Type == stats.EventTypeError:
		if evt.Err != nil && b.enabled {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// render starts the pterm bar on first use; pterm cannot draw an empty total.
func (b *Bar) render(fn func(*pterm.ProgressbarPrinter)) {
	if !b.enabled || b.total == 0 {
		return
	}
	if b.pb == nil {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(b.total).
			WithTitle("Exporting messages").
			Start()
		if err != nil {
			b.enabled = false
			return
		}
		b.pb = pb
	}
	fn(b.pb)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
	pterm.Success.Println("Export complete!")
}

// Subscriber feeds the bar from a runner event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter pairs the bar with a summary printed once the run ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
}

// NewReporter subscribes bar and its summary to stream when the bar is
// enabled and returns nil otherwise.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	if bar == nil || !bar.Enabled() {
		return nil
	}
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
	}
	stream.SubscribeStats("progress-bar", bar.Subscriber)
	stream.SubscribeStats("progress-summary", reporter.collect)
	if logger != nil {
		logger.Debug("progress bar enabled")
	}
	return reporter
}

func (r *Reporter) collect(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(r.started).Round(time.Millisecond))
	pterm.Info.Printf("Folders: %d\n", summary.Folders)
	pterm.Info.Printf("Listed: %d\n", summary.Listed)
	pterm.Info.Printf("Exported: %d\n", summary.Exported)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	if len(summary.Order) > 1 {
		return folderTable(summary).Render()
	}
	return nil
}

func folderTable(s stats.Summary) *pterm.TablePrinter {
	data := pterm.TableData{{"Folder", "Listed", "Exported", "Filtered", "Duplicates", "Errors"}}
	for _, name := range s.Order {
		t := s.PerFolder[name]
		data = append(data, []string{
			name,
			strconv.Itoa(t.Listed),
			strconv.Itoa(t.Exported),
			strconv.Itoa(t.Filtered),
			strconv.Itoa(t.Duplicates),
			strconv.Itoa(t.Errors),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data)
}
