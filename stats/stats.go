package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageSource  Stage = "source"
	StageExtract Stage = "extract"
	StageExport  Stage = "export"
)

type EventType string

const (
	EventTypeListed    EventType = "listed"
	EventTypeFetched   EventType = "fetched"
	EventTypeFiltered  EventType = "filtered"
	EventTypeExported  EventType = "exported"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	Folder    string
	MessageID string
	Count     int
	Duration  time.Duration
	Err       error
	Detail    string
}

// Terminal reports whether evt is the final outcome of one message. Every
// listed message ends in exactly one terminal event.
func (e Event) Terminal() bool {
	return e.Stage == StageExport
}

// Tally counts outcomes for one folder or for the whole run.
type Tally struct {
	Listed     int
	Fetched    int
	Filtered   int
	Exported   int
	Duplicates int
	Errors     int
}

func (t *Tally) add(evt Event) {
	switch evt.Type {
	case EventTypeListed:
		t.Listed += evt.Count
	case EventTypeFetched:
		t.Fetched++
	case EventTypeFiltered:
		t.Filtered++
	case EventTypeExported:
		t.Exported++
	case EventTypeDuplicate:
		t.Duplicates++
	case EventTypeError:
		t.Errors++
	}
}

func (t Tally) attrs() []any {
	return []any{
		"listed", t.Listed,
		"fetched", t.Fetched,
		"filtered", t.Filtered,
		"exported", t.Exported,
		"duplicates", t.Duplicates,
		"errors", t.Errors,
	}
}

// Summary is the run total plus a Tally per folder, in listing order.
type Summary struct {
	Tally
	Folders   int
	LastError error

	Order     []string
	PerFolder map[string]Tally
}

func (s Summary) LogAttrs() []any {
	attrs := append([]any{"folders", s.Folders}, s.Tally.attrs()...)
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector folds an event stream into a Summary.
type Collector struct {
	mu      sync.Mutex
	total   Tally
	folders map[string]*Tally
	order   []string
	listed  int
	lastErr error
}

func NewCollector() *Collector {
	return &Collector{folders: make(map[string]*Tally)}
}

// Run consumes events until the channel closes or ctx ends.
func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Add(evt)
		}
	}
}

// Add records one event.
func (c *Collector) Add(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total.add(evt)
	switch {
	case evt.Type == EventTypeListed:
		c.listed++
	case evt.Type == EventTypeError && evt.Err != nil:
		c.lastErr = evt.Err
	}
	if evt.Folder == "" {
		return
	}
	t, ok := c.folders[evt.Folder]
	if !ok {
		t = &Tally{}
		c.folders[evt.Folder] = t
		c.order = append(c.order, evt.Folder)
	}
	t.add(evt)
}

// Snapshot returns a copy that is safe to read while events keep arriving.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		Tally:     c.total,
		Folders:   c.listed,
		LastError: c.lastErr,
		Order:     append([]string(nil), c.order...),
		PerFolder: make(map[string]Tally, len(c.folders)),
	}
	for name, t := range c.folders {
		s.PerFolder[name] = *t
	}
	return s
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs a per-folder breakdown and the run total once the event
// stream closes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	r := &Reporter{collector: NewCollector(), logger: logger, started: time.Now()}
	stream.SubscribeStats("stats-reporter", r.consume)
	return r
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	if err := ctx.Err(); err != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", "err", err)
		}
		return err
	}
	if r.logger == nil {
		return nil
	}

	s := r.collector.Snapshot()
	for _, name := range s.Order {
		r.logger.Info("folder summary", append([]any{"folder", name}, s.PerFolder[name].attrs()...)...)
	}
	r.logger.Info("stats summary", append(s.LogAttrs(), "duration", time.Since(r.started))...)
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Count is one tallied value.
type Count struct {
	Key   string
	Value int
}

// Top returns the entries of m ordered by descending count, ties by key.
func Top(m map[string]int, limit int) []Count {
	counts := make([]Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, Count{k, v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Value != counts[j].Value {
			return counts[i].Value > counts[j].Value
		}
		return counts[i].Key < counts[j].Key
	})
	if limit >= 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, c := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, c.Key, c.Value)
	}
}
