package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mailbox-export/extract"
	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/layout"
	"github.com/dhcgn/mailbox-export/model"
	"github.com/dhcgn/mailbox-export/stats"
)

var (
	ErrNoFolders = errors.New("no folders to export")
	ErrPanic     = errors.New("message processing panicked")
)

// Source enumerates and fetches raw messages.
type Source interface {
	List(ctx context.Context, folder string) ([]string, error)
	Fetch(ctx context.Context, folder, id string) (model.Message, error)
}

// Sink receives the ordered records of one folder.
type Sink interface {
	Write(ctx context.Context, folder string, records []model.Record) error
}

type Options struct {
	// RunID tags the run; a random one is generated when empty.
	RunID        string
	Folders      []string
	Workers      int
	FetchTimeout time.Duration
}

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type job struct {
	seq     int
	folder  string
	ordinal int
	id      string
	store   *layout.Folder
}

type result struct {
	job
	candidate extract.Candidate
	filtered  bool
	rule      string
	err       error
}

type Runner struct {
	opts   Options
	logger *slog.Logger
	runID  string

	ctx    context.Context
	cancel context.CancelFunc

	source    Source
	filter    *filter.Filter
	assembler *extract.Assembler
	layout    *layout.Layout
	sink      Sink

	jobs    chan job
	results chan result

	stages      []stage
	subscribers []chan stats.Event

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(ctx context.Context, opts Options, src Source, f *filter.Filter, a *extract.Assembler, l *layout.Layout, sink Sink, logger *slog.Logger) (*Runner, error) {
	if len(opts.Folders) == 0 {
		return nil, ErrNoFolders
	}
	if src == nil || a == nil || l == nil || sink == nil {
		return nil, fmt.Errorf("runner: source, assembler, layout and sink are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)

	r := &Runner{
		opts:      opts,
		logger:    logger.With("run", runID),
		runID:     runID,
		ctx:       ctx,
		cancel:    cancel,
		source:    src,
		filter:    f,
		assembler: a,
		layout:    l,
		sink:      sink,
		jobs:      make(chan job, 2*opts.Workers),
		results:   make(chan result, 2*opts.Workers),
	}

	r.AddStage("source", r.produce)
	r.AddStage("extract", r.extract)
	r.AddStage("export", r.collect)
	return r, nil
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, ch := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers fn to receive its own copy of the event stream.
// Subscriptions must be made before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subscribers = append(r.subscribers, ch)

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// AddStage registers a stage; stages run once Start is called.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

func (r *Runner) Start() error {
	r.since = time.Now()
	r.logger.Info("pipeline started", "folders", len(r.opts.Folders), "workers", r.opts.Workers)

	for _, s := range r.stages {
		r.workWG.Add(1)
		go func(s stage) {
			defer r.workWG.Done()
			if err := s.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", s.name, err))
			}
		}(s)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) produce(ctx context.Context) error {
	defer close(r.jobs)

	seq := 0
	for _, folder := range r.opts.Folders {
		ids, err := r.source.List(ctx, folder)
		if err != nil {
			err = fmt.Errorf("list %s: %w", folder, err)
			r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Folder: folder, Err: err})
			return err
		}
		r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeListed, Folder: folder, Count: len(ids)})
		r.logger.Info("folder listed", "folder", folder, "messages", len(ids))
		if len(ids) == 0 {
			continue
		}

		store, err := r.layout.Folder(folder)
		if err != nil {
			return err
		}

		for i, id := range ids {
			seq++
			j := job{seq: seq, folder: folder, ordinal: i + 1, id: id, store: store}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.jobs <- j:
			}
		}
	}
	return nil
}

func (r *Runner) extract(ctx context.Context) error {
	defer close(r.results)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range r.jobs {
				res := r.process(ctx, j)
				select {
				case <-ctx.Done():
					return
				case r.results <- res:
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) process(ctx context.Context, j job) (res result) {
	res.job = j
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("message processing panicked", "folder", j.folder, "id", j.id, "panic", p, "stack", string(debug.Stack()))
			res.err = fmt.Errorf("%w: %s/%s: %v", ErrPanic, j.folder, j.id, p)
		}
	}()

	fetchCtx := ctx
	if r.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
	}

	msg, err := r.source.Fetch(fetchCtx, j.folder, j.id)
	if err != nil {
		res.err = fmt.Errorf("fetch %s/%s: %w", j.folder, j.id, err)
		return res
	}
	if msg.ID == "" {
		msg.ID = j.id
	}
	msg.Folder = j.folder
	msg.Ordinal = j.ordinal

	if r.filter != nil {
		if v := r.filter.Check(msg.Raw); !v.Allowed {
			res.filtered = true
			res.rule = v.Rule
			return res
		}
	}

	c, err := r.assembler.Interpret(msg, j.store)
	if err != nil {
		res.err = err
		return res
	}
	res.candidate = c

	r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFetched, Folder: j.folder, MessageID: j.id, Duration: time.Since(started)})
	return res
}

// collect settles results in listing order so the first of several
// duplicates is always the one kept.
func (r *Runner) collect(ctx context.Context) error {
	pending := make(map[int]result)
	next := 1

	var (
		folder  string
		records []model.Record
	)

	flush := func() error {
		if folder == "" {
			return nil
		}
		if err := r.writeFolder(ctx, folder, records); err != nil {
			return err
		}
		records = nil
		return nil
	}

	for res := range r.results {
		pending[res.seq] = res
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if p.folder != folder {
				if err := flush(); err != nil {
					return err
				}
				folder = p.folder
			}
			if rec, ok := r.settle(p); ok {
				// Record IDs count retained messages only; file names
				// keep the listing ordinal.
				rec.ID = len(records) + 1
				records = append(records, rec)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

func (r *Runner) settle(res result) (model.Record, bool) {
	evt := stats.Event{Stage: stats.StageExport, Folder: res.folder, MessageID: res.id}

	switch {
	case res.err != nil:
		r.logger.Warn("message skipped", "folder", res.folder, "id", res.id, "err", res.err)
		evt.Type = stats.EventTypeError
		evt.Err = res.err
	case res.filtered:
		r.logger.Debug("message filtered", "folder", res.folder, "id", res.id, "rule", res.rule)
		evt.Type = stats.EventTypeFiltered
		evt.Detail = res.rule
	default:
		rec, ok := r.assembler.Admit(res.candidate)
		if !ok {
			r.logger.Debug("duplicate message", "folder", res.folder, "id", res.id)
			evt.Type = stats.EventTypeDuplicate
			r.EmitEvent(evt)
			return model.Record{}, false
		}
		evt.Type = stats.EventTypeExported
		r.EmitEvent(evt)
		return rec, true
	}

	r.EmitEvent(evt)
	return model.Record{}, false
}

func (r *Runner) writeFolder(ctx context.Context, folder string, records []model.Record) error {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	if err := r.sink.Write(ctx, folder, records); err != nil {
		return fmt.Errorf("write %s: %w", folder, err)
	}
	r.logger.Info("folder exported", "folder", folder, "records", len(records))
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, ch := range r.subscribers {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
