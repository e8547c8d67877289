// Package pipeline assembles the memory pipeline from configuration and runs
// its background loops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/reverie/pkg/archive"
	"github.com/papercomputeco/reverie/pkg/bgcontext"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/reverie/pkg/embeddings/utils"
	"github.com/papercomputeco/reverie/pkg/eventstream"
	eventkafka "github.com/papercomputeco/reverie/pkg/eventstream/kafka"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/insights"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	jobkafka "github.com/papercomputeco/reverie/pkg/jobqueue/kafka"
	"github.com/papercomputeco/reverie/pkg/jobqueue/local"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflection"
	"github.com/papercomputeco/reverie/pkg/reflector"
	"github.com/papercomputeco/reverie/pkg/rollup"
	"github.com/papercomputeco/reverie/pkg/session"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/inmemory"
	"github.com/papercomputeco/reverie/pkg/storage/postgres"
	"github.com/papercomputeco/reverie/pkg/storage/sqlite"
	"github.com/papercomputeco/reverie/pkg/vector"
	vectorutils "github.com/papercomputeco/reverie/pkg/vector/utils"
)

// DefaultShutdownTimeout bounds how long Serve waits for in-flight jobs
// after its context ends.
const DefaultShutdownTimeout = 30 * time.Second

// ErrLocalQueueWorker is returned by Consume for an in-process queue, which
// only the serving process can drain.
var ErrLocalQueueWorker = errors.New("a standalone worker requires queue.provider = kafka")

// Options tune New.
type Options struct {
	// Reflector replaces the reflector built from configuration.
	Reflector reflector.Reflector

	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Pipeline is a fully wired memory pipeline.
type Pipeline struct {
	Store    storage.Driver
	Archive  storage.ArchiveStore
	Index    vector.VectorDriver
	Embedder embeddings.Embedder
	Queue    jobqueue.Queue
	Events   eventstream.Publisher

	Agents     *Agents
	Tracker    *session.Tracker
	Dispatcher *reflection.Dispatcher
	Worker     *reflection.Worker
	Scheduler  *rollup.Scheduler
	Contexts   *bgcontext.Builder
	Insights   *insights.Refresher

	// Indexed is the vector-indexed archive, nil without a vector store.
	Indexed *archive.IndexedStore

	cfg             *config.Config
	localQueue      bool
	shutdownTimeout time.Duration
	logger          *slog.Logger
	closers         []func() error
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Pipeline, err error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	p := &Pipeline{
		cfg:             cfg,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger.With("component", "pipeline"),
		Agents:          NewAgents(cfg.Agents),
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	if err := p.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := p.openIndex(ctx); err != nil {
		return nil, err
	}
	if err := p.openEvents(); err != nil {
		return nil, err
	}
	if err := p.openQueue(); err != nil {
		return nil, err
	}

	refl := opts.Reflector
	if refl == nil {
		refl, err = reflector.New(reflector.Config{
			Provider: cfg.Reflector.Provider,
			Model:    cfg.Reflector.Model,
			APIKey:   cfg.Reflector.APIKey,
			BaseURL:  cfg.Reflector.BaseURL,
			Logger:   opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating reflector: %w", err)
		}
	}

	backoff := reflection.Backoff{
		Base: cfg.Reflection.BackoffBase(),
		Max:  cfg.Reflection.BackoffMax(),
	}

	p.Dispatcher, err = reflection.NewDispatcher(reflection.DispatcherConfig{
		Queue:          p.Queue,
		DeadLetters:    p.Store,
		Events:         p.Events,
		ReflectorFor:   p.Agents.ReflectorFor,
		SubmitAttempts: int(cfg.Reflection.SubmitAttempts),
		Backoff:        backoff,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	p.Worker, err = reflection.NewWorker(reflection.WorkerConfig{
		Archive:     p.Archive,
		Blocks:      p.Store,
		DeadLetters: p.Store,
		Reflector:   refl,
		Events:      p.Events,
		MaxAttempts: int(cfg.Reflection.MaxAttempts),
		Backoff:     backoff,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	p.Tracker = session.NewTracker(session.Config{
		Timeout: cfg.Session.Timeout(),
		OnEnd:   p.Dispatcher.Dispatch,
		Logger:  opts.Logger,
	})

	p.Scheduler, err = rollup.NewScheduler(rollup.Config{
		Archive:        p.Archive,
		Cursors:        p.Store,
		Reflector:      refl,
		Agents:         p.Agents.Set(),
		ReflectorFor:   p.Agents.ReflectorFor,
		Events:         p.Events,
		DailyInterval:  cfg.Rollup.DailyInterval(),
		WeeklyInterval: cfg.Rollup.WeeklyInterval(),
		Settle:         cfg.Rollup.Settle(),
		Reconcile:      cfg.Rollup.Reconcile(),
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	p.Contexts, err = bgcontext.NewBuilder(bgcontext.Config{
		Archive:           p.Archive,
		Blocks:            p.Store,
		Agents:            p.Agents.Set(),
		PersistentContext: p.Agents.PersistentContext,
		Events:            p.Events,
		MaxChars:          int(cfg.Context.MaxChars),
		RefreshInterval:   cfg.Context.RefreshInterval(),
		TopicWindow:       cfg.Context.TopicWindow(),
		RecentLookback:    cfg.Context.RecentLookback(),
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	p.Insights, err = insights.NewRefresher(insights.Config{
		Sessions:     p.Tracker,
		Blocks:       p.Store,
		Reflector:    refl,
		ReflectorFor: p.Agents.InsightsFor,
		Events:       p.Events,
		Interval:     cfg.Insights.Interval(),
		RecentTurns:  int(cfg.Insights.RecentTurns),
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) openStorage(ctx context.Context) error {
	sc := p.cfg.Storage

	switch sc.Driver {
	case "memory":
		p.Store = inmemory.NewDriver()
	case "sqlite", "":
		d, err := sqlite.NewDriver(ctx, sc.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite storage: %w", err)
		}
		p.Store = d
	case "postgres":
		d, err := postgres.NewDriver(ctx, sc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("opening postgres storage: %w", err)
		}
		p.Store = d
	default:
		return fmt.Errorf("unsupported storage driver: %s", sc.Driver)
	}

	p.closers = append(p.closers, p.Store.Close)
	p.Archive = p.Store
	p.logger.Info("storage ready", "driver", sc.Driver)
	return nil
}

// openIndex wraps the archive in a vector index when one is configured.
func (p *Pipeline) openIndex(ctx context.Context) error {
	vc := p.cfg.VectorStore
	if vc.Provider == "" {
		return nil
	}

	ec := p.cfg.Embedding
	embedder, err := embeddingutils.FromConfig(ec)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	p.Embedder = embedder
	p.closers = append(p.closers, embedder.Close)

	index, err := vectorutils.FromConfig(ctx, vc, ec.Dimensions, p.cfg.Storage.SQLitePath, p.logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	p.Index = index
	p.closers = append(p.closers, index.Close)

	p.Indexed, err = archive.New(archive.Config{
		Store:         p.Store,
		Index:         index,
		Embedder:      embedder,
		RetryInterval: vc.ReindexInterval(),
		Logger:        p.logger,
	})
	if err != nil {
		return err
	}
	p.Archive = p.Indexed

	p.logger.Info("summary index ready", "provider", vc.Provider, "embedding_model", ec.Model)
	return nil
}

func (p *Pipeline) openEvents() error {
	ec := p.cfg.Events

	switch ec.Provider {
	case "nop", "":
		p.Events = nop.NewPublisher()
	case "kafka":
		pub, err := eventkafka.NewPublisher(eventkafka.Config{
			Brokers: ec.BrokerList(),
			Topic:   ec.Topic,
			Logger:  p.logger,
		})
		if err != nil {
			return fmt.Errorf("creating event publisher: %w", err)
		}
		p.Events = pub
	default:
		return fmt.Errorf("unsupported events provider: %s", ec.Provider)
	}

	p.closers = append(p.closers, p.Events.Close)
	return nil
}

func (p *Pipeline) openQueue() error {
	qc := p.cfg.Queue

	switch qc.Provider {
	case "local", "":
		q, err := local.New(&local.Config{
			NumWorkers: p.cfg.Reflection.Workers,
			QueueSize:  p.cfg.Reflection.QueueSize,
			OnAbandon:  p.abandon,
			Logger:     p.logger,
		})
		if err != nil {
			return err
		}
		p.Queue = q
		p.localQueue = true
	case "kafka":
		q, err := jobkafka.New(jobkafka.Config{
			Brokers:  qc.BrokerList(),
			Topic:    qc.Topic,
			GroupID:  qc.GroupID,
			OnReject: p.reject,
			Logger:   p.logger,
		})
		if err != nil {
			return fmt.Errorf("creating kafka queue: %w", err)
		}
		p.Queue = q
	default:
		return fmt.Errorf("unsupported queue provider: %s", qc.Provider)
	}

	p.closers = append(p.closers, p.Queue.Close)
	return nil
}

// reject dead-letters queue messages that cannot be decoded. The worker is
// built after the queue, so it is looked up per call.
func (p *Pipeline) reject(ctx context.Context, payload []byte, cause error) error {
	return p.Worker.Reject(ctx, payload, cause)
}

// abandon dead-letters jobs the in-process queue gave up on, so that a
// restart can replay them.
func (p *Pipeline) abandon(job *jobqueue.ReflectionJob, cause error) {
	dl := &storage.DeadLetter{
		ID:        ulid.Make().String(),
		Job:       *job,
		LastError: cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if err := p.Store.PutDeadLetter(context.Background(), dl); err != nil {
		p.logger.Error("failed to dead-letter abandoned job",
			"agent_id", job.AgentID,
			"session_id", job.SessionID,
			"error", err,
		)
		return
	}
	p.logger.Warn("abandoned job dead-lettered",
		"agent_id", job.AgentID,
		"session_id", job.SessionID,
		"dead_letter_id", dl.ID,
	)
}

// Serve runs the timeout scanner, the job consumer, the rollup scheduler,
// the context builder, the insights refresher and, with a vector store, the
// index retry loop until ctx ends. It then ends open sessions, waits
// for their jobs to be submitted and, for the in-process queue, handled.
func (p *Pipeline) Serve(ctx context.Context) error {
	consumeCtx, stopConsume := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsume()

	consumed := make(chan error, 1)
	go func() {
		consumed <- p.Queue.Consume(consumeCtx, p.Worker.Handle)
	}()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		p.Tracker.RunTimeoutScanner(ctx, p.cfg.Session.ScanInterval())
	}()
	go func() {
		defer wg.Done()
		p.Scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.Contexts.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.Insights.Run(ctx)
	}()
	if p.Indexed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Indexed.Run(ctx)
		}()
	}

	var consumeErr error
	select {
	case <-ctx.Done():
	case consumeErr = <-consumed:
		consumed = nil
	}
	wg.Wait()

	return errors.Join(consumeErr, p.drain(consumed, stopConsume))
}

func (p *Pipeline) drain(consumed <-chan error, stopConsume context.CancelFunc) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()

	for _, s := range p.Tracker.Active() {
		p.Tracker.EndSession(s.ConnectionID, memory.EndReasonDisconnect)
	}

	err := p.Dispatcher.Close(shutdownCtx)

	if consumed == nil {
		return err
	}
	if p.localQueue {
		// Consumers return once the closed queue is drained.
		_ = p.Queue.Close()
		select {
		case consumeErr := <-consumed:
			return errors.Join(err, consumeErr)
		case <-shutdownCtx.Done():
			p.logger.Warn("shutdown timeout reached with jobs in flight")
		}
	}
	stopConsume()
	return errors.Join(err, <-consumed)
}

// Consume runs only the job consumer until ctx ends.
func (p *Pipeline) Consume(ctx context.Context) error {
	if p.localQueue {
		return ErrLocalQueueWorker
	}
	return p.Queue.Consume(ctx, p.Worker.Handle)
}

// Close releases every opened backend in reverse order.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
