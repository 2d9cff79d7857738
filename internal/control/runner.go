package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mbergkamp/ratchet/internal/core/config"
	"github.com/mbergkamp/ratchet/internal/core/domain"
	"github.com/mbergkamp/ratchet/internal/engine"
	"github.com/mbergkamp/ratchet/internal/engine/coordinator"
	"github.com/mbergkamp/ratchet/internal/engine/session"
	"github.com/mbergkamp/ratchet/internal/infra/httpdriver"
	redisclient "github.com/mbergkamp/ratchet/internal/infra/redis"
	"github.com/mbergkamp/ratchet/internal/infra/storage"
	"github.com/mbergkamp/ratchet/internal/infra/storage/memory"
	"github.com/mbergkamp/ratchet/internal/infra/storage/sqldb"
)

// Runner owns the full application: one coordinator per configured
// session, the shared journal, the optional Redis publisher, and the
// status server.
type Runner struct {
	cfg          *config.AppConfig
	sessions     map[string]*session.Session
	coordinators map[string]*coordinator.Coordinator
	journal      storage.Journal
	sqlJournal   *sqldb.Journal
	redisClient  *redisclient.Client
	server       *Server
	log          *slog.Logger
}

// NewRunner builds all sessions and their coordinators from config.
func NewRunner(ctx context.Context, cfg *config.AppConfig) (*Runner, error) {
	log := slog.Default()

	r := &Runner{
		cfg:          cfg,
		sessions:     make(map[string]*session.Session),
		coordinators: make(map[string]*coordinator.Coordinator),
		log:          log,
	}

	// 1. Journal
	switch cfg.Storage.Driver {
	case "", "memory":
		r.journal = memory.NewJournal()
		log.Info("Using in-memory attempt journal")
	case "sqlite", "postgres":
		j, err := sqldb.Open(ctx, cfg.Storage.SQL())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		r.sqlJournal = j
		r.journal = j
		log.Info("Using SQL attempt journal", "driver", cfg.Storage.Driver)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// 2. Progress sink: Redis when configured, log lines otherwise.
	var sink engine.ProgressSink = &LogSink{log: log}
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, progress publishing disabled", "error", err)
		} else {
			r.redisClient = client
			sink = redisclient.NewProgressSink(client, log)
			log.Info("Publishing progress to Redis")
		}
	}

	// 3. Sessions and coordinators
	engineCfg := cfg.Engine.Coordinator()
	for _, sc := range cfg.Sessions {
		if _, dup := r.sessions[sc.Name]; dup {
			return nil, fmt.Errorf("duplicate session name %q", sc.Name)
		}

		work := make([]domain.WorkItem, 0, len(sc.Items))
		for _, it := range sc.Items {
			work = append(work, domain.WorkItem{Key: it.Key, Params: it.Params})
		}

		sess, err := session.New(sc.Name, work)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", sc.Name, err)
		}

		coord := coordinator.New(coordinator.Deps{
			Session:   sess,
			Operation: httpdriver.NewRunner(),
			Provider:  httpdriver.NewProvider(sc.Driver),
			Sink:      sink,
			Journal:   r.journal,
			Logger:    log,
		}, engineCfg)

		r.sessions[sc.Name] = sess
		r.coordinators[sc.Name] = coord
	}

	r.server = NewServer(r, cfg.Server.Port)
	return r, nil
}

// Run starts the status server and drives every session to completion.
// It blocks until all sessions finish or ctx is cancelled, and returns
// the first session error, if any. The status server keeps serving until
// Stop so operators can inspect the final state.
func (r *Runner) Run(ctx context.Context) error {
	go func() {
		if err := r.server.Start(); err != nil {
			r.log.Error("Status server failed", "error", err)
		}
	}()

	// Sessions are independent: one session exhausting its resource must
	// not cancel the others, so no errgroup.WithContext here.
	var g errgroup.Group
	for name, coord := range r.coordinators {
		g.Go(func() error {
			r.log.Info("Starting session", "session", name)
			err := coord.Run(ctx)
			switch {
			case err == nil:
				r.log.Info("Session finished", "session", name)
				return nil
			case errors.Is(err, context.Canceled):
				r.log.Info("Session interrupted", "session", name)
				return nil
			default:
				r.log.Error("Session failed", "session", name, "error", err)
				return fmt.Errorf("session %q: %w", name, err)
			}
		})
	}
	err := g.Wait()

	for name, sess := range r.sessions {
		c := sess.Counts()
		r.log.Info("Session result",
			"session", name,
			"complete", c.Complete,
			"failed", c.Failed,
			"needs_review", c.NeedsReview,
			"queued", c.Queued,
		)
	}
	return err
}

// Stop shuts down the status server and releases infra connections.
func (r *Runner) Stop(ctx context.Context) error {
	r.log.Info("Stopping runner...")

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			r.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if r.sqlJournal != nil {
		if err := r.sqlJournal.Close(); err != nil {
			r.log.Warn("Failed to close journal", "error", err)
		}
	}
	return r.server.Stop(ctx)
}

// Journal exposes the attempt journal for the status server.
func (r *Runner) Journal() storage.Journal { return r.journal }

// Session resolves a session by id or name.
func (r *Runner) Session(idOrName string) (*session.Session, bool) {
	if s, ok := r.sessions[idOrName]; ok {
		return s, true
	}
	for _, s := range r.sessions {
		if s.ID() == idOrName {
			return s, true
		}
	}
	return nil, false
}

// View returns the operator view for one session.
func (r *Runner) View(idOrName string) (SessionView, bool) {
	sess, ok := r.Session(idOrName)
	if !ok {
		return SessionView{}, false
	}
	coord := r.coordinators[sess.Name()]
	return SessionView{
		Session:  sess.Snapshot(),
		Finished: sess.Finished(),
		Timing:   coord.TimingStats(),
	}, true
}

// Summaries lists all sessions, ordered by name.
func (r *Runner) Summaries() []SessionSummary {
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SessionSummary, 0, len(names))
	for _, name := range names {
		s := r.sessions[name]
		out = append(out, SessionSummary{
			ID:               s.ID(),
			Name:             s.Name(),
			Counts:           s.Counts(),
			Finished:         s.Finished(),
			ResourceUnusable: s.ResourceUnusable(),
		})
	}
	return out
}

// LogSink reports item transitions as log lines. It is the fallback
// progress sink when Redis is not configured.
type LogSink struct {
	log *slog.Logger
}

// OnTransition implements engine.ProgressSink.
func (s *LogSink) OnTransition(ctx context.Context, p engine.Progress) {
	s.log.Info("Item transition",
		"session", p.SessionID,
		"item", p.ItemKey,
		"status", string(p.Status),
		"done", p.Completed,
		"total", p.Total,
	)
}
