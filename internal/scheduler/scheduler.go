// Package scheduler runs the periodic notification cycle and news refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"release_bot/internal/bot"
	"release_bot/internal/genre"
	"release_bot/internal/matcher"
	"release_bot/internal/metrics"
	"release_bot/internal/model"
	"release_bot/internal/release"
	"release_bot/internal/source"
	"release_bot/internal/storage"
)

var (
	// ErrCycleInProgress is returned when a trigger arrives while a cycle runs.
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrDispatch wraps a failed send to a single recipient.
	ErrDispatch = errors.New("dispatch failed")
)

// Sender delivers notifications to chat users.
type Sender interface {
	SendText(userID int64, text string) error
	SendPhoto(userID int64, imageURL, caption string) error
}

// State is the orchestrator's position in the notification cycle.
type State int32

// Cycle states, in execution order.
const (
	Idle State = iota
	ResolvingGenres
	Fetching
	Reconciling
	Persisting
	Matching
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingGenres:
		return "resolving_genres"
	case Fetching:
		return "fetching"
	case Reconciling:
		return "reconciling"
	case Persisting:
		return "persisting"
	case Matching:
		return "matching"
	case Dispatching:
		return "dispatching"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options tunes the orchestrator's timing.
type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	CycleTimeout time.Duration
	// GracePeriod bounds persisting and dispatching after the cycle deadline.
	GracePeriod time.Duration
	SendDelay   time.Duration
}

// DefaultOptions returns a daily cycle starting shortly after launch.
func DefaultOptions() Options {
	return Options{
		Interval:     24 * time.Hour,
		InitialDelay: 10 * time.Second,
		CycleTimeout: 30 * time.Minute,
		GracePeriod:  5 * time.Minute,
		SendDelay:    50 * time.Millisecond,
	}
}

// Summary describes what one cycle did.
type Summary struct {
	CycleID    string
	Tags       int
	Candidates int
	Releases   int
	Upserted   int
	Eligible   int
	Sent       int
	Failed     int
	Partial    bool
	Duration   time.Duration
}

// Orchestrator runs notification cycles. At most one cycle is active at a time.
type Orchestrator struct {
	store     storage.Storage
	primary   source.Primary
	secondary source.Secondary
	matcher   *matcher.Matcher
	sender    Sender
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	running atomic.Bool
	state   atomic.Int32
}

// New creates an Orchestrator. secondary may be nil to run on the primary
// provider alone.
func New(store storage.Storage, primary source.Primary, secondary source.Secondary, sender Sender, log *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		store:     store,
		primary:   primary,
		secondary: secondary,
		matcher:   matcher.New(store),
		sender:    sender,
		log:       log.With("component", "scheduler"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Run waits the initial delay, runs a cycle, then repeats on every interval
// until ctx is cancelled. Ticks that land during an active cycle are skipped.
// Run returns only after every cycle it started has finished.
func (o *Orchestrator) Run(ctx context.Context) {
	if err := source.SleepWithContext(ctx, o.opts.InitialDelay); err != nil {
		return
	}
	o.trigger(ctx)

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wg.Go(func() { o.trigger(ctx) })
		}
	}
}

func (o *Orchestrator) trigger(ctx context.Context) {
	if _, err := o.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		o.log.Error("notification cycle failed", "error", err)
	}
}

// RunCycle executes one full cycle: resolve followed genres, fetch and
// reconcile candidates, persist them, then notify subscribers about
// releases due this month or within the next seven days.
func (o *Orchestrator) RunCycle(ctx context.Context) (Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Warn("notification cycle still running, skipping trigger")
		metrics.RecordCycle("skipped", 0)
		return Summary{}, ErrCycleInProgress
	}
	defer o.running.Store(false)
	defer o.setState(Idle)

	start := time.Now()
	sum := Summary{CycleID: uuid.NewString()}
	log := o.log.With("cycle_id", sum.CycleID)
	log.Info("notification cycle started")

	cycleCtx, cancel := o.cycleContext(ctx)
	defer cancel()

	o.setState(ResolvingGenres)
	tags, err := o.store.ListFollowedGenres(cycleCtx)
	if err != nil {
		metrics.RecordCycle("failed", time.Since(start))
		return sum, fmt.Errorf("list followed genres: %w", err)
	}
	sum.Tags = len(tags)

	var batch []model.Release
	for i, tag := range tags {
		if cycleCtx.Err() != nil {
			sum.Partial = true
			log.Warn("cycle deadline reached, abandoning remaining genres",
				"remaining", tags[i:], "error", cycleCtx.Err())
			break
		}
		releases, candidates := o.collect(cycleCtx, log, tag)
		sum.Candidates += candidates
		batch = append(batch, releases...)
	}
	if cycleCtx.Err() != nil {
		sum.Partial = true
	}

	batch = release.Dedupe(batch)
	sum.Releases = len(batch)

	// Work already fetched is still persisted and delivered after the deadline.
	tailCtx := cycleCtx
	if sum.Partial && ctx.Err() == nil {
		var tailCancel context.CancelFunc
		tailCtx, tailCancel = context.WithTimeout(ctx, o.opts.GracePeriod)
		defer tailCancel()
	}

	o.setState(Persisting)
	sum.Upserted = o.persist(tailCtx, log, batch)

	o.setState(Matching)
	pairs, eligible, err := o.match(tailCtx, log)
	if err != nil {
		metrics.RecordCycle("failed", time.Since(start))
		return sum, err
	}
	sum.Eligible = eligible

	o.setState(Dispatching)
	sum.Sent, sum.Failed = o.dispatch(tailCtx, log, pairs)

	sum.Duration = time.Since(start)
	outcome := "complete"
	if sum.Partial {
		outcome = "partial"
		log.Warn("partial notification cycle", "tags", sum.Tags)
	}
	metrics.RecordCycle(outcome, sum.Duration)
	log.Info("notification cycle finished",
		"tags", sum.Tags,
		"candidates", sum.Candidates,
		"releases", sum.Releases,
		"upserted", sum.Upserted,
		"eligible", sum.Eligible,
		"sent", sum.Sent,
		"failed", sum.Failed,
		"partial", sum.Partial,
		"duration", sum.Duration)
	return sum, nil
}

func (o *Orchestrator) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CycleTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.CycleTimeout)
	}
	return context.WithCancel(ctx)
}

// collect fetches and reconciles every candidate for one genre tag.
func (o *Orchestrator) collect(ctx context.Context, log *slog.Logger, tag model.GenreTag) ([]model.Release, int) {
	queries, err := genre.Resolve(tag)
	if err != nil {
		log.Error("resolve genre", "genre", tag, "error", err)
		return nil, 0
	}

	o.setState(Fetching)
	var candidates []source.RawCandidate
	for _, q := range queries {
		for c := range o.primary.FetchCandidates(ctx, q) {
			candidates = append(candidates, c)
		}
		if ctx.Err() != nil {
			break
		}
	}

	o.setState(Reconciling)
	releases := make([]model.Release, 0, len(candidates))
	for i := range candidates {
		primary := &candidates[i]
		secondary := o.lookup(ctx, log, primary)
		r, err := release.Reconcile(primary, secondary, tag)
		if err != nil {
			metrics.RecordSkipped("reconcile")
			log.Warn("skip candidate", "genre", tag, "title", primary.Title, "error", err)
			continue
		}
		releases = append(releases, r)
	}
	log.Debug("genre collected", "genre", tag, "candidates", len(candidates), "releases", len(releases))
	return releases, len(candidates)
}

// lookup asks the secondary provider about a candidate. Failures are logged
// and yield nil so the primary record stands on its own.
func (o *Orchestrator) lookup(ctx context.Context, log *slog.Logger, c *source.RawCandidate) *source.RawCandidate {
	if o.secondary == nil || ctx.Err() != nil {
		return nil
	}
	match, err := o.secondary.Lookup(ctx, c.Title, c.Kind)
	switch {
	case err == nil:
		metrics.RecordLookup("found")
		return match
	case errors.Is(err, source.ErrNotFound):
		metrics.RecordLookup("not_found")
	case source.IsTransient(err):
		metrics.RecordLookup("transient")
		log.Warn("secondary lookup failed", "title", c.Title, "error", err)
	default:
		metrics.RecordLookup("error")
		log.Warn("secondary lookup failed", "title", c.Title, "error", err)
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, batch []model.Release) int {
	upserted := 0
	for i := range batch {
		if err := o.store.UpsertRelease(ctx, &batch[i]); err != nil {
			log.Error("upsert release", "identity", batch[i].Identity, "error", err)
			continue
		}
		metrics.ReleasesUpsertedTotal.Inc()
		upserted++
	}
	return upserted
}

type delivery struct {
	release    model.Release
	subscriber model.Subscriber
}

// match selects the releases due now and pairs them with subscribers that
// have not been notified about them yet.
func (o *Orchestrator) match(ctx context.Context, log *slog.Logger) ([]delivery, int, error) {
	now := o.now()
	byMonth, err := o.store.QueryByMonth(ctx, release.Month(now))
	if err != nil {
		return nil, 0, fmt.Errorf("query month: %w", err)
	}
	start, end := release.Window(now)
	byWindow, err := o.store.QueryWindow(ctx, start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("query window: %w", err)
	}
	eligible := release.Dedupe(append(byMonth, byWindow...))

	var pairs []delivery
	for _, r := range eligible {
		if !release.Eligible(r.ReleaseDate, now) {
			log.Warn("store returned ineligible release", "identity", r.Identity, "release_date", r.ReleaseDate)
			continue
		}
		subs, err := o.matcher.RecipientsFor(ctx, r)
		if err != nil {
			log.Error("match subscribers", "identity", r.Identity, "error", err)
			continue
		}
		for _, sub := range subs {
			done, err := o.store.IsDelivered(ctx, r.Identity, sub.UserID)
			if err != nil {
				log.Error("check delivery", "identity", r.Identity, "user_id", sub.UserID, "error", err)
				continue
			}
			if done {
				continue
			}
			pairs = append(pairs, delivery{release: r, subscriber: sub})
		}
	}
	return pairs, len(eligible), nil
}

// dispatch sends one notification per pair. A failed recipient is logged
// and left undelivered so the next cycle retries it.
func (o *Orchestrator) dispatch(ctx context.Context, log *slog.Logger, pairs []delivery) (sent, failed int) {
	for i, p := range pairs {
		if i > 0 {
			// Telegram allows roughly 30 messages per second.
			if err := source.SleepWithContext(ctx, o.opts.SendDelay); err != nil {
				log.Warn("dispatch interrupted", "remaining", len(pairs)-i, "error", err)
				return sent, failed
			}
		}

		caption := bot.FormatNotification(p.release)
		if err := o.sender.SendPhoto(p.subscriber.UserID, p.release.PosterURL, caption); err != nil {
			failed++
			metrics.RecordNotification(false)
			log.Warn("notify subscriber",
				"identity", p.release.Identity,
				"user_id", p.subscriber.UserID,
				"error", fmt.Errorf("%w: %w", ErrDispatch, err))
			continue
		}
		sent++
		metrics.RecordNotification(true)

		if err := o.store.MarkDelivered(ctx, p.release.Identity, p.subscriber.UserID); err != nil {
			log.Error("mark delivered", "identity", p.release.Identity, "user_id", p.subscriber.UserID, "error", err)
		}
	}
	return sent, failed
}
