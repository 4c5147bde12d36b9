package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"release_bot/internal/metrics"
	"release_bot/internal/model"
	"release_bot/internal/source"
	"release_bot/internal/storage"
)

type sentPhoto struct {
	UserID int64
	URL    string
}

type mockSender struct {
	mu     sync.Mutex
	photos []sentPhoto
	fail   map[int64]bool
}

func (m *mockSender) SendText(int64, string) error { return nil }

func (m *mockSender) SendPhoto(userID int64, imageURL, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[userID] {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	m.photos = append(m.photos, sentPhoto{UserID: userID, URL: imageURL})
	return nil
}

func (m *mockSender) recipients() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.photos))
	for _, p := range m.photos {
		out = append(out, p.UserID)
	}
	return out
}

// fakePrimary serves fixed candidates per region and can block a region
// until the context ends or release is closed.
type fakePrimary struct {
	byRegion map[string][]source.RawCandidate
	block    map[string]bool
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (f *fakePrimary) FetchCandidates(ctx context.Context, q source.Query) iter.Seq[source.RawCandidate] {
	return func(yield func(source.RawCandidate) bool) {
		if f.block[q.Region] {
			if f.entered != nil {
				f.once.Do(func() { close(f.entered) })
			}
			select {
			case <-ctx.Done():
			case <-f.release:
			}
			return
		}
		for _, c := range f.byRegion[q.Region] {
			if !yield(c) {
				return
			}
		}
	}
}

func (f *fakePrimary) FetchDetails(context.Context, model.MediaKind, int64) (source.RawDetails, error) {
	return source.RawDetails{}, nil
}

func (f *fakePrimary) Search(context.Context, string) (*source.RawCandidate, error) {
	return nil, source.ErrNotFound
}

type fakeSecondary struct {
	result *source.RawCandidate
	err    error
}

func (f *fakeSecondary) Lookup(context.Context, string, model.MediaKind) (*source.RawCandidate, error) {
	return f.result, f.err
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSubscriber(t *testing.T, store *storage.SQLite, userID int64, genres ...model.GenreTag) {
	t.Helper()
	if err := store.SaveSubscriber(context.Background(), &model.Subscriber{UserID: userID, Genres: genres}); err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.InitialDelay = 0
	opts.SendDelay = 0
	opts.GracePeriod = 5 * time.Second
	return opts
}

func newOrchestrator(store storage.Storage, p source.Primary, s source.Secondary, sender Sender, opts Options) *Orchestrator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, p, s, sender, log, opts)
}

func inDays(n int) string {
	return time.Now().UTC().AddDate(0, 0, n).Format(time.DateOnly)
}

func hollywoodFilm(date string) source.RawCandidate {
	return source.RawCandidate{
		ID: 1, Title: "Film", Kind: model.KindMovie, ReleaseDate: date,
		Overview: "plot", PosterURL: "https://img/film.jpg", Provider: "tmdb",
	}
}

func TestRunCycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")
	seedSubscriber(t, store, 2, "korean")

	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{
		"US": {hollywoodFilm(inDays(3))},
	}}
	sender := &mockSender{}
	o := newOrchestrator(store, primary, nil, sender, testOptions())

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if diff := cmp.Diff([]int64{1}, sender.recipients()); diff != "" {
		t.Errorf("recipients (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Summary{Tags: 2, Candidates: 1, Releases: 1, Upserted: 1, Eligible: 1, Sent: 1},
		sum, cmpIgnoreRunFields); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Idle, o.State()); diff != "" {
		t.Errorf("state after cycle (-want +got):\n%s", diff)
	}

	// The next cycle refreshes the release but does not notify again.
	sum, err = o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if diff := cmp.Diff(0, sum.Sent); diff != "" {
		t.Errorf("second cycle sent (-want +got):\n%s", diff)
	}
	stats, _ := store.Stats(ctx)
	if diff := cmp.Diff(1, stats.Releases); diff != "" {
		t.Errorf("stored releases (-want +got):\n%s", diff)
	}
}

var cmpIgnoreRunFields = cmp.FilterPath(func(p cmp.Path) bool {
	switch p.String() {
	case "CycleID", "Duration":
		return true
	}
	return false
}, cmp.Ignore())

func TestRunCycleSkipsReleasesOutsideWindow(t *testing.T) {
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	far := time.Now().UTC().AddDate(0, 3, 0).Format("2006-01") + "-20"
	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{
		"US": {hollywoodFilm(far), {ID: 2, Title: "Undated", Provider: "tmdb"}},
	}}
	sender := &mockSender{}
	o := newOrchestrator(store, primary, nil, sender, testOptions())

	sum, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if diff := cmp.Diff(2, sum.Upserted); diff != "" {
		t.Errorf("upserted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, len(sender.recipients())); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}
}

func TestRunCycleSecondaryFailureKeepsPrimary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	date := inDays(1)
	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{"US": {hollywoodFilm(date)}}}
	secondary := &fakeSecondary{err: fmt.Errorf("omdb: %w", source.ErrTransientFetch)}
	sender := &mockSender{}
	o := newOrchestrator(store, primary, secondary, sender, testOptions())

	transient := metrics.SecondaryLookupsTotal.WithLabelValues("transient")
	before := testutil.ToFloat64(transient)
	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if diff := cmp.Diff(before+1, testutil.ToFloat64(transient)); diff != "" {
		t.Errorf("transient lookups (-want +got):\n%s", diff)
	}
	r, err := store.GetRelease(ctx, "film|"+date)
	if err != nil {
		t.Fatalf("release not stored: %v", err)
	}
	if diff := cmp.Diff("tmdb", r.Source); diff != "" {
		t.Errorf("source (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1}, sender.recipients()); diff != "" {
		t.Errorf("recipients (-want +got):\n%s", diff)
	}
}

func TestRunCycleSecondaryCorrectsDate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	date := inDays(2)
	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{"US": {hollywoodFilm(model.DateTBA)}}}
	secondary := &fakeSecondary{result: &source.RawCandidate{
		Title: "Film", ReleaseDate: date, PosterURL: "https://img/low.jpg", Provider: "omdb",
	}}
	sender := &mockSender{}
	o := newOrchestrator(store, primary, secondary, sender, testOptions())

	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	r, err := store.GetRelease(ctx, "film|"+date)
	if err != nil {
		t.Fatalf("release not stored: %v", err)
	}
	if diff := cmp.Diff("https://img/film.jpg", r.PosterURL); diff != "" {
		t.Errorf("poster (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("tmdb+omdb", r.Source); diff != "" {
		t.Errorf("source (-want +got):\n%s", diff)
	}
}

func TestRunCycleIsolatesDispatchFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")
	seedSubscriber(t, store, 2, "hollywood")
	seedSubscriber(t, store, 3, "hollywood")

	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{"US": {hollywoodFilm(inDays(0))}}}
	sender := &mockSender{fail: map[int64]bool{2: true}}
	o := newOrchestrator(store, primary, nil, sender, testOptions())

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if diff := cmp.Diff([2]int{2, 1}, [2]int{sum.Sent, sum.Failed}); diff != "" {
		t.Errorf("sent/failed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 3}, sender.recipients()); diff != "" {
		t.Errorf("recipients (-want +got):\n%s", diff)
	}

	// The failed recipient is retried once reachable again.
	sender.mu.Lock()
	sender.fail = nil
	sender.photos = nil
	sender.mu.Unlock()

	if _, err := o.RunCycle(ctx); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if diff := cmp.Diff([]int64{2}, sender.recipients()); diff != "" {
		t.Errorf("retried recipients (-want +got):\n%s", diff)
	}
}

func TestRunCycleNoOverlap(t *testing.T) {
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	primary := &fakePrimary{
		block:   map[string]bool{"US": true},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := newOrchestrator(store, primary, nil, &mockSender{}, testOptions())

	done := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		done <- err
	}()

	<-primary.entered
	if diff := cmp.Diff(Fetching, o.State()); diff != "" {
		t.Errorf("state during fetch (-want +got):\n%s", diff)
	}
	if _, err := o.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}

	close(primary.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// Once finished, a new trigger runs normally.
	primary.block = nil
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after completion: %v", err)
	}
}

func TestRunCycleTimeoutIsPartial(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood", "korean")

	primary := &fakePrimary{
		byRegion: map[string][]source.RawCandidate{"US": {hollywoodFilm(inDays(1))}},
		block:    map[string]bool{"KR": true},
	}
	opts := testOptions()
	opts.CycleTimeout = 50 * time.Millisecond
	sender := &mockSender{}
	o := newOrchestrator(store, primary, nil, sender, opts)

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !sum.Partial {
		t.Error("expected a partial cycle")
	}
	if diff := cmp.Diff([]int64{1}, sender.recipients()); diff != "" {
		t.Errorf("fetched work should still be delivered (-want +got):\n%s", diff)
	}
}

type unavailableStore struct {
	storage.Storage
}

func (unavailableStore) ListFollowedGenres(context.Context) ([]model.GenreTag, error) {
	return nil, storage.ErrStoreUnavailable
}

func TestRunCycleAbortsWhenStoreDown(t *testing.T) {
	o := newOrchestrator(unavailableStore{}, &fakePrimary{}, nil, &mockSender{}, testOptions())
	if _, err := o.RunCycle(context.Background()); !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if diff := cmp.Diff(Idle, o.State()); diff != "" {
		t.Errorf("state (-want +got):\n%s", diff)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")
	primary := &fakePrimary{byRegion: map[string][]source.RawCandidate{"US": {hollywoodFilm(inDays(1))}}}
	sender := &mockSender{}

	opts := testOptions()
	opts.Interval = time.Hour
	o := newOrchestrator(store, primary, nil, sender, opts)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(finished)
	}()

	deadline := time.After(5 * time.Second)
	for len(sender.recipients()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStateString(t *testing.T) {
	got := []string{Idle.String(), ResolvingGenres.String(), Dispatching.String(), State(42).String()}
	want := []string{"idle", "resolving_genres", "dispatching", "state(42)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("State.String (-want +got):\n%s", diff)
	}
}

// strayStore returns an extra release from QueryByMonth regardless of its date.
type strayStore struct {
	*storage.SQLite
	extra model.Release
}

func (s strayStore) QueryByMonth(ctx context.Context, yearMonth string) ([]model.Release, error) {
	out, err := s.SQLite.QueryByMonth(ctx, yearMonth)
	return append(out, s.extra), err
}

func TestRunCycleDropsIneligibleStoreRows(t *testing.T) {
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	date := time.Now().UTC().AddDate(1, 0, 0).Format(time.DateOnly)
	stray := model.Release{
		Identity: "later|" + date, Title: "Later", Kind: model.KindMovie,
		GenreTag: "hollywood", GenreTags: []model.GenreTag{"hollywood"}, ReleaseDate: date,
	}
	sender := &mockSender{}
	o := newOrchestrator(strayStore{SQLite: store, extra: stray}, &fakePrimary{}, nil, sender, testOptions())

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if diff := cmp.Diff(0, len(sender.recipients())); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}
}

// gatedPrimary returns nothing on the first fetch and blocks every later
// fetch until gate is closed, ignoring cancellation.
type gatedPrimary struct {
	fakePrimary
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedPrimary) FetchCandidates(context.Context, source.Query) iter.Seq[source.RawCandidate] {
	return func(func(source.RawCandidate) bool) {
		if g.calls.Add(1) == 1 {
			return
		}
		g.once.Do(func() { close(g.entered) })
		<-g.gate
	}
}

func TestRunWaitsForTickedCycle(t *testing.T) {
	store := newTestStore(t)
	seedSubscriber(t, store, 1, "hollywood")

	primary := &gatedPrimary{entered: make(chan struct{}), gate: make(chan struct{})}
	opts := testOptions()
	opts.Interval = 10 * time.Millisecond
	o := newOrchestrator(store, primary, nil, &mockSender{}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(finished)
	}()

	select {
	case <-primary.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("ticked cycle did not start")
	}
	cancel()

	select {
	case <-finished:
		t.Fatal("Run returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(primary.gate)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}
}
