package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"release_bot/internal/model"
	"release_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := migrations.Up(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// SaveSubscriber stores a subscriber, replacing any previous genre set.
func (s *SQLite) SaveSubscriber(ctx context.Context, sub *model.Subscriber) error {
	genres := canonicalTags(sub.Genres)
	if len(genres) == 0 {
		return errors.New("subscriber must follow at least one genre")
	}
	now := s.now().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscribers (user_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sub.UserID, now, now,
	); err != nil {
		return unavailable("upsert subscriber", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriber_genres WHERE user_id = ?`, sub.UserID); err != nil {
		return unavailable("clear subscriber genres", err)
	}
	for _, g := range genres {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriber_genres (user_id, genre) VALUES (?, ?)`, sub.UserID, string(g),
		); err != nil {
			return unavailable("insert subscriber genre", err)
		}
	}

	var created string
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM subscribers WHERE user_id = ?`, sub.UserID,
	).Scan(&created); err != nil {
		return unavailable("read subscriber", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit subscriber", err)
	}

	sub.Genres = genres
	sub.CreatedAt, _ = time.Parse(timeLayout, created)
	sub.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

const subscriberSelect = `SELECT s.user_id, s.created_at, s.updated_at, COALESCE(GROUP_CONCAT(g.genre, ','), '')
	FROM subscribers s
	LEFT JOIN subscriber_genres g ON g.user_id = s.user_id`

// GetSubscriber returns the subscriber with the given user ID.
func (s *SQLite) GetSubscriber(ctx context.Context, userID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, subscriberSelect+` WHERE s.user_id = ? GROUP BY s.user_id`, userID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get subscriber", err)
	}
	return &sub, nil
}

// DeleteSubscriber removes a subscriber and their genre selections.
func (s *SQLite) DeleteSubscriber(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriber_genres WHERE user_id = ?`, userID); err != nil {
		return unavailable("delete subscriber genres", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE user_id = ?`, userID); err != nil {
		return unavailable("delete subscriber", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit delete", err)
	}
	return nil
}

// ListSubscribers returns every subscriber ordered by user ID.
func (s *SQLite) ListSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, subscriberSelect+` GROUP BY s.user_id ORDER BY s.user_id`)
	if err != nil {
		return nil, unavailable("query subscribers", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscribers(rows)
}

// ListSubscribersByGenres returns subscribers following any of tags, using
// the genre index.
func (s *SQLite) ListSubscribersByGenres(ctx context.Context, tags []model.GenreTag) ([]model.Subscriber, error) {
	tags = canonicalTags(tags)
	if len(tags) == 0 {
		return nil, nil
	}
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = string(t)
	}
	query := subscriberSelect + `
		WHERE s.user_id IN (SELECT user_id FROM subscriber_genres WHERE genre IN (` + placeholders(len(tags)) + `))
		GROUP BY s.user_id ORDER BY s.user_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query subscribers by genre", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscribers(rows)
}

// ListFollowedGenres returns the union of all subscribers' genre tags.
func (s *SQLite) ListFollowedGenres(ctx context.Context) ([]model.GenreTag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT genre FROM subscriber_genres ORDER BY genre`)
	if err != nil {
		return nil, unavailable("query followed genres", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []model.GenreTag
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, unavailable("scan genre", err)
		}
		tags = append(tags, model.GenreTag(g))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate genres", err)
	}
	return tags, nil
}

// UpsertRelease inserts a release or refreshes the stored one with the same
// identity. FirstSeenAt survives updates; LastUpdatedAt is set on every call.
func (s *SQLite) UpsertRelease(ctx context.Context, r *model.Release) error {
	if r.Identity == "" {
		return errors.New("release identity is required")
	}
	now := s.now().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO releases (identity, title, kind, genre_tag, release_date, overview, poster_url,
		                       cast_names, director, languages, source, first_seen_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (identity) DO UPDATE SET
		     title = excluded.title,
		     kind = excluded.kind,
		     genre_tag = excluded.genre_tag,
		     release_date = excluded.release_date,
		     overview = excluded.overview,
		     poster_url = excluded.poster_url,
		     cast_names = excluded.cast_names,
		     director = excluded.director,
		     languages = excluded.languages,
		     source = excluded.source,
		     last_updated_at = excluded.last_updated_at`,
		r.Identity, r.Title, string(r.Kind), string(r.GenreTag), r.ReleaseDate, r.Overview, r.PosterURL,
		r.Cast, r.Director, r.Languages, r.Source, now, now,
	); err != nil {
		return unavailable("upsert release", err)
	}

	tags := canonicalTags(append([]model.GenreTag{r.GenreTag}, r.GenreTags...))
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO release_genres (identity, genre) VALUES (?, ?)`, r.Identity, string(t),
		); err != nil {
			return unavailable("insert release genre", err)
		}
	}

	var first string
	if err := tx.QueryRowContext(ctx,
		`SELECT first_seen_at FROM releases WHERE identity = ?`, r.Identity,
	).Scan(&first); err != nil {
		return unavailable("read release", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit release", err)
	}

	r.FirstSeenAt, _ = time.Parse(timeLayout, first)
	r.LastUpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

const releaseSelect = `SELECT r.identity, r.title, r.kind, r.genre_tag, r.release_date, r.overview, r.poster_url,
	       r.cast_names, r.director, r.languages, r.source, r.first_seen_at, r.last_updated_at,
	       COALESCE(GROUP_CONCAT(g.genre, ','), '')
	FROM releases r
	LEFT JOIN release_genres g ON g.identity = r.identity`

// GetRelease returns the release with the given identity.
func (s *SQLite) GetRelease(ctx context.Context, identity string) (*model.Release, error) {
	row := s.db.QueryRowContext(ctx, releaseSelect+` WHERE r.identity = ? GROUP BY r.identity`, identity)
	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("release %q: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get release", err)
	}
	return &r, nil
}

// QueryWindow returns releases dated within [startDate, endDate]. Releases
// without a known date never match.
func (s *SQLite) QueryWindow(ctx context.Context, startDate, endDate string) ([]model.Release, error) {
	rows, err := s.db.QueryContext(ctx, releaseSelect+`
		WHERE r.release_date != ? AND r.release_date >= ? AND r.release_date <= ?
		GROUP BY r.identity ORDER BY r.release_date, r.identity`,
		model.DateTBA, startDate, endDate,
	)
	if err != nil {
		return nil, unavailable("query window", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReleases(rows)
}

// QueryByMonth returns releases dated within the given YYYY-MM month.
func (s *SQLite) QueryByMonth(ctx context.Context, yearMonth string) ([]model.Release, error) {
	if _, err := time.Parse("2006-01", yearMonth); err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", yearMonth, err)
	}
	rows, err := s.db.QueryContext(ctx, releaseSelect+`
		WHERE r.release_date != ? AND substr(r.release_date, 1, 7) = ?
		GROUP BY r.identity ORDER BY r.release_date, r.identity`,
		model.DateTBA, yearMonth,
	)
	if err != nil {
		return nil, unavailable("query month", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReleases(rows)
}

// UpsertNews records a headline, refreshing ScrapedAt when it already exists.
func (s *SQLite) UpsertNews(ctx context.Context, item *model.NewsItem) error {
	now := s.now().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO news_items (title, link, scraped_at) VALUES (?, ?, ?)
		 ON CONFLICT (title, link) DO UPDATE SET scraped_at = excluded.scraped_at`,
		item.Title, item.Link, now,
	)
	if err != nil {
		return unavailable("upsert news", err)
	}
	item.ScrapedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListNews returns the most recently scraped headlines.
func (s *SQLite) ListNews(ctx context.Context, limit int) ([]model.NewsItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, link, scraped_at FROM news_items ORDER BY scraped_at DESC, title LIMIT ?`, limit,
	)
	if err != nil {
		return nil, unavailable("query news", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.NewsItem
	for rows.Next() {
		var n model.NewsItem
		var scraped string
		if err := rows.Scan(&n.Title, &n.Link, &scraped); err != nil {
			return nil, unavailable("scan news", err)
		}
		n.ScrapedAt, _ = time.Parse(timeLayout, scraped)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate news", err)
	}
	return items, nil
}

// MarkDelivered records that a release notification reached a user.
func (s *SQLite) MarkDelivered(ctx context.Context, identity string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries (release_identity, user_id, sent_at) VALUES (?, ?, ?)`,
		identity, userID, s.now().Format(timeLayout),
	)
	if err != nil {
		return unavailable("mark delivered", err)
	}
	return nil
}

// IsDelivered checks whether a release was already delivered to a user.
func (s *SQLite) IsDelivered(ctx context.Context, identity string, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE release_identity = ? AND user_id = ?`,
		identity, userID,
	).Scan(&count)
	if err != nil {
		return false, unavailable("check delivered", err)
	}
	return count > 0, nil
}

// Stats returns row counts for the admin summary.
func (s *SQLite) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM subscribers),
		        (SELECT COUNT(*) FROM releases),
		        (SELECT COUNT(*) FROM news_items),
		        (SELECT COUNT(*) FROM deliveries)`,
	).Scan(&st.Subscribers, &st.Releases, &st.NewsItems, &st.Deliveries)
	if err != nil {
		return model.Stats{}, unavailable("stats", err)
	}
	return st, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scannable) (model.Subscriber, error) {
	var sub model.Subscriber
	var created, updated, genres string
	if err := row.Scan(&sub.UserID, &created, &updated, &genres); err != nil {
		return sub, err
	}
	sub.CreatedAt, _ = time.Parse(timeLayout, created)
	sub.UpdatedAt, _ = time.Parse(timeLayout, updated)
	sub.Genres = splitTags(genres)
	return sub, nil
}

func scanSubscribers(rows *sql.Rows) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, unavailable("scan subscriber", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate subscribers", err)
	}
	return subs, nil
}

func scanRelease(row scannable) (model.Release, error) {
	var r model.Release
	var kind, tag, first, updated, tags string
	err := row.Scan(&r.Identity, &r.Title, &kind, &tag, &r.ReleaseDate, &r.Overview, &r.PosterURL,
		&r.Cast, &r.Director, &r.Languages, &r.Source, &first, &updated, &tags)
	if err != nil {
		return r, err
	}
	r.Kind = model.MediaKind(kind)
	r.GenreTag = model.GenreTag(tag)
	r.GenreTags = splitTags(tags)
	r.FirstSeenAt, _ = time.Parse(timeLayout, first)
	r.LastUpdatedAt, _ = time.Parse(timeLayout, updated)
	return r, nil
}

func scanReleases(rows *sql.Rows) ([]model.Release, error) {
	var out []model.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, unavailable("scan release", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate releases", err)
	}
	return out, nil
}

// canonicalTags lower-cases, trims and de-duplicates tags.
func canonicalTags(tags []model.GenreTag) []model.GenreTag {
	seen := make(map[model.GenreTag]bool, len(tags))
	var out []model.GenreTag
	for _, t := range tags {
		c := model.GenreTag(strings.ToLower(strings.TrimSpace(string(t))))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func splitTags(s string) []model.GenreTag {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	sort.Strings(parts)
	out := make([]model.GenreTag, len(parts))
	for i, p := range parts {
		out[i] = model.GenreTag(p)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
