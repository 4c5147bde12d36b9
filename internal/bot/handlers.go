package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"release_bot/internal/matcher"
	"release_bot/internal/model"
	"release_bot/internal/release"
	"release_bot/internal/source"
	"release_bot/internal/storage"
)

const (
	upcomingLimit = 5
	newsLimit     = 5
)

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64) {
	sub, err := b.store.GetSubscriber(ctx, userID)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Welcome back! Your preferences: %s\nUse /upcoming to see upcoming releases or /reset to change preferences.",
			genreLabels(sub.Genres)))
		return
	case !errors.Is(err, storage.ErrNotFound):
		b.fail(chatID, "get subscriber", err)
		return
	}

	b.menus.begin(chatID)
	msg := tgbotapi.NewMessage(chatID, "Welcome to the Release Bot! Select your favorite genres (multiple allowed):")
	msg.ReplyMarkup = genreKeyboard(nil)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send genre menu", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/start - choose the genres you follow
/upcoming - releases due this month or in the next 7 days
/details <title> - look up a movie or series
/news - latest release news
/reset - forget your preferences
/help - this message

You get a notification with poster and details when a release in your genres is coming up.`)
}

func (b *Bot) handleReset(ctx context.Context, chatID, userID int64) {
	b.menus.clear(chatID)
	if err := b.store.DeleteSubscriber(ctx, userID); err != nil {
		b.fail(chatID, "delete subscriber", err)
		return
	}
	b.reply(chatID, "Preferences reset. Use /start to set new preferences.")
}

func (b *Bot) handleUpcoming(ctx context.Context, chatID, userID int64) {
	sub, err := b.store.GetSubscriber(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "Please set your preferences using /start.")
		return
	}
	if err != nil {
		b.fail(chatID, "get subscriber", err)
		return
	}

	releases, err := b.dueReleases(ctx, time.Now().UTC())
	if err != nil {
		b.fail(chatID, "query releases", err)
		return
	}

	var picked []model.Release
	for _, r := range releases {
		if followsAny(*sub, r) {
			picked = append(picked, r)
		}
		if len(picked) == upcomingLimit {
			break
		}
	}
	if len(picked) == 0 {
		b.reply(chatID, "No upcoming releases found for your preferences.")
		return
	}
	for _, r := range picked {
		_ = b.SendPhoto(chatID, r.PosterURL, FormatRelease(r))
	}
}

// dueReleases returns stored releases dated this month or within the next
// seven days, ordered by date.
func (b *Bot) dueReleases(ctx context.Context, now time.Time) ([]model.Release, error) {
	start, end := release.Window(now)
	window, err := b.store.QueryWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}
	month, err := b.store.QueryByMonth(ctx, release.Month(now))
	if err != nil {
		return nil, err
	}
	// Window first so the nearest releases lead.
	return release.Dedupe(append(window, month...)), nil
}

func followsAny(sub model.Subscriber, r model.Release) bool {
	for _, t := range matcher.Tags(r) {
		if sub.Follows(t) {
			return true
		}
	}
	return false
}

func (b *Bot) handleDetails(ctx context.Context, chatID int64, args string) {
	title, ok := ParseTitleArg(args)
	if !ok {
		b.reply(chatID, "Usage: /details <title>")
		return
	}

	r, err := b.lookupTitle(ctx, title)
	if errors.Is(err, source.ErrNotFound) || errors.Is(err, release.ErrNoCandidate) {
		b.reply(chatID, fmt.Sprintf("No match found for %q.", title))
		return
	}
	if err != nil {
		b.fail(chatID, "lookup title", err)
		return
	}
	_ = b.SendPhoto(chatID, r.PosterURL, FormatRelease(r))
}

// lookupTitle searches the primary provider and merges in the secondary
// record when one exists. Either provider may miss. When both come back
// empty and one of them failed, that failure is returned instead of
// source.ErrNotFound.
func (b *Bot) lookupTitle(ctx context.Context, title string) (model.Release, error) {
	var lookupErr error

	primary, err := b.primary.Search(ctx, title)
	if err != nil && !errors.Is(err, source.ErrNotFound) {
		b.log.Warn("primary search failed", "title", title, "error", err)
		lookupErr = fmt.Errorf("primary search: %w", err)
	}

	var secondary *source.RawCandidate
	if b.secondary != nil {
		kind := model.KindMovie
		lookupTitle := title
		if primary != nil {
			kind = primary.Kind
			lookupTitle = primary.Title
		}
		secondary, err = b.secondary.Lookup(ctx, lookupTitle, kind)
		if err != nil && !errors.Is(err, source.ErrNotFound) {
			b.log.Warn("secondary lookup failed", "title", lookupTitle, "error", err)
			if lookupErr == nil {
				lookupErr = fmt.Errorf("secondary lookup: %w", err)
			}
		}
	}

	if primary == nil && secondary == nil {
		if lookupErr != nil {
			return model.Release{}, lookupErr
		}
		return model.Release{}, fmt.Errorf("%w: %q", source.ErrNotFound, title)
	}
	r, err := release.Reconcile(primary, secondary, "")
	if err != nil {
		return model.Release{}, err
	}
	r.GenreTags = nil
	return r, nil
}

func (b *Bot) handleNews(ctx context.Context, chatID int64) {
	items, err := b.store.ListNews(ctx, newsLimit)
	if err != nil {
		b.fail(chatID, "list news", err)
		return
	}
	b.reply(chatID, FormatNews(items))
}

func (b *Bot) handleBroadcast(ctx context.Context, chatID, userID int64, text string) {
	if !b.cfg.IsAdmin(userID) {
		b.reply(chatID, "This command is for the admin only.")
		return
	}
	if text == "" {
		b.reply(chatID, "Usage: /broadcast <message>")
		return
	}

	subs, err := b.store.ListSubscribers(ctx)
	if err != nil {
		b.fail(chatID, "list subscribers", err)
		return
	}
	sent := 0
	for _, s := range subs {
		if err := b.SendText(s.UserID, text); err == nil {
			sent++
		}
		time.Sleep(50 * time.Millisecond)
	}
	b.reply(chatID, fmt.Sprintf("Broadcast sent to %d of %d subscribers.", sent, len(subs)))
}

func (b *Bot) handleStats(ctx context.Context, chatID, userID int64) {
	if !b.cfg.IsAdmin(userID) {
		b.reply(chatID, "This command is for the admin only.")
		return
	}
	st, err := b.store.Stats(ctx)
	if err != nil {
		b.fail(chatID, "stats", err)
		return
	}
	var state string
	if b.status != nil {
		state = b.status()
	}
	b.reply(chatID, FormatStats(st, state))
}
