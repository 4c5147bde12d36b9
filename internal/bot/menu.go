package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"release_bot/internal/genre"
	"release_bot/internal/model"
)

// menus keeps the in-progress genre selection of each chat.
type menus struct {
	mu        sync.Mutex
	selection map[int64][]model.GenreTag
}

func newMenus() *menus {
	return &menus{selection: make(map[int64][]model.GenreTag)}
}

func (m *menus) begin(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection[chatID] = nil
}

// toggle adds or removes tag and returns the new selection.
func (m *menus) toggle(chatID int64, tag model.GenreTag) []model.GenreTag {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.selection[chatID]
	next := make([]model.GenreTag, 0, len(cur)+1)
	removed := false
	for _, t := range cur {
		if t == tag {
			removed = true
			continue
		}
		next = append(next, t)
	}
	if !removed {
		next = append(next, tag)
	}
	m.selection[chatID] = next
	return next
}

func (m *menus) get(chatID int64) []model.GenreTag {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.GenreTag, len(m.selection[chatID]))
	copy(out, m.selection[chatID])
	return out
}

func (m *menus) clear(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.selection, chatID)
}

func genreKeyboard(selected []model.GenreTag) tgbotapi.InlineKeyboardMarkup {
	chosen := make(map[model.GenreTag]bool, len(selected))
	for _, t := range selected {
		chosen[t] = true
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, tag := range genre.Tags() {
		label := genre.Label(tag)
		if chosen[tag] {
			label += " ✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbGenre+":"+string(tag)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Done", cbMenu+":"+menuDone),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Confirm", cbMenu+":"+menuConfirm)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Cancel", cbMenu+":"+menuCancel)),
	)
}
