package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Inline builds an inline keyboard from rows of buttons.
// Nil or empty rows yield an empty keyboard, which removes buttons on edit.
func Inline(rows [][]tele.Btn) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		out = append(out, rm.Row(r...))
	}
	rm.Inline(out...)
	return rm
}

// Grid splits buttons into rows of n.
func Grid[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = 1
	}
	var rows [][]T
	for len(items) > 0 {
		k := min(n, len(items))
		rows = append(rows, items[:k:k])
		items = items[k:]
	}
	return rows
}
