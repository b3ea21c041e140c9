package keyboard

import (
	"slices"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackData is the Telegram limit for callback_data, in bytes.
const MaxCallbackData = 64

// InlineBtn describes one inline button. Data travels back verbatim as the
// callback payload.
type InlineBtn struct {
	Text string
	Data string
}

// InlineButtons stacks the buttons one per row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	return InlineButtonsNPerRow(buttons, 1)
}

// InlineButtonsNPerRow lays the buttons out left to right, n to a row.
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	for chunk := range slices.Chunk(buttons, max(n, 1)) {
		row := make([]tele.InlineButton, len(chunk))
		for i, b := range chunk {
			row[i] = tele.InlineButton{Text: b.Text, Data: b.Data}
		}
		rows = append(rows, row)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// Oversized returns the first button whose Data exceeds MaxCallbackData.
func Oversized(buttons []InlineBtn) (InlineBtn, bool) {
	for _, b := range buttons {
		if len(b.Data) > MaxCallbackData {
			return b, true
		}
	}
	return InlineBtn{}, false
}
