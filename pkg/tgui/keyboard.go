package tgui

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"linkrelay/internal/transport"
)

// Markup converts transport buttons to a single-row inline keyboard.
// Buttons with a URL become link buttons; the rest carry raw callback data.
// An empty list yields nil so the message is sent without a keyboard.
func Markup(buttons []transport.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]tele.InlineButton, 0, len(buttons))
	for _, b := range buttons {
		if b.URL != "" {
			row = append(row, tele.InlineButton{Text: b.Text, URL: b.URL})
			continue
		}
		row = append(row, tele.InlineButton{Text: b.Text, Data: b.Data})
	}
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}}
}

// CheckButtons rejects callback data Telegram would refuse.
func CheckButtons(buttons []transport.Button) error {
	for _, b := range buttons {
		if b.URL == "" && len(b.Data) > MaxCallbackDataLen {
			return fmt.Errorf("%w: %q is %d bytes", ErrCallbackDataTooLong, b.Text, len(b.Data))
		}
	}
	return nil
}
