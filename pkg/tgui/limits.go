package tgui

import "errors"

const (
	// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
	MaxCallbackDataLen = 64
	MaxCaptionRunes    = 1024
	MaxTextRunes       = 4096
)

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
