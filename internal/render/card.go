package render

import (
	"strings"
	"unicode/utf8"

	"shopwatch/pkg/tgui"
)

// Card is a ready-to-send Telegram message: a photo with caption when ImageURL is
// set, otherwise plain HTML text.
type Card struct {
	ImageURL string
	Text     string
}

// Card formats it as Telegram HTML within the caption limit. The description is
// shortened first, then the bundle list.
func (it Item) Card() Card {
	bundle := it.Bundle
	desc := it.Description
	text := it.caption(desc, bundle)
	for utf8.RuneCountInString(text) > tgui.CaptionLimit {
		over := utf8.RuneCountInString(text) - tgui.CaptionLimit
		n := utf8.RuneCountInString(desc)
		switch {
		case n > 1:
			desc = tgui.TruncRunes(desc, max(1, n-over))
		case len(bundle) > 0:
			bundle = bundle[:len(bundle)-1]
		default:
			return Card{ImageURL: it.ImageURL, Text: tgui.TruncRunes(text, tgui.CaptionLimit)}
		}
		text = it.caption(desc, bundle)
	}
	return Card{ImageURL: it.ImageURL, Text: text}
}

func (it Item) caption(desc string, bundle []string) string {
	parts := []tgui.H{
		tgui.B(it.Title),
		tgui.Esc(desc),
		tgui.Field("Price", it.Price),
		tgui.Field("Rarity", it.Rarity),
	}
	if it.Bundle != nil {
		lines := make([]string, 0, len(bundle))
		for _, name := range bundle {
			lines = append(lines, "- "+name)
		}
		if len(bundle) < len(it.Bundle) {
			lines = append(lines, "…")
		}
		parts = append(parts, tgui.H(string(tgui.B("Includes:"))+"\n"+string(tgui.Esc(strings.Join(lines, "\n")))))
	}
	parts = append(parts, tgui.I(it.Footer))
	return string(tgui.Lines(parts...))
}
