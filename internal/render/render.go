// Package render turns a catalog snapshot into notification items and Telegram cards.
package render

import (
	"strings"

	"shopwatch/internal/catalog"
)

const (
	NoDescription = "No description available"
	Footer        = "Visit the shop before it changes!"
)

// Item is one notification, built from one featured entry.
type Item struct {
	Title       string
	Description string
	ImageURL    string
	Price       string
	Rarity      string
	Bundle      []string // nil when the entry is not a bundle
	Footer      string
}

// Render builds one Item per featured entry that has at least one item, in
// entry order.
func Render(snap *catalog.Snapshot) []Item {
	if snap == nil {
		return nil
	}
	entries := snap.Shop.FeaturedEntries()
	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		if len(e.Items) == 0 {
			continue
		}
		out = append(out, renderEntry(e))
	}
	return out
}

func renderEntry(e catalog.Entry) Item {
	first := e.Items[0]
	desc := strings.TrimSpace(first.Description)
	if desc == "" {
		desc = NoDescription
	}
	it := Item{
		Title:       first.Name,
		Description: desc,
		ImageURL:    strings.TrimSpace(first.Images.Icon),
		Price:       e.FinalPrice.String() + " V-Bucks",
		Rarity:      first.Rarity.DisplayValue,
		Footer:      Footer,
	}
	if e.Bundle != nil {
		it.Bundle = bundleNames(e)
	}
	return it
}

func bundleNames(e catalog.Entry) []string {
	src := e.Bundle.Info.Items
	names := make([]string, 0, max(len(src), len(e.Items)))
	for _, bi := range src {
		names = append(names, bi.Name)
	}
	if len(names) > 0 {
		return names
	}
	for _, it := range e.Items {
		names = append(names, it.Name)
	}
	return names
}
