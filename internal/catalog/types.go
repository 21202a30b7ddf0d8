// Package catalog fetches the item shop, remembers the last observed snapshot and
// reports when the shop changed.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// response is the API envelope: {"status": 200, "data": {...}}.
type response struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Shop is the typed view of the fields rendering needs. Everything else in the
// payload is kept only in the snapshot's generic tree.
type Shop struct {
	Hash     string   `json:"hash"`
	Date     string   `json:"date"`
	Featured *Section `json:"featured"`
}

type Section struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

type Entry struct {
	RegularPrice Price   `json:"regularPrice"`
	FinalPrice   Price   `json:"finalPrice"`
	Bundle       *Bundle `json:"bundle"`
	Items        []Item  `json:"items"`
}

// Price is a V-Bucks amount as sent by the API. Integral and fractional
// numbers are both accepted; a numeric string is tolerated too.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("price %q is not a number", data)
	}
	*p = Price(data)
	return nil
}

// String formats the amount without a trailing fraction: 800.0 prints as "800".
// A missing price prints as "0".
func (p Price) String() string {
	if p == "" {
		return "0"
	}
	f, err := strconv.ParseFloat(string(p), 64)
	if err != nil {
		return string(p)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      Rarity `json:"rarity"`
	Images      Images `json:"images"`
}

type Rarity struct {
	Value        string `json:"value"`
	DisplayValue string `json:"displayValue"`
}

type Images struct {
	SmallIcon string `json:"smallIcon"`
	Icon      string `json:"icon"`
	Featured  string `json:"featured"`
}

type Bundle struct {
	Name  string     `json:"name"`
	Image string     `json:"image"`
	Info  BundleInfo `json:"info"`
}

type BundleItem struct {
	Name string `json:"name"`
}

// BundleInfo is either an object listing the bundled items or a plain label.
type BundleInfo struct {
	Label string
	Items []BundleItem
}

func (b *BundleInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = BundleInfo{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BundleInfo{Label: s}
		return nil
	}
	var obj struct {
		Items []BundleItem `json:"items"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*b = BundleInfo{Items: obj.Items}
	return nil
}

// FeaturedEntries returns the featured entries in source order (nil when the
// shop has no featured section).
func (s *Shop) FeaturedEntries() []Entry {
	if s == nil || s.Featured == nil {
		return nil
	}
	return s.Featured.Entries
}
