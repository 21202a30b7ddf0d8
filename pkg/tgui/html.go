package tgui

import (
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode "HTML". Values are already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + string(inner) + "</" + tag + ">") }

func B(s string) H { return wrap("b", Esc(s)) }
func I(s string) H { return wrap("i", Esc(s)) }

// Field renders "<b>label:</b> value".
func Field(label, value string) H {
	return H(string(B(label+":")) + " " + string(Esc(value)))
}

// Lines joins non-blank parts with newlines.
func Lines(parts ...H) H {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		out = append(out, string(p))
	}
	return H(strings.Join(out, "\n"))
}
