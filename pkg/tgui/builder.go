package tgui

import "strings"

// Builder assembles a multi-line HTML message. Plain text is escaped.
type Builder struct {
	lines []string
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.HTML("") }

// KV adds "<b>key</b>: value".
func (b *Builder) KV(key, value string) *Builder {
	return b.HTML(B(key) + ": " + Esc(value))
}

func (b *Builder) Build() H { return H(strings.Join(b.lines, "\n")) }
