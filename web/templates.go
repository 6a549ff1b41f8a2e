// Package web embeds the public site: page templates, interface messages,
// static assets and robots.txt.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spaceplaces/server/internal/locale"
	"github.com/spaceplaces/server/internal/sanitize"
)

//go:embed templates
var templatesFS embed.FS

//go:embed i18n.yaml
var messagesYAML []byte

// Templates returns the page templates rooted at layout.html.
func Templates() fs.FS {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic("failed to create sub-filesystem for templates: " + err.Error())
	}
	return sub
}

// Messages holds interface strings per locale.
type Messages struct {
	table    map[string]map[string]string
	fallback string
}

// LoadMessages parses the embedded message catalog. fallback is used when a
// locale lacks a key.
func LoadMessages(fallback string) (*Messages, error) {
	return ParseMessages(messagesYAML, fallback)
}

func ParseMessages(data []byte, fallback string) (*Messages, error) {
	var table map[string]map[string]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	if _, ok := table[fallback]; !ok {
		return nil, fmt.Errorf("messages: no catalog for fallback locale %q", fallback)
	}
	return &Messages{table: table, fallback: fallback}, nil
}

// T returns the message for key in locale, then in the fallback locale,
// then key itself.
func (m *Messages) T(locale, key string) string {
	if msg, ok := m.table[locale][key]; ok {
		return msg
	}
	if msg, ok := m.table[m.fallback][key]; ok {
		return msg
	}
	return key
}

// TParam is T with every "{param}" in the message replaced by param.
func (m *Messages) TParam(locale, key, param string) string {
	return strings.ReplaceAll(m.T(locale, key), "{param}", param)
}

// Missing lists the keys of the fallback catalog that locale does not
// define.
func (m *Messages) Missing(locale string) []string {
	var out []string
	for key := range m.table[m.fallback] {
		if _, ok := m.table[locale][key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

// Funcs returns the helpers the page templates call: t for messages, path
// for localized routes and safe for stored rich text.
func Funcs(m *Messages, routes *locale.Routes) template.FuncMap {
	return template.FuncMap{
		"t":    m.T,
		"path": routes.Path,
		"safe": func(s string) template.HTML {
			return template.HTML(sanitize.HTML(s))
		},
	}
}
