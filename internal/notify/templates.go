/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	TmplNowPlayingLive     = "now_playing_live"
	TmplNowPlayingDownload = "now_playing_download"
	TmplNowPlayingIndex    = "now_playing_index"
	TmplNowPlayingPlain    = "now_playing_plain"
	TmplPlaybackError      = "playback_error"
	TmplDownloading        = "downloading"
	TmplNoActiveCall       = "no_active_call"
	TmplAlreadyJoined      = "already_joined"
	TmplAutoEnd            = "autoend"
	TmplAssistantJoining   = "assistant_joining"
	TmplAssistantJoined    = "assistant_joined"
)

var defaultTemplates = map[string]string{
	TmplNowPlayingLive:     "🔴 Streaming live: {{.Title}}\nRequested by {{.RequestedBy}}",
	TmplNowPlayingDownload: "▶️ Now playing: {{.Title}} [{{.Duration}}]\nRequested by {{.RequestedBy}}",
	TmplNowPlayingIndex:    "▶️ Now playing: {{.Title}}{{if .Duration}} [{{.Duration}}]{{end}}\nRequested by {{.RequestedBy}}",
	TmplNowPlayingPlain:    "▶️ Now playing: {{if .Title}}{{.Title}}{{else}}{{.Ref}}{{end}}\nRequested by {{.RequestedBy}}",
	TmplPlaybackError:      "Failed to play the next track{{if .Title}} ({{.Title}}){{end}}. Use skip to move on.",
	TmplDownloading:        "Downloading {{.Title}}...",
	TmplNoActiveCall:       "No active voice chat found. Start one and try again.",
	TmplAlreadyJoined:      "The assistant is already in the voice chat. If playback is stuck, use force stop and try again.",
	TmplAutoEnd:            "Left the voice chat after {{.Minutes}} minutes alone.",
	TmplAssistantJoining:   "Assistant is joining this chat...",
	TmplAssistantJoined:    "Assistant joined, starting playback.",
}

// Data is the value templates are executed against.
type Data struct {
	Title       string
	Ref         string
	Duration    string
	RequestedBy string
	Mode        string
	Position    int
	Minutes     int
}

// FormatDuration renders d as m:ss or h:mm:ss. Zero renders as "".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Templates renders named message templates.
type Templates struct {
	set map[string]*template.Template
}

// DefaultTemplates returns the built-in template set.
func DefaultTemplates() *Templates {
	t, err := parseTemplates(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads a YAML map of name -> template text and layers it over
// the defaults. An empty path returns the defaults.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}

	merged := make(map[string]string, len(defaultTemplates))
	for name, text := range defaultTemplates {
		merged[name] = text
	}
	for name, text := range overrides {
		if _, ok := defaultTemplates[name]; !ok {
			return nil, fmt.Errorf("unknown template %q", name)
		}
		merged[name] = text
	}
	return parseTemplates(merged)
}

func parseTemplates(src map[string]string) (*Templates, error) {
	t := &Templates{set: make(map[string]*template.Template, len(src))}
	for name, text := range src {
		tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		t.set[name] = tmpl
	}
	return t, nil
}

// Render executes the named template.
func (t *Templates) Render(name string, data Data) (string, error) {
	tmpl, ok := t.set[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Names lists the available templates.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.set))
	for name := range t.set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
