package ui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

const (
	headerHeight = 1
	footerHeight = 1
	minListRows  = 3
)

// layout sizes the detail viewport to whatever the row list leaves free.
func (m *Model) layout() {
	rows := max(len(m.watch), minListRows)
	h := m.height - headerHeight - footerHeight - rows - 3
	w := m.width - 4
	if !m.ready {
		m.detail = viewport.New(max(w, 1), max(h, 1))
		return
	}
	m.detail.Width = max(w, 1)
	m.detail.Height = max(h, 1)
}

func (m *Model) updateDetail() {
	if !m.ready {
		return
	}
	k, ok := m.selectedKey()
	if !ok {
		m.detail.SetContent("")
		return
	}
	m.detail.SetContent(m.renderDetail(k))
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(m.renderRows())
	b.WriteByte('\n')
	b.WriteString(m.styles.Detail.Render(m.detail.View()))
	b.WriteByte('\n')
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	push := m.styles.Faint.Render("push off")
	if m.push != nil {
		if since, live := m.push.ConnectedSince(); live {
			push = m.styles.Accent.Render("push live " + humanAge(m.now().Sub(since)))
		} else {
			push = m.styles.Muted.Render("push down")
		}
	}
	left := m.styles.Accent.Render("mirror") + " " + m.styles.Muted.Render(m.server)
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(push)-2, 1)
	return m.styles.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + push)
}

func (m Model) renderFooter() string {
	var parts []string
	for _, b := range m.keys.help() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	text := strings.Join(parts, "  ")
	if m.notice != "" {
		text = m.notice + "  |  " + text
	}
	return m.styles.Footer.Width(m.width).Render(text)
}

func (m Model) renderRows() string {
	pathWidth := 0
	for _, k := range m.watch {
		pathWidth = max(pathWidth, lipgloss.Width(k))
	}
	now := m.now()
	lines := make([]string, 0, len(m.watch))
	for i, k := range m.watch {
		e, cached := m.entries[k]
		badge := m.badge(e, cached)
		age := ""
		if cached && !e.FetchedAt.IsZero() {
			age = humanAge(e.Age(now))
		}
		line := fmt.Sprintf("%-*s %s %6s  %s", pathWidth, k, badge, age, summarize(e, cached))
		if i == m.selected {
			line = m.styles.Selected.Width(m.width).Render(line)
		} else {
			line = m.styles.Text.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < minListRows {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) badge(e state.Entry, cached bool) string {
	switch {
	case !cached:
		return m.styles.StateWait.Render("WAIT")
	case e.Value.Deleted:
		return m.styles.StateGone.Render("DEL ")
	case e.Value.IsError():
		return m.styles.StateErr.Render("ERR ")
	default:
		return m.styles.StateOK.Render(" OK ")
	}
}

func summarize(e state.Entry, cached bool) string {
	switch {
	case !cached:
		return "waiting for server"
	case e.Value.Deleted:
		return "deleted"
	case e.Value.IsError():
		if e.Value.Err.Description != "" {
			return e.Value.Err.Name + ": " + e.Value.Err.Description
		}
		return e.Value.Err.Name
	}
	if heedy.IsListKey(e.Path) {
		return fmt.Sprintf("%d items", len(e.Value.Object))
	}
	if name := e.Value.Object.Name(); name != "" {
		return name
	}
	if id := e.Value.Object.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("%d fields", len(e.Value.Object))
}

func (m Model) renderDetail(k string) string {
	e, cached := m.entries[k]
	if !cached {
		return m.styles.Muted.Render(k + " has not been fetched yet")
	}
	var body any
	switch {
	case e.Value.Deleted:
		return m.styles.Muted.Render(k + " was deleted")
	case e.Value.IsError():
		body = e.Value.Err
	default:
		body = e.Value.Object
	}
	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return m.styles.StateErr.Render(err.Error())
	}
	meta := m.styles.Faint.Render(fmt.Sprintf("seq %d  fetched %s", e.Seq, e.FetchedAt.Format(time.TimeOnly)))
	return meta + "\n" + string(raw)
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
