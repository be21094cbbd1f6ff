package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/klauern/postsync/internal/model"
)

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "hello", 5, "hello"},
		{"cut", "hello world", 6, "hello…"},
		{"zero width", "text", 0, ""},
		{"wide runes", "日本語テキスト", 5, "日本…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateText(tt.text, tt.width); got != tt.want {
				t.Errorf("truncateText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestWrapText_TruncatesWithEllipsis(t *testing.T) {
	lines := wrapText("one two three", 6, 2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "one" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != "two t…" {
		t.Errorf("expected truncated second line, got %q", lines[1])
	}
}

func TestWrapText_LongWordTruncates(t *testing.T) {
	lines := wrapText("superlongword", 5, 1)
	if len(lines) != 1 || lines[0] != "supe…" {
		t.Errorf("got %v", lines)
	}
}

func TestWrapText_ZeroWidth(t *testing.T) {
	lines := wrapText("text", 0, 2)
	if len(lines) != 1 || lines[0] != "" {
		t.Errorf("expected empty line for zero width, got %v", lines)
	}
}

func TestPadLines(t *testing.T) {
	lines := padLines([]string{"a"}, 3)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[1] != "" || lines[2] != "" {
		t.Errorf("expected padded lines to be empty, got %v", lines)
	}
}

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func sampleRecords() []model.SyncRecord {
	return []model.SyncRecord{
		{SourcePlatform: model.Mastodon, SourceID: "111", DestPlatform: model.Bluesky, DestID: "at://did:plc:a/app.bsky.feed.post/1", SyncedAt: base},
		{SourcePlatform: model.Bluesky, SourceID: "at://did:plc:a/app.bsky.feed.post/9", DestPlatform: model.Mastodon, DestID: "222", SyncedAt: base.Add(time.Hour)},
		{SourcePlatform: model.Mastodon, SourceID: "100", DestPlatform: model.Bluesky, SyncedAt: base.Add(-time.Hour)},
	}
}

func press(m HistoryModel, msgs ...tea.Msg) HistoryModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(HistoryModel)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewHistoryModel_SortsNewestFirst(t *testing.T) {
	m := NewHistoryModel(sampleRecords())

	if len(m.filtered) != 3 {
		t.Fatalf("expected 3 records, got %d", len(m.filtered))
	}
	got := []string{m.filtered[0].SourceID, m.filtered[1].SourceID, m.filtered[2].SourceID}
	want := []string{"at://did:plc:a/app.bsky.feed.post/9", "111", "100"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order = %v, want %v", got, want)
			break
		}
	}
	if m.Init() != nil {
		t.Error("expected nil command from Init")
	}
}

func TestHistoryModel_Navigation(t *testing.T) {
	m := NewHistoryModel(sampleRecords())

	m = press(m, runes("j"))
	if rec, _ := m.Selected(); rec.SourceID != "111" {
		t.Errorf("after j selected %q", rec.SourceID)
	}
	m = press(m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	if rec, _ := m.Selected(); rec.SourceID != "100" {
		t.Errorf("cursor should stop at the last record, selected %q", rec.SourceID)
	}
	m = press(m, runes("k"))
	if rec, _ := m.Selected(); rec.SourceID != "111" {
		t.Errorf("after k selected %q", rec.SourceID)
	}
}

func TestHistoryModel_SourceCycle(t *testing.T) {
	m := NewHistoryModel(sampleRecords())
	tab := tea.KeyMsg{Type: tea.KeyTab}

	steps := []struct {
		source model.Platform
		count  int
	}{
		{model.Mastodon, 2},
		{model.Bluesky, 1},
		{"", 3},
	}
	for _, step := range steps {
		m = press(m, tab)
		if m.source != step.source || len(m.filtered) != step.count {
			t.Errorf("source = %q with %d records, want %q with %d", m.source, len(m.filtered), step.source, step.count)
		}
	}
}

func TestHistoryModel_Filter(t *testing.T) {
	m := NewHistoryModel(sampleRecords())

	m = press(m, runes("/"), runes("2"), runes("2"))
	if !m.filtering || m.filter != "22" {
		t.Fatalf("filtering=%v filter=%q", m.filtering, m.filter)
	}
	if len(m.filtered) != 1 || m.filtered[0].DestID != "222" {
		t.Errorf("filtered = %+v", m.filtered)
	}

	m = press(m, tea.KeyMsg{Type: tea.KeyBackspace})
	if m.filter != "2" {
		t.Errorf("filter after backspace = %q", m.filter)
	}

	m = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.filtering {
		t.Error("enter should leave filter mode")
	}

	m = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.filter != "" || len(m.filtered) != 3 {
		t.Errorf("esc should clear the filter, got %q with %d records", m.filter, len(m.filtered))
	}
}

func TestHistoryModel_ViewAndQuit(t *testing.T) {
	m := NewHistoryModel(sampleRecords())
	m = press(m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	for _, want := range []string{"postsync history", "3 of 3 records, all platforms", "Record", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m = press(m, runes("?"))
	if !strings.Contains(m.View(), "Cycle source platform") {
		t.Error("help should list key bindings")
	}

	next, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.(HistoryModel).View() != "" {
		t.Error("expected empty view after quitting")
	}
}

func TestHistoryModel_Empty(t *testing.T) {
	m := NewHistoryModel(nil)
	if _, ok := m.Selected(); ok {
		t.Error("expected no selection")
	}
	if !strings.Contains(m.View(), "No records.") {
		t.Error("expected empty detail panel")
	}
}
