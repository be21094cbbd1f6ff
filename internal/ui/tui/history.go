package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/klauern/postsync/internal/model"
)

// historyKeyMap defines the key bindings for the history browser.
type historyKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Source   key.Binding
	Filter   key.Binding
	ClearFlt key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultHistoryKeyMap() historyKeyMap {
	return historyKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Source: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "cycle source platform"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		ClearFlt: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear filter"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

const (
	historySourceWidth = 10
	historyIDWidth     = 24
	historyDestWidth   = 40
	historyWhenWidth   = 16
	historyPadding     = 2
	historyColumns     = 4
	historyDetailLines = 2
	historyDetailSize  = historyDetailLines + 1 + 2 // title + content + border
)

type historyColumnWidths struct {
	id   int
	dest int
}

func historyTableColumns(totalWidth int) ([]table.Column, historyColumnWidths) {
	widths := historyColumnWidths{id: historyIDWidth, dest: historyDestWidth}
	if totalWidth > 0 {
		base := historySourceWidth + widths.id + widths.dest + historyWhenWidth + historyPadding*historyColumns
		if extra := totalWidth - base; extra > 0 {
			widths.id += extra / 3
			widths.dest += extra - extra/3
		}
	}
	return []table.Column{
		{Title: "Source", Width: historySourceWidth},
		{Title: "Post", Width: widths.id},
		{Title: "Mirror", Width: widths.dest},
		{Title: "Synced", Width: historyWhenWidth},
	}, widths
}

// HistoryModel is the BubbleTea model for browsing sync records.
type HistoryModel struct {
	table     table.Model
	records   []model.SyncRecord
	filtered  []model.SyncRecord
	source    model.Platform
	keys      historyKeyMap
	filter    string
	filtering bool
	showHelp  bool
	width     int
	height    int
	widths    historyColumnWidths
	now       func() time.Time
	quitting  bool
}

// NewHistoryModel creates a browser over records, newest first.
func NewHistoryModel(records []model.SyncRecord) HistoryModel {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b model.SyncRecord) int {
		return b.SyncedAt.Compare(a.SyncedAt)
	})

	columns, widths := historyTableColumns(0)
	m := HistoryModel{
		records:  sorted,
		filtered: sorted,
		keys:     defaultHistoryKeyMap(),
		widths:   widths,
		now:      time.Now,
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	m.table = t
	m.table.SetRows(m.rows())
	return m
}

func (m HistoryModel) rows() []table.Row {
	rows := make([]table.Row, len(m.filtered))
	for i, r := range m.filtered {
		dest := r.DestID
		if !r.Published() {
			dest = "(marked synced)"
		}
		rows[i] = table.Row{
			r.SourcePlatform.String(),
			truncateText(r.SourceID, m.widths.id),
			truncateText(dest, m.widths.dest),
			humanize.RelTime(r.SyncedAt, m.now(), "ago", "from now"),
		}
	}
	return rows
}

func (m *HistoryModel) applyFilter() {
	needle := strings.ToLower(m.filter)
	m.filtered = m.filtered[:0:0]
	for _, r := range m.records {
		if m.source != "" && r.SourcePlatform != m.source {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.SourceID), needle) &&
			!strings.Contains(strings.ToLower(r.DestID), needle) {
			continue
		}
		m.filtered = append(m.filtered, r)
	}
	m.table.SetRows(m.rows())
	m.table.SetCursor(0)
}

// nextSource cycles all → mastodon → bluesky → all.
func (m *HistoryModel) nextSource() {
	platforms := model.AllPlatforms()
	switch i := slices.Index(platforms, m.source); {
	case m.source == "":
		m.source = platforms[0]
	case i == len(platforms)-1:
		m.source = ""
	default:
		m.source = platforms[i+1]
	}
	m.applyFilter()
}

// Selected returns the highlighted record.
func (m HistoryModel) Selected() (model.SyncRecord, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.filtered) {
		return model.SyncRecord{}, false
	}
	return m.filtered[i], true
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-8-historyDetailSize, 5))
		var columns []table.Column
		columns, m.widths = historyTableColumns(msg.Width)
		m.table.SetColumns(columns)
		m.table.SetRows(m.rows())
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			switch msg.String() {
			case "enter":
				m.filtering = false
			case "esc":
				m.filter = ""
				m.filtering = false
				m.applyFilter()
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
					m.applyFilter()
				}
			default:
				if msg.Type == tea.KeyRunes {
					m.filter += string(msg.Runes)
					m.applyFilter()
				}
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, m.keys.Filter):
			m.filtering = true
			return m, nil
		case key.Matches(msg, m.keys.ClearFlt):
			m.filter = ""
			m.applyFilter()
			return m, nil
		case key.Matches(msg, m.keys.Source):
			m.nextSource()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(Styles.Title.Render("postsync history"))
	b.WriteString("\n\n")

	if m.filtering || m.filter != "" {
		b.WriteString(Styles.Filter.Render("Filter: "))
		b.WriteString(Styles.FilterInput.Render(m.filter))
		if m.filtering {
			b.WriteString("█")
		}
		b.WriteString("\n\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.renderDetail())
	b.WriteString("\n")

	source := "all platforms"
	if m.source != "" {
		source = "from " + m.source.String()
	}
	b.WriteString(Styles.Status.Render(fmt.Sprintf("%d of %d records, %s", len(m.filtered), len(m.records), source)))
	b.WriteString("\n")

	if m.showHelp {
		b.WriteString(Styles.Help.Render(`Navigation:
  ↑/k ↓/j  Move
  tab      Cycle source platform
  /        Filter by post id
  esc      Clear filter
  ?        Toggle help
  q        Quit`))
	} else {
		b.WriteString(Styles.Help.Render("↑/↓ navigate • tab source • / filter • ? help • q quit"))
	}
	return b.String()
}

func (m HistoryModel) renderDetail() string {
	width := m.width
	if width <= 0 {
		width = historySourceWidth + m.widths.id + m.widths.dest + historyWhenWidth + historyPadding*historyColumns
	}
	rec, ok := m.Selected()
	text := "No records."
	if ok {
		dest := rec.DestID
		if !rec.Published() {
			dest = "nothing published, marked synced"
		}
		text = fmt.Sprintf("%s %s → %s %s on %s", rec.SourcePlatform, rec.SourceID, rec.DestPlatform, dest,
			rec.SyncedAt.Local().Format(time.DateTime))
	}
	lines := padLines(wrapText(text, max(width-4, 10), historyDetailLines), historyDetailLines)
	content := append([]string{Styles.DetailTitle.Render("Record")}, lines...)
	return Styles.DetailBox.Width(width).Render(strings.Join(content, "\n"))
}

// RunHistory opens the history browser.
func RunHistory(records []model.SyncRecord) error {
	_, err := Run(NewHistoryModel(records))
	return err
}
