package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pbeaman/persistit-sub006/pkg/log/journal"
	"github.com/pbeaman/persistit-sub006/pkg/log/record"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Faint(true).Padding(1, 1, 0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
)

type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

// Model is the journalctl TUI's root bubbletea model: a single scrollable
// table of every record the scan found, loaded once at startup.
type Model struct {
	basePath string
	keys     keyMap
	table    table.Model
	summary  string
	err      error
}

// NewModel opens the journal at basePath through journal.Open (read-write
// on the newest segment; nothing is appended), scans it end to end, and
// builds the initial table of records.
func NewModel(basePath string) (Model, error) {
	cfg := journal.DefaultConfig(basePath)
	mgr, err := journal.Open(cfg, nil)
	if err != nil {
		return Model{}, fmt.Errorf("open journal: %w", err)
	}
	defer mgr.Close()

	rows, scanned, err := scanRows(mgr)
	if err != nil {
		return Model{}, fmt.Errorf("scan journal: %w", err)
	}

	columns := []table.Column{
		{Title: "ADDR", Width: 12},
		{Title: "TAG", Width: 6},
		{Title: "TIMESTAMP", Width: 12},
		{Title: "DETAIL", Width: 60},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(tableStyles())

	return Model{
		basePath: basePath,
		keys:     defaultKeyMap(),
		table:    t,
		summary:  fmt.Sprintf("%s — %d records scanned", basePath, scanned),
	}, nil
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderBottom(true).BorderStyle(lipgloss.NormalBorder())
	s.Selected = s.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6")).Bold(true)
	return s
}

func scanRows(mgr *journal.Manager) ([]table.Row, int, error) {
	scanner, err := mgr.OpenScanner(0)
	if err != nil {
		return nil, 0, err
	}
	defer scanner.Close()

	var rows []table.Row
	n := 0
	for {
		rec, addr, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, n, err
		}
		n++
		rows = append(rows, table.Row{
			addr.String(),
			rec.Tag().String(),
			fmt.Sprintf("%d", rec.Ts()),
			describe(rec),
		})
	}
	return rows, n, nil
}

func describe(rec record.Record) string {
	switch r := rec.(type) {
	case record.TxStartRecord:
		return fmt.Sprintf("start ts=%d", r.StartTs)
	case record.TxCommitRecord:
		return fmt.Sprintf("commit ts=%d", r.StartTs)
	case record.TxRollbackRecord:
		return fmt.Sprintf("rollback ts=%d", r.StartTs)
	case record.TxContainerRecord:
		return fmt.Sprintf("tx ts=%d commitTs=%d backchain=%s payload=%dB",
			r.StartTs, r.CommitTs, addrString(r.BackchainAddr), len(r.Payload))
	case record.CheckpointRecord:
		return "checkpoint"
	case record.InstallVolumeRecord:
		return fmt.Sprintf("volume %q handle=%d id=%d", r.Name, r.Handle, r.ID)
	case record.InstallTreeRecord:
		return fmt.Sprintf("tree %q handle=%d volume=%d", r.TreeName, r.Handle, r.VolumeHandle)
	case record.PageImageRecord:
		return fmt.Sprintf("page=%d image=%dB", r.Page, len(r.Image))
	case record.StoreRecord:
		return fmt.Sprintf("tree=%d key=%dB value=%dB", r.TreeHandle, len(r.Key), len(r.Value))
	case record.RangeDeleteRecord:
		return fmt.Sprintf("tree=%d elision=%d suffix=%dB", r.TreeHandle, r.ElisionCount, len(r.Key2Suffix))
	case record.TreeDeleteRecord:
		return fmt.Sprintf("tree=%d", r.TreeHandle)
	case record.AccumulatorDeltaRecord:
		return fmt.Sprintf("tree=%d idx=%d type=%d hasValue=%v value=%d", r.TreeHandle, r.Index, r.AccumulatorType, r.HasValue, r.Value)
	default:
		return ""
	}
}

func addrString(a primitives.Address) string {
	if a.Zero() {
		return "-"
	}
	return a.String()
}

// Init satisfies tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update satisfies tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 6)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View satisfies tea.Model.
func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("error: %v\n", m.err))
	}
	header := headerStyle.Render("journalctl — journal inspector")
	footer := footerStyle.Render(m.summary + "  ·  q: quit")
	return header + "\n" + m.table.View() + "\n" + footer
}
