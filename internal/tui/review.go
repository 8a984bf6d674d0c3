package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// ReviewActions is the subset of the learning manager the review screen drives.
type ReviewActions interface {
	Review() ([]learning.ReviewItem, error)
	Validate(ctx context.Context, id string) (*learning.ValidationResult, error)
	Propose(ctx context.Context, id string) (*models.LearningRecord, error)
	Confirm(ctx context.Context, id string) (*models.LearningRecord, []learning.Transition, error)
	Apply(ctx context.Context, id string) (*learning.ApplyResult, error)
}

// itemsLoadedMsg carries a fresh review list.
type itemsLoadedMsg struct {
	items []learning.ReviewItem
	err   error
}

// actionDoneMsg reports the outcome of an action on one record.
type actionDoneMsg struct {
	id      string
	verb    string
	summary string
	err     error
}

// ReviewModel is an interactive table of Hot-tier learnings awaiting action.
type ReviewModel struct {
	ctx     context.Context
	actions ReviewActions

	table   table.Model
	items   []learning.ReviewItem
	status  string
	failed  bool
	busy    bool
	width   int
	height  int
	loadErr error

	titleStyle  lipgloss.Style
	headerStyle lipgloss.Style
	okStyle     lipgloss.Style
	errStyle    lipgloss.Style
	hintStyle   lipgloss.Style
}

var reviewColumns = []table.Column{
	{Title: "ID", Width: 18},
	{Title: "Type", Width: 20},
	{Title: "Status", Width: 10},
	{Title: "Freq", Width: 5},
	{Title: "Conf", Width: 6},
	{Title: "Description", Width: 40},
}

// NewReviewModel creates the review screen over actions.
func NewReviewModel(ctx context.Context, actions ReviewActions) *ReviewModel {
	t := table.New(
		table.WithColumns(reviewColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return &ReviewModel{
		ctx:     ctx,
		actions: actions,
		table:   t,
		width:   100,
		height:  24,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		headerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")). // Blue
			Bold(true),
		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")), // Green
		errStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")), // Red
		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")), // Gray
	}
}

// Init loads the first list.
func (m *ReviewModel) Init() tea.Cmd {
	return m.load
}

func (m *ReviewModel) load() tea.Msg {
	items, err := m.actions.Review()
	return itemsLoadedMsg{items: items, err: err}
}

// Update handles keys and action results.
func (m *ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetHeight(max(5, msg.Height-12))
		return m, nil

	case itemsLoadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.setItems(msg.items)
		}
		return m, nil

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.failed = true
			m.status = fmt.Sprintf("%s %s: %v", msg.verb, msg.id, msg.err)
		} else {
			m.failed = false
			m.status = msg.summary
		}
		return m, m.load

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.load
		case "v", "p", "c", "a":
			item := m.Selected()
			if item == nil || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = ""
			return m, m.act(msg.String(), item.Record.ID)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// act runs one action off the UI goroutine.
func (m *ReviewModel) act(key, id string) tea.Cmd {
	return func() tea.Msg {
		done := actionDoneMsg{id: id}
		switch key {
		case "v":
			done.verb = "validate"
			res, err := m.actions.Validate(m.ctx, id)
			if err == nil {
				done.summary = fmt.Sprintf("%s: %s", id, res.Summary())
			}
			done.err = err
		case "p":
			done.verb = "propose"
			_, done.err = m.actions.Propose(m.ctx, id)
			done.summary = id + " proposed"
		case "c":
			done.verb = "confirm"
			_, moves, err := m.actions.Confirm(m.ctx, id)
			done.err = err
			done.summary = fmt.Sprintf("%s confirmed%s", id, describeMoves(moves))
		case "a":
			done.verb = "apply"
			res, err := m.actions.Apply(m.ctx, id)
			done.err = err
			if err == nil {
				if res.AlreadyApplied {
					done.summary = id + " was already applied"
				} else {
					done.summary = fmt.Sprintf("%s applied: %s", id, strings.Join(res.Files, ", "))
				}
			}
		}
		return done
	}
}

func describeMoves(moves []learning.Transition) string {
	if len(moves) == 0 {
		return ""
	}
	parts := make([]string, len(moves))
	for i, mv := range moves {
		parts[i] = fmt.Sprintf("%s %s->%s", mv.ID, mv.From, mv.To)
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func (m *ReviewModel) setItems(items []learning.ReviewItem) {
	m.items = items
	rows := make([]table.Row, len(items))
	for i, it := range items {
		rec := it.Record
		rows[i] = table.Row{
			rec.ID,
			string(rec.Type),
			string(rec.Status),
			fmt.Sprintf("%d", rec.Frequency),
			fmt.Sprintf("%.2f", rec.Confidence),
			oneLine(rec.Description),
		}
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

// Selected returns the highlighted item, or nil when the list is empty.
func (m *ReviewModel) Selected() *learning.ReviewItem {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.items) {
		return nil
	}
	return &m.items[c]
}

// View renders the table, the selected record and the key help.
func (m *ReviewModel) View() string {
	var sb strings.Builder

	sb.WriteString(m.titleStyle.Render(fmt.Sprintf(" Pending learnings (%d) ", len(m.items))))
	sb.WriteString("\n\n")

	if m.loadErr != nil {
		sb.WriteString(m.errStyle.Render("load failed: " + m.loadErr.Error()))
		sb.WriteString("\n")
	}
	if len(m.items) == 0 && m.loadErr == nil {
		sb.WriteString(m.hintStyle.Render("Nothing to review."))
		sb.WriteString("\n\n")
	} else {
		sb.WriteString(m.table.View())
		sb.WriteString("\n\n")
	}

	if item := m.Selected(); item != nil {
		sb.WriteString(m.headerStyle.Render("Description: "))
		sb.WriteString(item.Record.Description)
		sb.WriteString("\n")
		if item.Hint != "" {
			sb.WriteString(m.headerStyle.Render("Next: "))
			sb.WriteString(item.Hint)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	switch {
	case m.busy:
		sb.WriteString(m.hintStyle.Render("working..."))
	case m.status != "" && m.failed:
		sb.WriteString(m.errStyle.Render(m.status))
	case m.status != "":
		sb.WriteString(m.okStyle.Render(m.status))
	}
	sb.WriteString("\n")
	sb.WriteString(m.hintStyle.Render("[v]alidate  [p]ropose  [c]onfirm  [a]pply  [r]efresh  [q]uit"))
	return sb.String()
}

// RunReview shows the review screen until the user quits.
func RunReview(ctx context.Context, actions ReviewActions) error {
	p := tea.NewProgram(NewReviewModel(ctx, actions), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
