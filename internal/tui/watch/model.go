package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/loomcms/gatehouse/internal/dispatch"
	"github.com/loomcms/gatehouse/internal/events"
)

const maxRows = 100

// deliveryRow is one parsed delivery event for display.
type deliveryRow struct {
	at       time.Time
	event    string
	format   string
	status   int
	duration int64
	ok       bool
	endpoint string
}

// Model is the bubbletea model for the delivery monitor.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	tbl        table.Model
	rows       []deliveryRow
	okCount    int
	failCount  int
	dispatches int
	lastID     int64

	connected bool
	lastError string

	theme Theme
	ch    chan events.Event
}

// New creates the delivery monitor model.
func New(apiURL, token string) *Model {
	columns := []table.Column{
		{Title: "TIME", Width: 8},
		{Title: "EVENT", Width: 18},
		{Title: "FORMAT", Width: 8},
		{Title: "STATUS", Width: 7},
		{Title: "MS", Width: 6},
		{Title: "ENDPOINT", Width: 36},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	return &Model{
		apiURL: apiURL,
		token:  token,
		tbl:    tbl,
		theme:  NewDefaultTheme(),
		ch:     make(chan events.Event, 100),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToStream(m.apiURL, m.token, 0, m.ch),
		receiveNextEvent(m.ch),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.tbl, cmd = m.tbl.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.tbl.SetHeight(max(4, m.height-6))

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.connected = true
		m.apply(events.Event(msg))
		return m, receiveNextEvent(m.ch)

	case sseDisconnectedMsg:
		m.connected = false
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return subscribeToStream(m.apiURL, m.token, m.lastID, m.ch)()
		})

	case errMsg:
		m.lastError = msg.Error()
	}
	return m, nil
}

// apply folds one stream event into the display state.
func (m *Model) apply(ev events.Event) {
	if ev.ID > m.lastID {
		m.lastID = ev.ID
	}

	switch ev.Type {
	case dispatch.HubDeliveryOK, dispatch.HubDeliveryFailed:
		var d struct {
			EndpointID string `json:"endpoint_id"`
			Event      string `json:"event"`
			Format     string `json:"format"`
			Status     int    `json:"status"`
			DurationMs int64  `json:"duration_ms"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return
		}
		row := deliveryRow{
			at:       ev.At,
			event:    d.Event,
			format:   d.Format,
			status:   d.Status,
			duration: d.DurationMs,
			ok:       ev.Type == dispatch.HubDeliveryOK,
			endpoint: d.EndpointID,
		}
		if row.ok {
			m.okCount++
		} else {
			m.failCount++
		}
		m.rows = append([]deliveryRow{row}, m.rows...)
		if len(m.rows) > maxRows {
			m.rows = m.rows[:maxRows]
		}
		m.refreshTable()

	case dispatch.HubDispatchDone:
		m.dispatches++
	}
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		status := "—"
		if r.status != 0 {
			status = fmt.Sprintf("%d", r.status)
		}
		if !r.ok && r.status == 0 {
			status = "ERR"
		}
		rows = append(rows, table.Row{
			r.at.Format("15:04:05"),
			r.event,
			r.format,
			status,
			fmt.Sprintf("%d", r.duration),
			r.endpoint,
		})
	}
	m.tbl.SetRows(rows)
}

func (m *Model) View() string {
	conn := m.theme.Failed.Render("● disconnected")
	if m.connected {
		conn = m.theme.OK.Render("● connected")
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		m.theme.Title.Render("gatehouse watch"),
		"  ", conn,
		"  ", m.theme.OK.Render(fmt.Sprintf("ok %d", m.okCount)),
		" ", m.theme.Failed.Render(fmt.Sprintf("failed %d", m.failCount)),
		" ", m.theme.Dim.Render(fmt.Sprintf("dispatches %d", m.dispatches)),
	)

	footer := m.theme.Dim.Render("q: quit")
	if m.lastError != "" {
		footer = m.theme.Failed.Render("error: "+m.lastError) + "  " + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.theme.Border.Render(m.tbl.View()),
		footer,
	)
}
