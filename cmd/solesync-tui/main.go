// Command solesync-tui renders a live dashboard for a running solesync
// daemon.
//
// Usage:
//
//	go run ./cmd/solesync-tui --api http://localhost:8425
//	# or after building:
//	./solesync-tui --interval 5s
//
// The dashboard provides:
//   - Connection panel: link state, last connected, reconnect attempts
//   - Queue panel: bucket counts, total, age of the oldest operation
//   - Stats panel: pass/synced/dropped counters
//   - Keys: s triggers a sync pass, c clears the queue, q quits
//   - Works over SSH, tmux, screen — no GUI needed
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ─────────────────────────────────────────────────────
// API client
// ─────────────────────────────────────────────────────

type connectionInfo struct {
	State             string    `json:"state"`
	HasBeenConnected  bool      `json:"hasBeenConnected"`
	LastConnectedAt   time.Time `json:"lastConnectedAt"`
	DisconnectReason  string    `json:"disconnectReason"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

type queueInfo struct {
	Total          int       `json:"total"`
	Immediate      int       `json:"immediate"`
	Background     int       `json:"background"`
	Deferred       int       `json:"deferred"`
	SyncInProgress bool      `json:"syncInProgress"`
	OldestEnqueued time.Time `json:"oldestEnqueued"`
}

type statsInfo struct {
	Passes     int       `json:"passes"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	LastPassAt time.Time `json:"lastPassAt"`
}

type statusReport struct {
	Connection connectionInfo `json:"connection"`
	Queue      queueInfo      `json:"queue"`
	Stats      statsInfo      `json:"stats"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *client) fetchStatus() (statusReport, error) {
	var report statusReport

	resp, err := c.http.Get(c.baseURL + "/api/status")
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, err
	}
	return report, nil
}

func (c *client) triggerSync() error {
	resp, err := c.http.Post(c.baseURL+"/api/sync", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Reason != "" {
		return fmt.Errorf("sync refused: %s", body.Reason)
	}
	return fmt.Errorf("sync refused: HTTP %d", resp.StatusCode)
}

func (c *client) clearQueue() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/operations", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type statusMsg statusReport

type statusErrMsg struct{ err error }

type tickMsg struct{}

type actionMsg struct {
	verb string
	err  error
}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Width(30).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	stateConnected = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	stateConnecting = lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true)

	stateDisconnected = lipgloss.NewStyle().
				Foreground(errorColor).
				Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	noticeStyle = lipgloss.NewStyle().
			Foreground(successColor)

	confirmStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true)
)

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

type model struct {
	client   *client
	interval time.Duration

	spinner      spinner.Model
	report       statusReport
	haveReport   bool
	fetching     bool
	confirmClear bool
	lastErr      string
	notice       string
	width        int
	height       int
}

func newModel(c *client, interval time.Duration) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return model{
		client:   c,
		interval: interval,
		spinner:  sp,
		fetching: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd(), m.tickCmd())
}

func (m model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		report, err := m.client.fetchStatus()
		if err != nil {
			return statusErrMsg{err: err}
		}
		return statusMsg(report)
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) syncCmd() tea.Cmd {
	return func() tea.Msg {
		return actionMsg{verb: "sync", err: m.client.triggerSync()}
	}
}

func (m model) clearCmd() tea.Cmd {
	return func() tea.Msg {
		return actionMsg{verb: "clear", err: m.client.clearQueue()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if m.confirmClear {
			m.confirmClear = false
			if msg.String() == "y" {
				m.notice = "clearing queue..."
				return m, m.clearCmd()
			}
			m.notice = "clear cancelled"
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			m.notice = "sync requested..."
			return m, m.syncCmd()
		case "c":
			m.confirmClear = true
			return m, nil
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, m.fetchCmd()
			}
		}

	case tickMsg:
		cmds := []tea.Cmd{m.tickCmd()}
		if !m.fetching {
			m.fetching = true
			cmds = append(cmds, m.fetchCmd())
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.report = statusReport(msg)
		m.haveReport = true
		m.fetching = false
		m.lastErr = ""
		return m, nil

	case statusErrMsg:
		m.fetching = false
		m.lastErr = msg.err.Error()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice = ""
			m.lastErr = msg.err.Error()
			return m, nil
		}
		switch msg.verb {
		case "sync":
			m.notice = "✓ sync pass started"
		case "clear":
			m.notice = "✓ queue cleared"
		}
		m.lastErr = ""
		m.fetching = true
		return m, m.fetchCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// ─────────────────────────────────────────────────────
// View
// ─────────────────────────────────────────────────────

func (m model) View() string {
	header := headerStyle.Render("  👟 SoleSync Dashboard  ") + " " + m.stateBadge()
	if m.fetching {
		header += " " + m.spinner.View()
	}

	var body string
	if !m.haveReport {
		body = labelStyle.Padding(1, 2).Render("Waiting for " + m.client.baseURL + " ...")
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderConnectionPanel(),
			m.renderQueuePanel(),
			m.renderStatsPanel(),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderFooter())
}

func (m model) stateBadge() string {
	if !m.haveReport {
		return labelStyle.Render("○ waiting")
	}
	switch m.report.Connection.State {
	case "connected":
		return stateConnected.Render("● CONNECTED")
	case "connecting":
		return stateConnecting.Render("◉ CONNECTING")
	default:
		return stateDisconnected.Render("○ DISCONNECTED")
	}
}

func (m model) renderConnectionPanel() string {
	c := m.report.Connection

	var sb strings.Builder
	sb.WriteString(panelTitle.Render("Connection"))
	sb.WriteString("\n\n")
	writeField(&sb, "state", c.State)
	writeField(&sb, "last connected", formatAgo(c.LastConnectedAt))
	writeField(&sb, "reconnect tries", fmt.Sprintf("%d", c.ReconnectAttempts))
	if c.DisconnectReason != "" {
		writeField(&sb, "reason", c.DisconnectReason)
	}
	return panelStyle.Render(sb.String())
}

func (m model) renderQueuePanel() string {
	q := m.report.Queue

	var sb strings.Builder
	sb.WriteString(panelTitle.Render("Queue"))
	sb.WriteString("\n\n")
	writeField(&sb, "total", fmt.Sprintf("%d", q.Total))
	writeField(&sb, "immediate", fmt.Sprintf("%d", q.Immediate))
	writeField(&sb, "background", fmt.Sprintf("%d", q.Background))
	writeField(&sb, "deferred", fmt.Sprintf("%d", q.Deferred))
	writeField(&sb, "oldest", formatAgo(q.OldestEnqueued))
	if q.SyncInProgress {
		sb.WriteString(stateConnecting.Render("syncing now"))
		sb.WriteString("\n")
	}
	return panelStyle.Render(sb.String())
}

func (m model) renderStatsPanel() string {
	s := m.report.Stats

	var sb strings.Builder
	sb.WriteString(panelTitle.Render("Sync stats"))
	sb.WriteString("\n\n")
	writeField(&sb, "passes", fmt.Sprintf("%d", s.Passes))
	writeField(&sb, "synced", fmt.Sprintf("%d", s.Synced))
	writeField(&sb, "failed", fmt.Sprintf("%d", s.Failed))
	writeField(&sb, "dropped", fmt.Sprintf("%d", s.Dropped))
	writeField(&sb, "last pass", formatAgo(s.LastPassAt))
	return panelStyle.Render(sb.String())
}

func (m model) renderFooter() string {
	if m.confirmClear {
		return confirmStyle.Render("  Clear all queued operations? [y/N]")
	}

	keys := footerStyle.Render("  s: sync │ c: clear │ r: refresh │ q: quit")
	if m.lastErr != "" {
		return keys + "\n" + errorStyle.Render("  ✗ "+m.lastErr)
	}
	if m.notice != "" {
		return keys + "\n" + noticeStyle.Render("  "+m.notice)
	}
	return keys
}

func writeField(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", label)))
	sb.WriteString(valueStyle.Render(value))
	sb.WriteString("\n")
}

// ─────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return formatDuration(time.Since(t)) + " ago"
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func main() {
	apiURL := flag.String("api", "http://localhost:8425", "SoleSync API URL")
	interval := flag.Duration("interval", 2*time.Second, "Poll interval")
	flag.Parse()

	p := tea.NewProgram(newModel(newClient(*apiURL), *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "solesync-tui: %v\n", err)
		os.Exit(1)
	}
}
