// Command sessionsctl is a small operator TUI for watching a running
// truckportal-bridge instance: live pool capacity, the session list, and a
// tail of recent polls, refreshed on an interval. It is not on the request
// path — purely a polling client against GET /health and GET /sessions.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the truckportal-bridge server")
	interval := flag.Duration("interval", 3*time.Second, "poll interval")
	flag.Parse()

	m := newModel(*addr, *interval)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "sessionsctl:", err)
		os.Exit(1)
	}
}

type pollResult struct {
	health   *types.HealthResponse
	sessions []types.SessionSummary
	err      error
	at       time.Time
}

type model struct {
	addr     string
	interval time.Duration
	client   *http.Client

	last    pollResult
	history []string // tail of recent poll outcomes, most recent first
	width   int
}

const maxHistory = 8

func newModel(addr string, interval time.Duration) model {
	return model{
		addr:     addr,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickCmd(m.interval))
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) poll() tea.Cmd {
	addr, client := m.addr, m.client
	return func() tea.Msg {
		res := pollResult{at: time.Now()}

		health, err := fetchHealth(client, addr)
		if err != nil {
			res.err = err
			return res
		}
		res.health = health

		sessions, err := fetchSessions(client, addr)
		if err != nil {
			res.err = err
			return res
		}
		res.sessions = sessions
		return res
	}
}

func fetchHealth(client *http.Client, addr string) (*types.HealthResponse, error) {
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var h types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}

func fetchSessions(client *http.Client, addr string) ([]types.SessionSummary, error) {
	resp, err := client.Get(addr + "/sessions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var sessions []types.SessionSummary
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), tickCmd(m.interval))

	case pollResult:
		m.last = msg
		m.history = append([]string{summarizePoll(msg)}, m.history...)
		if len(m.history) > maxHistory {
			m.history = m.history[:maxHistory]
		}
		return m, nil
	}
	return m, nil
}

func summarizePoll(r pollResult) string {
	ts := r.at.Format("15:04:05")
	if r.err != nil {
		return fmt.Sprintf("%s  poll failed: %v", ts, r.err)
	}
	if r.health == nil {
		return fmt.Sprintf("%s  poll returned no health data", ts)
	}
	return fmt.Sprintf("%s  %s  capacity %s", ts, r.health.Status, r.health.SessionCapacity)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (m model) View() string {
	header := titleStyle.Render("sessionsctl") + "  " + dimStyle.Render(m.addr)

	if m.last.err != nil {
		body := boxStyle.Render(errStyle.Render("last poll failed: " + m.last.err.Error()))
		return header + "\n\n" + body + "\n\n" + m.footer()
	}

	gauge := ""
	if m.last.health != nil {
		gauge = renderGauge(m.last.health)
	}

	table := renderSessions(m.last.sessions)
	history := renderHistory(m.history)

	return header + "\n\n" + gauge + "\n\n" + table + "\n\n" + history + "\n\n" + m.footer()
}

func (m model) footer() string {
	return dimStyle.Render("q quit · r refresh now · polling every " + m.interval.String())
}

func renderGauge(h *types.HealthResponse) string {
	statusStyle := okStyle
	if h.Status != "ok" && h.Status != "healthy" {
		statusStyle = warnStyle
	}
	line := fmt.Sprintf("status %s   capacity %s   persistent %d",
		statusStyle.Render(h.Status), h.SessionCapacity, h.PersistentSessions)
	return boxStyle.Render(line)
}

func renderSessions(sessions []types.SessionSummary) string {
	if len(sessions) == 0 {
		return boxStyle.Render(dimStyle.Render("no live sessions"))
	}

	header := labelStyle.Render(fmt.Sprintf("%-26s %-16s %-7s %-9s %s", "SESSION", "USER", "IN_USE", "KEEPALIVE", "LAST USED"))
	lines := []string{header}
	for _, s := range sessions {
		inUse := "no"
		if s.InUse {
			inUse = okStyle.Render("yes")
		}
		keepAlive := "no"
		if s.KeepAlive {
			keepAlive = "yes"
		}
		lastUsed := time.Unix(s.LastUsedAt, 0).Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%-26s %-16s %-7s %-9s %s", truncate(s.SessionID, 26), truncate(s.Username, 16), inUse, keepAlive, lastUsed))
	}
	body := ""
	for i, l := range lines {
		if i > 0 {
			body += "\n"
		}
		body += l
	}
	return boxStyle.Render(body)
}

func renderHistory(history []string) string {
	if len(history) == 0 {
		return ""
	}
	body := labelStyle.Render("recent polls") + "\n"
	for i, h := range history {
		if i > 0 {
			body += "\n"
		}
		body += dimStyle.Render(h)
	}
	return boxStyle.Render(body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
