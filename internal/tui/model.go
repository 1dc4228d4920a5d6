// Package tui is a terminal dashboard for a running camview daemon.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/camview/internal/player"
)

const historySize = 60

type tickMsg time.Time

type statsMsg struct {
	stats  player.Stats
	health string
}

type errMsg struct{ err error }

type actionMsg struct {
	text string
	err  error
}

// Options configure a Model.
type Options struct {
	Interval        time.Duration // polling interval
	URL             string        // stream started by the "s" key
	CaptureDuration time.Duration
}

// Model polls the control API and renders the player state.
type Model struct {
	client *Client
	opts   Options

	stats      player.Stats
	health     string
	err        error
	message    string
	history    []float64
	lastUpdate time.Time
	width      int
	quitting   bool

	now func() time.Time
}

func NewModel(client *Client, opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.CaptureDuration <= 0 {
		opts.CaptureDuration = 20 * time.Second
	}
	return &Model{
		client: client,
		opts:   opts,
		now:    time.Now,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickEvery(m.opts.Interval), fetchStats(m.client))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(tickEvery(m.opts.Interval), fetchStats(m.client))

	case statsMsg:
		m.stats = msg.stats
		m.health = msg.health
		m.err = nil
		m.lastUpdate = m.now()
		m.history = append(m.history, float64(msg.stats.PacketsPerSecond))
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.message = ErrorStyle.Render(msg.text + " failed: " + msg.err.Error())
		} else {
			m.message = SuccessStyle.Render(msg.text)
		}
		return m, fetchStats(m.client)
	}

	return m, nil
}

func (m *Model) handleKey(key string) (tea.Model, tea.Cmd) {
	c := m.client
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "r":
		return m, fetchStats(c)
	case "p":
		return m, runAction("paused", c.Pause)
	case "s":
		if m.opts.URL == "" || m.stats.URL != "" {
			return m, runAction("restarted", c.Restart)
		}
		url := m.opts.URL
		return m, runAction("started "+url, func(ctx context.Context) error {
			return c.Start(ctx, url)
		})
	case "x":
		return m, runAction("stopped", c.Stop)
	case "n":
		return m, func() tea.Msg {
			ref, err := c.Snapshot(context.Background())
			return actionMsg{text: "snapshot " + ref.Name, err: err}
		}
	case "c":
		if m.stats.Capture.Active {
			return m, func() tea.Msg {
				ref, err := c.StopCapture(context.Background())
				return actionMsg{text: "capture saved " + ref.Name, err: err}
			}
		}
		d := m.opts.CaptureDuration
		return m, runAction(fmt.Sprintf("capturing %s", d), func(ctx context.Context) error {
			return c.StartCapture(ctx, d)
		})
	}
	return m, nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("✖ " + m.err.Error()))
		b.WriteString("\n")
	}

	panels := []string{m.connectionPanel(), m.streamPanel(), m.bufferPanel(), m.capturePanel()}
	if width >= 120 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	} else {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels[0], panels[1]))
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels[2], panels[3]))
	}
	b.WriteString("\n")

	if m.message != "" {
		b.WriteString(m.message)
		b.WriteString("\n")
	}
	b.WriteString(MutedStyle.Render("q quit · r refresh · s start/restart · p pause · x stop · n snapshot · c capture"))
	return b.String()
}

func (m *Model) renderHeader() string {
	session := m.stats.Session
	if session == "" {
		session = "-"
	}
	health := m.health
	if health == "" {
		health = "unknown"
	}
	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("15:04:05")
	}
	return HeaderStyle.Render(fmt.Sprintf("camview  %s  session %s  health %s  updated %s",
		StatusBadge(playerStatus(m.stats)), session, health, updated))
}

func (m *Model) connectionPanel() string {
	st := m.stats
	return panel("Connection",
		row("URL", orDash(st.URL)),
		row("Retries left", fmt.Sprintf("%d", st.RetriesLeft)),
		row("Hidden", yesNo(st.Hidden)),
		row("Mode", modeString(st)),
	)
}

func (m *Model) streamPanel() string {
	st := m.stats
	res := "-"
	if st.Stream.Width > 0 {
		res = fmt.Sprintf("%dx%d", st.Stream.Width, st.Stream.Height)
	}
	return panel("Stream",
		row("Codec", orDash(st.Stream.Codec)),
		row("Resolution", res),
		row("Packets/s", fmt.Sprintf("%d", st.PacketsPerSecond)),
		row("Packets", formatNumber(int64(st.PacketCount))),
		InfoStyle.Render(renderSparkline(m.history, 24)),
	)
}

func (m *Model) bufferPanel() string {
	b := m.stats.Buffer
	if b == nil {
		return panel("Buffer", MutedStyle.Render("not attached"))
	}
	return panel("Buffer",
		row("State", BufferStateStyle(b.State.String()).Render(b.State.String())),
		row("Queued", fmt.Sprintf("%d (%s)", b.Queued, formatBytes(int64(b.QueuedBytes)))),
		row("Appended", formatBytes(int64(b.AppendedBytes))),
		row("Catch-ups", fmt.Sprintf("%d", b.CatchUpSeeks)),
		row("Evictions", fmt.Sprintf("%d", b.Evictions)),
		row("Recoveries", fmt.Sprintf("%d", b.Recoveries)),
	)
}

func (m *Model) capturePanel() string {
	c := m.stats.Capture
	if !c.Active {
		return panel("Capture", MutedStyle.Render("idle"))
	}
	elapsed := m.now().Sub(c.Started).Truncate(time.Second)
	return panel("Capture",
		RecordingStyle.Render("● REC"),
		row("Elapsed", fmt.Sprintf("%s / %s", elapsed, c.Duration)),
		row("Parts", fmt.Sprintf("%d", c.Parts)),
		row("Size", formatBytes(int64(c.TotalBytes))),
	)
}

func panel(title string, lines ...string) string {
	body := PanelTitleStyle.Render(title) + "\n" + strings.Join(lines, "\n")
	return PanelStyle.Width(34).Render(body)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func playerStatus(st player.Stats) string {
	switch {
	case st.Destroyed:
		return "destroyed"
	case st.Connected:
		return "live"
	case st.Started:
		return "connecting"
	case st.URL != "":
		return "standby"
	default:
		return "off"
	}
}

func modeString(st player.Stats) string {
	if !st.Mode.Playback {
		return "live"
	}
	dir := "fwd"
	if st.Mode.Reverse {
		dir = "rev"
	}
	return fmt.Sprintf("playback %gx %s", st.Mode.Speed, dir)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderSparkline(data []float64, width int) string {
	if len(data) == 0 {
		return strings.Repeat("▁", width)
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}
	if maxVal == minVal {
		return strings.Repeat("▄", width)
	}

	sparkChars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var out strings.Builder
	for i := 0; i < width; i++ {
		idx := min(i*len(data)/width, len(data)-1)
		n := int((data[idx] - minVal) / (maxVal - minVal) * 7)
		out.WriteRune(sparkChars[min(n, 7)])
	}
	return out.String()
}

func formatNumber(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStats(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		st, err := c.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		health, _ := c.Health(ctx)
		return statsMsg{stats: st, health: health}
	}
}

func runAction(text string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{text: text, err: fn(context.Background())}
	}
}
