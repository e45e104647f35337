package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/command"
	"fleetconsole/internal/console"
	"fleetconsole/internal/fleet"
	"fleetconsole/internal/logger"
	"fleetconsole/internal/reconcile"
	"fleetconsole/internal/stream"
	"fleetconsole/internal/view"
)

// defaultNoticeTimeout is how long a status-bar notice stays visible.
const defaultNoticeTimeout = 3 * time.Second

// Options configures the model.
type Options struct {
	Query         view.Query
	NoticeTimeout time.Duration
	Log           *logrus.Entry
}

type screen int

const (
	screenDashboard screen = iota
	screenDetail
)

// mountedMsg carries the result of mounting a dashboard.
type mountedMsg struct {
	gen  int
	dash Dashboard
	err  error
}

// rosterChangedMsg is sent when the mounted dashboard signalled a change.
type rosterChangedMsg struct {
	gen int
}

// dispatchedMsg is sent when a dashboard dispatch completed.
type dispatchedMsg struct {
	agentID string
	kind    command.Kind
	id      command.ID
	err     error
}

type detailLoadedMsg struct {
	gen   int
	agent fleet.Agent
	err   error
}

type tailStartedMsg struct {
	gen    int
	kind   command.Kind
	tailer *command.Tailer
	err    error
}

// tailUpdateMsg is sent when a tailer's buffer or state changed.
type tailUpdateMsg struct {
	tailer *command.Tailer
}

// noticeFadeMsg clears the notice with the same sequence number.
type noticeFadeMsg struct {
	seq int
}

// Model is the bubbletea model for both screens.
type Model struct {
	ctx     context.Context
	backend Backend
	opts    Options
	log     *logrus.Entry

	dash      Dashboard
	mountGen  int
	mountCtx  context.Context
	mountStop context.CancelFunc
	loadErr   error

	query     view.Query
	rows       []fleet.Agent
	cursor     int
	selectedID string // selection follows the agent, not the row
	search    textinput.Model
	searching bool

	screen      screen
	detail      Detail
	detailGen   int
	detailCtx   context.Context
	detailStop  context.CancelFunc
	detailAgent fleet.Agent
	detailReady bool
	detailErr   error
	tailer      *command.Tailer
	tailKind    command.Kind
	logView     viewport.Model

	spinner   spinner.Model
	notice    string
	noticeErr bool
	noticeSeq int

	width  int
	height int
	err    error
}

// NewModel returns a model that mounts a dashboard from backend on Init.
func NewModel(ctx context.Context, backend Backend, opts Options) Model {
	if opts.NoticeTimeout <= 0 {
		opts.NoticeTimeout = defaultNoticeTimeout
	}
	if opts.Query.Filter == "" {
		opts.Query.Filter = view.FilterAll
	}
	log := opts.Log
	if log == nil {
		log = logger.Component(logger.Discard(), "tui")
	}

	search := textinput.New()
	search.Placeholder = "agent id"
	search.Prompt = "/ "
	search.CharLimit = 128
	search.SetValue(opts.Query.Search)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	logView := viewport.New(80, 10)

	return Model{
		ctx:     ctx,
		backend: backend,
		opts:    opts,
		log:     log,
		query:   opts.Query,
		search:  search,
		spinner: spin,
		logView: logView,
	}
}

// Err is the error that ended the program, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.mountCmd(), m.spinner.Tick)
}

func (m Model) mountCmd() tea.Cmd {
	gen := m.mountGen
	backend := m.backend
	ctx := m.ctx
	return func() tea.Msg {
		dash, err := backend.Mount(ctx)
		return mountedMsg{gen: gen, dash: dash, err: err}
	}
}

func waitChanges(ctx context.Context, changes <-chan struct{}, gen int) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-changes:
			return rosterChangedMsg{gen: gen}
		case <-ctx.Done():
			return nil
		}
	}
}

func waitTail(ctx context.Context, tailer *command.Tailer) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-tailer.Updates():
			return tailUpdateMsg{tailer: tailer}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = max(msg.Width-4, 20)
		m.logView.Height = max(msg.Height-16, 3)
		return m, nil

	case mountedMsg:
		return m.handleMounted(msg)

	case rosterChangedMsg:
		if msg.gen != m.mountGen || m.dash == nil {
			return m, nil
		}
		m.refresh()
		return m, waitChanges(m.mountCtx, m.dash.Changes(), m.mountGen)

	case dispatchedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, console.ErrLoginRequired) {
				return m.fatal(msg.err)
			}
			return m.flash(fmt.Sprintf("%s %s failed: %v", msg.kind, msg.agentID, msg.err), true)
		}
		return m.flash(fmt.Sprintf("%s queued for %s (%s)", msg.kind, msg.agentID, msg.id), false)

	case detailLoadedMsg:
		if msg.gen != m.detailGen || m.detail == nil {
			return m, nil
		}
		if msg.err != nil {
			if errors.Is(msg.err, console.ErrLoginRequired) {
				return m.fatal(msg.err)
			}
			m.detailErr = msg.err
			return m, nil
		}
		m.detailAgent = msg.agent
		m.detailReady = true
		return m, nil

	case tailStartedMsg:
		if msg.gen != m.detailGen || m.detail == nil {
			return m, nil
		}
		if msg.err != nil {
			if errors.Is(msg.err, console.ErrLoginRequired) {
				return m.fatal(msg.err)
			}
			return m.flash(fmt.Sprintf("%s failed: %v", msg.kind, msg.err), true)
		}
		m.tailer = msg.tailer
		m.tailKind = msg.kind
		m.logView.SetContent("")
		return m, waitTail(m.detailCtx, msg.tailer)

	case tailUpdateMsg:
		if msg.tailer != m.tailer {
			return m, nil
		}
		m.logView.SetContent(m.tailer.Log())
		m.logView.GotoBottom()
		if m.tailer.State() == command.StateClosed {
			return m, nil
		}
		return m, waitTail(m.detailCtx, m.tailer)

	case noticeFadeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
			m.noticeErr = false
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.screen == screenDetail {
			return m.updateDetail(msg)
		}
		return m.updateDashboard(msg)
	}
	return m, nil
}

func (m Model) loading() bool {
	if m.dash == nil {
		return true
	}
	return m.screen == screenDetail && !m.detailReady && m.detailErr == nil
}

func (m Model) handleMounted(msg mountedMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.mountGen {
		if msg.dash != nil {
			_ = msg.dash.Unmount()
		}
		return m, nil
	}
	if errors.Is(msg.err, console.ErrLoginRequired) {
		if msg.dash != nil {
			_ = msg.dash.Unmount()
		}
		return m.fatal(msg.err)
	}
	m.dash = msg.dash
	m.loadErr = msg.err
	if msg.err != nil {
		m.log.WithError(msg.err).Warn("snapshot failed")
	}
	m.mountCtx, m.mountStop = context.WithCancel(m.ctx)
	m.refresh()
	return m, waitChanges(m.mountCtx, m.dash.Changes(), m.mountGen)
}

func (m *Model) refresh() {
	if m.dash == nil {
		m.rows = nil
		return
	}
	m.rows = m.dash.Agents(m.query)
	m.restoreSelection()
}

// restoreSelection moves the cursor back onto the selected agent. When that
// agent is not listed the cursor is clamped and the selection is kept, so
// clearing a search returns to it.
func (m *Model) restoreSelection() {
	if m.selectedID != "" {
		for i, a := range m.rows {
			if a.ID == m.selectedID {
				m.cursor = i
				return
			}
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.selectedID == "" && len(m.rows) > 0 {
		m.selectedID = m.rows[m.cursor].ID
	}
}

func (m *Model) moveCursor(delta int) {
	next := m.cursor + delta
	if next < 0 || next >= len(m.rows) {
		return
	}
	m.cursor = next
	m.selectedID = m.rows[next].ID
}

func (m Model) selected() (fleet.Agent, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return fleet.Agent{}, false
	}
	return m.rows[m.cursor], true
}

func (m Model) flash(text string, isErr bool) (Model, tea.Cmd) {
	m.noticeSeq++
	m.notice = text
	m.noticeErr = isErr
	seq := m.noticeSeq
	return m, tea.Tick(m.opts.NoticeTimeout, func(time.Time) tea.Msg {
		return noticeFadeMsg{seq: seq}
	})
}

func (m Model) fatal(err error) (Model, tea.Cmd) {
	m.err = err
	m.shutdown()
	return m, tea.Quit
}

func (m Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		switch msg.Type {
		case tea.KeyEnter:
			m.searching = false
			m.search.Blur()
			return m, nil
		case tea.KeyEsc:
			m.searching = false
			m.search.Blur()
			m.search.SetValue("")
			m.query.Search = ""
			m.refresh()
			return m, nil
		}
		var cmd tea.Cmd
		m.search, cmd = m.search.Update(msg)
		m.query.Search = m.search.Value()
		m.refresh()
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.shutdown()
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, keys.Filter):
		m.query.Filter = m.query.Filter.Next()
		m.refresh()
	case key.Matches(msg, keys.Search):
		m.searching = true
		return m, m.search.Focus()
	case key.Matches(msg, keys.Remount):
		return m.remount()
	case key.Matches(msg, keys.Open):
		if agent, ok := m.selected(); ok {
			return m.openDetail(agent.ID)
		}
	case key.Matches(msg, keys.Upgrade):
		agent, ok := m.selected()
		if !ok || m.dash == nil {
			return m, nil
		}
		if err := command.CheckPrecondition(agent, command.KindAptUpgrade); err != nil {
			return m.flash("upgrade disabled: "+command.SudoersHint, true)
		}
		return m, m.dispatchCmd(agent.ID, command.KindAptUpgrade)
	case key.Matches(msg, keys.Sudo):
		agent, ok := m.selected()
		if !ok || m.dash == nil {
			return m, nil
		}
		return m, m.dispatchCmd(agent.ID, command.KindSudoCheck)
	}
	return m, nil
}

func (m Model) dispatchCmd(agentID string, kind command.Kind) tea.Cmd {
	dash := m.dash
	ctx := m.ctx
	return func() tea.Msg {
		var id command.ID
		var err error
		if kind == command.KindAptUpgrade {
			id, err = dash.Upgrade(ctx, agentID)
		} else {
			id, err = dash.SudoCheck(ctx, agentID)
		}
		return dispatchedMsg{agentID: agentID, kind: kind, id: id, err: err}
	}
}

func (m Model) remount() (Model, tea.Cmd) {
	if m.dash != nil {
		_ = m.dash.Unmount()
	}
	if m.mountStop != nil {
		m.mountStop()
	}
	m.dash = nil
	m.rows = nil
	m.loadErr = nil
	m.mountGen++
	return m, tea.Batch(m.mountCmd(), m.spinner.Tick)
}

func (m Model) openDetail(agentID string) (Model, tea.Cmd) {
	m.detail = m.backend.OpenDetail(agentID)
	m.detailGen++
	m.detailCtx, m.detailStop = context.WithCancel(m.ctx)
	m.detailAgent = fleet.Agent{ID: agentID}
	m.detailReady = false
	m.detailErr = nil
	m.tailer = nil
	m.logView.SetContent("")
	m.screen = screenDetail

	detail := m.detail
	ctx := m.detailCtx
	gen := m.detailGen
	load := func() tea.Msg {
		agent, err := detail.Load(ctx)
		return detailLoadedMsg{gen: gen, agent: agent, err: err}
	}
	return m, tea.Batch(load, m.spinner.Tick)
}

func (m *Model) closeDetail() {
	if m.detail != nil {
		_ = m.detail.Close()
	}
	if m.detailStop != nil {
		m.detailStop()
	}
	m.detail = nil
	m.tailer = nil
	m.screen = screenDashboard
	m.refresh()
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.shutdown()
		return m, tea.Quit
	case key.Matches(msg, keys.Back):
		m.closeDetail()
		return m, nil
	case key.Matches(msg, keys.Upgrade):
		if !m.detailReady {
			return m, nil
		}
		if err := command.CheckPrecondition(m.detailAgent, command.KindAptUpgrade); err != nil {
			return m.flash("upgrade disabled: "+command.SudoersHint, true)
		}
		return m, m.tailCmd(command.KindAptUpgrade)
	case key.Matches(msg, keys.Sudo):
		return m, m.tailCmd(command.KindSudoCheck)
	}
	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}

func (m Model) tailCmd(kind command.Kind) tea.Cmd {
	detail := m.detail
	ctx := m.detailCtx
	gen := m.detailGen
	return func() tea.Msg {
		var tailer *command.Tailer
		var err error
		if kind == command.KindAptUpgrade {
			tailer, err = detail.Upgrade(ctx)
		} else {
			tailer, err = detail.SudoCheck(ctx)
		}
		return tailStartedMsg{gen: gen, kind: kind, tailer: tailer, err: err}
	}
}

// shutdown releases every view the model holds. Safe to call repeatedly.
func (m Model) shutdown() {
	if m.detail != nil {
		_ = m.detail.Close()
	}
	if m.detailStop != nil {
		m.detailStop()
	}
	if m.dash != nil {
		_ = m.dash.Unmount()
	}
	if m.mountStop != nil {
		m.mountStop()
	}
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("error: "+m.err.Error()) + "\n"
	}
	if m.dash == nil {
		return m.spinner.View() + " loading fleet...\n"
	}
	if m.screen == screenDetail {
		return m.viewDetail()
	}
	return m.viewDashboard()
}

func (m Model) viewDashboard() string {
	var b strings.Builder

	counts := m.dash.Summary()
	header := fmt.Sprintf("%s  %d agents · %d online · %d outdated · %d pending updates",
		titleStyle.Render("fleet"), counts.Total, counts.Online, counts.Outdated, counts.Upgrades)
	if counts.SudoBlocked > 0 {
		header += fmt.Sprintf(" · %d sudo not configured", counts.SudoBlocked)
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")

	filterLine := fmt.Sprintf("filter: %s", m.query.Filter)
	if m.searching {
		filterLine += "  " + m.search.View()
	} else if m.query.Search != "" {
		filterLine += fmt.Sprintf("  search: %q", m.query.Search)
	}
	b.WriteString(helpStyle.Render(filterLine))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString("  no agents match\n")
	}
	start, end := m.visibleRange()
	for i := start; i < end; i++ {
		line := agentRow(m.rows[i])
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.noticeLine())
	b.WriteString(helpStyle.Render(helpLine(keys.Up, keys.Down, keys.Filter, keys.Search, keys.Open, keys.Upgrade, keys.Sudo, keys.Remount, keys.Quit)))
	return b.String()
}

func (m Model) visibleRange() (int, int) {
	visible := len(m.rows)
	if m.height > 0 {
		visible = max(m.height-9, 1)
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	return start, min(start+visible, len(m.rows))
}

func (m Model) statusLine() string {
	var parts []string
	switch m.dash.LoadState() {
	case reconcile.LoadFailed:
		msg := "snapshot failed"
		if m.loadErr != nil {
			msg += ": " + m.loadErr.Error()
		}
		parts = append(parts, errorStyle.Render(msg+" (r to reload)"))
	case reconcile.LoadLoading:
		parts = append(parts, "loading snapshot")
	}
	outcome := m.dash.StreamStatus()
	switch outcome.Reason {
	case stream.ReasonNone:
		parts = append(parts, onlineStyle.Render("● live"))
	case stream.ReasonClosed:
		parts = append(parts, offlineStyle.Render("live updates closed"))
	default:
		parts = append(parts, warnStyle.Render("live updates stopped ("+outcome.String()+"), r to reload"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) noticeLine() string {
	if m.notice == "" {
		return ""
	}
	if m.noticeErr {
		return errorStyle.Render(m.notice) + "\n"
	}
	return noticeStyle.Render(m.notice) + "\n"
}

func agentRow(a fleet.Agent) string {
	status := offlineStyle.Render(fmt.Sprintf("%-8s", a.Status))
	if a.Online() {
		status = onlineStyle.Render(fmt.Sprintf("%-8s", a.Status))
	}
	row := fmt.Sprintf("%-24s %s %-16s %s", a.ID, status, lastSeen(a), updates(a))
	if a.SudoAptBlocked() {
		row += "  " + warnStyle.Render("sudo not configured")
	}
	return row
}

func lastSeen(a fleet.Agent) string {
	t, ok := a.LastSeenTime()
	if !ok {
		if a.LastSeen == "" {
			return "never"
		}
		return a.LastSeen
	}
	return humanize.Time(t)
}

func updates(a fleet.Agent) string {
	if a.OSUpdate == nil {
		return offlineStyle.Render("updates n/a")
	}
	if a.OSUpdate.Upgrades > 0 {
		return pendingStyle.Render(fmt.Sprintf("%d updates", a.OSUpdate.Upgrades))
	}
	return upToDateStyle.Render("up to date")
}

func (m Model) viewDetail() string {
	var b strings.Builder
	a := m.detailAgent

	b.WriteString(headerStyle.Render(titleStyle.Render("agent " + a.ID)))
	b.WriteString("\n\n")

	switch {
	case m.detailErr != nil:
		b.WriteString(errorStyle.Render("failed to load agent: " + m.detailErr.Error()))
		b.WriteString("\n\n")
	case !m.detailReady:
		b.WriteString(m.spinner.View() + " loading agent...\n\n")
	default:
		b.WriteString(m.detailFields())
	}

	b.WriteString(m.logTitle())
	b.WriteString("\n")
	b.WriteString(logStyle.Render(m.logView.View()))
	b.WriteString("\n")
	b.WriteString(m.noticeLine())
	b.WriteString(helpStyle.Render(helpLine(keys.Upgrade, keys.Sudo, keys.Back, keys.Quit)))
	return b.String()
}

func (m Model) detailFields() string {
	a := m.detailAgent
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, helpStyle.Render(fmt.Sprintf("%-12s", label)), value))
		b.WriteString("\n")
	}

	row("status", string(a.Status))
	seen := a.LastSeen
	if t, ok := a.LastSeenTime(); ok {
		seen = fmt.Sprintf("%s (%s)", a.LastSeen, humanize.Time(t))
	}
	row("last seen", seen)
	if a.OSUpdate != nil {
		row("os updates", fmt.Sprintf("%s (%d upgradable)", a.OSUpdate.Status, a.OSUpdate.Upgrades))
	} else {
		row("os updates", "n/a")
	}
	if a.UptimeSeconds != nil {
		now := time.Now()
		row("last report", humanize.RelTime(now.Add(-time.Duration(*a.UptimeSeconds)*time.Second), now, "ago", "from now"))
	}
	if a.SudoAptBlocked() {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("sudo for apt not configured: " + command.SudoersHint))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("apps"))
	b.WriteString("\n")
	apps := "{}"
	if len(a.AppsState) > 0 {
		if raw, err := json.MarshalIndent(a.AppsState, "", "  "); err == nil {
			apps = string(raw)
		}
	}
	b.WriteString(apps)
	b.WriteString("\n\n")
	return b.String()
}

func (m Model) logTitle() string {
	if m.tailer == nil {
		return titleStyle.Render("log") + helpStyle.Render("  (u to upgrade, s for a sudo check)")
	}
	title := titleStyle.Render(fmt.Sprintf("log %s %s", m.tailKind, m.tailer.ID()))
	outcome := m.tailer.Outcome()
	switch outcome.Reason {
	case stream.ReasonNone:
		return title + "  " + onlineStyle.Render("streaming")
	case stream.ReasonEndOfStream:
		return title + "  " + helpStyle.Render("stream ended")
	case stream.ReasonFailed:
		return title + "  " + errorStyle.Render("stream failed: "+outcome.Err.Error())
	}
	return title + "  " + helpStyle.Render("closed")
}

// Run starts the program and blocks until the operator quits or ctx ends.
// It returns console.ErrLoginRequired when the session was rejected.
func Run(ctx context.Context, backend Backend, opts Options) error {
	p := tea.NewProgram(NewModel(ctx, backend, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		m.shutdown()
		if m.err != nil {
			return m.err
		}
	}
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "run dashboard")
	}
	return nil
}
