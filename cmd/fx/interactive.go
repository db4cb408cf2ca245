package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	wasmbootstrap "github.com/wippyai/wasm-bootstrap"
	"github.com/wippyai/wasm-bootstrap/config"
	"github.com/wippyai/wasm-bootstrap/fullscreen"
	"github.com/wippyai/wasm-bootstrap/loader"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(10)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	outputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

// outputLines is how much module output the TUI keeps on screen.
const outputLines = 12

type keyMap struct {
	Run        key.Binding
	Fullscreen key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Run, k.Fullscreen, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Run: key.NewBinding(
		key.WithKeys("r", "enter"),
		key.WithHelp("r", "run again"),
	),
	Fullscreen: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "fullscreen"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// screen captures module output for the TUI. Clearing it is the
// interactive equivalent of clearing the console.
type screen struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *screen) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	return nil
}

// Tail returns the last n lines written.
func (s *screen) Tail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := strings.Split(strings.TrimRight(s.buf.String(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

type stateMsg struct {
	to wasmbootstrap.State
}

type runDoneMsg struct {
	err error
}

type interactiveModel struct {
	err     error
	ctx     context.Context
	loader  *loader.Loader
	out     *screen
	toggle  *fullscreen.Toggler
	pending tea.Cmd
	spinner spinner.Model
	help    help.Model
	url     string
	state   wasmbootstrap.State
	running bool
}

func newInteractiveModel(ctx context.Context, l *loader.Loader, out *screen) *interactiveModel {
	m := &interactiveModel{
		ctx:     ctx,
		loader:  l,
		out:     out,
		url:     l.Config().ModuleURL,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		running: true,
	}

	// The terminal's alternate screen stands in for the element fullscreen
	// API; requests are queued as commands for the next Update.
	m.toggle = fullscreen.NewToggler(fullscreen.Enable(fullscreen.Methods{
		fullscreen.RequestName: func() error {
			m.pending = tea.EnterAltScreen
			return nil
		},
		fullscreen.CancelName: func() error {
			m.pending = tea.ExitAltScreen
			return nil
		},
	}))
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start)
}

func (m *interactiveModel) start() tea.Msg {
	return runDoneMsg{err: m.loader.Start(m.ctx)}
}

func (m *interactiveModel) rerun() tea.Msg {
	return runDoneMsg{err: m.loader.Run(m.ctx)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Run):
			if m.running || m.state.Terminal() || m.loader.Instance() == nil {
				return m, nil
			}
			m.running = true
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, m.rerun)

		case key.Matches(msg, keys.Fullscreen):
			if _, err := m.toggle.Toggle(); err != nil {
				m.err = err
			}
			cmd := m.pending
			m.pending = nil
			return m, cmd
		}

	case stateMsg:
		m.state = msg.to

	case runDoneMsg:
		m.running = false
		m.err = msg.err
		m.state = m.loader.State()

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("fx"))
	b.WriteString(" ")
	b.WriteString(m.url)
	b.WriteString("\n\n")

	state := stateStyle.Render(m.state.String())
	if m.running {
		state = m.spinner.View() + " " + state
	}
	b.WriteString(labelStyle.Render("state") + state + "\n")
	module, instance := "-", "-"
	if mod := m.loader.Module(); mod != nil {
		module = fmt.Sprintf("#%d", mod.ID())
	}
	if inst := m.loader.Instance(); inst != nil {
		instance = fmt.Sprintf("#%d", inst.ID())
	}
	b.WriteString(labelStyle.Render("module") + module + "\n")
	b.WriteString(labelStyle.Render("instance") + instance + "\n")
	b.WriteString(labelStyle.Render("runs") + fmt.Sprintf("%d", m.loader.Runs()) + "\n")
	if m.toggle.Active() {
		b.WriteString(labelStyle.Render("screen") + "fullscreen\n")
	}

	if lines := m.out.Tail(outputLines); len(lines) > 0 {
		b.WriteString("\n")
		b.WriteString(outputStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func runInteractive(ctx context.Context, cfg config.Config, base string) error {
	out := &screen{}
	var prog *tea.Program

	opts := []loader.Option{
		loader.WithStdio(nil, out, out),
		loader.WithStateHook(func(_, to wasmbootstrap.State) {
			if prog != nil {
				prog.Send(stateMsg{to: to})
			}
		}),
	}
	if cfg.Loader.ClearConsole {
		opts = append(opts, loader.WithConsole(out))
	}

	l, eng, err := newLoader(ctx, cfg, base, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Close(context.Background())
		_ = eng.Close(context.Background())
	}()

	// Quitting interrupts a run still in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog = tea.NewProgram(newInteractiveModel(ctx, l, out), tea.WithContext(ctx))
	_, err = prog.Run()
	return err
}
