package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/floodnet/logger"
	"github.com/adamgarcia4/goLearning/floodnet/node"
)

var (
	simSize    int
	simLayout  string
	simTimeout time.Duration
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start the interactive flood simulator",
	Long: `Start a terminal UI that runs a cluster of peers in one process and lets
you start floods between them.

Keyboard shortcuts:
  L     - Cycle the cluster layout (line, ring, star, mesh, tree)
  +/-   - Grow or shrink the cluster
  C     - (Re)create the cluster
  Tab   - Select the next source peer
  B     - Broadcast to all from the source peer
  N     - Depth-limited flood ([ and ] change the depth)
  A     - Send to the source peer's neighbors
  P     - Start a poll
  T     - Discover the topology
  D     - Delete a peer (shows selection menu)
  Enter - Repeat the last command
  Q     - Quit

Examples:
  floodnet interactive --size=6 --layout=ring`,
	Run: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)

	interactiveCmd.Flags().IntVar(&simSize, "size", 5, "Number of peers in the cluster")
	interactiveCmd.Flags().StringVar(&simLayout, "layout", string(node.LayoutLine), "Cluster layout: line, ring, star, mesh or tree")
	interactiveCmd.Flags().DurationVar(&simTimeout, "timeout", 5*time.Second, "Flood timeout for simulated peers")
}

const (
	minClusterSize = 2
	maxClusterSize = 32
	logLines       = 15
)

type model struct {
	manager      *node.Manager
	nodes        []*node.Node
	layout       node.Layout
	size         int
	source       int // index of the peer floods start from
	depth        int
	busy         int // floods in flight
	lastResult   string
	deleteMode   bool
	selected     int
	err          error
	logBuffer    *logger.LogBuffer
	logScroll    int // for scrolling logs
	width        int
	height       int
	lastCommand  string // Track last command for repeat (Enter key)
	numericInput string // Buffer for multi-digit numeric input in delete mode
}

func initialModel(layout node.Layout, size int, timeout time.Duration) model {
	// Interactive mode logs only to the buffer shown in the UI
	logBuffer := logger.GetGlobalLogBuffer()
	_ = initLogger(false)
	_ = logger.AddOutput(logger.NewLogBufferWriter(logBuffer))

	manager := node.NewManager()
	manager.SetFloodTimeout(timeout)

	return model{
		manager:   manager,
		layout:    layout,
		size:      size,
		depth:     1,
		logBuffer: logBuffer,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), createCluster(m.manager, m.layout, m.size))
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

type nodesUpdatedMsg struct {
	nodes []*node.Node
	err   error
}

func refreshNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		return nodesUpdatedMsg{nodes: manager.GetNodes()}
	}
}

func createCluster(manager *node.Manager, layout node.Layout, size int) tea.Cmd {
	return func() tea.Msg {
		nodes, err := manager.CreateCluster(layout, size)
		return nodesUpdatedMsg{nodes: nodes, err: err}
	}
}

// floodDoneMsg carries the rendered outcome of a flood started from the UI.
type floodDoneMsg struct {
	summary string
}

type shutdownCompleteMsg struct {
	err error
}

// shutdownNodes stops all peers and sends a message when complete
func shutdownNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		err := manager.StopAll()
		return shutdownCompleteMsg{err: err}
	}
}

// startFlood runs one console command against peer in the background.
func startFlood(peer *node.Node, c command) tea.Cmd {
	return func() tea.Msg {
		con := newConsole(peer, nil)
		return floodDoneMsg{summary: fmt.Sprintf("%s: %s", peer.ID(), con.runFlood(context.Background(), c))}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Handle quit
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			// Stop all peers gracefully and wait for completion
			return m, shutdownNodes(m.manager)
		}

		// Handle delete mode
		if m.deleteMode {
			return m.handleDeleteMode(msg)
		}

		switch msg.String() {
		case "enter":
			if m.lastCommand == "" {
				return m, nil
			}
			return m.runCommand(m.lastCommand)

		case "d", "D":
			if len(m.nodes) == 0 {
				m.err = fmt.Errorf("no peers to delete")
				return m, nil
			}
			m.deleteMode = true
			m.selected = 0
			m.numericInput = ""
			return m, nil

		case "l", "L":
			m.layout = nextLayout(m.layout)
			return m, nil

		case "+", "=":
			if m.size < maxClusterSize {
				m.size++
			}
			return m, nil

		case "-":
			if m.size > minClusterSize {
				m.size--
			}
			return m, nil

		case "[":
			if m.depth > 0 {
				m.depth--
			}
			return m, nil

		case "]":
			m.depth++
			return m, nil

		case "tab":
			if len(m.nodes) > 0 {
				m.source = (m.source + 1) % len(m.nodes)
			}
			return m, nil

		case "c", "C":
			return m.runCommand("create")
		case "b", "B":
			return m.runCommand("broadcast")
		case "n", "N":
			return m.runCommand("depth")
		case "a", "A":
			return m.runCommand("adjacent")
		case "p", "P":
			return m.runCommand("poll")
		case "t", "T":
			return m.runCommand("topology")

		case "up", "k":
			// Scroll logs up (show older logs)
			maxScroll := len(m.logBuffer.GetAll()) - logLines
			if m.logScroll < maxScroll {
				m.logScroll++
			}
			return m, nil

		case "down", "j":
			// Scroll logs down (show newer logs)
			if m.logScroll > 0 {
				m.logScroll--
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), refreshNodes(m.manager))

	case nodesUpdatedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.nodes = msg.nodes
		if m.source >= len(m.nodes) {
			m.source = 0
		}
		return m, nil

	case floodDoneMsg:
		m.busy--
		m.lastResult = msg.summary
		logger.Infof("%s", strings.ReplaceAll(msg.summary, "\n", " | "))
		return m, nil

	case shutdownCompleteMsg:
		if msg.err != nil {
			logger.Errorf("Error stopping peers during shutdown: %v", msg.err)
		}
		return m, tea.Quit
	}

	return m, nil
}

// runCommand executes a named UI command and remembers it for Enter.
func (m model) runCommand(name string) (tea.Model, tea.Cmd) {
	if strings.HasPrefix(name, "delete:") {
		index, err := strconv.Atoi(strings.TrimPrefix(name, "delete:"))
		if err != nil {
			return m, nil
		}
		if index < 0 || index >= len(m.nodes) {
			m.err = fmt.Errorf("peer index %d no longer exists", index+1)
			return m, nil
		}
		return m.deleteNode(index)
	}

	if name == "create" {
		m.lastCommand = name
		m.err = nil
		m.source = 0
		return m, createCluster(m.manager, m.layout, m.size)
	}

	if len(m.nodes) == 0 {
		m.err = fmt.Errorf("no cluster running, press C to create one")
		return m, nil
	}
	source := m.nodes[m.source]
	text := fmt.Sprintf("hello from %s at %s", source.ID(), time.Now().Format("15:04:05"))

	var c command
	switch name {
	case "broadcast":
		c = command{kind: cmdSendToAll, text: text}
	case "depth":
		c = command{kind: cmdSendToN, depth: m.depth, text: text}
	case "adjacent":
		c = command{kind: cmdSendToAdj, text: text}
	case "poll":
		c = command{kind: cmdPoll}
	case "topology":
		c = command{kind: cmdTopology}
	default:
		return m, nil
	}

	m.lastCommand = name
	m.err = nil
	m.busy++
	return m, startFlood(source, c)
}

func (m model) deleteNode(index int) (tea.Model, tea.Cmd) {
	m.lastCommand = fmt.Sprintf("delete:%d", index)
	if err := m.manager.DeleteNode(index); err != nil {
		m.err = err
	} else {
		m.nodes = m.manager.GetNodes()
		m.err = nil
	}
	if m.source >= len(m.nodes) {
		m.source = 0
	}
	m.deleteMode = false
	m.selected = 0
	m.numericInput = ""
	return m, nil
}

func nextLayout(l node.Layout) node.Layout {
	for i, candidate := range node.Layouts {
		if candidate == l {
			return node.Layouts[(i+1)%len(node.Layouts)]
		}
	}
	return node.Layouts[0]
}

func (m model) handleDeleteMode(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.deleteMode = false
			m.selected = 0
			m.err = nil
			m.numericInput = ""
			return m, nil

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "down", "j":
			if m.selected < len(m.nodes)-1 {
				m.selected++
			}
			return m, nil

		case "enter", " ":
			// Typed numbers take precedence over the highlighted row
			if m.numericInput != "" {
				input := m.numericInput
				m.numericInput = ""
				num, err := strconv.Atoi(input)
				if err != nil {
					m.err = fmt.Errorf("invalid number: %s", input)
					return m, nil
				}
				if num < 1 || num > len(m.nodes) {
					m.err = fmt.Errorf("peer %d does not exist (max: %d)", num, len(m.nodes))
					return m, nil
				}
				return m.deleteNode(num - 1)
			}
			return m.deleteNode(m.selected)

		default:
			keyStr := msg.String()
			if len(keyStr) == 1 && keyStr >= "0" && keyStr <= "9" {
				m.numericInput += keyStr
				if m.err != nil && strings.Contains(m.err.Error(), "does not exist") {
					m.err = nil
				}
				return m, nil
			}
			m.numericInput = ""
			return m, nil
		}
	}
	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Padding(1, 2)
	s.WriteString(titleStyle.Render("Flood Simulator"))
	s.WriteString("\n\n")

	s.WriteString(fmt.Sprintf("Layout: %s | Size: %d | Depth: %d | Floods in flight: %d\n\n", m.layout, m.size, m.depth, m.busy))

	if m.err != nil {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.nodes) == 0 {
		s.WriteString("No peers running.\n\n")
	} else {
		s.WriteString("Peers:\n\n")
		for i, n := range m.nodes {
			st := n.Stats()
			line := fmt.Sprintf("[%d] %s  neighbors=%d delivered=%d sent=%d",
				i+1, n.ID(), len(n.Neighbors()), st.Delivered, st.MessagesSent)
			switch {
			case m.deleteMode && i == m.selected:
				rowStyle := lipgloss.NewStyle().
					PaddingLeft(2).
					Foreground(lipgloss.Color("196")).
					Bold(true)
				s.WriteString(rowStyle.Render("> " + line))
			case !m.deleteMode && i == m.source:
				rowStyle := lipgloss.NewStyle().
					PaddingLeft(2).
					Foreground(lipgloss.Color("42"))
				s.WriteString(rowStyle.Render("* " + line))
			default:
				s.WriteString("    " + line)
			}
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	if m.lastResult != "" {
		resultStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
		s.WriteString(resultStyle.Render(m.lastResult))
		s.WriteString("\n\n")
	}

	s.WriteString(m.renderLogs())
	s.WriteString("\n\n")

	instructionsStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true).
		PaddingTop(1)

	if m.deleteMode {
		helpText := fmt.Sprintf("DELETE MODE: Use ↑/↓/j/k or type peer number (1-%d), Enter to confirm, Esc to cancel", len(m.nodes))
		if m.numericInput != "" {
			helpText = fmt.Sprintf("DELETE MODE: Type peer number (current: %s) or Enter to confirm, Esc to cancel", m.numericInput)
		}
		s.WriteString(instructionsStyle.Render(helpText))
	} else {
		instructionText := "C create | L layout | +/- size | Tab source | B broadcast | N depth ([/]) | A adjacent | P poll | T topology | D delete"
		if m.lastCommand != "" {
			instructionText += fmt.Sprintf(" | Enter to repeat (%s)", formatCommandPreview(m.lastCommand))
		}
		instructionText += " | ↑/↓/j/k scroll logs | Q quit"
		s.WriteString(instructionsStyle.Render(instructionText))
	}

	return s.String()
}

// renderLogs shows the newest log entries first, shifted back by logScroll.
func (m model) renderLogs() string {
	entries := m.logBuffer.GetAll()
	total := len(entries)

	var lines []string
	if total == 0 {
		lines = []string{"     | (no logs yet)"}
	} else {
		end := total - m.logScroll
		if end < 0 {
			end = 0
		}
		start := end - logLines
		if start < 0 {
			start = 0
		}
		for i := end - 1; i >= start; i-- {
			// most recent entry is line 0
			lines = append(lines, fmt.Sprintf("%4d | %s", total-1-i, logger.FormatLogEntry(entries[i])))
		}
	}

	boxWidth := 100
	if m.width > 0 {
		boxWidth = m.width - 4
	}
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Height(logLines - 2).
		Width(boxWidth)

	return logStyle.Render("Logs:\n" + strings.Join(lines, "\n"))
}

// formatCommandPreview formats the last command for display
func formatCommandPreview(lastCommand string) string {
	if strings.HasPrefix(lastCommand, "delete:") {
		if index, err := strconv.Atoi(strings.TrimPrefix(lastCommand, "delete:")); err == nil {
			return fmt.Sprintf("D → %d", index+1)
		}
		return "D → [peer]"
	}
	switch lastCommand {
	case "create":
		return "C"
	case "broadcast":
		return "B"
	case "depth":
		return "N"
	case "adjacent":
		return "A"
	case "poll":
		return "P"
	case "topology":
		return "T"
	}
	return lastCommand
}

func runInteractive(cmd *cobra.Command, args []string) {
	layout, err := node.ParseLayout(simLayout)
	if err != nil {
		fmt.Println(err)
		return
	}
	if simSize < minClusterSize || simSize > maxClusterSize {
		fmt.Printf("size must be between %d and %d\n", minClusterSize, maxClusterSize)
		return
	}
	p := tea.NewProgram(initialModel(layout, simSize, simTimeout))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running interactive mode: %v\n", err)
	}
}
