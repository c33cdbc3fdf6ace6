package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/term"
	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"tracelocate/internal/trace"
	"tracelocate/internal/tracelocate/styles"
	"tracelocate/internal/workspace"
)

type viewMode int

const (
	viewOverview viewMode = iota
	viewMappings
	viewTraces
)

// maxFollowRuns caps how many runs the follow buffer keeps in memory.
const maxFollowRuns = 64

type mappingItem struct {
	mapping    workspace.Mapping
	traces     int // addresses attributed to this mapping
	filterTerm string
}

func (i mappingItem) Title() string {
	// This is used for filtering - return plain text
	return fmt.Sprintf("%x  %s", i.mapping.Base, i.mapping.Name)
}

func (i mappingItem) Description() string { return "" }

func (i mappingItem) FilterValue() string {
	// Return the pre-computed filter term
	return i.filterTerm
}

// Custom item delegate for the mappings list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(mappingItem)
	if !ok {
		return
	}

	var rangeStyle lipgloss.Style
	var indicator string

	if index == m.Index() {
		// Selected item
		indicator = ">"
		rangeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	} else {
		// Normal item
		indicator = " "
		rangeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	}

	permsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if i.mapping.IsExecutable() {
		permsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	}

	count := ""
	if i.traces > 0 {
		count = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Render(fmt.Sprintf("  %d traces", i.traces))
	}

	str := fmt.Sprintf(" %s  %s  %s%s",
		indicator,
		rangeStyle.Render(fmt.Sprintf("%x-%x", i.mapping.Base, i.mapping.Limit)),
		permsStyle.Render(i.mapping.Perms),
		count)

	fmt.Fprint(w, str)
}

type viewModel struct {
	viewport     viewport.Model
	mappingsList list.Model
	tracesView   viewport.Model
	spinner      spinner.Model
	mode         viewMode
	root         string
	mappings     []workspace.Mapping
	runs         []trace.Run
	batches      []trace.Batch
	traceFilter  string // mapping name; empty shows everything
	tail         *tail.Tail
	loadingMaps  bool
	loadingRuns  bool
	loadErr      string
	width        int
	height       int
}

// Message types
type workspaceMsg struct {
	mappings []workspace.Mapping
	err      error
}

type tracesMsg struct {
	runs []trace.Run
	err  error
}

type followLineMsg struct {
	text string
}

type followClosedMsg struct{}

// Commands
func loadWorkspaceCmd(root string) tea.Cmd {
	return func() tea.Msg {
		mappings, err := workspace.List(workspace.MemoryDir(root))
		return workspaceMsg{mappings: mappings, err: err}
	}
}

func loadTracesCmd(root string) tea.Cmd {
	return func() tea.Msg {
		runs, err := trace.ReadFile(workspace.TraceList(root))
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			// A workspace that has not been scanned yet has no list.
			return tracesMsg{}
		}
		return tracesMsg{runs: runs, err: err}
	}
}

func followCmd(t *tail.Tail) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-t.Lines
		if !ok || line.Err != nil {
			return followClosedMsg{}
		}
		return followLineMsg{text: line.Text}
	}
}

func NewViewModel(root string, follow bool) viewModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	// Create custom item delegate
	delegate := itemDelegate{}

	mappingsList := list.New([]list.Item{}, delegate, 80, 24)
	mappingsList.SetShowStatusBar(false)
	mappingsList.SetFilteringEnabled(true)
	mappingsList.Title = "Mappings"
	mappingsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	mappingsList.SetShowHelp(true)

	// Create spinner
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	tvp := viewport.New()
	tvp.SetWidth(80)
	tvp.SetHeight(24)

	m := viewModel{
		viewport:     vp,
		mappingsList: mappingsList,
		tracesView:   tvp,
		spinner:      s,
		mode:         viewOverview,
		root:         root,
		loadingMaps:  true,
		loadingRuns:  true,
		width:        80,
		height:       24,
	}

	if follow {
		// Tail from the end; the initial load already covers the past.
		t, err := tail.TailFile(workspace.TraceList(root), tail.Config{
			Follow:   true,
			ReOpen:   true,
			Poll:     true,
			Location: &tail.SeekInfo{Whence: io.SeekEnd},
			Logger:   tail.DiscardingLogger,
		})
		if err == nil {
			m.tail = t
		}
	}

	// Set initial content
	m.updateContent()

	return m
}

func (m viewModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		loadWorkspaceCmd(m.root),
		loadTracesCmd(m.root),
		m.spinner.Tick,
	}
	if m.tail != nil {
		cmds = append(cmds, followCmd(m.tail))
	}
	return tea.Batch(cmds...)
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case workspaceMsg:
		if msg.err != nil {
			m.loadErr = msg.err.Error()
		} else {
			m.mappings = msg.mappings
		}
		m.loadingMaps = false
		m.updateMappingsList()
		m.updateTracesView()
		m.updateContent()
		return m, nil

	case tracesMsg:
		if msg.err != nil {
			m.loadErr = msg.err.Error()
		} else if msg.runs != nil {
			m.runs = msg.runs
		}
		m.loadingRuns = false
		m.updateMappingsList()
		m.updateTracesView()
		m.updateContent()
		return m, nil

	case followLineMsg:
		m.ingestFollowedLine(msg.text)
		m.updateMappingsList()
		m.updateTracesView()
		m.updateContent()
		m.tracesView.GotoBottom()
		return m, followCmd(m.tail)

	case followClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// Only continue spinner while something is loading
		if m.loadingMaps || m.loadingRuns {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.mappingsList.SetWidth(msg.Width)
			m.mappingsList.SetHeight(msg.Height - 2)
			m.tracesView.SetWidth(msg.Width)
			m.tracesView.SetHeight(msg.Height - 2)

			m.updateContent()
		}

	case tea.KeyMsg:
		// If the mappings list is filtering, let it handle the keys first
		if m.mode == viewMappings && m.mappingsList.FilterState() == list.Filtering {
			switch msg.String() {
			case "q", "ctrl+c":
				return m.quit()
			default:
				// Pass all other keys to the list when filtering
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				return m.quit()
			case "o":
				m.mode = viewOverview
				return m, nil
			case "m":
				if len(m.mappings) > 0 {
					m.mode = viewMappings
				}
				return m, nil
			case "t":
				m.traceFilter = ""
				m.updateTracesView()
				m.mode = viewTraces
				return m, nil
			case "enter":
				// In the mappings view, show the selected mapping's traces
				if m.mode == viewMappings {
					if selectedItem := m.mappingsList.SelectedItem(); selectedItem != nil {
						if item, ok := selectedItem.(mappingItem); ok {
							m.traceFilter = item.mapping.Name
							m.updateTracesView()
							m.tracesView.GotoTop()
							m.mode = viewTraces
						}
					}
				}
				return m, nil
			case "tab":
				// Cycle forward through views
				switch m.mode {
				case viewOverview:
					if len(m.mappings) > 0 {
						m.mode = viewMappings
					} else {
						m.mode = viewTraces
					}
				case viewMappings:
					m.traceFilter = ""
					m.updateTracesView()
					m.mode = viewTraces
				case viewTraces:
					m.mode = viewOverview
				}
				return m, nil
			case "shift+tab":
				// Cycle backward through views
				switch m.mode {
				case viewOverview:
					m.traceFilter = ""
					m.updateTracesView()
					m.mode = viewTraces
				case viewMappings:
					m.mode = viewOverview
				case viewTraces:
					if len(m.mappings) > 0 {
						m.mode = viewMappings
					} else {
						m.mode = viewOverview
					}
				}
				return m, nil
			}
		}
	}

	// Update the active view
	switch m.mode {
	case viewMappings:
		m.mappingsList, cmd = m.mappingsList.Update(msg)
	case viewTraces:
		m.tracesView, cmd = m.tracesView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m viewModel) quit() (tea.Model, tea.Cmd) {
	if m.tail != nil {
		m.tail.Stop()
		m.tail.Cleanup()
	}
	return m, tea.Quit
}

// ingestFollowedLine folds one tailed trace list line into the run set.
func (m *viewModel) ingestFollowedLine(text string) {
	line := strings.TrimSpace(text)
	switch {
	case line == "":
	case line == trace.Header:
		m.runs = append(m.runs, trace.Run{})
		if len(m.runs) > maxFollowRuns {
			m.runs = m.runs[len(m.runs)-maxFollowRuns:]
		}
	default:
		addr, err := trace.ParseAddr(line)
		if err != nil || len(m.runs) == 0 {
			return
		}
		last := &m.runs[len(m.runs)-1]
		last.Addrs = append(last.Addrs, addr)
	}
}

func (m viewModel) View() string {
	var content string
	switch m.mode {
	case viewMappings:
		content = m.mappingsList.View()
	case viewTraces:
		content = m.tracesView.View()
	default:
		content = m.viewport.View()
	}

	// Add menu bar at the bottom
	var menu string
	switch m.mode {
	case viewMappings:
		menu = " Enter: traces for mapping • O: overview • T: traces • Tab: cycle • Q: quit "
	case viewTraces:
		menu = " O: overview • M: mappings • Tab: cycle • Q: quit "
	default: // viewOverview
		if len(m.mappings) > 0 {
			menu = " M: mappings • T: traces • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}

	// Style the menu bar
	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *viewModel) updateContent() {
	// Get relative path from current directory
	relPath := m.root
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := pathpkg.Rel(cwd, m.root); err == nil {
			relPath = rel
		}
	}

	execs := 0
	for _, mp := range m.mappings {
		if mp.IsExecutable() {
			execs++
		}
	}
	total := 0
	for _, r := range m.runs {
		total += len(r.Addrs)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("; workspace: %s", relPath))
	lines = append(lines, fmt.Sprintf("; memory:    %s", workspace.MemoryDir(relPath)))
	lines = append(lines, fmt.Sprintf("; list:      %s", workspace.TraceList(relPath)))
	lines = append(lines, "")
	if m.loadingMaps {
		lines = append(lines, "; Loading mappings...")
	} else {
		lines = append(lines, fmt.Sprintf("; mappings:  %d (%d executable)", len(m.mappings), execs))
	}
	if m.loadingRuns {
		lines = append(lines, "; Loading trace list...")
	} else {
		lines = append(lines, fmt.Sprintf("; runs:      %d (%d addresses)", len(m.runs), total))
	}
	if m.tail != nil {
		lines = append(lines, "; following appends")
	}

	markdown := fmt.Sprintf("# Tracelocate\n\n```\n%s\n```", strings.Join(lines, "\n"))

	if m.loadErr != "" {
		markdown += fmt.Sprintf("\n\n## Problems\n\n```\n%s\n```", m.loadErr)
	}

	// Add loading spinner after the code block if needed
	if m.loadingMaps || m.loadingRuns {
		markdown += fmt.Sprintf("\n\n%s Loading workspace...", m.spinner.View())
	}

	// Render markdown using glamour
	width := m.width
	if width == 0 {
		width = 80
	}
	renderer := styles.GetMarkdownRenderer(width - 2)
	rendered, _ := renderer.Render(markdown)
	m.viewport.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m *viewModel) updateMappingsList() {
	counts := make(map[string]int)
	for _, b := range trace.BatchByMapping(m.allAddrs(), m.mappings) {
		if b.Known {
			counts[b.Mapping.Name] += len(b.Addrs)
		}
	}

	items := make([]list.Item, 0, len(m.mappings))
	for _, mp := range m.mappings {
		items = append(items, mappingItem{
			mapping:    mp,
			traces:     counts[mp.Name],
			filterTerm: fmt.Sprintf("%x %s %s", mp.Base, mp.Perms, mp.Name),
		})
	}

	m.mappingsList.SetItems(items)
	m.mappingsList.Title = fmt.Sprintf("Mappings (%d total)", len(m.mappings))
}

func (m *viewModel) allAddrs() []uint64 {
	var out []uint64
	for _, r := range m.runs {
		out = append(out, r.Addrs...)
	}
	return out
}

func (m *viewModel) updateTracesView() {
	m.batches = trace.BatchByMapping(m.allAddrs(), m.mappings)

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	addrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	for _, batch := range m.batches {
		if m.traceFilter != "" && (!batch.Known || batch.Mapping.Name != m.traceFilter) {
			continue
		}
		if batch.Known {
			b.WriteString(headerStyle.Render(fmt.Sprintf("; %s", batch.Mapping.Name)))
		} else {
			b.WriteString(dimStyle.Render("; unattributed"))
		}
		b.WriteString("\n")
		for _, a := range batch.Addrs {
			b.WriteString("  ")
			b.WriteString(addrStyle.Render(fmt.Sprintf("0x%x", a)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString(dimStyle.Render("; no trace addresses yet"))
		b.WriteString("\n")
	}
	m.tracesView.SetContent(strings.TrimSuffix(b.String(), "\n"))
}

var viewCmd = &cobra.Command{
	Use:   "view [workspace-dir]",
	Short: "Browse a workspace's mappings and trace list",
	Long: `View opens an interactive browser over a dump workspace: its memory
mappings, the trace list runs, and which mapping each address belongs
to. With --follow it keeps reading as new runs are appended.`,
	Example: `
# Browse the workspace in the current directory
tracelocate view

# Watch a workspace while scans append to its list
tracelocate view --follow /path/to/workspace
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		absRoot, err := pathpkg.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if fi, err := os.Stat(absRoot); err != nil || !fi.IsDir() {
			return fmt.Errorf("workspace not found: %s", root)
		}

		follow, _ := cmd.Flags().GetBool("follow")
		noTUI, _ := cmd.Flags().GetBool("no-tui")

		// Also use no-tui mode when output is being piped
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
		}
		if noTUI {
			os.Setenv("TRACELOCATE_NO_COLOR", "1")
			return runViewPlain(absRoot, follow)
		}

		// Set up the TUI.
		program := tea.NewProgram(
			NewViewModel(absRoot, follow),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)

		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// runViewPlain prints the workspace summary without the TUI. With
// follow it keeps printing appended lines until interrupted.
func runViewPlain(root string, follow bool) error {
	mappings, err := workspace.List(workspace.MemoryDir(root))
	if err != nil {
		return err
	}

	execs := 0
	for _, m := range mappings {
		if m.IsExecutable() {
			execs++
		}
	}
	fmt.Printf("workspace: %s\n", root)
	fmt.Printf("mappings:  %d (%d executable)\n", len(mappings), execs)
	for _, m := range mappings {
		fmt.Printf("  %s  %s\n", m, m.Name)
	}

	listPath := workspace.TraceList(root)
	runs, err := trace.ReadFile(listPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	total := 0
	for _, r := range runs {
		total += len(r.Addrs)
	}
	fmt.Printf("trace list: %s (%d runs, %d addresses)\n", listPath, len(runs), total)

	if !follow {
		return nil
	}

	t, err := tail.TailFile(listPath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("follow trace list: %w", err)
	}
	defer t.Cleanup()

	for line := range t.Lines {
		if line.Err != nil {
			return line.Err
		}
		fmt.Println(line.Text)
	}
	return nil
}

func init() {
	viewCmd.Flags().BoolP("follow", "f", false, "Keep reading as new runs are appended")
	viewCmd.Flags().Bool("no-tui", false, "Print the workspace summary without the TUI")
}
