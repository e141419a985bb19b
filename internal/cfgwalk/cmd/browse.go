package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"cfgwalk/internal/cfgwalk/styles"
	"cfgwalk/internal/disasm"
	"cfgwalk/internal/render"
)

type focus int

const (
	focusBlocks focus = iota
	focusListing
)

// blockItem is one row of the block list: a block or a failed address.
type blockItem struct {
	addr    uint64
	label   string
	block   *disasm.BasicBlock
	failure *disasm.Failure
}

func (i blockItem) FilterValue() string { return fmt.Sprintf("%x %s", i.addr, i.label) }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(blockItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.Address
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Selected
	}

	var detail string
	switch {
	case i.failure != nil:
		detail = styles.Failure.Render(string(i.failure.Kind))
	case i.block != nil:
		detail = styles.Muted.Render(fmt.Sprintf("%d insts", len(i.block.Insts)))
	}
	if i.label != "" {
		detail = styles.Label.Render(i.label) + " " + detail
	}

	fmt.Fprintf(w, " %s %s  %s", indicator, addrStyle.Render(fmt.Sprintf("%x", i.addr)), detail)
}

func labelOf(opts render.Options, va uint64) string {
	if opts.Labels == nil {
		return ""
	}
	return opts.Labels.Label(va)
}

type exploredMsg struct {
	res *disasm.Result
	err error
}

type browseModel struct {
	blocks  list.Model
	listing viewport.Model
	spinner spinner.Model
	focus   focus
	title   string
	opts    render.Options
	explore func(context.Context) (*disasm.Result, error)
	ctx     context.Context

	exploring bool
	res       *disasm.Result
	err       error
	selected  uint64
	shown     bool
	width     int
	height    int
}

func newBrowseModel(ctx context.Context, title string, opts render.Options, explore func(context.Context) (*disasm.Result, error)) browseModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	blocks := list.New([]list.Item{}, itemDelegate{}, 30, 24)
	blocks.SetShowStatusBar(false)
	blocks.SetFilteringEnabled(true)
	blocks.Title = "Blocks"
	blocks.Styles.Title = styles.ListTitle
	blocks.SetShowHelp(false)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	return browseModel{
		blocks:    blocks,
		listing:   vp,
		spinner:   s,
		title:     title,
		opts:      opts,
		explore:   explore,
		ctx:       ctx,
		exploring: true,
		width:     80,
		height:    24,
	}
}

func (m browseModel) exploreCmd() tea.Cmd {
	return func() tea.Msg {
		res, err := m.explore(m.ctx)
		return exploredMsg{res: res, err: err}
	}
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(m.exploreCmd(), m.spinner.Tick)
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case exploredMsg:
		m.exploring = false
		m.res, m.err = msg.res, msg.err
		if m.err != nil {
			slog.Debug("Exploration stopped", "error", m.err)
		}
		m.setItems()
		m.updateListing()
		return m, nil

	case spinner.TickMsg:
		if !m.exploring {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if m.focus == focusBlocks && m.blocks.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.focus == focusBlocks {
				m.focus = focusListing
			} else {
				m.focus = focusBlocks
			}
			return m, nil
		case "enter":
			if m.focus == focusBlocks {
				m.focus = focusListing
			}
			return m, nil
		case "esc":
			if m.focus == focusListing {
				m.focus = focusBlocks
				return m, nil
			}
		case "g":
			// Follow the branch target of the shown block.
			if m.focus == focusListing {
				m.followSuccessor()
				return m, nil
			}
		}
	}

	if m.focus == focusListing {
		m.listing, cmd = m.listing.Update(msg)
		return m, cmd
	}
	m.blocks, cmd = m.blocks.Update(msg)
	m.updateListing()
	return m, cmd
}

func (m *browseModel) resize(width, height int) {
	if width == m.width && height == m.height {
		return
	}
	m.width, m.height = width, height
	listWidth := max(width/3, 24)
	m.blocks.SetWidth(listWidth)
	m.blocks.SetHeight(height - 2)
	m.listing.SetWidth(max(width-listWidth-1, 10))
	m.listing.SetHeight(height - 2)
}

func (m *browseModel) setItems() {
	if m.res == nil {
		return
	}
	items := make([]list.Item, 0, len(m.res.Blocks)+len(m.res.Failures))
	for _, b := range m.res.Blocks {
		items = append(items, blockItem{addr: b.Begin, label: labelOf(m.opts, b.Begin), block: b})
	}
	for i := range m.res.Failures {
		f := &m.res.Failures[i]
		items = append(items, blockItem{addr: f.Addr, label: labelOf(m.opts, f.Addr), failure: f})
	}
	m.blocks.SetItems(items)
	m.blocks.Title = fmt.Sprintf("Blocks (%d)", len(m.res.Blocks))
}

// updateListing shows the selected item if the selection changed.
func (m *browseModel) updateListing() {
	item, ok := m.blocks.SelectedItem().(blockItem)
	if !ok || (item.addr == m.selected && m.shown) {
		return
	}
	m.selected, m.shown = item.addr, true
	m.listing.SetContent(m.renderItem(item))
	m.listing.GotoTop()
}

func (m *browseModel) renderItem(item blockItem) string {
	var buf bytes.Buffer
	if f := item.failure; f != nil {
		fmt.Fprintf(&buf, "; failed %#x (%s)\n; %v\n", f.Addr, f.Kind, f.Err)
		return buf.String()
	}

	b := item.block
	header := fmt.Sprintf("block %#x-%#x", b.Begin, b.End)
	if item.label != "" {
		header += " <" + item.label + ">"
	}
	buf.WriteString(styles.BlockHeader.Render(header))
	buf.WriteString("\n\n")
	render.Listing(&buf, b.Insts, m.opts)

	succ := make([]string, len(b.Successors))
	for i, s := range b.Successors {
		succ[i] = fmt.Sprintf("%#x", s)
	}
	if len(succ) == 0 {
		succ = []string{"-"}
	}
	fmt.Fprintf(&buf, "\n%s %s\n", styles.Muted.Render("successors:"), styles.Successor.Render(strings.Join(succ, ", ")))
	return buf.String()
}

// followSuccessor selects the block of the last successor of the shown block:
// the branch target rather than the fallthrough when both exist.
func (m *browseModel) followSuccessor() {
	if m.res == nil {
		return
	}
	b, ok := m.res.Block(m.selected)
	if !ok || len(b.Successors) == 0 {
		return
	}
	next := b.Successors[len(b.Successors)-1]
	for i, it := range m.blocks.Items() {
		if bi, ok := it.(blockItem); ok && bi.addr == next {
			m.blocks.Select(i)
			m.updateListing()
			return
		}
	}
}

func (m browseModel) View() string {
	var content string
	if m.exploring {
		content = fmt.Sprintf("\n  %s Exploring %s...\n", m.spinner.View(), m.title)
	} else {
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.blocks.View(), " ", m.listing.View())
	}

	menu := " Enter: listing • /: filter • Q: quit "
	if m.focus == focusListing {
		menu = " Tab/Esc: blocks • G: follow • Q: quit "
	}
	if m.res != nil {
		menu += fmt.Sprintf("• %d blocks, %d failures ", len(m.res.Blocks), len(m.res.Failures))
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}

func newBrowseCmd(a *app) *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse [file]",
		Short: "Explore the control flow graph interactively",
		Example: `
# Browse the graph from main
cfgwalk browse ./a.out --seed main
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, seed, err := a.prepare(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			// Stderr shares the terminal with the alt screen.
			defer a.logger.Quiet()()

			opts := a.renderOptions(t, cmd.OutOrStdout())
			title := fmt.Sprintf("%s from %#x", args[0], seed)
			model := newBrowseModel(cmd.Context(), title, opts, func(ctx context.Context) (*disasm.Result, error) {
				return explore(ctx, t, seed, a.cfg, a.logger.Logger)
			})

			program := tea.NewProgram(
				model,
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
	explorationFlags(browseCmd.Flags())
	return browseCmd
}
