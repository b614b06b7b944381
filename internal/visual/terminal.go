// Package visual renders population snapshots in the terminal: one coloured
// cell per agent laid out on a square grid, plus a legend with head counts.
package visual

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/talgya/societies/internal/engine"
	"github.com/talgya/societies/internal/society"
)

const cell = "██"

// clearScreen moves the cursor home and clears the terminal.
const clearScreen = "\033[H\033[2J"

var palette = [society.AlphabetSize]lipgloss.Color{
	society.Saints:    lipgloss.Color("#F5F5F5"),
	society.Buddies:   lipgloss.Color("#4CAF50"),
	society.FightClub: lipgloss.Color("#FF9800"),
	society.Vandals:   lipgloss.Color("#E53935"),
}

// Terminal is an engine.Visualizer that writes frames to Out.
type Terminal struct {
	Out   io.Writer
	Every int  // Render one frame per Every updates
	Clear bool // Clear the screen before each frame

	side    int
	updates int
	styles  [society.AlphabetSize]lipgloss.Style
	title   lipgloss.Style
}

// NewTerminal creates a renderer drawing every n-th update to out.
func NewTerminal(out io.Writer, every int) *Terminal {
	if every < 1 {
		every = 1
	}
	t := &Terminal{
		Out:   out,
		Every: every,
		title: lipgloss.NewStyle().Bold(true),
	}
	for _, s := range society.All {
		t.styles[s] = lipgloss.NewStyle().Foreground(palette[s])
	}
	return t
}

// Init sizes the grid for the population and draws the first frame.
func (t *Terminal) Init(population []engine.AgentState) {
	t.side = int(math.Ceil(math.Sqrt(float64(len(population)))))
	t.updates = 0
	t.draw(population)
}

// Update draws a frame every Every calls.
func (t *Terminal) Update(population []engine.AgentState) {
	t.updates++
	if t.updates%t.Every != 0 {
		return
	}
	t.draw(population)
}

func (t *Terminal) draw(population []engine.AgentState) {
	frame := t.Render(population)
	if t.Clear {
		frame = clearScreen + frame
	}
	fmt.Fprint(t.Out, frame)
}

// Render returns one frame as a string.
func (t *Terminal) Render(population []engine.AgentState) string {
	side := t.side
	if side == 0 {
		side = int(math.Ceil(math.Sqrt(float64(len(population)))))
	}

	var counts [society.AlphabetSize]int
	var b strings.Builder
	b.WriteString(t.title.Render(fmt.Sprintf("update %d, %d agents", t.updates, len(population))))
	b.WriteByte('\n')

	for row := 0; row*side < len(population); row++ {
		for col := 0; col < side; col++ {
			i := row*side + col
			if i >= len(population) {
				b.WriteString("  ")
				continue
			}
			s := population[i].Society
			if s.Valid() {
				counts[s]++
				b.WriteString(t.styles[s].Render(cell))
			} else {
				b.WriteString("??")
			}
		}
		b.WriteByte('\n')
	}

	legend := make([]string, 0, society.AlphabetSize)
	for _, s := range society.All {
		legend = append(legend, fmt.Sprintf("%s %s: %d", t.styles[s].Render(cell), s, counts[s]))
	}
	b.WriteString(strings.Join(legend, "  "))
	b.WriteByte('\n')
	return b.String()
}
