// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"pdmstream/internal/audio"
)

// LevelSource is the pull accessor the meter polls.
type LevelSource interface {
	LatestLevel() audio.Level
	Stats() audio.Stats
	State() audio.State
}

// PeakSource optionally reports the dominant frequency.
type PeakSource interface {
	PeakFrequency() float64
}

// MeterOptions configures the meter.
type MeterOptions struct {
	Title    string
	Weighted bool
	Interval time.Duration // Poll interval, default 50ms.
	Peak     PeakSource    // May be nil.
}

// peakDecay is the dB the peak-hold marker falls per tick.
const peakDecay = 0.5

type tickMsg time.Time

// MeterModel renders the latest block level as a dBFS bar with peak hold.
type MeterModel struct {
	src   LevelSource
	opts  MeterOptions
	bar   progress.Model
	level audio.Level
	stats audio.Stats
	state audio.State
	peak  float64 // Peak-hold level in dBFS.
	freq  float64
}

// NewMeterModel creates a meter polling src.
func NewMeterModel(src LevelSource, opts MeterOptions) MeterModel {
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	if opts.Title == "" {
		opts.Title = "PDM Level"
	}
	return MeterModel{
		src:  src,
		opts: opts,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		peak: audio.MinDBFS,
	}
}

func (m MeterModel) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MeterModel) Init() tea.Cmd { return m.tick() }

func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, msg.Width-4)
	case tickMsg:
		m.poll()
		return m, m.tick()
	}
	return m, nil
}

func (m *MeterModel) poll() {
	m.level = m.src.LatestLevel()
	m.stats = m.src.Stats()
	m.state = m.src.State()
	if m.opts.Peak != nil {
		m.freq = m.opts.Peak.PeakFrequency()
	}
	db := m.level.DBFS()
	m.peak = max(db, m.peak-peakDecay, audio.MinDBFS)
}

// fraction maps dBFS onto [0, 1] over [MinDBFS, 0].
func fraction(dbfs float64) float64 {
	return min(1, max(0, (dbfs-audio.MinDBFS)/-audio.MinDBFS))
}

func (m MeterModel) View() string {
	var sb strings.Builder
	title := m.opts.Title
	if m.opts.Weighted {
		title += " (A-weighted)"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")
	sb.WriteString(m.bar.ViewAs(fraction(m.level.DBFS())))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%6.1f dBFS   peak %6.1f dBFS   rms %8.1f", m.level.DBFS(), m.peak, m.level.RMS)
	if m.opts.Peak != nil {
		fmt.Fprintf(&sb, "   %7.1f Hz", m.freq)
	}
	sb.WriteString("\n\n")

	stats := fmt.Sprintf("state %s   blocks %d   overruns %d   faults %d",
		m.state, m.stats.Blocks, m.stats.Overruns, m.stats.Faults)
	if m.stats.Overruns > 0 || m.stats.Faults > 0 {
		sb.WriteString(warnStyle.Render(stats))
	} else {
		sb.WriteString(infoStyle.Render(stats))
	}
	sb.WriteString("\n\n")
	sb.WriteString(infoStyle.Render("q: Quit"))
	return sb.String()
}

// RunMeter runs the meter until the user quits or ctx is done.
func RunMeter(ctx context.Context, src LevelSource, opts MeterOptions) error {
	p := tea.NewProgram(NewMeterModel(src, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
