package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Plot tracks the episodic return of an experiment and saves it as a
// line chart.
type Plot struct {
	returns *Return
	dir     string
}

// NewPlot creates and returns a new Plot tracker that saves its chart
// under dir.
func NewPlot(dir string) *Plot {
	return &Plot{
		returns: NewReturn(""),
		dir:     dir,
	}
}

// Track accumulates the reward of a timestep into the current
// episode's return.
func (p *Plot) Track(step ts.TimeStep) {
	p.returns.Track(step)
}

// Save renders the per-episode returns as a line chart PNG
func (p *Plot) Save() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("save: could not create plot directory: %v", err)
	}

	returns := p.returns.Returns()
	points := make(plotter.XYs, len(returns))
	for i, v := range returns {
		points[i] = plotter.XY{X: float64(i), Y: v}
	}

	chart := plot.New()
	chart.Title.Text = "Episodic Return"
	chart.X.Label.Text = "Episode"
	chart.Y.Label.Text = "Return"

	line, err := plotter.NewLine(points)
	if err != nil {
		return fmt.Errorf("save: could not create line: %v", err)
	}
	line.Color = plotutil.Color(0)
	chart.Add(line)

	filename := filepath.Join(p.dir, "returns.png")
	if err := chart.Save(8*vg.Inch, 8*vg.Inch, filename); err != nil {
		return fmt.Errorf("save: could not save plot: %v", err)
	}
	return nil
}
