// Package report accumulates per-epoch evaluation scores and renders
// them as a CSV table or a training-curve plot.
package report

import (
	"fmt"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// History records one row of per-class scores per epoch.
type History struct {
	classes []string
	epochs  []int
	scores  [][]float64
}

// NewHistory creates a History with one named column per class.
func NewHistory(classes []string) *History {
	return &History{classes: classes}
}

// Append records the per-class scores of one epoch.
func (h *History) Append(epoch int, scores []float64) error {
	if len(scores) != len(h.classes) {
		return fmt.Errorf("report: expected %v scores, got %v", len(h.classes), len(scores))
	}

	h.epochs = append(h.epochs, epoch)
	h.scores = append(h.scores, scores)
	return nil
}

// Means returns the across-class mean score per recorded epoch.
func (h *History) Means() []float64 {
	means := make([]float64, len(h.scores))
	for i, row := range h.scores {
		var sum float64
		for _, s := range row {
			sum += s
		}
		means[i] = sum / float64(len(row))
	}

	return means
}

// Frame builds a dataframe with an epoch column and one column per class.
func (h *History) Frame() dataframe.DataFrame {
	cols := []series.Series{series.New(h.epochs, series.Int, "epoch")}
	for c, name := range h.classes {
		col := make([]float64, len(h.scores))
		for i, row := range h.scores {
			col[i] = row[c]
		}
		cols = append(cols, series.New(col, series.Float, name))
	}

	return dataframe.New(cols...)
}

// SaveCSV writes the score table to a CSV file.
func (h *History) SaveCSV(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	df := h.Frame()
	return df.WriteCSV(f)
}

// SaveCurve plots mean score against epoch and saves it as an image
// (format chosen by file extension).
func (h *History) SaveCurve(filename string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Mean Dice"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "score"

	means := h.Means()
	pts := make(plotter.XYs, len(means))
	for i := range means {
		pts[i].X = float64(h.epochs[i])
		pts[i].Y = means[i]
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}
