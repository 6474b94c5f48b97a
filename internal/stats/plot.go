package stats

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const curvePlotFile = "curve.svg"

// WriteCurvePlot draws the mean and max best score per generation. The file
// extension picks the image format.
func WriteCurvePlot(path, title string, curve []CurvePoint) error {
	if len(curve) == 0 {
		return errors.New("curve has no points")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Best score"

	meanPts := make(plotter.XYs, len(curve))
	maxPts := make(plotter.XYs, len(curve))
	for i, pt := range curve {
		meanPts[i].X = float64(pt.Generation)
		meanPts[i].Y = pt.Mean
		maxPts[i].X = float64(pt.Generation)
		maxPts[i].Y = pt.Max
	}

	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return err
	}
	maxLine, err := plotter.NewLine(maxPts)
	if err != nil {
		return err
	}
	maxLine.Color = color.RGBA{R: 200, A: 255}
	maxLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(meanLine, maxLine)
	p.Legend.Add("mean", meanLine)
	p.Legend.Add("max", maxLine)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// SweepPlotPath is where a sweep's curve plot lives.
func SweepPlotPath(baseDir, id string) string {
	return filepath.Join(baseDir, sweepsDir, id, curvePlotFile)
}
