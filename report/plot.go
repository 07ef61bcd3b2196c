// Package report renders training results for operators: a PNG of the
// learning curves and a plain-text classification summary.
package report

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/clinix/sourceorder/metrics"
	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/sklearn/neural_network"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// PlotHistory draws loss and accuracy per epoch side by side and writes the
// image to path as PNG. Validation curves are drawn when present.
func PlotHistory(h neural_network.History, path string) error {
	if h.Epochs() == 0 {
		return errors.NewValueError("PlotHistory", "history has no epochs")
	}

	lossPlot, err := curves("Loss", "loss", h.Loss, h.ValLoss)
	if err != nil {
		return err
	}
	accPlot, err := curves("Accuracy", "accuracy", h.Accuracy, h.ValAccuracy)
	if err != nil {
		return err
	}
	accPlot.Y.Min, accPlot.Y.Max = 0, 1

	img := vgimg.New(plotWidth, plotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1, Cols: 2,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	plots := [][]*plot.Plot{{lossPlot, accPlot}}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range plots[0] {
		p.Draw(canvases[0][j])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.NewArtifactError(path, "create plot", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.NewArtifactError(path, "write plot", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewArtifactError(path, "close plot", err)
	}
	return nil
}

func curves(title, name string, train, val []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = name
	p.Add(plotter.NewGrid())

	lines := []interface{}{"train", points(train)}
	if len(val) > 0 {
		lines = append(lines, "validation", points(val))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, errors.Wrapf(err, "report: plot %s", name)
	}
	return p, nil
}

// points numbers epochs from 1.
func points(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}

// WriteSummary prints overall and per-class scores, naming classes by
// their decoded labels.
func WriteSummary(w io.Writer, r metrics.Report, classes []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "class\tprecision\trecall\tf1\tsupport\t\n")
	for i, s := range r.PerClass {
		name := fmt.Sprint(i)
		if i < len(classes) {
			name = classes[i]
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%d\t\n", name, s.Precision, s.Recall, s.F1, s.Support)
	}
	fmt.Fprintf(tw, "macro avg\t%.4f\t%.4f\t%.4f\t\t\n", r.MacroPrecision, r.MacroRecall, r.MacroF1)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "accuracy %.4f  log loss %.4f\n", r.Accuracy, r.LogLoss)
	return err
}
