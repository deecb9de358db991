// Command gencurves renders the VCA response and the output shaper curve to
// PNG files, for inspecting the circuit model against CEM 3330 datasheets.
package main

import (
	"context"
	"flag"
	"log"
	"math"

	"github.com/synthi-emu/engine/src/matrix"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const curvePoints = 500

func main() {
	flag.Parse()
	dir := flag.Arg(0)
	if dir == "" {
		panic("dir is not passed")
	}
	log.SetFlags(log.Lshortfile)

	vca := matrix.DefaultVCAParams()
	ctx := context.Background()
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := plotVCAGain(vca, false, dir+"/vca_gain_linear.png")
		log.Println("saved linear VCA curve")
		return err
	})
	g.Go(func() error {
		err := plotVCAGain(vca, true, dir+"/vca_gain_db.png")
		log.Println("saved dB VCA curve")
		return err
	})
	g.Go(func() error {
		err := plotShaper(dir + "/output_shaper.png")
		log.Println("saved shaper curve")
		return err
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("error: %v\n", err)
	}
	log.Println("Successfully generated curves.")
}

func plotVCAGain(vca matrix.VCAParams, inDB bool, path string) error {
	saturated := make(plotter.XYs, 0, curvePoints)
	ideal := make(plotter.XYs, 0, curvePoints)
	for i := 0; i < curvePoints; i++ {
		v := -14.0 + 20.0*float64(i)/float64(curvePoints-1)
		saturated = append(saturated, plotter.XY{X: v, Y: scaleGain(vca.VoltageToGain(v), inDB)})
		ideal = append(ideal, plotter.XY{X: v, Y: scaleGain(idealGain(vca, v), inDB)})
	}
	p := plot.New()
	p.Title.Text = "VCA gain vs control voltage"
	p.X.Label.Text = "control voltage (V)"
	p.Y.Label.Text = "gain"
	if inDB {
		p.Y.Label.Text = "gain (dB)"
		p.Y.Min, p.Y.Max = -130, 40
	} else {
		p.Y.Min, p.Y.Max = 0, 15
	}
	idealLine, err := plotter.NewLine(ideal)
	if err != nil {
		return err
	}
	idealLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	saturatedLine, err := plotter.NewLine(saturated)
	if err != nil {
		return err
	}
	p.Add(plotter.NewGrid(), idealLine, saturatedLine)
	p.Legend.Add("ideal 10 dB/V", idealLine)
	p.Legend.Add("with saturation", saturatedLine)
	p.Legend.Top = true
	return p.Save(7*vg.Inch, 5*vg.Inch, path)
}

// idealGain is the unsaturated exponential law, for comparison.
func idealGain(vca matrix.VCAParams, voltage float64) float64 {
	if voltage <= vca.CutoffVoltage {
		return 0
	}
	return math.Pow(10, voltage*vca.DBPerVolt/20)
}

func scaleGain(gain float64, inDB bool) float64 {
	if !inDB {
		return gain
	}
	if gain <= 1e-10 {
		return -200
	}
	return 20 * math.Log10(gain)
}

func plotShaper(path string) error {
	curve := matrix.HybridClipCurve(2048)
	pts := make(plotter.XYs, 0, curvePoints)
	for i := 0; i < curvePoints; i++ {
		x := -2.0 + 4.0*float64(i)/float64(curvePoints-1)
		pts = append(pts, plotter.XY{X: x, Y: matrix.ShapeSample(curve, x)})
	}
	p := plot.New()
	p.Title.Text = "Output shaper transfer curve"
	p.X.Label.Text = "input sample"
	p.Y.Label.Text = "output sample"
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(plotter.NewGrid(), line)
	return p.Save(7*vg.Inch, 5*vg.Inch, path)
}
