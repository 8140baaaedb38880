/*
Copyright © 2019 the SynMAP authors.
This file is part of SynMAP.

SynMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SynMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SynMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package synmap

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/ctessum/sparse"
	"github.com/tealeg/xlsx"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// stormRadiusDeg is the radius around the storm center [degrees] that
// storm-relative series are averaged over.
const stormRadiusDeg = 5.

// Series is a named scalar time series extracted from a Dataset.
type Series struct {
	Name  string
	Units string

	Times  []time.Time
	Values []float64
}

// SeriesNames returns the names of the built-in time series.
func SeriesNames() []string {
	return []string{
		"central_pressure",
		"min_height_1000",
		"max_vorticity_850",
		"mean_precip",
		"storm_precip",
	}
}

// ExtractSeries calculates the named built-in time series from d.
// Series that follow the storm core need the track tr; it may be nil
// for the others.
//
// The available series are:
//
//	central_pressure: the mean sea level pressure at the storm
//	    center [hPa].
//	min_height_1000: the lowest 1000 hPa geopotential height in the
//	    domain [m].
//	max_vorticity_850: the largest 850 hPa relative vorticity in the
//	    domain [1/s].
//	mean_precip: precipitation accumulation averaged over the
//	    domain [mm].
//	storm_precip: precipitation accumulation averaged over the area
//	    within stormRadiusDeg of the storm center [mm].
func (d *Dataset) ExtractSeries(name string, tr *Track) (*Series, error) {
	s := &Series{Name: name, Times: d.Times}
	switch name {
	case "central_pressure":
		if tr == nil {
			return nil, fmt.Errorf("synmap: series %s requires a storm track", name)
		}
		if tr.Field != "msl" {
			return nil, fmt.Errorf("synmap: series %s requires a track found from "+
				"mean sea level pressure, not %s", name, tr.Field)
		}
		s.Units = "hPa"
		s.Values = tr.CentralPressure()
	case "min_height_1000":
		ilev, err := d.LevelIndex(1000)
		if err != nil {
			return nil, err
		}
		s.Units = "m"
		s.Values = make([]float64, len(d.Times))
		for it := range d.Times {
			slab, err := d.Slab("z", it, ilev)
			if err != nil {
				return nil, err
			}
			s.Values[it] = reduceMin(slab.Elements) / g0
		}
	case "max_vorticity_850":
		ilev, err := d.LevelIndex(850)
		if err != nil {
			return nil, err
		}
		s.Units = "s**-1"
		s.Values = make([]float64, len(d.Times))
		for it := range d.Times {
			u, err := d.Slab("u", it, ilev)
			if err != nil {
				return nil, err
			}
			v, err := d.Slab("v", it, ilev)
			if err != nil {
				return nil, err
			}
			s.Values[it] = reduceMax(RelativeVorticity(u, v, d.Grid).Elements)
		}
	case "mean_precip":
		s.Units = "mm"
		s.Values = make([]float64, len(d.Times))
		for it := range d.Times {
			slab, err := d.Slab("tp", it, 0)
			if err != nil {
				return nil, err
			}
			s.Values[it] = reduceMean(slab.Elements) * 1000 // m to mm
		}
	case "storm_precip":
		if tr == nil {
			return nil, fmt.Errorf("synmap: series %s requires a storm track", name)
		}
		s.Units = "mm"
		s.Values = make([]float64, len(d.Times))
		for it := range d.Times {
			slab, err := d.Slab("tp", it, 0)
			if err != nil {
				return nil, err
			}
			s.Values[it] = d.stormMean(slab, tr.Points[it]) * 1000 // m to mm
		}
	default:
		return nil, fmt.Errorf("synmap: unknown series %s; available series are %v",
			name, SeriesNames())
	}
	return s, nil
}

// stormMean averages data over the grid cells within stormRadiusDeg of
// the storm center.
func (d *Dataset) stormMean(data *sparse.DenseArray, center TrackPoint) float64 {
	nx := d.Grid.Nx()
	sum, n := 0., 0
	for j, lat := range d.Grid.Lat {
		for i, lon := range d.Grid.Lon {
			dy := lat - center.Lat
			dx := (lon - center.Lon) * math.Cos(center.Lat*degree)
			if dx*dx+dy*dy > stormRadiusDeg*stormRadiusDeg {
				continue
			}
			v := data.Elements[j*nx+i]
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func reduceMin(x []float64) float64 {
	out := math.Inf(1)
	found := false
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		found = true
		if v < out {
			out = v
		}
	}
	if !found {
		return math.NaN()
	}
	return out
}

func reduceMax(x []float64) float64 {
	out := math.Inf(-1)
	found := false
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		found = true
		if v > out {
			out = v
		}
	}
	if !found {
		return math.NaN()
	}
	return out
}

func reduceMean(x []float64) float64 {
	sum, n := 0., 0
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Plot draws the series as a line plot and writes it to w in PNG
// format. NaN values are left out.
func (s *Series) Plot(w io.Writer) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = s.Name
	p.X.Label.Text = "time"
	p.Y.Label.Text = s.Units
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	xy := make(plotter.XYs, 0, len(s.Values))
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		xy = append(xy, plotter.XY{X: float64(s.Times[i].Unix()), Y: v})
	}
	if len(xy) == 0 {
		return fmt.Errorf("synmap: series %s has no valid values to plot", s.Name)
	}
	if err := plotutil.AddLinePoints(p, xy); err != nil {
		return err
	}
	ww, hh := 6.*vg.Inch, 3.*vg.Inch
	wt, err := p.WriterTo(ww, hh, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotSeries draws the given series together in one multi-line plot
// and writes it to w in PNG format. Series are labeled in the legend
// with their names and units; NaN values are left out.
func PlotSeries(w io.Writer, series ...*Series) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.X.Label.Text = "time"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	var lines []interface{}
	for _, s := range series {
		xy := make(plotter.XYs, 0, len(s.Values))
		for i, v := range s.Values {
			if math.IsNaN(v) {
				continue
			}
			xy = append(xy, plotter.XY{X: float64(s.Times[i].Unix()), Y: v})
		}
		if len(xy) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", s.Name, s.Units), xy)
	}
	if len(lines) == 0 {
		return fmt.Errorf("synmap: the series have no valid values to plot")
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	ww, hh := 6.*vg.Inch, 4.*vg.Inch
	wt, err := p.WriterTo(ww, hh, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteCSV writes the series to w as comma-separated values.
func (s *Series) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", fmt.Sprintf("%s (%s)", s.Name, s.Units)}); err != nil {
		return fmt.Errorf("synmap: writing series csv: %v", err)
	}
	for i, v := range s.Values {
		rec := []string{
			s.Times[i].Format(time.RFC3339),
			strconv.FormatFloat(v, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("synmap: writing series csv: %v", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeriesXLSX writes the given series to a spreadsheet file with
// one sheet per series.
func WriteSeriesXLSX(fileName string, series ...*Series) error {
	f := xlsx.NewFile()
	for _, s := range series {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return fmt.Errorf("synmap: writing series spreadsheet: %v", err)
		}
		header := sheet.AddRow()
		header.AddCell().SetString("time")
		header.AddCell().SetString(fmt.Sprintf("%s (%s)", s.Name, s.Units))
		for i, v := range s.Values {
			row := sheet.AddRow()
			row.AddCell().SetString(s.Times[i].Format(time.RFC3339))
			row.AddCell().SetFloat(v)
		}
	}
	if err := f.Save(fileName); err != nil {
		return fmt.Errorf("synmap: writing series spreadsheet: %v", err)
	}
	return nil
}
