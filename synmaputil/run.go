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

package synmaputil

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/skratchdot/open-golang/open"
	"github.com/spatialmodel/synmap"
)

// Derive computes the requested diagnostic fields from the reanalysis
// data in the file at input and saves the data and the results to
// output, so the other commands can read them back without
// recomputing.
func Derive(input, output string, diagnostics []string, smoothPasses int, msgChan chan string) error {
	d, err := loadDataset(input, msgChan)
	if err != nil {
		return err
	}
	Log.Info("Computing diagnostic fields...")
	if err := d.Derive(diagnostics, smoothPasses, msgChan); err != nil {
		return err
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("synmap: creating dataset file: %v", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	Log.Infof("Wrote %s.", output)
	return nil
}

// Maps draws one map image for every time step of the named variable
// and writes the images to the directory specified by o. If show is
// true, the first image is additionally opened in the system viewer.
func Maps(input, variable string, level float64, o *synmap.MapOptions, show bool, msgChan chan string) error {
	d, err := loadDataset(input, msgChan)
	if err != nil {
		return err
	}
	if o == nil {
		o = new(synmap.MapOptions)
	}
	if err := d.MapFrames(variable, level, o, msgChan); err != nil {
		return err
	}
	dir := o.OutDir
	if dir == "" {
		dir = "."
	}
	Log.Infof("Wrote %d images to %s.", len(d.Times), dir)
	if show {
		prefix := variable
		if len(d.Data[variable].Dims) == 4 {
			prefix = fmt.Sprintf("%s_%d", variable, int(math.Round(level)))
		}
		return open.Run(filepath.Join(o.OutDir, prefix+"_000.png"))
	}
	return nil
}

// Series extracts the named storm time series, draws one plot per
// series plus a plot of all of them together, and optionally saves the
// values to a spreadsheet. If show is true, the combined plot is
// additionally opened in the system viewer.
func Series(input string, names []string, outDir, seriesFile string, show bool, msgChan chan string) error {
	if len(names) == 0 {
		return fmt.Errorf("synmap: there are no series specified to plot")
	}
	d, err := loadDataset(input, msgChan)
	if err != nil {
		return err
	}
	tr, err := synmap.FindTrack(d, msgChan)
	if err != nil {
		return err
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
			return fmt.Errorf("synmap: creating series output directory: %v", err)
		}
	}
	series := make([]*synmap.Series, len(names))
	for i, name := range names {
		s, err := d.ExtractSeries(name, tr)
		if err != nil {
			return err
		}
		series[i] = s
		if err := writePlot(filepath.Join(outDir, name+".png"), s.Plot); err != nil {
			return err
		}
	}
	combined := filepath.Join(outDir, "series.png")
	err = writePlot(combined, func(w io.Writer) error {
		return synmap.PlotSeries(w, series...)
	})
	if err != nil {
		return err
	}
	if seriesFile != "" {
		if filepath.Ext(seriesFile) != ".xlsx" {
			return fmt.Errorf("synmap: series values can only be saved to a .xlsx file, not %s", seriesFile)
		}
		if err := synmap.WriteSeriesXLSX(seriesFile, series...); err != nil {
			return err
		}
		Log.Infof("Wrote %s.", seriesFile)
	}
	if show {
		return open.Run(combined)
	}
	return nil
}

// writePlot writes the plot drawn by draw to the file at fileName.
func writePlot(fileName string, draw func(io.Writer) error) error {
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("synmap: creating plot file: %v", err)
	}
	if err := draw(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	Log.Infof("Wrote %s.", fileName)
	return nil
}

// Track finds the storm track and saves it to trackFile, whose
// extension chooses the format: .csv, .shp, or .xlsx.
func Track(input, trackFile string, msgChan chan string) error {
	d, err := loadDataset(input, msgChan)
	if err != nil {
		return err
	}
	tr, err := synmap.FindTrack(d, msgChan)
	if err != nil {
		return err
	}
	switch filepath.Ext(trackFile) {
	case ".csv":
		f, err := os.Create(trackFile)
		if err != nil {
			return fmt.Errorf("synmap: creating track file: %v", err)
		}
		if err := tr.WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	case ".shp":
		if err := tr.WriteShapefile(trackFile); err != nil {
			return err
		}
	case ".xlsx":
		if err := tr.WriteXLSX(trackFile); err != nil {
			return err
		}
	default:
		return fmt.Errorf("synmap: tracks can be written in .csv, .shp, or .xlsx format, not %q", filepath.Ext(trackFile))
	}
	Log.Infof("Wrote %s.", trackFile)
	return nil
}

// Output evaluates the output variable expressions at the given
// pressure level and time step and writes the results to outputFile in
// shapefile or .csv format.
func Output(input, outputFile string, level float64, timeStep int, outputVariables map[string]string, msgChan chan string) error {
	outputVariables, err := checkOutputVars(outputVariables)
	if err != nil {
		return err
	}
	o, err := synmap.NewOutputter(outputFile, level, outputVariables, nil)
	if err != nil {
		return err
	}
	d, err := loadDataset(input, msgChan)
	if err != nil {
		return err
	}
	if err := o.Output(d, timeStep); err != nil {
		return err
	}
	Log.Infof("Wrote %s.", outputFile)
	return nil
}
