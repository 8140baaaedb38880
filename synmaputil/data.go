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
	"strings"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/cdf"
	"github.com/spatialmodel/synmap"
)

// loadDataset reads the gridded data in the file at path, which may be
// either a raw reanalysis file or a dataset saved by the derive
// command.
func loadDataset(path string, msgChan chan string) (*synmap.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("synmap: opening input file: %v", err)
	}
	// Files saved by the derive command carry a data version attribute;
	// anything else is assumed to be raw reanalysis output.
	if ff, err := cdf.Open(f); err == nil {
		if _, ok := ff.Header.GetAttribute("", "data_version").(string); ok {
			d, err := synmap.LoadDataset(f)
			f.Close()
			return d, err
		}
	}
	f.Close()
	era, err := synmap.NewERA5(path, msgChan)
	if err != nil {
		return nil, err
	}
	defer era.Close()
	return synmap.Extract(era, msgChan)
}

const timeFormat = "2006-01-02 15:04"

// Describe writes an inventory of the meteorological data in the file
// at path to w: the coordinates, then one entry per variable with its
// units and summary statistics.
func Describe(path string, w io.Writer, msgChan chan string) error {
	d, err := loadDataset(path, msgChan)
	if err != nil {
		return err
	}
	nt, nl := len(d.Times), len(d.Levels)
	fmt.Fprintf(w, "Dimensions: %d times, %d levels, %d latitudes, %d longitudes\n",
		nt, nl, d.Grid.Ny(), d.Grid.Nx())
	fmt.Fprintf(w, "Time:       %s to %s\n",
		d.Times[0].Format(timeFormat), d.Times[nt-1].Format(timeFormat))
	fmt.Fprintf(w, "Level:      %g to %g hPa\n", d.Levels[0], d.Levels[nl-1])
	fmt.Fprintf(w, "Latitude:   %g to %g degrees\n",
		d.Grid.Lat[0], d.Grid.Lat[d.Grid.Ny()-1])
	fmt.Fprintf(w, "Longitude:  %g to %g degrees\n",
		d.Grid.Lon[0], d.Grid.Lon[d.Grid.Nx()-1])
	for _, name := range d.VarNames() {
		v := d.Data[name]
		fmt.Fprintf(w, "\n%s: %s [%s] (%s)\n",
			name, v.Description, v.Units, strings.Join(v.Dims, ", "))
		var vals []float64
		var missing int
		for _, e := range v.Data.Elements {
			if math.IsNaN(e) {
				missing++
				continue
			}
			vals = append(vals, e)
		}
		if len(vals) == 0 {
			fmt.Fprintf(w, "    all %d values are missing\n", missing)
			continue
		}
		fmt.Fprintf(w, "    min %g, max %g, mean %g, standard deviation %g",
			stats.StatsMin(vals), stats.StatsMax(vals), stats.StatsMean(vals),
			stats.StatsSampleStandardDeviation(vals))
		if missing > 0 {
			fmt.Fprintf(w, ", %d missing", missing)
		}
		fmt.Fprintln(w)
	}
	return nil
}
