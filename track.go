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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
	"github.com/tealeg/xlsx"
)

const (
	// trackWindowDeg is the half-width of the search window around the
	// previous storm position [degrees]. The center is not allowed to
	// jump further than this between consecutive time steps.
	trackWindowDeg = 15.

	// trackSmoothPasses regularizes the searched field so that the
	// minimum that is found is the synoptic-scale low rather than a
	// local wiggle.
	trackSmoothPasses = 2
)

// wgs84 is the projection definition written alongside exported
// shapefiles.
const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

// TrackPoint is the location of the cyclone center at one time step.
type TrackPoint struct {
	Time time.Time

	// Lat and Lon are the position of the storm center
	// [degrees north, degrees east].
	Lat, Lon float64

	// Value is the central value of the tracked field, in the units of
	// that field.
	Value float64
}

// Track is the history of the position and intensity of a cyclone
// center.
type Track struct {
	// Field is the name of the variable the track was found from, and
	// Units are its units.
	Field, Units string

	Points []TrackPoint
}

// FindTrack locates the cyclone center at every time step of d by
// searching for the minimum of smoothed mean sea level pressure, or of
// smoothed 1000 hPa geopotential if the dataset does not include
// pressure. After the first time step the search is restricted to a
// window around the previous position. msgChan, if it is not nil,
// receives progress messages.
func FindTrack(d *Dataset, msgChan chan string) (*Track, error) {
	field := "msl"
	ilev := 0
	if _, ok := d.Data[field]; !ok {
		field = "z"
		var err error
		ilev, err = d.LevelIndex(1000)
		if _, ok := d.Data[field]; !ok || err != nil {
			return nil, fmt.Errorf("synmap: finding the storm track requires either " +
				"mean sea level pressure or geopotential at 1000 hPa, neither of " +
				"which is in the dataset")
		}
	}
	track := &Track{Field: field, Units: d.Data[field].Units}
	var prev *TrackPoint
	for it, t := range d.Times {
		slab, err := d.Slab(field, it, ilev)
		if err != nil {
			return nil, err
		}
		j, i, v, err := minInWindow(Smooth(slab, trackSmoothPasses), d.Grid, prev)
		if err != nil {
			return nil, fmt.Errorf("synmap: locating the storm center at %v: %v", t, err)
		}
		pt := TrackPoint{Time: t, Lat: d.Grid.Lat[j], Lon: d.Grid.Lon[i], Value: v}
		track.Points = append(track.Points, pt)
		prev = &pt
		if msgChan != nil {
			msgChan <- fmt.Sprintf("Storm center at %v: latitude %.2f, longitude %.2f.",
				t.Format("2006-01-02 15:04"), pt.Lat, pt.Lon)
		}
	}
	return track, nil
}

// minInWindow returns the grid indices and the value of the smallest
// element of data. When prev is not nil the search is restricted to
// within trackWindowDeg degrees of it. NaN values are skipped.
func minInWindow(data *sparse.DenseArray, g *Grid, prev *TrackPoint) (j, i int, v float64, err error) {
	ny, nx := g.Ny(), g.Nx()
	best := math.Inf(1)
	bestJ, bestI := -1, -1
	for j := 0; j < ny; j++ {
		if prev != nil && math.Abs(g.Lat[j]-prev.Lat) > trackWindowDeg {
			continue
		}
		for i := 0; i < nx; i++ {
			if prev != nil && math.Abs(g.Lon[i]-prev.Lon) > trackWindowDeg {
				continue
			}
			v := data.Elements[j*nx+i]
			if math.IsNaN(v) || v >= best {
				continue
			}
			best = v
			bestJ, bestI = j, i
		}
	}
	if bestJ < 0 {
		return 0, 0, 0, fmt.Errorf("no minimum found; all values are NaN")
	}
	return bestJ, bestI, best, nil
}

// CentralPressure returns the central pressures of the track [hPa].
// The result is NaN for tracks that were found from a field other than
// mean sea level pressure.
func (tr *Track) CentralPressure() []float64 {
	out := make([]float64, len(tr.Points))
	for i, p := range tr.Points {
		if tr.Field == "msl" {
			out[i] = p.Value / 100
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// WriteCSV writes the track to w as comma-separated values with one row
// per time step.
func (tr *Track) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "latitude", "longitude", tr.Field}); err != nil {
		return fmt.Errorf("synmap: writing track csv: %v", err)
	}
	for _, p := range tr.Points {
		rec := []string{
			p.Time.Format(time.RFC3339),
			strconv.FormatFloat(p.Lat, 'f', 3, 64),
			strconv.FormatFloat(p.Lon, 'f', 3, 64),
			strconv.FormatFloat(p.Value, 'f', 2, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("synmap: writing track csv: %v", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteShapefile writes the track to the given file as a shapefile of
// points, one per time step, with the time and the central value as
// attributes. The file name extension is replaced with .shp, and a .prj
// file is written next to it.
func (tr *Track) WriteShapefile(fileName string) error {
	fileBase := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	fileName = fileBase + ".shp"
	fields := []goshp.Field{
		goshp.StringField("TIME", 25),
		goshp.FloatField(strings.ToUpper(tr.Field), 16, 6),
	}
	shape, err := shp.NewEncoderFromFields(fileName, goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("error creating track shapefile: %v", err)
	}
	for _, p := range tr.Points {
		err = shape.EncodeFields(geom.Point{X: p.Lon, Y: p.Lat},
			p.Time.Format(time.RFC3339), p.Value)
		if err != nil {
			return fmt.Errorf("error writing track shapefile: %v", err)
		}
	}
	shape.Close()

	// Create .prj file
	f, err := os.Create(fileBase + ".prj")
	if err != nil {
		return fmt.Errorf("error creating track prj file: %v", err)
	}
	fmt.Fprint(f, wgs84)
	return f.Close()
}

// WriteXLSX writes the track to the given file as a spreadsheet with
// one row per time step.
func (tr *Track) WriteXLSX(fileName string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("track")
	if err != nil {
		return fmt.Errorf("synmap: writing track spreadsheet: %v", err)
	}
	header := sheet.AddRow()
	for _, h := range []string{"time", "latitude", "longitude", tr.Field} {
		header.AddCell().SetString(h)
	}
	for _, p := range tr.Points {
		row := sheet.AddRow()
		row.AddCell().SetString(p.Time.Format(time.RFC3339))
		row.AddCell().SetFloat(p.Lat)
		row.AddCell().SetFloat(p.Lon)
		row.AddCell().SetFloat(p.Value)
	}
	if err := f.Save(fileName); err != nil {
		return fmt.Errorf("synmap: writing track spreadsheet: %v", err)
	}
	return nil
}
