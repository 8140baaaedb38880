/*
Copyright © 2018 the SynMAP authors.
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
	"bytes"
	"encoding/csv"
	"fmt"
	"image/png"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/synmap"
	"github.com/tealeg/xlsx"
)

// writeCmdTestData saves a small dataset to fileName for the commands to
// work on. The mean sea level pressure holds a low that moves one grid
// cell to the southeast at every time step, staying far enough from the
// grid edges that smoothing cannot displace its minimum.
func writeCmdTestData(fileName string) error {
	lats := []float64{60, 57.5, 55, 52.5, 50, 47.5, 45}
	lons := []float64{0, 2.5, 5, 7.5, 10, 12.5, 15}
	grid, err := synmap.NewGrid(lats, lons)
	if err != nil {
		return err
	}
	d := &synmap.Dataset{
		Grid: grid,
		Times: []time.Time{
			time.Date(2023, time.October, 18, 0, 0, 0, 0, time.UTC),
			time.Date(2023, time.October, 18, 6, 0, 0, 0, time.UTC),
			time.Date(2023, time.October, 18, 12, 0, 0, 0, time.UTC),
		},
		Levels: []float64{500, 850, 1000},
	}
	nt, nl, ny, nx := len(d.Times), len(d.Levels), grid.Ny(), grid.Nx()
	z := sparse.ZerosDense(nt, nl, ny, nx)
	temp := sparse.ZerosDense(nt, nl, ny, nx)
	u := sparse.ZerosDense(nt, nl, ny, nx)
	v := sparse.ZerosDense(nt, nl, ny, nx)
	msl := sparse.ZerosDense(nt, ny, nx)
	tp := sparse.ZerosDense(nt, ny, nx)
	zBase := []float64{55000, 14000, 1000}
	for it := 0; it < nt; it++ {
		for il := 0; il < nl; il++ {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					z.Set(zBase[il]+2*float64(j)+float64(i)+0.5*float64(it), it, il, j, i)
					temp.Set(280-float64(j)-0.5*float64(il)+0.1*float64(it)+0.05*float64(i), it, il, j, i)
					u.Set(10+float64(j)+0.2*float64(i)+float64(it), it, il, j, i)
					v.Set(-5+0.5*float64(j)-0.1*float64(i), it, il, j, i)
				}
			}
		}
		cLat, cLon := 55-2.5*float64(it), 5+2.5*float64(it)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				r2 := (lats[j]-cLat)*(lats[j]-cLat) + (lons[i]-cLon)*(lons[i]-cLon)
				msl.Set(101800-2500*math.Exp(-r2/12.5), it, j, i)
				tp.Set(0.001*float64(it+1)+0.0001*float64(j)+0.00005*float64(i), it, j, i)
			}
		}
	}
	dims4 := []string{"time", "level", "latitude", "longitude"}
	dims3 := []string{"time", "latitude", "longitude"}
	for _, vv := range []struct {
		name, description, units string
		dims                     []string
		data                     *sparse.DenseArray
	}{
		{"z", "Geopotential", "m**2 s**-2", dims4, z},
		{"t", "Temperature", "K", dims4, temp},
		{"u", "U component of wind", "m s**-1", dims4, u},
		{"v", "V component of wind", "m s**-1", dims4, v},
		{"msl", "Mean sea level pressure", "Pa", dims3, msl},
		{"tp", "Total precipitation", "m", dims3, tp},
	} {
		if err := d.AddVariable(vv.name, vv.dims, vv.description, vv.units, vv.data); err != nil {
			return err
		}
	}
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Write(f)
}

// checkFrame checks that the given file is a png image of the expected
// size.
func checkFrame(fileName string, width, height int, t *testing.T) {
	f, err := os.Open(fileName)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("%s: %v", fileName, err)
	}
	if cfg.Width != width || cfg.Height != height {
		t.Errorf("%s is %dx%d pixels; want %dx%d",
			fileName, cfg.Width, cfg.Height, width, height)
	}
}

func TestVersionCmd(t *testing.T) {
	var b bytes.Buffer
	Root.SetOutput(&b)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	want := "SynMAP v" + synmap.Version + "\n"
	if b.String() != want {
		t.Errorf("version output %q; want %q", b.String(), want)
	}
}

func TestDescribeCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_describe.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_describe.nc")
	var b bytes.Buffer
	Root.SetOutput(&b)
	defer Root.SetOutput(nil)
	Cfg.Set("InputFile", "tmp_cmd_describe.nc")
	Root.SetArgs([]string{"describe"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{
		"Dimensions: 3 times, 3 levels, 7 latitudes, 7 longitudes",
		"Time:       2023-10-18 00:00 to 2023-10-18 12:00",
		"Level:      500 to 1000 hPa",
		"Latitude:   60 to 45 degrees",
		"Longitude:  0 to 15 degrees",
		"z: Geopotential [m**2 s**-2] (time, level, latitude, longitude)",
		"msl: Mean sea level pressure [Pa] (time, latitude, longitude)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("describe output is missing %q", want)
		}
	}
	if n := strings.Count(out, "min "); n != 6 {
		t.Errorf("describe output has statistics for %d variables; want 6", n)
	}
}

func TestDeriveCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_derive_in.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_derive_in.nc")
	Cfg.Set("InputFile", "tmp_cmd_derive_in.nc")
	Cfg.Set("DatasetFile", "tmp_cmd_derive_out.nc")
	Cfg.Set("Diagnostics", []string{"vorticity", "wind_speed"})
	Root.SetArgs([]string{"derive"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_derive_out.nc")
	d, err := loadDataset("tmp_cmd_derive_out.nc", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"vorticity", "wind_speed"} {
		vv, ok := d.Data[name]
		if !ok {
			t.Errorf("the derived dataset is missing %s", name)
			continue
		}
		if len(vv.Data.Shape) != 4 {
			t.Errorf("%s has %d dimensions; want 4", name, len(vv.Data.Shape))
		}
	}
	if _, ok := d.Data["divergence"]; ok {
		t.Error("divergence was computed but not requested")
	}
}

func TestMapsCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_maps.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_maps.nc")
	Cfg.Set("InputFile", "tmp_cmd_maps.nc")
	Cfg.Set("OutDir", "tmp_cmd_maps")
	Cfg.Set("MapVariable", "t")
	Cfg.Set("MapLevel", 850.0)
	Cfg.Set("MapWidth", 120)
	Root.SetArgs([]string{"maps"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll("tmp_cmd_maps")
	// The grid spans equal numbers of degrees in latitude and in
	// longitude, so the map is square, with a 50 pixel legend strip
	// below it.
	for it := 0; it < 3; it++ {
		fileName := filepath.Join("tmp_cmd_maps", fmt.Sprintf("t_850_%03d.png", it))
		checkFrame(fileName, 120, 170, t)
	}
}

func TestMapsCmdStyle(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_style.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_style.nc")
	style := []byte("Width = 100\nScale = \"linear\"\n")
	if err := ioutil.WriteFile("tmp_cmd_style.toml", style, 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_style.toml")
	Cfg.Set("InputFile", "tmp_cmd_style.nc")
	Cfg.Set("OutDir", "tmp_cmd_style")
	Cfg.Set("MapVariable", "msl")
	Cfg.Set("MapWidth", 120)
	Cfg.Set("MapStyle", "tmp_cmd_style.toml")
	defer Cfg.Set("MapStyle", "")
	Root.SetArgs([]string{"maps"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll("tmp_cmd_style")
	// The width in the style file overrides the MapWidth flag, and msl
	// has no vertical dimension, so there is no level in the file name.
	checkFrame(filepath.Join("tmp_cmd_style", "msl_000.png"), 100, 150, t)
}

func TestSeriesCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_series.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_series.nc")
	Cfg.Set("InputFile", "tmp_cmd_series.nc")
	Cfg.Set("OutDir", "tmp_cmd_series")
	Cfg.Set("SeriesFile", "tmp_cmd_series.xlsx")
	defer Cfg.Set("SeriesFile", "")
	Root.SetArgs([]string{"series"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll("tmp_cmd_series")
	defer os.Remove("tmp_cmd_series.xlsx")
	for _, name := range append(synmap.SeriesNames(), "series") {
		fileName := filepath.Join("tmp_cmd_series", name+".png")
		b, err := ioutil.ReadFile(fileName)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(b, []byte("\x89PNG")) {
			t.Errorf("%s is not a png image", fileName)
		}
	}
	f, err := xlsx.OpenFile("tmp_cmd_series.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range synmap.SeriesNames() {
		s, ok := f.Sheet[name]
		if !ok {
			t.Errorf("the spreadsheet is missing sheet %s", name)
			continue
		}
		if s.MaxRow != 4 {
			t.Errorf("sheet %s has %d rows; want 4", name, s.MaxRow)
		}
	}
}

func TestTrackCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_track.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_track.nc")
	Cfg.Set("InputFile", "tmp_cmd_track.nc")
	Cfg.Set("TrackFile", "tmp_cmd_track.csv")
	Root.SetArgs([]string{"track"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_track.csv")
	f, err := os.Open("tmp_cmd_track.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("track csv has %d rows; want 4", len(recs))
	}
	for i, h := range []string{"time", "latitude", "longitude", "msl"} {
		if recs[0][i] != h {
			t.Errorf("header column %d is %q; want %q", i, recs[0][i], h)
		}
	}
	if recs[1][0] != "2023-10-18T00:00:00Z" {
		t.Errorf("first track time is %q; want 2023-10-18T00:00:00Z", recs[1][0])
	}
	wantPos := [][]string{
		{"55.000", "5.000"},
		{"52.500", "7.500"},
		{"50.000", "10.000"},
	}
	for i, want := range wantPos {
		rec := recs[i+1]
		if rec[1] != want[0] || rec[2] != want[1] {
			t.Errorf("track point %d at (%s, %s); want (%s, %s)",
				i, rec[1], rec[2], want[0], want[1])
		}
		v, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			t.Fatal(err)
		}
		// Smoothing raises the central value above the unsmoothed
		// minimum but keeps it below the ambient pressure.
		if v <= 99300 || v >= 101800 {
			t.Errorf("track point %d central pressure %g is outside the range of the data", i, v)
		}
	}
}

func TestOutputCmd(t *testing.T) {
	if err := writeCmdTestData("tmp_cmd_output.nc"); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_output.nc")
	Cfg.Set("InputFile", "tmp_cmd_output.nc")
	Cfg.Set("OutputFile", "tmp_cmd_output.csv")
	Root.SetArgs([]string{"output"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_cmd_output.csv")
	f, err := os.Open("tmp_cmd_output.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 50 {
		t.Fatalf("output csv has %d rows; want 50", len(recs))
	}
	for i, h := range []string{"latitude", "longitude", "speed"} {
		if recs[0][i] != h {
			t.Errorf("header column %d is %q; want %q", i, recs[0][i], h)
		}
	}
	if recs[1][0] != "60" || recs[1][1] != "0" {
		t.Errorf("first output cell at (%s, %s); want (60, 0)", recs[1][0], recs[1][1])
	}
	// At the first cell u is 10 and v is -5 m/s at 850 hPa and the
	// first time step.
	v, err := strconv.ParseFloat(recs[1][2], 64)
	if err != nil {
		t.Fatal(err)
	}
	if want := math.Sqrt(125); math.Abs(v-want) > 1.e-6 {
		t.Errorf("speed at the first cell is %g; want %g", v, want)
	}

	Cfg.Set("OutputFile", "tmp_cmd_output.shp")
	Root.SetArgs([]string{"output"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	defer synmap.DeleteShapefile("tmp_cmd_output.shp")
	for _, ext := range []string{".shp", ".dbf", ".prj"} {
		if _, err := os.Stat("tmp_cmd_output" + ext); err != nil {
			t.Error(err)
		}
	}
}
