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

package synmap

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// eraEpoch is the reference time that the time coordinate is counted
// in hours from.
var eraEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Variable is a single gridded field and information about it.
type Variable struct {
	// Dims are the dimensions of the data, in order.
	Dims []string

	// Description is a descriptive name for the variable.
	Description string

	// Units are the units of the data.
	Units string

	// Data is the gridded data.
	Data *sparse.DenseArray
}

// Dataset holds the gridded fields of a cyclone case study along with
// their time, vertical, and horizontal coordinates.
type Dataset struct {
	// Grid describes the horizontal coordinates of the data.
	Grid *Grid

	// Times are the time steps of the data.
	Times []time.Time

	// Levels are the vertical pressure levels of the data [hPa],
	// ordered from the top of the atmosphere downward.
	Levels []float64

	// Data holds the gridded data, named by variable.
	Data map[string]*Variable
}

// AddVariable adds data for a new variable to d, returning an error if d
// already contains a variable with the same name.
func (d *Dataset) AddVariable(name string, dims []string, description, units string, data *sparse.DenseArray) error {
	if d.Data == nil {
		d.Data = make(map[string]*Variable)
	}
	if _, ok := d.Data[name]; ok {
		return fmt.Errorf("synmap: variable %s is already in the dataset", name)
	}
	d.Data[name] = &Variable{
		Dims:        dims,
		Description: description,
		Units:       units,
		Data:        data,
	}
	return nil
}

// VarNames returns the names of the variables in d in alphabetical order.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Data))
	for name := range d.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LevelIndex returns the index of pressure level p [hPa] within d.Levels.
func (d *Dataset) LevelIndex(p float64) (int, error) {
	for i, l := range d.Levels {
		if l == p {
			return i, nil
		}
	}
	return -1, fmt.Errorf("synmap: the dataset does not contain pressure level %g hPa; available levels are %v", p, d.Levels)
}

// Slab returns the [latitude, longitude] values of variable name at time
// step index it and pressure level index ilev. ilev is ignored for
// single-level variables. The returned array shares underlying storage
// with the dataset.
func (d *Dataset) Slab(name string, it, ilev int) (*sparse.DenseArray, error) {
	dd, ok := d.Data[name]
	if !ok {
		return nil, fmt.Errorf("synmap: the dataset does not contain variable %s", name)
	}
	if it < 0 || it >= len(d.Times) {
		return nil, fmt.Errorf("synmap: time step index %d for variable %s is out of range", it, name)
	}
	ny, nx := d.Grid.Ny(), d.Grid.Nx()
	switch len(dd.Data.Shape) {
	case 4:
		if ilev < 0 || ilev >= len(d.Levels) {
			return nil, fmt.Errorf("synmap: level index %d for variable %s is out of range", ilev, name)
		}
		return dd.Data.Subset([]int{it, ilev, 0, 0}, []int{it, ilev, ny - 1, nx - 1}), nil
	case 3:
		return dd.Data.Subset([]int{it, 0, 0}, []int{it, ny - 1, nx - 1}), nil
	default:
		return nil, fmt.Errorf("synmap: variable %s has %d dimensions; want 3 or 4", name, len(dd.Data.Shape))
	}
}

// Write writes d to w in NetCDF classic format.
func (d *Dataset) Write(w *os.File) error {
	dims := []string{"time", "level", "latitude", "longitude"}
	lengths := []int{len(d.Times), len(d.Levels), d.Grid.Ny(), d.Grid.Nx()}
	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "data_version", DataVersion)

	h.AddVariable("time", []string{"time"}, []int32{0})
	h.AddAttribute("time", "units", "hours since 1900-01-01 00:00:0.0")
	h.AddVariable("level", []string{"level"}, []int32{0})
	h.AddAttribute("level", "units", "millibars")
	h.AddVariable("latitude", []string{"latitude"}, []float32{0})
	h.AddAttribute("latitude", "units", "degrees_north")
	h.AddVariable("longitude", []string{"longitude"}, []float32{0})
	h.AddAttribute("longitude", "units", "degrees_east")

	names := d.VarNames()
	for _, name := range names {
		dd := d.Data[name]
		h.AddVariable(name, dd.Dims, []float32{0})
		h.AddAttribute(name, "description", dd.Description)
		h.AddAttribute(name, "units", dd.Units)
	}
	h.Define()
	ff, err := cdf.Create(w, h)
	if err != nil {
		return err
	}
	if err := d.writeCoords(ff); err != nil {
		return err
	}
	for _, name := range names {
		if err = writeNCF(ff, name, d.Data[name].Data); err != nil {
			return fmt.Errorf("synmap: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// writeCoords writes the coordinate variables to f.
func (d *Dataset) writeCoords(f *cdf.File) error {
	times := make([]int32, len(d.Times))
	for i, t := range d.Times {
		times[i] = int32(math.Round(t.Sub(eraEpoch).Hours()))
	}
	levels := make([]int32, len(d.Levels))
	for i, l := range d.Levels {
		levels[i] = int32(math.Round(l))
	}
	lats := make([]float32, d.Grid.Ny())
	for i, l := range d.Grid.Lat {
		lats[i] = float32(l)
	}
	lons := make([]float32, d.Grid.Nx())
	for i, l := range d.Grid.Lon {
		lons[i] = float32(l)
	}
	for _, c := range []struct {
		name string
		data interface{}
	}{
		{"time", times},
		{"level", levels},
		{"latitude", lats},
		{"longitude", lons},
	} {
		end := f.Header.Lengths(c.name)
		start := make([]int, len(end))
		w := f.Writer(c.name, start, end)
		if _, err := w.Write(c.data); err != nil {
			return fmt.Errorf("synmap: writing coordinate %s to netcdf file: %v", c.name, err)
		}
	}
	return nil
}

func writeNCF(f *cdf.File, Var string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(Var)
	start := make([]int, len(end))
	w := f.Writer(Var, start, end)
	_, err := w.Write(data32)
	return err
}

// LoadDataset loads a Dataset from r, where r is a NetCDF file created
// by (*Dataset).Write.
func LoadDataset(r cdf.ReaderWriterAt) (*Dataset, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("synmap.LoadDataset: %v", err)
	}
	dataVersion, ok := f.Header.GetAttribute("", "data_version").(string)
	if !ok || dataVersion != DataVersion {
		return nil, fmt.Errorf("synmap.LoadDataset: data version %s is incompatible "+
			"with the expected version %s; the file needs to be regenerated",
			dataVersion, DataVersion)
	}
	timeHours, err := readCoordNCF(f, "time")
	if err != nil {
		return nil, fmt.Errorf("synmap.LoadDataset: %v", err)
	}
	levels, err := readCoordNCF(f, "level")
	if err != nil {
		return nil, fmt.Errorf("synmap.LoadDataset: %v", err)
	}
	lats, err := readCoordNCF(f, "latitude")
	if err != nil {
		return nil, fmt.Errorf("synmap.LoadDataset: %v", err)
	}
	lons, err := readCoordNCF(f, "longitude")
	if err != nil {
		return nil, fmt.Errorf("synmap.LoadDataset: %v", err)
	}
	grid, err := NewGrid(lats, lons)
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		Grid:   grid,
		Times:  make([]time.Time, len(timeHours)),
		Levels: levels,
	}
	for i, hr := range timeHours {
		d.Times[i] = eraEpoch.Add(time.Duration(hr) * time.Hour)
	}
	for _, v := range f.Header.Variables() {
		switch v {
		case "time", "level", "latitude", "longitude":
			continue
		}
		dims := f.Header.Lengths(v)
		rr := f.Reader(v, nil, nil)
		data := sparse.ZerosDense(dims...)
		tmp := make([]float32, len(data.Elements))
		if _, err := rr.Read(tmp); err != nil {
			return nil, fmt.Errorf("synmap.LoadDataset: reading variable %s: %v", v, err)
		}
		for i, v32 := range tmp {
			data.Elements[i] = float64(v32)
		}
		description, _ := f.Header.GetAttribute(v, "description").(string)
		units, _ := f.Header.GetAttribute(v, "units").(string)
		if err := d.AddVariable(v, f.Header.Dimensions(v), description, units, data); err != nil {
			return nil, err
		}
	}
	for _, v := range []string{"z", "t", "u", "v"} {
		if _, ok := d.Data[v]; !ok {
			return nil, fmt.Errorf("synmap.LoadDataset: the file is missing required variable %s", v)
		}
	}
	return d, nil
}

// readCoordNCF reads 1-dimensional coordinate variable v from f,
// converting it to float64 if it has a different type.
func readCoordNCF(f *cdf.File, v string) ([]float64, error) {
	n := f.Header.Lengths(v)
	if len(n) == 0 {
		return nil, fmt.Errorf("the file does not contain coordinate variable %s", v)
	}
	r := f.Reader(v, nil, nil)
	buf := r.Zero(n[0])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", v, err)
	}
	out := make([]float64, n[0])
	switch b := buf.(type) {
	case []float64:
		copy(out, b)
	case []float32:
		for i, bv := range b {
			out[i] = float64(bv)
		}
	case []int32:
		for i, bv := range b {
			out[i] = float64(bv)
		}
	case []int16:
		for i, bv := range b {
			out[i] = float64(bv)
		}
	default:
		return nil, fmt.Errorf("coordinate %s has unsupported type %T", v, buf)
	}
	return out, nil
}
