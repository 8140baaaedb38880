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
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// era5Vars are the short names of the variables that can be read from an
// ERA5 pressure-level file. The first four are required.
var era5Vars = []string{"z", "t", "u", "v", "w", "msl", "tp"}

// ERA5 reads ECMWF ERA5 reanalysis output for a cyclone case study from
// a single NetCDF file holding hourly or multi-hourly analyses on
// pressure levels. Both the classic and the HDF5-based storage formats
// are supported. ERA5 implements the Reanalysis interface.
type ERA5 struct {
	file string

	times  []time.Time
	levels []float64
	lats   []float64
	lons   []float64

	// has records which data variables are present in the file.
	has map[string]bool

	// readVar reads time step it of the named variable.
	readVar func(name string, it int) (*sparse.DenseArray, error)

	closer func() error

	msgChan chan string
}

// NewERA5 opens the ERA5 pressure-level file at path file. The variables
// z, t, u, and v are required to be in the file; w, msl, and tp are also
// read when present. msgChan, if it is not nil, receives progress
// messages. The caller is responsible for closing the returned reader.
func NewERA5(file string, msgChan chan string) (*ERA5, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("synmap: opening reanalysis file: %v", err)
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("synmap: reading reanalysis file %s: %v", file, err)
	}
	e := &ERA5{file: file, msgChan: msgChan}
	switch {
	case bytes.HasPrefix(magic, []byte("CDF")):
		err = e.openClassic(f)
	case bytes.Equal(magic, []byte{0x89, 'H', 'D', 'F'}):
		f.Close()
		err = e.openHDF5(file)
	default:
		f.Close()
		err = fmt.Errorf("synmap: %s is not a NetCDF file", file)
	}
	if err != nil {
		return nil, err
	}
	for _, v := range []string{"z", "t", "u", "v"} {
		if !e.has[v] {
			e.Close()
			return nil, fmt.Errorf("synmap: reanalysis file %s is missing required variable %s", file, v)
		}
	}
	return e, nil
}

// Close closes the underlying file.
func (e *ERA5) Close() error { return e.closer() }

// Times returns the time steps in the file.
func (e *ERA5) Times() []time.Time { return e.times }

// Levels returns the pressure levels in the file [hPa].
func (e *ERA5) Levels() []float64 { return e.levels }

// Lats returns the latitude coordinates in the file [degrees north].
func (e *ERA5) Lats() []float64 { return e.lats }

// Lons returns the longitude coordinates in the file [degrees east].
func (e *ERA5) Lons() []float64 { return e.lons }

// Z geopotential on pressure levels [m2 s-2].
func (e *ERA5) Z() NextData { return e.nextData("z") }

// T temperature [K].
func (e *ERA5) T() NextData { return e.nextData("t") }

// U east-west wind speed [m s-1].
func (e *ERA5) U() NextData { return e.nextData("u") }

// V north-south wind speed [m s-1].
func (e *ERA5) V() NextData { return e.nextData("v") }

// W vertical velocity in pressure coordinates [Pa s-1].
func (e *ERA5) W() NextData { return e.nextData("w") }

// MSL mean sea level pressure [Pa].
func (e *ERA5) MSL() NextData { return e.nextData("msl") }

// TP accumulated precipitation [m].
func (e *ERA5) TP() NextData { return e.nextData("tp") }

// nextData returns a function that steps through the time steps of
// variable name, or nil if the file does not contain the variable.
func (e *ERA5) nextData(name string) NextData {
	if !e.has[name] {
		return nil
	}
	it := 0
	return func() (*sparse.DenseArray, error) {
		if it >= len(e.times) {
			return nil, io.EOF
		}
		data, err := e.readVar(name, it)
		if err != nil {
			return nil, fmt.Errorf("synmap: reading %s from %s: %v", name, e.file, err)
		}
		if e.msgChan != nil {
			e.msgChan <- fmt.Sprintf("Read time step %d of %d of %s from %s.",
				it+1, len(e.times), name, e.file)
		}
		it++
		return data, nil
	}
}

// hoursToTimes converts a time coordinate counted in hours since the
// beginning of 1900 to time stamps.
func hoursToTimes(hours []float64) []time.Time {
	times := make([]time.Time, len(hours))
	for i, hr := range hours {
		times[i] = eraEpoch.Add(time.Duration(hr * float64(time.Hour)))
	}
	return times
}

// openClassic prepares for reading a file in NetCDF classic format,
// keeping f open for subsequent reads.
func (e *ERA5) openClassic(f *os.File) error {
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("synmap: reading %s: %v", e.file, err)
	}
	coords := make(map[string][]float64)
	for _, c := range []string{"time", "level", "latitude", "longitude"} {
		coords[c], err = readCoordNCF(cf, c)
		if err != nil {
			f.Close()
			return fmt.Errorf("synmap: reading %s: %v", e.file, err)
		}
	}
	e.times = hoursToTimes(coords["time"])
	e.levels = coords["level"]
	e.lats = coords["latitude"]
	e.lons = coords["longitude"]
	e.has = make(map[string]bool)
	for _, v := range era5Vars {
		if len(cf.Header.Lengths(v)) != 0 {
			e.has[v] = true
		}
	}
	e.readVar = func(name string, it int) (*sparse.DenseArray, error) {
		return readPackedNCF(cf, name, it)
	}
	e.closer = f.Close
	return nil
}

// readPackedNCF reads time step it of variable name from f, applying the
// scale_factor and add_offset packing attributes and replacing fill
// values with NaN.
func readPackedNCF(f *cdf.File, name string, it int) (*sparse.DenseArray, error) {
	n := f.Header.Lengths(name)
	if len(n) == 0 {
		return nil, fmt.Errorf("the file does not contain variable %s", name)
	}
	start := make([]int, len(n))
	start[0] = it
	end := make([]int, len(n))
	copy(end, n)
	end[0] = it + 1
	nread := 1
	for _, nn := range n[1:] {
		nread *= nn
	}
	r := f.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	u := unpackerNCF(f, name)
	out := sparse.ZerosDense(n[1:]...)
	switch b := buf.(type) {
	case []int16:
		for i, bv := range b {
			out.Elements[i] = u.value(float64(bv))
		}
	case []int32:
		for i, bv := range b {
			out.Elements[i] = u.value(float64(bv))
		}
	case []float32:
		for i, bv := range b {
			out.Elements[i] = u.value(float64(bv))
		}
	case []float64:
		for i, bv := range b {
			out.Elements[i] = u.value(bv)
		}
	default:
		return nil, fmt.Errorf("variable %s has unsupported type %T", name, buf)
	}
	return out, nil
}

// unpacker converts packed values read from a NetCDF file to physical
// values. Fill and missing values are compared against the packed value,
// before the packing transform is applied.
type unpacker struct {
	scale, offset       float64
	fill, missing       float64
	hasFill, hasMissing bool
}

func (u unpacker) value(raw float64) float64 {
	if (u.hasFill && raw == u.fill) || (u.hasMissing && raw == u.missing) {
		return math.NaN()
	}
	return raw*u.scale + u.offset
}

func unpackerNCF(f *cdf.File, name string) unpacker {
	u := unpacker{scale: 1}
	if v, ok := attrFloat(f.Header.GetAttribute(name, "scale_factor")); ok {
		u.scale = v
	}
	if v, ok := attrFloat(f.Header.GetAttribute(name, "add_offset")); ok {
		u.offset = v
	}
	u.fill, u.hasFill = attrFloat(f.Header.GetAttribute(name, "_FillValue"))
	u.missing, u.hasMissing = attrFloat(f.Header.GetAttribute(name, "missing_value"))
	return u
}

// attrFloat extracts a numeric attribute value, accepting both the
// scalar and the single-element slice representations.
func attrFloat(a interface{}) (float64, bool) {
	switch av := a.(type) {
	case []float64:
		if len(av) > 0 {
			return av[0], true
		}
	case []float32:
		if len(av) > 0 {
			return float64(av[0]), true
		}
	case []int32:
		if len(av) > 0 {
			return float64(av[0]), true
		}
	case []int16:
		if len(av) > 0 {
			return float64(av[0]), true
		}
	case float64:
		return av, true
	case float32:
		return float64(av), true
	case int32:
		return float64(av), true
	case int16:
		return float64(av), true
	case int64:
		return float64(av), true
	}
	return 0, false
}

// openHDF5 prepares for reading a file in NetCDF-4 (HDF5-based) format.
func (e *ERA5) openHDF5(file string) error {
	nc, err := netcdf.Open(file)
	if err != nil {
		return fmt.Errorf("synmap: reading %s: %v", e.file, err)
	}
	coords := make(map[string][]float64)
	for _, c := range []string{"time", "level", "latitude", "longitude"} {
		coords[c], err = coordValuesNC4(nc, c)
		if err != nil {
			nc.Close()
			return fmt.Errorf("synmap: reading %s: %v", e.file, err)
		}
	}
	e.times = hoursToTimes(coords["time"])
	e.levels = coords["level"]
	e.lats = coords["latitude"]
	e.lons = coords["longitude"]
	e.has = make(map[string]bool)
	vars := make(map[string]bool)
	for _, v := range nc.ListVariables() {
		vars[v] = true
	}
	for _, v := range era5Vars {
		if vars[v] {
			e.has[v] = true
		}
	}
	e.readVar = func(name string, it int) (*sparse.DenseArray, error) {
		return readPackedNC4(nc, name, it)
	}
	e.closer = func() error {
		nc.Close()
		return nil
	}
	return nil
}

// coordValuesNC4 reads 1-dimensional coordinate variable name from nc,
// converting it to float64 if it has a different type.
func coordValuesNC4(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	switch b := v.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, bv := range b {
			out[i] = float64(bv)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(b))
		for i, bv := range b {
			out[i] = float64(bv)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, bv := range b {
			out[i] = float64(bv)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(b))
		for i, bv := range b {
			out[i] = float64(bv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("coordinate %s has unsupported type %T", name, v)
	}
}

// readPackedNC4 reads time step it of variable name from nc, applying
// the scale_factor and add_offset packing attributes and replacing fill
// values with NaN.
func readPackedNC4(nc api.Group, name string, it int) (*sparse.DenseArray, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	v, err := vg.GetSlice(int64(it), int64(it+1))
	if err != nil {
		return nil, err
	}
	u := unpackerNC4(vg.Attributes())
	switch b := v.(type) {
	case [][][][]int16:
		return unpackLevels16(b[0], u), nil
	case [][][][]float32:
		return unpackLevels32(b[0], u), nil
	case [][][][]float64:
		return unpackLevels64(b[0], u), nil
	case [][][]int16:
		return unpackSurface16(b[0], u), nil
	case [][][]float32:
		return unpackSurface32(b[0], u), nil
	case [][][]float64:
		return unpackSurface64(b[0], u), nil
	default:
		return nil, fmt.Errorf("variable %s has unsupported type %T", name, v)
	}
}

func unpackerNC4(attrs api.AttributeMap) unpacker {
	u := unpacker{scale: 1}
	if a, has := attrs.Get("scale_factor"); has {
		if v, ok := attrFloat(a); ok {
			u.scale = v
		}
	}
	if a, has := attrs.Get("add_offset"); has {
		if v, ok := attrFloat(a); ok {
			u.offset = v
		}
	}
	if a, has := attrs.Get("_FillValue"); has {
		u.fill, u.hasFill = attrFloat(a)
	}
	if a, has := attrs.Get("missing_value"); has {
		u.missing, u.hasMissing = attrFloat(a)
	}
	return u
}

func unpackLevels16(frame [][][]int16, u unpacker) *sparse.DenseArray {
	nl, ny, nx := len(frame), 0, 0
	if nl > 0 {
		ny = len(frame[0])
		if ny > 0 {
			nx = len(frame[0][0])
		}
	}
	out := sparse.ZerosDense(nl, ny, nx)
	for l, lvl := range frame {
		for j, row := range lvl {
			for i, bv := range row {
				out.Elements[(l*ny+j)*nx+i] = u.value(float64(bv))
			}
		}
	}
	return out
}

func unpackLevels32(frame [][][]float32, u unpacker) *sparse.DenseArray {
	nl, ny, nx := len(frame), 0, 0
	if nl > 0 {
		ny = len(frame[0])
		if ny > 0 {
			nx = len(frame[0][0])
		}
	}
	out := sparse.ZerosDense(nl, ny, nx)
	for l, lvl := range frame {
		for j, row := range lvl {
			for i, bv := range row {
				out.Elements[(l*ny+j)*nx+i] = u.value(float64(bv))
			}
		}
	}
	return out
}

func unpackLevels64(frame [][][]float64, u unpacker) *sparse.DenseArray {
	nl, ny, nx := len(frame), 0, 0
	if nl > 0 {
		ny = len(frame[0])
		if ny > 0 {
			nx = len(frame[0][0])
		}
	}
	out := sparse.ZerosDense(nl, ny, nx)
	for l, lvl := range frame {
		for j, row := range lvl {
			for i, bv := range row {
				out.Elements[(l*ny+j)*nx+i] = u.value(bv)
			}
		}
	}
	return out
}

func unpackSurface16(frame [][]int16, u unpacker) *sparse.DenseArray {
	ny, nx := len(frame), 0
	if ny > 0 {
		nx = len(frame[0])
	}
	out := sparse.ZerosDense(ny, nx)
	for j, row := range frame {
		for i, bv := range row {
			out.Elements[j*nx+i] = u.value(float64(bv))
		}
	}
	return out
}

func unpackSurface32(frame [][]float32, u unpacker) *sparse.DenseArray {
	ny, nx := len(frame), 0
	if ny > 0 {
		nx = len(frame[0])
	}
	out := sparse.ZerosDense(ny, nx)
	for j, row := range frame {
		for i, bv := range row {
			out.Elements[j*nx+i] = u.value(float64(bv))
		}
	}
	return out
}

func unpackSurface64(frame [][]float64, u unpacker) *sparse.DenseArray {
	ny, nx := len(frame), 0
	if ny > 0 {
		nx = len(frame[0])
	}
	out := sparse.ZerosDense(ny, nx)
	for j, row := range frame {
		for i, bv := range row {
			out.Elements[j*nx+i] = u.value(bv)
		}
	}
	return out
}
