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
	"io"
	"time"

	"github.com/ctessum/sparse"
)

// NextData is a type of function that returns data for the next time
// step. If there are no more time steps, it should return the io.EOF error.
type NextData func() (*sparse.DenseArray, error)

// Reanalysis specifies the methods that a gridded reanalysis reader must
// have to be usable for a cyclone case study. Variables on pressure levels
// are returned one time step at a time as [level, latitude, longitude]
// arrays, and surface variables as [latitude, longitude] arrays.
//
// Methods for optional variables return nil when the underlying file does
// not contain the variable.
type Reanalysis interface {
	// Z geopotential on pressure levels [m2 s-2].
	Z() NextData

	// T temperature [K].
	T() NextData

	// U east-west wind speed [m s-1].
	U() NextData

	// V north-south wind speed [m s-1].
	V() NextData

	// W vertical velocity in pressure coordinates [Pa s-1]. Optional.
	W() NextData

	// MSL mean sea level pressure [Pa]. Optional.
	MSL() NextData

	// TP accumulated precipitation [m]. Optional.
	TP() NextData

	// Times returns the time steps in the underlying file.
	Times() []time.Time

	// Levels returns the pressure levels in the underlying file [hPa],
	// ordered from the top of the atmosphere downward.
	Levels() []float64

	// Lats returns the latitude coordinates in the underlying
	// file [degrees north].
	Lats() []float64

	// Lons returns the longitude coordinates in the underlying
	// file [degrees east].
	Lons() []float64
}

// Extract reads every time step of every available variable from r and
// collects the result into a Dataset. Variables are read one at a time
// in a fixed order. msgChan, if it is not nil, receives progress messages.
func Extract(r Reanalysis, msgChan chan string) (*Dataset, error) {
	grid, err := NewGrid(r.Lats(), r.Lons())
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		Grid:   grid,
		Times:  r.Times(),
		Levels: r.Levels(),
	}
	if len(d.Times) == 0 {
		return nil, fmt.Errorf("synmap: reanalysis file does not contain any time steps")
	}

	vars := []struct {
		name, description, units string
		levels                   bool
		data                     NextData
	}{
		{"z", "Geopotential", "m**2 s**-2", true, r.Z()},
		{"t", "Temperature", "K", true, r.T()},
		{"u", "U component of wind", "m s**-1", true, r.U()},
		{"v", "V component of wind", "m s**-1", true, r.V()},
		{"w", "Vertical velocity", "Pa s**-1", true, r.W()},
		{"msl", "Mean sea level pressure", "Pa", false, r.MSL()},
		{"tp", "Total precipitation", "m", false, r.TP()},
	}
	for _, v := range vars {
		if v.data == nil {
			continue
		}
		data, dims, err := stackTimeSteps(v.data, d, v.levels)
		if err != nil {
			return nil, fmt.Errorf("synmap: reading variable %s: %v", v.name, err)
		}
		if err := d.AddVariable(v.name, dims, v.description, v.units, data); err != nil {
			return nil, err
		}
		if msgChan != nil {
			msgChan <- fmt.Sprintf("Read %d time steps of %s.", len(d.Times), v.name)
		}
	}
	return d, nil
}

// stackTimeSteps reads time steps from f until it is exhausted and stacks
// them along a new leading time dimension.
func stackTimeSteps(f NextData, d *Dataset, levels bool) (*sparse.DenseArray, []string, error) {
	var want []int
	var dims []string
	if levels {
		want = []int{len(d.Levels), d.Grid.Ny(), d.Grid.Nx()}
		dims = []string{"time", "level", "latitude", "longitude"}
	} else {
		want = []int{d.Grid.Ny(), d.Grid.Nx()}
		dims = []string{"time", "latitude", "longitude"}
	}
	out := sparse.ZerosDense(append([]int{len(d.Times)}, want...)...)
	n := 0
	for {
		frame, err := f()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, err
		}
		if !sameShape(frame.Shape, want) {
			return nil, nil, fmt.Errorf("unexpected array shape %v; want %v", frame.Shape, want)
		}
		if n >= len(d.Times) {
			return nil, nil, fmt.Errorf("read more than the expected %d time steps", len(d.Times))
		}
		copy(out.Elements[n*len(frame.Elements):(n+1)*len(frame.Elements)], frame.Elements)
		n++
	}
	if n != len(d.Times) {
		return nil, nil, fmt.Errorf("read %d time steps but the file describes %d", n, len(d.Times))
	}
	return out, dims, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, av := range a {
		if av != b[i] {
			return false
		}
	}
	return true
}
