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
	"sort"
	"strings"

	"github.com/ctessum/sparse"
)

// derivedVar describes one field produced by a derivation.
type derivedVar struct {
	name, description, units string
}

// A derivation calculates one or more diagnostic fields on a single
// [latitude, longitude] section of a constant-pressure surface.
type derivation struct {
	outputs []derivedVar

	// inputs are the names of the file variables the calculation needs.
	inputs []string

	// compute calculates the output fields from the input sections.
	// p is the pressure of the surface [Pa].
	compute func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray
}

// derivations lists the diagnostic calculations that Derive can perform.
var derivations = []derivation{
	{
		outputs: []derivedVar{
			{"geostrophic_u", "U component of geostrophic wind", "m s**-1"},
			{"geostrophic_v", "V component of geostrophic wind", "m s**-1"},
		},
		inputs: []string{"z"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			ug, vg := GeostrophicWind(args[0], g)
			return []*sparse.DenseArray{ug, vg}
		},
	},
	{
		outputs: []derivedVar{{"vorticity", "Relative vorticity", "s**-1"}},
		inputs:  []string{"u", "v"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			return []*sparse.DenseArray{RelativeVorticity(args[0], args[1], g)}
		},
	},
	{
		outputs: []derivedVar{{"absolute_vorticity", "Absolute vorticity", "s**-1"}},
		inputs:  []string{"u", "v"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			return []*sparse.DenseArray{AbsoluteVorticity(args[0], args[1], g)}
		},
	},
	{
		outputs: []derivedVar{{"divergence", "Horizontal divergence", "s**-1"}},
		inputs:  []string{"u", "v"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			return []*sparse.DenseArray{Divergence(args[0], args[1], g)}
		},
	},
	{
		outputs: []derivedVar{{"wind_speed", "Wind speed", "m s**-1"}},
		inputs:  []string{"u", "v"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			return []*sparse.DenseArray{WindSpeed(args[0], args[1])}
		},
	},
	{
		outputs: []derivedVar{
			{"temp_gradient", "Magnitude of horizontal temperature gradient", "K m**-1"},
		},
		inputs: []string{"t"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			dtdx, dtdy := Gradient(args[0], g)
			mag := sparse.ZerosDense(dtdx.Shape...)
			for k, dx := range dtdx.Elements {
				dy := dtdy.Elements[k]
				mag.Elements[k] = math.Sqrt(dx*dx + dy*dy)
			}
			return []*sparse.DenseArray{mag}
		},
	},
	{
		outputs: []derivedVar{
			{"temp_advection", "Horizontal temperature advection", "K s**-1"},
		},
		inputs: []string{"t", "u", "v"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			return []*sparse.DenseArray{Advection(args[0], args[1], args[2], g)}
		},
	},
	{
		outputs: []derivedVar{
			{"q_vector_x", "X component of Q vector", "m**2 kg**-1 s**-1"},
			{"q_vector_y", "Y component of Q vector", "m**2 kg**-1 s**-1"},
		},
		inputs: []string{"t", "z"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			qx, qy := QVector(args[0], args[1], p, g)
			return []*sparse.DenseArray{qx, qy}
		},
	},
	{
		outputs: []derivedVar{
			{"q_vector_divergence", "Divergence of Q vector", "m kg**-1 s**-1"},
		},
		inputs: []string{"t", "z"},
		compute: func(args []*sparse.DenseArray, p float64, g *Grid) []*sparse.DenseArray {
			qx, qy := QVector(args[0], args[1], p, g)
			return []*sparse.DenseArray{Divergence(qx, qy, g)}
		},
	},
}

// DeriveNames returns the names of all the diagnostic fields that Derive
// can calculate, in alphabetical order.
func DeriveNames() []string {
	var names []string
	for _, dv := range derivations {
		for _, o := range dv.outputs {
			names = append(names, o.name)
		}
	}
	sort.Strings(names)
	return names
}

// DeriveInfo returns the description and units of the named diagnostic
// field.
func DeriveInfo(name string) (description, units string, err error) {
	for _, dv := range derivations {
		for _, o := range dv.outputs {
			if o.name == name {
				return o.description, o.units, nil
			}
		}
	}
	return "", "", fmt.Errorf("synmap: unknown diagnostic field %s; available fields are %v",
		name, DeriveNames())
}

// Derive calculates the named diagnostic fields at every time step and
// pressure level of d and adds the results to d, replacing any existing
// fields with the same names. A calculation that produces several
// fields stores all of them even if only one was asked for. If names is
// empty, every available diagnostic is calculated. smoothPasses is the
// number of smoothing passes applied to the input fields before they
// are differenced. msgChan, if it is not nil, receives progress
// messages.
func (d *Dataset) Derive(names []string, smoothPasses int, msgChan chan string) error {
	todo, err := derivationsFor(names)
	if err != nil {
		return err
	}
	for _, dv := range todo {
		if err := d.derive(dv, smoothPasses); err != nil {
			return err
		}
		if msgChan != nil {
			outs := make([]string, len(dv.outputs))
			for i, o := range dv.outputs {
				outs[i] = o.name
			}
			msgChan <- fmt.Sprintf("Derived %s at %d time steps on %d levels.",
				strings.Join(outs, " and "), len(d.Times), len(d.Levels))
		}
	}
	return nil
}

// derivationsFor returns the derivations needed to calculate the named
// fields, in registry order.
func derivationsFor(names []string) ([]derivation, error) {
	if len(names) == 0 {
		return derivations, nil
	}
	want := make(map[string]bool)
	for _, n := range names {
		want[n] = true
	}
	var todo []derivation
	for _, dv := range derivations {
		needed := false
		for _, o := range dv.outputs {
			if want[o.name] {
				needed = true
				delete(want, o.name)
			}
		}
		if needed {
			todo = append(todo, dv)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("synmap: unknown diagnostic field(s) %v; available fields are %v",
			unknown, DeriveNames())
	}
	return todo, nil
}

// derive runs one derivation over all the time steps and levels of d.
func (d *Dataset) derive(dv derivation, smoothPasses int) error {
	for _, in := range dv.inputs {
		v, ok := d.Data[in]
		if !ok {
			return fmt.Errorf("synmap: deriving %s requires variable %s, which is not in the dataset",
				dv.outputs[0].name, in)
		}
		if len(v.Data.Shape) != 4 {
			return fmt.Errorf("synmap: deriving %s requires variable %s to be on pressure levels",
				dv.outputs[0].name, in)
		}
	}
	nt, nl := len(d.Times), len(d.Levels)
	ny, nx := d.Grid.Ny(), d.Grid.Nx()
	outs := make([]*sparse.DenseArray, len(dv.outputs))
	for k := range outs {
		outs[k] = sparse.ZerosDense(nt, nl, ny, nx)
	}
	args := make([]*sparse.DenseArray, len(dv.inputs))
	for it := 0; it < nt; it++ {
		for il := 0; il < nl; il++ {
			for k, in := range dv.inputs {
				slab, err := d.Slab(in, it, il)
				if err != nil {
					return err
				}
				args[k] = Smooth(slab, smoothPasses)
			}
			p := d.Levels[il] * 100 // hPa to Pa
			result := dv.compute(args, p, d.Grid)
			offset := (it*nl + il) * ny * nx
			for k, res := range result {
				copy(outs[k].Elements[offset:offset+ny*nx], res.Elements)
			}
		}
	}
	dims := []string{"time", "level", "latitude", "longitude"}
	for k, o := range dv.outputs {
		delete(d.Data, o.name)
		if err := d.AddVariable(o.name, dims, o.description, o.units, outs[k]); err != nil {
			return err
		}
	}
	return nil
}
