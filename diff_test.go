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
	"math"
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func different(a, b, tolerance float64) bool {
	if a == b {
		return false
	}
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// arrayCompare checks that two arrays match within a relative
// tolerance. NaN elements in want are expected to be NaN in have.
func arrayCompare(have, want *sparse.DenseArray, tolerance float64, name string, t *testing.T) {
	if !reflect.DeepEqual(want.Shape, have.Shape) {
		t.Errorf("%s: want shape %v but have shape %v", name, want.Shape, have.Shape)
		return
	}
	for i, wantv := range want.Elements {
		havev := have.Elements[i]
		if math.IsNaN(wantv) || math.IsNaN(havev) {
			if math.IsNaN(wantv) != math.IsNaN(havev) {
				t.Errorf("%s, element %d: want %g but have %g", name, i, wantv, havev)
			}
			continue
		}
		if different(havev, wantv, tolerance) {
			t.Errorf("%s, element %d: want %g but have %g", name, i, wantv, havev)
		}
	}
}

// gridField fills a grid-shaped array from a function of the cell
// coordinates [degrees].
func gridField(g *Grid, f func(lat, lon float64) float64) *sparse.DenseArray {
	d := sparse.ZerosDense(g.Ny(), g.Nx())
	for j, lat := range g.Lat {
		for i, lon := range g.Lon {
			d.Elements[j*g.Nx()+i] = f(lat, lon)
		}
	}
	return d
}

// A field that is linear in longitude has a west-east derivative that
// centered and one-sided differences both recover exactly.
func TestDdxLinear(t *testing.T) {
	const tolerance = 1.0e-9
	const c = 123.

	g := testGrid(t)
	data := gridField(g, func(lat, lon float64) float64 { return c * lon * degree })
	want := gridField(g, func(lat, lon float64) float64 {
		return c / (earthRadius * math.Cos(lat*degree))
	})
	arrayCompare(ddx(data, g), want, tolerance, "ddx", t)
}

// A field that is linear in latitude has the same south-north
// derivative whether the latitudes are stored north-to-south or
// south-to-north.
func TestDdyLinear(t *testing.T) {
	const tolerance = 1.0e-9
	const c = -456.

	lon := []float64{0, 2.5, 5, 7.5, 10}
	for _, lat := range [][]float64{
		{55, 52.5, 50, 47.5, 45},
		{45, 47.5, 50, 52.5, 55},
	} {
		g, err := NewGrid(lat, lon)
		if err != nil {
			t.Fatal(err)
		}
		data := gridField(g, func(lat, lon float64) float64 { return c * lat * degree })
		want := gridField(g, func(lat, lon float64) float64 { return c / earthRadius })
		arrayCompare(ddy(data, g), want, tolerance, "ddy", t)
	}
}

func TestGradient(t *testing.T) {
	const tolerance = 1.0e-9
	const cx, cy = 2.5, -7.

	g := testGrid(t)
	data := gridField(g, func(lat, lon float64) float64 {
		return (cx*lon + cy*lat) * degree
	})
	gx, gy := Gradient(data, g)
	wantX := gridField(g, func(lat, lon float64) float64 {
		return cx / (earthRadius * math.Cos(lat*degree))
	})
	wantY := gridField(g, func(lat, lon float64) float64 { return cy / earthRadius })
	arrayCompare(gx, wantX, tolerance, "gradient x", t)
	arrayCompare(gy, wantY, tolerance, "gradient y", t)
}

// West-east derivatives are undefined on pole rows.
func TestDdxPole(t *testing.T) {
	g, err := NewGrid([]float64{90, 87.5, 85}, []float64{0, 2.5, 5})
	if err != nil {
		t.Fatal(err)
	}
	data := gridField(g, func(lat, lon float64) float64 { return lon })
	out := ddx(data, g)
	for i := 0; i < g.Nx(); i++ {
		if !math.IsNaN(out.Elements[i]) {
			t.Errorf("pole row element %d: want NaN but have %g", i, out.Elements[i])
		}
	}
	for k := g.Nx(); k < len(out.Elements); k++ {
		if math.IsNaN(out.Elements[k]) {
			t.Errorf("element %d: is NaN", k)
		}
	}
}

func TestSmoothUniform(t *testing.T) {
	g := testGrid(t)
	data := gridField(g, func(lat, lon float64) float64 { return 5 })
	arrayCompare(Smooth(data, 3), data, 1.0e-12, "smooth uniform", t)
}

func TestSmoothSpike(t *testing.T) {
	const tolerance = 1.0e-12

	data := sparse.ZerosDense(5, 5)
	data.Elements[2*5+2] = 16

	out := Smooth(data, 1)

	want := sparse.ZerosDense(5, 5)
	want.Elements[2*5+2] = 4
	for _, k := range []int{1*5 + 2, 2*5 + 1, 2*5 + 3, 3*5 + 2} {
		want.Elements[k] = 2
	}
	for _, k := range []int{1*5 + 1, 1*5 + 3, 3*5 + 1, 3*5 + 3} {
		want.Elements[k] = 1
	}
	arrayCompare(out, want, tolerance, "smooth spike", t)

	// The input must not be modified.
	if data.Elements[2*5+2] != 16 {
		t.Errorf("smoothing modified its input: center is %g", data.Elements[2*5+2])
	}
}

func TestSmoothBoundary(t *testing.T) {
	g := testGrid(t)
	data := gridField(g, func(lat, lon float64) float64 { return lat * lon })
	out := Smooth(data, 2)
	ny, nx := g.Ny(), g.Nx()
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			if j > 0 && j < ny-1 && i > 0 && i < nx-1 {
				continue
			}
			if out.Elements[j*nx+i] != data.Elements[j*nx+i] {
				t.Errorf("boundary cell (%d, %d) changed from %g to %g",
					j, i, data.Elements[j*nx+i], out.Elements[j*nx+i])
			}
		}
	}
}

func TestSmoothNoPasses(t *testing.T) {
	g := testGrid(t)
	data := gridField(g, func(lat, lon float64) float64 { return lat + lon })
	out := Smooth(data, 0)
	arrayCompare(out, data, 1.0e-12, "smooth 0 passes", t)
	out.Elements[0] = -999
	if data.Elements[0] == -999 {
		t.Error("smoothing with 0 passes returned the input instead of a copy")
	}
}

func TestCheckGridShape(t *testing.T) {
	g := testGrid(t)
	defer func() {
		if recover() == nil {
			t.Error("want a panic for a mis-shaped array but have none")
		}
	}()
	ddx(sparse.ZerosDense(2, 2), g)
}
