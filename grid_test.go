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
	"testing"
)

// testGrid returns a small mid-latitude grid with latitudes stored
// north-to-south, following the usual reanalysis convention.
func testGrid(t *testing.T) *Grid {
	g, err := NewGrid(
		[]float64{55, 52.5, 50, 47.5, 45},
		[]float64{0, 2.5, 5, 7.5, 10},
	)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNewGrid(t *testing.T) {
	const tolerance = 1.0e-12

	g := testGrid(t)
	if g.Ny() != 5 || g.Nx() != 5 {
		t.Fatalf("want a 5 x 5 grid but have %d x %d", g.Ny(), g.Nx())
	}
	if different(g.dPhi, -2.5*degree, tolerance) {
		t.Errorf("dPhi: want %g but have %g", -2.5*degree, g.dPhi)
	}
	if different(g.dLambda, 2.5*degree, tolerance) {
		t.Errorf("dLambda: want %g but have %g", 2.5*degree, g.dLambda)
	}
	for j, lat := range g.Lat {
		phi := lat * degree
		if different(g.Coriolis(j), 2*omega*math.Sin(phi), tolerance) {
			t.Errorf("row %d: want f=%g but have %g", j, 2*omega*math.Sin(phi), g.Coriolis(j))
		}
		if different(g.Dx(j), 2.5*degree*earthRadius*math.Cos(phi), tolerance) {
			t.Errorf("row %d: want dx=%g but have %g", j, 2.5*degree*earthRadius*math.Cos(phi), g.Dx(j))
		}
	}
	if different(g.Dy(), 2.5*degree*earthRadius, tolerance) {
		t.Errorf("want dy=%g but have %g", 2.5*degree*earthRadius, g.Dy())
	}
}

func TestNewGridAscending(t *testing.T) {
	g, err := NewGrid(
		[]float64{45, 47.5, 50, 52.5, 55},
		[]float64{0, 2.5, 5, 7.5, 10},
	)
	if err != nil {
		t.Fatal(err)
	}
	if g.dPhi <= 0 {
		t.Errorf("want positive dPhi for ascending latitudes but have %g", g.dPhi)
	}
}

func TestNewGridErrors(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon []float64
	}{
		{"too few latitudes", []float64{50, 47.5}, []float64{0, 2.5, 5}},
		{"too few longitudes", []float64{50, 47.5, 45}, []float64{0, 2.5}},
		{"uneven latitudes", []float64{50, 47.5, 46}, []float64{0, 2.5, 5}},
		{"uneven longitudes", []float64{50, 47.5, 45}, []float64{0, 2.5, 6}},
		{"repeated latitudes", []float64{50, 50, 50}, []float64{0, 2.5, 5}},
	}
	for _, c := range cases {
		if _, err := NewGrid(c.lat, c.lon); err == nil {
			t.Errorf("%s: want an error but have none", c.name)
		}
	}
}

func TestGridBounds(t *testing.T) {
	const tolerance = 1.0e-12

	g := testGrid(t)
	n, s, e, w := g.Bounds()
	for _, c := range []struct {
		name       string
		have, want float64
	}{
		{"north", n, 56.25},
		{"south", s, 43.75},
		{"east", e, 11.25},
		{"west", w, -1.25},
	} {
		if different(c.have, c.want, tolerance) {
			t.Errorf("%s: want %g but have %g", c.name, c.want, c.have)
		}
	}
}
