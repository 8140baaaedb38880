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
)

const (
	earthRadius = 6371000.  // m
	omega       = 7.2921e-5 // 1/s, rotation rate of the Earth
	rd          = 287.058   // J/kg-K, gas constant for dry air
	g0          = 9.80665   // m/s2, gravitational acceleration
)

// degree converts between degrees and radians.
const degree = math.Pi / 180.

// A Grid is the horizontal latitude-longitude mesh shared by all
// fields in a Dataset. Latitudes may be stored north-to-south, as is
// the usual reanalysis convention; the metric factors carry the sign
// of the spacing so the derivative operators do not depend on the
// storage order.
type Grid struct {
	// Lat and Lon are the coordinate vectors [degrees].
	Lat, Lon []float64

	dLambda float64 // longitude spacing [radians]
	dPhi    float64 // latitude spacing [radians]; negative when latitudes descend

	cosLat []float64 // cosine of latitude by row
	tanLat []float64 // tangent of latitude by row
	fLat   []float64 // Coriolis parameter by row [1/s]
}

// NewGrid creates a Grid from coordinate vectors given in degrees.
// Both vectors must have at least three evenly spaced, strictly
// monotonic values.
func NewGrid(lat, lon []float64) (*Grid, error) {
	if len(lat) < 3 || len(lon) < 3 {
		return nil, fmt.Errorf("synmap: grid must have at least 3 points in each direction but has %d x %d", len(lat), len(lon))
	}
	dPhi, err := uniformSpacing(lat)
	if err != nil {
		return nil, fmt.Errorf("synmap: latitude: %v", err)
	}
	dLambda, err := uniformSpacing(lon)
	if err != nil {
		return nil, fmt.Errorf("synmap: longitude: %v", err)
	}
	g := &Grid{
		Lat:     lat,
		Lon:     lon,
		dPhi:    dPhi * degree,
		dLambda: dLambda * degree,
		cosLat:  make([]float64, len(lat)),
		tanLat:  make([]float64, len(lat)),
		fLat:    make([]float64, len(lat)),
	}
	for j, l := range lat {
		phi := l * degree
		g.cosLat[j] = math.Cos(phi)
		g.tanLat[j] = math.Tan(phi)
		g.fLat[j] = 2 * omega * math.Sin(phi)
	}
	return g, nil
}

// uniformSpacing returns the common spacing of the given coordinate
// vector, or an error if the values are not strictly monotonic with
// even spacing. Coordinates often come from single-precision file
// variables, so a small amount of jitter is allowed.
func uniformSpacing(x []float64) (float64, error) {
	d := x[1] - x[0]
	if d == 0 {
		return 0, fmt.Errorf("coordinates are not strictly monotonic")
	}
	const tol = 1.e-3
	for i := 1; i < len(x)-1; i++ {
		di := x[i+1] - x[i]
		if math.Abs(di-d) > tol*math.Abs(d) {
			return 0, fmt.Errorf("coordinate spacing changes from %g to %g at index %d", d, di, i)
		}
	}
	return d, nil
}

// Ny returns the number of latitude rows.
func (g *Grid) Ny() int { return len(g.Lat) }

// Nx returns the number of longitude columns.
func (g *Grid) Nx() int { return len(g.Lon) }

// Coriolis returns the Coriolis parameter [1/s] at latitude row j.
func (g *Grid) Coriolis(j int) float64 { return g.fLat[j] }

// Dx returns the west-east grid spacing [m] at latitude row j.
func (g *Grid) Dx(j int) float64 {
	return math.Abs(g.dLambda) * earthRadius * g.cosLat[j]
}

// Dy returns the south-north grid spacing [m].
func (g *Grid) Dy() float64 {
	return math.Abs(g.dPhi) * earthRadius
}

// Bounds returns the outer edges of the grid [degrees], extending
// half a grid cell beyond the outermost coordinate centers.
func (g *Grid) Bounds() (n, s, e, w float64) {
	dy := math.Abs(g.dPhi) / degree / 2
	dx := math.Abs(g.dLambda) / degree / 2
	n = math.Max(g.Lat[0], g.Lat[len(g.Lat)-1]) + dy
	s = math.Min(g.Lat[0], g.Lat[len(g.Lat)-1]) - dy
	e = math.Max(g.Lon[0], g.Lon[len(g.Lon)-1]) + dx
	w = math.Min(g.Lon[0], g.Lon[len(g.Lon)-1]) - dx
	return
}
