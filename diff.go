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

	"github.com/ctessum/sparse"
)

// cosLatMin is the smallest cosine of latitude for which west-east
// derivatives are computed; pole rows get NaN instead.
const cosLatMin = 1.e-5

// checkGridShape panics if any of the given arrays does not have the
// 2-dimensional shape of the grid. A mismatch is a programming error
// rather than a runtime condition.
func checkGridShape(g *Grid, arrays ...*sparse.DenseArray) {
	for _, a := range arrays {
		if len(a.Shape) != 2 || a.Shape[0] != g.Ny() || a.Shape[1] != g.Nx() {
			panic(fmt.Errorf("synmap: array shape %v does not match %d x %d grid",
				a.Shape, g.Ny(), g.Nx()))
		}
	}
}

// ddx differentiates one horizontal section with respect to distance
// in the west-east direction: 1/(a cosφ) ∂/∂λ. Differences are
// centered in the interior and one-sided on the first and last
// columns. Rows at the poles are NaN.
func ddx(data *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	checkGridShape(g, data)
	ny, nx := g.Ny(), g.Nx()
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		row := j * nx
		if g.cosLat[j] < cosLatMin {
			for i := 0; i < nx; i++ {
				out.Elements[row+i] = math.NaN()
			}
			continue
		}
		r := 1. / (earthRadius * g.cosLat[j] * g.dLambda)
		out.Elements[row] = (data.Elements[row+1] - data.Elements[row]) * r
		for i := 1; i < nx-1; i++ {
			out.Elements[row+i] = (data.Elements[row+i+1] - data.Elements[row+i-1]) * r / 2
		}
		out.Elements[row+nx-1] = (data.Elements[row+nx-1] - data.Elements[row+nx-2]) * r
	}
	return out
}

// ddy differentiates one horizontal section with respect to distance
// in the south-north direction: 1/a ∂/∂φ. The sign of the stored
// latitude spacing makes the result independent of whether latitudes
// ascend or descend in memory.
func ddy(data *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	checkGridShape(g, data)
	ny, nx := g.Ny(), g.Nx()
	out := sparse.ZerosDense(ny, nx)
	r := 1. / (earthRadius * g.dPhi)
	for i := 0; i < nx; i++ {
		out.Elements[i] = (data.Elements[nx+i] - data.Elements[i]) * r
		out.Elements[(ny-1)*nx+i] = (data.Elements[(ny-1)*nx+i] - data.Elements[(ny-2)*nx+i]) * r
	}
	for j := 1; j < ny-1; j++ {
		for i := 0; i < nx; i++ {
			out.Elements[j*nx+i] = (data.Elements[(j+1)*nx+i] - data.Elements[(j-1)*nx+i]) * r / 2
		}
	}
	return out
}

// Gradient returns the two components of the horizontal gradient of
// one 2-dimensional section on the spherical grid.
func Gradient(data *sparse.DenseArray, g *Grid) (ddxOut, ddyOut *sparse.DenseArray) {
	return ddx(data, g), ddy(data, g)
}

// Smooth returns a copy of the given 2-dimensional section smoothed
// with the specified number of passes of a 9-point smoother
// (center weight 1/4, sides 1/8, corners 1/16). Boundary cells are
// left unchanged. This is the standard smoothing applied to
// geopotential before differentiating it twice, and to sea-level
// pressure before searching for the storm center.
func Smooth(data *sparse.DenseArray, passes int) *sparse.DenseArray {
	out := data.Copy()
	if passes <= 0 || len(data.Shape) != 2 {
		return out
	}
	ny, nx := data.Shape[0], data.Shape[1]
	if ny < 3 || nx < 3 {
		return out
	}
	tmp := make([]float64, len(out.Elements))
	for p := 0; p < passes; p++ {
		copy(tmp, out.Elements)
		for j := 1; j < ny-1; j++ {
			for i := 1; i < nx-1; i++ {
				c := j*nx + i
				out.Elements[c] = 0.25*tmp[c] +
					0.125*(tmp[c-1]+tmp[c+1]+tmp[c-nx]+tmp[c+nx]) +
					0.0625*(tmp[c-nx-1]+tmp[c-nx+1]+tmp[c+nx-1]+tmp[c+nx+1])
			}
		}
	}
	return out
}
