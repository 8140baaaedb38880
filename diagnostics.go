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

	"github.com/ctessum/sparse"
)

// coriolisMin is the smallest Coriolis parameter magnitude [1/s] for
// which geostrophic quantities are computed. It corresponds to about
// 4 degrees latitude; equatorward of that the geostrophic
// approximation is meaningless and results are NaN.
const coriolisMin = 1.e-5

// GeostrophicWind calculates the geostrophic wind components [m/s]
//
//	ug = -1/f ∂Φ/∂y, vg = 1/f ∂Φ/∂x
//
// from geopotential Φ [m2/s2] on a constant-pressure surface.
// Rows where the Coriolis parameter is below coriolisMin are NaN.
func GeostrophicWind(geopotential *sparse.DenseArray, g *Grid) (ug, vg *sparse.DenseArray) {
	dzdx := ddx(geopotential, g)
	dzdy := ddy(geopotential, g)
	ug = sparse.ZerosDense(geopotential.Shape...)
	vg = sparse.ZerosDense(geopotential.Shape...)
	nx := g.Nx()
	for j := 0; j < g.Ny(); j++ {
		f := g.fLat[j]
		row := j * nx
		if math.Abs(f) < coriolisMin {
			for i := 0; i < nx; i++ {
				ug.Elements[row+i] = math.NaN()
				vg.Elements[row+i] = math.NaN()
			}
			continue
		}
		for i := 0; i < nx; i++ {
			ug.Elements[row+i] = -dzdy.Elements[row+i] / f
			vg.Elements[row+i] = dzdx.Elements[row+i] / f
		}
	}
	return ug, vg
}

// RelativeVorticity calculates the vertical component of the relative
// vorticity [1/s] of the given wind field in its full spherical form
//
//	ζ = ∂v/∂x - ∂u/∂y + u tanφ / a.
func RelativeVorticity(u, v *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	checkGridShape(g, u, v)
	dvdx := ddx(v, g)
	dudy := ddy(u, g)
	out := sparse.ZerosDense(u.Shape...)
	nx := g.Nx()
	for j := 0; j < g.Ny(); j++ {
		t := g.tanLat[j] / earthRadius
		row := j * nx
		for i := 0; i < nx; i++ {
			out.Elements[row+i] = dvdx.Elements[row+i] - dudy.Elements[row+i] +
				u.Elements[row+i]*t
		}
	}
	return out
}

// AbsoluteVorticity calculates the absolute vorticity ζ + f [1/s] of
// the given wind field.
func AbsoluteVorticity(u, v *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	out := RelativeVorticity(u, v, g)
	nx := g.Nx()
	for j := 0; j < g.Ny(); j++ {
		f := g.fLat[j]
		row := j * nx
		for i := 0; i < nx; i++ {
			out.Elements[row+i] += f
		}
	}
	return out
}

// Divergence calculates the horizontal divergence [1/s] of the given
// vector field in its full spherical form
//
//	∂u/∂x + ∂v/∂y - v tanφ / a.
func Divergence(u, v *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	checkGridShape(g, u, v)
	dudx := ddx(u, g)
	dvdy := ddy(v, g)
	out := sparse.ZerosDense(u.Shape...)
	nx := g.Nx()
	for j := 0; j < g.Ny(); j++ {
		t := g.tanLat[j] / earthRadius
		row := j * nx
		for i := 0; i < nx; i++ {
			out.Elements[row+i] = dudx.Elements[row+i] + dvdy.Elements[row+i] -
				v.Elements[row+i]*t
		}
	}
	return out
}

// Advection calculates the advection of the given scalar field by the
// given wind, -(u ∂s/∂x + v ∂s/∂y). For temperature, positive values
// mean warm-air advection.
func Advection(scalar, u, v *sparse.DenseArray, g *Grid) *sparse.DenseArray {
	checkGridShape(g, scalar, u, v)
	dsdx := ddx(scalar, g)
	dsdy := ddy(scalar, g)
	out := sparse.ZerosDense(scalar.Shape...)
	for k, uk := range u.Elements {
		out.Elements[k] = -(uk*dsdx.Elements[k] + v.Elements[k]*dsdy.Elements[k])
	}
	return out
}

// WindSpeed calculates the magnitude [m/s] of the given wind field.
func WindSpeed(u, v *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(u.Shape...)
	for k, uk := range u.Elements {
		out.Elements[k] = math.Sqrt(uk*uk + v.Elements[k]*v.Elements[k])
	}
	return out
}

// QVector calculates the components of the quasi-geostrophic Q-vector
// [m2/kg-s] on the pressure surface p [Pa]:
//
//	Qx = -R/p (∂ug/∂x ∂T/∂x + ∂vg/∂x ∂T/∂y)
//	Qy = -R/p (∂ug/∂y ∂T/∂x + ∂vg/∂y ∂T/∂y)
//
// where the geostrophic wind comes from the given geopotential
// [m2/s2] and T is the temperature [K] on the same surface.
// The geopotential should be smoothed before it is passed in, because
// it is differentiated twice. Q-vector convergence diagnoses forcing
// for ascent: w is forced upward where the divergence of Q is
// negative.
func QVector(temperature, geopotential *sparse.DenseArray, p float64, g *Grid) (qx, qy *sparse.DenseArray) {
	checkGridShape(g, temperature, geopotential)
	ug, vg := GeostrophicWind(geopotential, g)
	dtdx := ddx(temperature, g)
	dtdy := ddy(temperature, g)
	dugdx := ddx(ug, g)
	dugdy := ddy(ug, g)
	dvgdx := ddx(vg, g)
	dvgdy := ddy(vg, g)
	qx = sparse.ZerosDense(temperature.Shape...)
	qy = sparse.ZerosDense(temperature.Shape...)
	c := -rd / p
	for k := range qx.Elements {
		qx.Elements[k] = c * (dugdx.Elements[k]*dtdx.Elements[k] +
			dvgdx.Elements[k]*dtdy.Elements[k])
		qy.Elements[k] = c * (dugdy.Elements[k]*dtdx.Elements[k] +
			dvgdy.Elements[k]*dtdy.Elements[k])
	}
	return qx, qy
}
