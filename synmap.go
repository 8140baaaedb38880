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

// Package synmap computes and visualizes synoptic-meteorology
// diagnostics from gridded reanalysis data. It reads a
// time × pressure level × latitude × longitude NetCDF dataset
// describing a midlatitude weather system, derives standard
// diagnostic fields (geostrophic wind, relative vorticity,
// divergence, temperature gradients and advection, Q-vectors) with
// centered finite differences on the latitude-longitude spherical
// grid, and renders map sequences and time-series plots.
package synmap

// Version gives the version number of this software.
const Version = "1.2.1"

// DataVersion gives the version of the saved dataset files that
// are compatible with this version of the software.
const DataVersion = "1.2.0"
