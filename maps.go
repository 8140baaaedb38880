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
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/carto"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/plotextra"
	"github.com/ctessum/sparse"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// arrowCount is the approximate number of wind arrows drawn across the
// width of a map.
const arrowCount = 25

// MapOptions adjust how map sequences are rendered.
type MapOptions struct {
	// OutDir is the directory the image files are written to. It is
	// created if it does not already exist. If it is empty, the
	// current directory is used.
	OutDir string

	// Coastlines is the path of a shapefile with line work (coastlines
	// or borders) to draw on top of the data. The shapes must already
	// be in geographic coordinates; no reprojection is done. It may be
	// empty.
	Coastlines string

	// Arrows draws wind arrows from the u and v fields on each map.
	Arrows bool

	// ArrowStride is the number of grid points between wind arrows.
	// If it is zero, a stride is chosen so that about 25 arrows span
	// the map.
	ArrowStride int

	// Width is the width of each image in pixels; 800 if zero.
	Width int

	// Scale selects the color scale: "linear" or "broken". If it is
	// empty, precipitation gets the broken scale and everything else
	// the linear one.
	Scale string

	// CutPercentile is the percentile (range (0, 1)) above which the
	// broken color scale is compressed; 0.999 if zero.
	CutPercentile float64
}

// MapFrames renders one map image for each time step of the named
// variable, writing files with names like vorticity_500_003.png. level
// is the pressure level [hPa] to map; it is ignored for single-level
// variables. All the frames of a sequence share one color scale so that
// they can be assembled into an animation. msgChan, if it is not nil,
// receives the name of each file after it is written.
func (d *Dataset) MapFrames(name string, level float64, o *MapOptions, msgChan chan string) error {
	v, ok := d.Data[name]
	if !ok {
		return fmt.Errorf("synmap: the dataset does not contain variable %s", name)
	}
	if o == nil {
		o = new(MapOptions)
	}
	ilev := 0
	prefix := name
	if len(v.Data.Shape) == 4 {
		var err error
		ilev, err = d.LevelIndex(level)
		if err != nil {
			return err
		}
		prefix = fmt.Sprintf("%s_%d", name, int(math.Round(level)))
	}
	slabs := make([]*sparse.DenseArray, len(d.Times))
	var vals []float64
	for it := range d.Times {
		slab, err := d.Slab(name, it, ilev)
		if err != nil {
			return err
		}
		slabs[it] = slab
		for _, e := range slab.Elements {
			if !math.IsNaN(e) {
				vals = append(vals, e)
			}
		}
	}
	if len(vals) == 0 {
		return fmt.Errorf("synmap: variable %s has no valid values to map", name)
	}

	r, err := d.newMapRenderer(name, vals, o)
	if err != nil {
		return err
	}
	var arrows []arrowField
	if o.Arrows {
		arrows, err = d.arrowFields(ilev, o.ArrowStride)
		if err != nil {
			return err
		}
	}
	if o.OutDir != "" {
		if err := os.MkdirAll(o.OutDir, os.ModePerm); err != nil {
			return fmt.Errorf("synmap: creating map output directory: %v", err)
		}
	}
	for it, slab := range slabs {
		fileName := filepath.Join(o.OutDir, fmt.Sprintf("%s_%03d.png", prefix, it))
		var af *arrowField
		if arrows != nil {
			af = &arrows[it]
		}
		if err := r.frame(slab, af, fileName); err != nil {
			return err
		}
		if msgChan != nil {
			msgChan <- fmt.Sprintf("Wrote %s.", fileName)
		}
	}
	return nil
}

// MapPlot renders one map image of the named variable at time step
// index it, writing it to w as a PNG. level is the pressure level
// [hPa] to map; it is ignored for single-level variables. Unlike
// MapFrames, the color scale covers only the plotted time step.
func (d *Dataset) MapPlot(name string, it int, level float64, o *MapOptions, w io.Writer) error {
	v, ok := d.Data[name]
	if !ok {
		return fmt.Errorf("synmap: the dataset does not contain variable %s", name)
	}
	if o == nil {
		o = new(MapOptions)
	}
	ilev := 0
	if len(v.Data.Shape) == 4 {
		var err error
		ilev, err = d.LevelIndex(level)
		if err != nil {
			return err
		}
	}
	slab, err := d.Slab(name, it, ilev)
	if err != nil {
		return err
	}
	var vals []float64
	for _, e := range slab.Elements {
		if !math.IsNaN(e) {
			vals = append(vals, e)
		}
	}
	if len(vals) == 0 {
		return fmt.Errorf("synmap: variable %s has no valid values to map", name)
	}
	r, err := d.newMapRenderer(name, vals, o)
	if err != nil {
		return err
	}
	var af *arrowField
	if o.Arrows {
		arrows, err := d.arrowFields(ilev, o.ArrowStride)
		if err != nil {
			return err
		}
		af = &arrows[it]
	}
	return r.render(slab, af, w)
}

// mapRenderer draws the frames of one map sequence.
type mapRenderer struct {
	grid    *Grid
	color   func(float64) color.NRGBA
	legend  func(vgdraw.Canvas) error
	overlay []geom.Geom
	width   int
}

// newMapRenderer prepares the renderer shared by the frames of one
// sequence: the color scale over vals and the overlay line work.
func (d *Dataset) newMapRenderer(name string, vals []float64, o *MapOptions) (*mapRenderer, error) {
	r := &mapRenderer{grid: d.Grid, width: o.Width}
	if r.width == 0 {
		r.width = 800
	}
	v := d.Data[name]
	label := fmt.Sprintf("%s (%s)", v.Description, v.Units)
	scale := o.Scale
	if scale == "" {
		if name == "tp" {
			scale = "broken"
		} else {
			scale = "linear"
		}
	}
	var err error
	switch scale {
	case "linear":
		r.color, r.legend = linearColorScale(vals, label)
	case "broken":
		r.color, r.legend, err = brokenColorScale(vals, o.CutPercentile)
	default:
		return nil, fmt.Errorf("synmap: unknown color scale %q; accepted scales are \"linear\" and \"broken\"", o.Scale)
	}
	if err != nil {
		return nil, fmt.Errorf("synmap: creating color scale for %s: %v", name, err)
	}
	if o.Coastlines != "" {
		r.overlay, err = loadOverlay(o.Coastlines)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// frame draws one map image to the named file.
func (r *mapRenderer) frame(data *sparse.DenseArray, arrows *arrowField, fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := r.render(data, arrows, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// render draws one map image: the data colored cell by cell, then the
// overlay line work, wind arrows, and a legend strip along the bottom.
func (r *mapRenderer) render(data *sparse.DenseArray, arrows *arrowField, out io.Writer) error {
	n, s, e, w := r.grid.Bounds()
	const legendPx = 50
	mapPx := int(float64(r.width) * (n - s) / (e - w))
	img := draw.Image(image.NewRGBA(image.Rect(0, 0, r.width, mapPx+legendPx)))
	c := vgimg.NewWith(vgimg.UseImage(img))
	dc := vgdraw.New(c)
	height := dc.Max.Y - dc.Min.Y
	legendH := height * vg.Length(legendPx) / vg.Length(mapPx+legendPx)
	mainc := vgdraw.Crop(dc, 0, 0, legendH, 0)
	legendc := vgdraw.Crop(dc, 0, 0, 0, legendH-height)

	m := carto.NewCanvas(n, s, e, w, mainc)
	ny, nx := r.grid.Ny(), r.grid.Nx()
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v := data.Elements[j*nx+i]
			if math.IsNaN(v) {
				continue
			}
			fill := r.color(v)
			ls := vgdraw.LineStyle{Width: 0.1 * vg.Millimeter, Color: fill}
			if err := m.DrawVector(r.grid.cell(j, i), fill, ls, vgdraw.GlyphStyle{}); err != nil {
				return err
			}
		}
	}
	lineStyle := vgdraw.LineStyle{Width: 0.25 * vg.Millimeter, Color: color.Black}
	noFill := color.NRGBA{0, 255, 0, 0}
	for _, o := range r.overlay {
		if err := m.DrawVector(o, noFill, lineStyle, vgdraw.GlyphStyle{}); err != nil {
			return err
		}
	}
	if arrows != nil {
		if err := drawArrows(m, r.grid, arrows); err != nil {
			return err
		}
	}
	if err := r.legend(legendc); err != nil {
		return err
	}

	png := vgimg.PngCanvas{Canvas: c}
	_, err := png.WriteTo(out)
	return err
}

// cell returns the outline of grid cell (j, i), extending half a grid
// spacing from its center.
func (g *Grid) cell(j, i int) geom.Polygon {
	dy := math.Abs(g.dPhi) / degree / 2
	dx := math.Abs(g.dLambda) / degree / 2
	s, n := g.Lat[j]-dy, g.Lat[j]+dy
	w, e := g.Lon[i]-dx, g.Lon[i]+dx
	return geom.Polygon{{
		{X: w, Y: s}, {X: e, Y: s}, {X: e, Y: n}, {X: w, Y: n}, {X: w, Y: s},
	}}
}

// arrowField is the wind on one pressure surface at one time step,
// together with the subsampling and scaling used to draw it.
type arrowField struct {
	u, v   *sparse.DenseArray
	scale  float64 // degrees per m/s
	stride int
}

// arrowFields collects the wind at every time step on level ilev,
// subsampled every stride grid points (stride < 1 selects a stride
// from arrowCount). The drawing scale is shared by all time steps and
// is chosen so that the strongest arrow in the sequence spans about
// one arrow spacing.
func (d *Dataset) arrowFields(ilev, stride int) ([]arrowField, error) {
	for _, n := range []string{"u", "v"} {
		if _, ok := d.Data[n]; !ok {
			return nil, fmt.Errorf("synmap: drawing wind arrows requires variable %s, which is not in the dataset", n)
		}
	}
	out := make([]arrowField, len(d.Times))
	maxSpeed := 0.
	for it := range d.Times {
		u, err := d.Slab("u", it, ilev)
		if err != nil {
			return nil, err
		}
		v, err := d.Slab("v", it, ilev)
		if err != nil {
			return nil, err
		}
		out[it] = arrowField{u: u, v: v}
		for k, uu := range u.Elements {
			s := math.Hypot(uu, v.Elements[k])
			if !math.IsNaN(s) && s > maxSpeed {
				maxSpeed = s
			}
		}
	}
	if stride < 1 {
		stride = d.Grid.Nx() / arrowCount
		if stride < 1 {
			stride = 1
		}
	}
	scale := 0.
	if maxSpeed > 0 {
		scale = float64(stride) * math.Abs(d.Grid.dLambda) / degree / maxSpeed
	}
	for it := range out {
		out[it].scale = scale
		out[it].stride = stride
	}
	return out, nil
}

// drawArrows draws subsampled wind arrows on m.
func drawArrows(m *carto.Canvas, g *Grid, a *arrowField) error {
	style := vgdraw.LineStyle{Width: 0.2 * vg.Millimeter, Color: color.NRGBA{A: 255}}
	noFill := color.NRGBA{}
	nx := g.Nx()
	for j := 0; j < g.Ny(); j += a.stride {
		for i := 0; i < nx; i += a.stride {
			u := a.u.Elements[j*nx+i]
			v := a.v.Elements[j*nx+i]
			if math.IsNaN(u) || math.IsNaN(v) || math.Hypot(u, v) == 0 {
				continue
			}
			x0, y0 := g.Lon[i], g.Lat[j]
			x1, y1 := x0+u*a.scale, y0+v*a.scale
			shaft := geom.LineString{{X: x0, Y: y0}, {X: x1, Y: y1}}
			if err := m.DrawVector(shaft, noFill, style, vgdraw.GlyphStyle{}); err != nil {
				return err
			}
			ang := math.Atan2(y1-y0, x1-x0)
			hl := 0.3 * math.Hypot(x1-x0, y1-y0)
			for _, da := range []float64{150 * degree, -150 * degree} {
				head := geom.LineString{
					{X: x1, Y: y1},
					{X: x1 + hl*math.Cos(ang+da), Y: y1 + hl*math.Sin(ang+da)},
				}
				if err := m.DrawVector(head, noFill, style, vgdraw.GlyphStyle{}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// linearColorScale colors values with a linear-with-cutoff scheme.
// The returned functions give the color for a value and draw a legend.
func linearColorScale(vals []float64, label string) (func(float64) color.NRGBA, func(vgdraw.Canvas) error) {
	cmap := carto.NewColorMap(carto.LinCutoff)
	cmap.AddArray(vals)
	cmap.Set()
	return cmap.GetColor, func(dc vgdraw.Canvas) error {
		return cmap.Legend(&dc, label)
	}
}

// brokenColorScale colors values with a scale that is linear up to the
// cut percentile (default the 99.9th) and compresses everything above
// it. Accumulated precipitation is strongly skewed, and a plain linear
// scale would leave almost the whole map in the lowest colors.
func brokenColorScale(vals []float64, cut float64) (func(float64) color.NRGBA, func(vgdraw.Canvas) error, error) {
	if cut == 0 {
		cut = 0.999
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	min, max := sorted[0], sorted[len(sorted)-1]
	highCut := percentile(sorted, cut)
	if !(min < highCut && highCut < max) {
		// Not enough spread for a broken scale.
		colorFn, legendFn := linearColorScale(vals, "")
		return colorFn, legendFn, nil
	}

	cm2, err := moreland.NewLuminance([]color.Color{
		color.NRGBA{G: 176, A: 255},
		color.NRGBA{G: 255, A: 255},
	})
	if err != nil {
		return nil, nil, err
	}
	cm := &plotextra.BrokenColorMap{
		Base:     moreland.ExtendedBlackBody(),
		OverFlow: palette.Reverse(cm2),
	}
	cm.SetMin(min)
	cm.SetMax(max)
	cm.SetHighCut(highCut)
	colorFn := func(v float64) color.NRGBA {
		if v < min {
			v = min
		} else if v > max {
			v = max
		}
		c, err := cm.At(v)
		if err != nil {
			return color.NRGBA{}
		}
		return color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	legendFn := func(dc vgdraw.Canvas) error {
		p, err := plot.New()
		if err != nil {
			return err
		}
		p.Add(&plotter.ColorBar{ColorMap: cm})
		p.X.Scale = plotextra.BrokenScale{
			HighCut:         highCut,
			HighCutFraction: 0.9,
		}
		p.X.Tick.Marker = plotextra.BrokenTicks{
			HighCut: highCut,
		}
		p.HideY()
		p.X.Padding = 0
		p.Draw(dc)
		return nil
	}
	return colorFn, legendFn, nil
}

// percentile returns percentile p (range [0,1]) of the given sorted
// data.
func percentile(sorted []float64, p float64) float64 {
	i := int(p*float64(len(sorted)) + 0.5)
	if i < 1 {
		i = 1
	} else if i > len(sorted) {
		i = len(sorted)
	}
	return sorted[i-1]
}

// loadOverlay reads map line work from the given shapefile.
func loadOverlay(fileName string) ([]geom.Geom, error) {
	s, err := shp.NewDecoder(fileName)
	if err != nil {
		return nil, fmt.Errorf("synmap: opening overlay shapefile: %v", err)
	}
	defer s.Close()
	var out []geom.Geom
	for {
		g, _, more := s.DecodeRowFields()
		if !more {
			break
		}
		out = append(out, g)
	}
	if s.Error() != nil {
		return nil, fmt.Errorf("synmap: reading overlay shapefile: %v", s.Error())
	}
	return out, nil
}
