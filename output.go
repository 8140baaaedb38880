/*
Copyright © 2019 the SynMAP authors.
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
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
	"gonum.org/v1/gonum/floats"
)

// Outputter is a holder for output parameters.
//
// fileName contains the path where the output will be saved. If it has
// the extension ".csv" the output is written as comma-separated values,
// otherwise it is written as a polygon shapefile.
//
// level is the pressure level [hPa] that expressions are evaluated on.
// It is ignored when no expression uses a four-dimensional variable.
//
// outputVariables maps the names of the variables for which data
// should be returned to expressions that define how the
// requested data should be calculated. These expressions can utilize
// variables in the dataset, the cell coordinates "latitude" and
// "longitude", user-defined variables, and functions.
//
// datasetVariables is automatically generated based on the dataset
// variables that are required to calculate the requested output
// variables.
//
// Functions are defined in the outputFunctions variable.
type Outputter struct {
	fileName         string
	level            float64
	outputVariables  map[string]string
	datasetVariables []string
	outputFunctions  map[string]govaluate.ExpressionFunction
}

// NewOutputter initializes a new Outputter holder and adds a set of default
// output functions. Expressions are evaluated separately at every grid
// cell, so all functions operate on numbers. Default functions include:
//
// 'sqrt(x)' which takes the square root of x.
//
// 'abs(x)' which takes the absolute value of x.
//
// 'exp(x)' which applies the exponential function e**x.
//
// 'min(x, y, ...)' and 'max(x, y, ...)' which return the smallest and
// largest of their arguments.
//
// 'sum(x, y, ...)' which adds its arguments.
func NewOutputter(fileName string, level float64, outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("synmap: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return (float64)(math.Sqrt(arg[0].(float64))), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("synmap: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return (float64)(math.Abs(arg[0].(float64))), nil
		},
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("synmap: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return (float64)(math.Exp(arg[0].(float64))), nil
		},
		"min": func(args ...interface{}) (interface{}, error) {
			x, err := argFloats("min", args...)
			if err != nil {
				return nil, err
			}
			return floats.Min(x), nil
		},
		"max": func(args ...interface{}) (interface{}, error) {
			x, err := argFloats("max", args...)
			if err != nil {
				return nil, err
			}
			return floats.Max(x), nil
		},
		"sum": func(args ...interface{}) (interface{}, error) {
			x, err := argFloats("sum", args...)
			if err != nil {
				return nil, err
			}
			return floats.Sum(x), nil
		},
	}

	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}

	o := Outputter{
		fileName:        fileName,
		level:           level,
		outputVariables: outputVariables,
		outputFunctions: defaultOutputFuncs,
	}

	err := o.checkForDerivatives()

	return &o, err
}

// argFloats converts the arguments of an expression function to
// numbers.
func argFloats(name string, args ...interface{}) ([]float64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("synmap: function '%s' needs at least 1 argument", name)
	}
	x := make([]float64, len(args))
	for i, a := range args {
		v, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("synmap: argument %d of function '%s' is not a number", i, name)
		}
		x[i] = v
	}
	return x, nil
}

// removeDuplicates removes all duplicated strings from a slice, returning a
// slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}

func checkPrefix(s string) (bool, error) {
	var isPrefix bool
	var err error
	if string(s) != "" {
		isPrefix, err = regexp.MatchString("[a-zA-Z0-9_]", string(s[0]))
		if err != nil {
			return false, err
		}
	} else {
		isPrefix = false
	}
	return isPrefix, nil
}

func checkSuffix(s string) (bool, error) {
	var isSuffix bool
	var err error
	if string(s) != "" {
		isSuffix, err = regexp.MatchString("[a-zA-Z0-9_]", string(s[len(s)-1]))
		if err != nil {
			return false, err
		}
	} else {
		isSuffix = false
	}
	return isSuffix, nil
}

// checkForDerivatives identifies the unique input variables that are required
// to calculate the requested output variables. Any user-defined output
// variable showing up in a subsequent expression is replaced by its
// corresponding user-defined expression, so output variables can be
// defined in terms of each other.
func (o *Outputter) checkForDerivatives() error {
	o.datasetVariables = make([]string, 0, len(o.outputVariables))
	for key, val := range o.outputVariables {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(val, o.outputFunctions)
		if err != nil {
			return fmt.Errorf("synmap o.outputVariables: %v", err)
		}
		uniqueVars := removeDuplicates(expression.Vars())
		o.datasetVariables = append(o.datasetVariables, uniqueVars...)
		// For each variable name identified in an output variable expression,
		// check if the variable is defined in terms of other variables within a
		// separate expression. If so, any instance of the variable name in the
		// current expression will be replaced by the expression that defines it.
		var isSuffix bool
		var isPrefix bool
		for _, uniqueVar := range uniqueVars {
			if o.outputVariables[uniqueVar] != "" && o.outputVariables[uniqueVar] != uniqueVar {
				// In order to verify that an instance of a variable name is not part of
				// a longer variable name, the text preceding and following the variable
				// name is analyzed. For example, 'msl' is not a standalone variable
				// in an expression if it appears as 'msl_anom'.
				splitVal := strings.Split(val, uniqueVar)
				for i := 0; i < len(splitVal)-1; i++ {
					isSuffix, err = checkSuffix(splitVal[i])
					if err != nil {
						return fmt.Errorf("synmap o.outputVariables: %v", err)
					}
					isPrefix, err = checkPrefix(splitVal[i+1])
					if err != nil {
						return fmt.Errorf("synmap o.outputVariables: %v", err)
					}
					splitVal[i] = splitVal[i] + uniqueVar
					// For every instance of the variable name that is not part of a
					// longer variable name, replace it by the expression that defines it.
					if !isSuffix && !isPrefix {
						splitVal[i] = strings.Replace(splitVal[i], uniqueVar, "("+o.outputVariables[uniqueVar]+")", -1)
					}
				}
				o.outputVariables[key] = strings.Join(splitVal, "")
				return o.checkForDerivatives()
			}
		}
	}
	o.datasetVariables = removeDuplicates(o.datasetVariables)
	return nil
}

// checkDatasetVars checks whether the unique input variables required to
// calculate the user-requested output variables are available in the
// dataset.
func (d *Dataset) checkDatasetVars(g ...string) error {
	available := make(map[string]uint8)
	for _, n := range d.VarNames() {
		available[n] = 0
	}
	available["latitude"] = 0
	available["longitude"] = 0
	for _, v := range g {
		if _, ok := available[v]; !ok {
			return fmt.Errorf("synmap: undefined variable name '%s'", v)
		}
	}
	return nil
}

// checkOutputNames checks (1) if any output variable names exceed 10 characters
// and (2) if any output variable names include characters that are unsupported
// in shapefile field names.
func checkOutputNames(o map[string]string) error {
	for key := range o {
		long := len(key) > 10
		noCharError, err := regexp.MatchString("^[A-Za-z]\\w*$", key)
		if err != nil {
			panic(err)
		}
		if long && !noCharError {
			return fmt.Errorf("synmap: output variable name '%s' exceeds 10 characters and includes unsupported character(s)", key)
		} else if long {
			return fmt.Errorf("synmap: output variable name '%s' exceeds 10 characters", key)
		} else if !noCharError {
			return fmt.Errorf("synmap: output variable name '%s' includes unsupported characters", key)
		}
	}
	return nil
}

// CheckOutputVars ensures the output variables can be calculated from d.
func (o *Outputter) CheckOutputVars(d *Dataset) error {
	if err := d.checkDatasetVars(o.datasetVariables...); err != nil {
		return err
	}
	return checkOutputNames(o.outputVariables)
}

// Results evaluates the output expressions at every grid cell for time
// step it, returning a map from output variable names to row-major
// gridded results.
func (o *Outputter) Results(d *Dataset, it int) (map[string][]float64, error) {
	if err := o.CheckOutputVars(d); err != nil {
		return nil, err
	}
	if it < 0 || it >= len(d.Times) {
		return nil, fmt.Errorf("synmap: time step %d is outside of the dataset (%d time steps)", it, len(d.Times))
	}

	// Gather the input variable slabs. Slab ignores the level index for
	// surface variables, and the level only matters when a
	// four-dimensional variable is actually used.
	slabs := make(map[string]*sparse.DenseArray)
	ilev := 0
	for _, name := range o.datasetVariables {
		if name == "latitude" || name == "longitude" {
			continue
		}
		if len(d.Data[name].Dims) == 4 {
			var err error
			ilev, err = d.LevelIndex(o.level)
			if err != nil {
				return nil, err
			}
			break
		}
	}
	for _, name := range o.datasetVariables {
		if name == "latitude" || name == "longitude" {
			continue
		}
		slab, err := d.Slab(name, it, ilev)
		if err != nil {
			return nil, err
		}
		slabs[name] = slab
	}

	ny, nx := d.Grid.Ny(), d.Grid.Nx()
	results := make(map[string][]float64)
	for key, val := range o.outputVariables {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(val, o.outputFunctions)
		if err != nil {
			return nil, fmt.Errorf("synmap o.outputVariables: %v", err)
		}
		vars := removeDuplicates(expression.Vars())
		out := make([]float64, ny*nx)
		params := make(map[string]interface{})
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				for _, v := range vars {
					switch v {
					case "latitude":
						params[v] = d.Grid.Lat[j]
					case "longitude":
						params[v] = d.Grid.Lon[i]
					default:
						params[v] = slabs[v].Elements[j*nx+i]
					}
				}
				r, err := expression.Evaluate(params)
				if err != nil {
					return nil, fmt.Errorf("synmap: evaluating '%s': %v", val, err)
				}
				rf, ok := r.(float64)
				if !ok {
					return nil, fmt.Errorf("synmap: expression '%s' does not evaluate to a number", val)
				}
				out[j*nx+i] = rf
			}
		}
		results[key] = out
	}
	return results, nil
}

// Output evaluates the output expressions at time step it and writes
// the results to the receiver's file.
func (o *Outputter) Output(d *Dataset, it int) error {
	results, err := o.Results(d, it)
	if err != nil {
		return err
	}
	if filepath.Ext(o.fileName) == ".csv" {
		return o.writeCSV(d, results)
	}
	return o.writeShapefile(d, results)
}

func (o *Outputter) writeShapefile(d *Dataset, results map[string][]float64) error {
	vars := make([]string, 0, len(results))
	for v := range results {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	fields := make([]goshp.Field, len(vars))
	for i, v := range vars {
		fields[i] = goshp.FloatField(v, 14, 8)
	}

	// remove extension and replace it with .shp
	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	fileName := fileBase + ".shp"
	shape, err := shp.NewEncoderFromFields(fileName, goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("error creating output shapefile: %v", err)
	}
	nx := d.Grid.Nx()
	for j := 0; j < d.Grid.Ny(); j++ {
		for i := 0; i < nx; i++ {
			outFields := make([]interface{}, len(vars))
			for k, v := range vars {
				outFields[k] = results[v][j*nx+i]
			}
			err = shape.EncodeFields(d.Grid.cell(j, i), outFields...)
			if err != nil {
				return fmt.Errorf("error writing output shapefile: %v", err)
			}
		}
	}
	shape.Close()

	// Create .prj file
	f, err := os.Create(fileBase + ".prj")
	if err != nil {
		return fmt.Errorf("error creating output prj file: %v", err)
	}
	fmt.Fprint(f, wgs84)
	f.Close()

	return nil
}

// DeleteShapefile deletes the given shapefile and its associated files
// (.dbf, .prj, and .shx files).
func DeleteShapefile(fileName string) error {
	fileBase := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	for _, ext := range []string{".shp", ".prj", ".dbf", ".shx"} {
		if err := os.Remove(fileBase + ext); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (o *Outputter) writeCSV(d *Dataset, results map[string][]float64) error {
	vars := make([]string, 0, len(results))
	for v := range results {
		vars = append(vars, v)
	}
	sort.Strings(vars)

	f, err := os.Create(o.fileName)
	if err != nil {
		return fmt.Errorf("error creating output csv file: %v", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"latitude", "longitude"}, vars...)); err != nil {
		return fmt.Errorf("error writing output csv file: %v", err)
	}
	nx := d.Grid.Nx()
	rec := make([]string, len(vars)+2)
	for j, lat := range d.Grid.Lat {
		for i, lon := range d.Grid.Lon {
			rec[0] = strconv.FormatFloat(lat, 'g', -1, 64)
			rec[1] = strconv.FormatFloat(lon, 'g', -1, 64)
			for k, v := range vars {
				rec[k+2] = strconv.FormatFloat(results[v][j*nx+i], 'g', -1, 64)
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("error writing output csv file: %v", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}
