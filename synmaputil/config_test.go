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

package synmaputil

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/synmap"
)

func TestSetConfig(t *testing.T) {
	config := []byte(`SmoothPasses = 4
Coastlines = "ne_coastlines.shp"
OutputLevel = 700.0
`)
	if err := ioutil.WriteFile("tmp_config_test.toml", config, 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_config_test.toml")
	Cfg.Set("config", "tmp_config_test.toml")
	defer Cfg.Set("config", "")
	if err := Root.PersistentPreRunE(nil, nil); err != nil {
		t.Fatal(err)
	}
	if v := Cfg.GetInt("SmoothPasses"); v != 4 {
		t.Errorf("SmoothPasses is %d; want 4", v)
	}
	if v := Cfg.GetString("Coastlines"); v != "ne_coastlines.shp" {
		t.Errorf("Coastlines is %q; want ne_coastlines.shp", v)
	}
	if v := Cfg.GetFloat64("OutputLevel"); v != 700 {
		t.Errorf("OutputLevel is %g; want 700", v)
	}

	Cfg.Set("config", "tmp_missing_config.toml")
	err := Root.PersistentPreRunE(nil, nil)
	if err == nil {
		t.Fatal("expected an error for a missing configuration file")
	}
	if !strings.Contains(err.Error(), "problem reading configuration file") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestMapStyle(t *testing.T) {
	style := []byte(`Scale = "broken"
CutPercentile = 0.95
ArrowStride = 3
Width = 400
`)
	if err := ioutil.WriteFile("tmp_style_test.toml", style, 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("tmp_style_test.toml")
	o := &synmap.MapOptions{OutDir: "plots", Width: 800, Arrows: true}
	if err := mapStyle(o, "tmp_style_test.toml"); err != nil {
		t.Fatal(err)
	}
	// Settings missing from the style file keep their flag values.
	want := &synmap.MapOptions{
		OutDir:        "plots",
		Arrows:        true,
		ArrowStride:   3,
		Width:         400,
		Scale:         "broken",
		CutPercentile: 0.95,
	}
	diff := pretty.Diff(want, o)
	if len(diff) != 0 {
		t.Fatal(diff)
	}

	if err := mapStyle(o, "tmp_missing_style.toml"); err == nil {
		t.Fatal("expected an error for a missing style file")
	}
}

func TestCheckOutputFile(t *testing.T) {
	if _, err := checkOutputFile(""); err == nil {
		t.Error("expected an error for an empty output file name")
	}
	if _, err := checkOutputFile("gs://bucket/output.shp"); err == nil ||
		!strings.Contains(err.Error(), "can only be written to local files") {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := checkOutputFile("tmp_no_such_dir/output.shp"); err == nil ||
		!strings.Contains(err.Error(), "doesn't exist") {
		t.Errorf("unexpected error %v", err)
	}
	os.Setenv("SYNMAP_TEST_OUTDIR", ".")
	f, err := checkOutputFile("${SYNMAP_TEST_OUTDIR}/output.shp")
	if err != nil {
		t.Fatal(err)
	}
	if f != "./output.shp" {
		t.Errorf("output file is %q; want ./output.shp", f)
	}
}

func TestCheckOutputVars(t *testing.T) {
	if _, err := checkOutputVars(map[string]string{}); err == nil {
		t.Error("expected an error for empty output variables")
	}
	os.Setenv("SYNMAP_TEST_G", "9.80665")
	vars, err := checkOutputVars(map[string]string{
		"height": "z /\n$SYNMAP_TEST_G",
		"speed":  "sqrt(u**2 +\r\nv**2)",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"height": "z / 9.80665",
		"speed":  "sqrt(u**2 + v**2)",
	}
	diff := pretty.Diff(want, vars)
	if len(diff) != 0 {
		t.Fatal(diff)
	}
}

func TestExpandStringSlice(t *testing.T) {
	os.Setenv("SYNMAP_TEST_VAR", "vorticity")
	got := expandStringSlice([]string{"$SYNMAP_TEST_VAR", "wind_speed"})
	want := []string{"vorticity", "wind_speed"}
	diff := pretty.Diff(want, got)
	if len(diff) != 0 {
		t.Fatal(diff)
	}
}

func TestGetStringMapString(t *testing.T) {
	cfg := viper.New()
	cfg.Set("a", map[string]string{"k": "v"})
	cfg.Set("b", map[string]interface{}{"k": "v"})
	cfg.Set("c", `{"k": "v"}`)
	want := map[string]string{"k": "v"}
	for _, name := range []string{"a", "b", "c"} {
		diff := pretty.Diff(want, GetStringMapString(name, cfg))
		if len(diff) != 0 {
			t.Errorf("%s: %v", name, diff)
		}
	}
}
