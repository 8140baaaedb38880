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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/synmap"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

// Log is the logger used by the command-line interface.
var Log logrus.FieldLogger = logrus.StandardLogger()

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to SynMAP.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose turns on debug-level logging, including a message
              for every time step read and every file written.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputFile",
			usage: `
              InputFile is the reanalysis file to read. It may either be a
              raw reanalysis file or a dataset saved by the derive command,
              and it may be a local path, an http(s) address, or a blob
              storage location in the format 'provider://bucket/file' where
              provider is one of 'file', 'gs', or 's3'. Remote files are
              downloaded to a temporary directory before use.`,
			defaultVal: "era5.nc",
			flagsets: []*pflag.FlagSet{deriveCmd.Flags(), mapsCmd.Flags(), seriesCmd.Flags(),
				trackCmd.Flags(), outputCmd.Flags(), describeCmd.Flags()},
		},
		{
			name: "DatasetFile",
			usage: `
              DatasetFile is the location where the derive command saves the
              input data together with the computed diagnostic fields.`,
			defaultVal: "synmap_data.nc",
			flagsets:   []*pflag.FlagSet{deriveCmd.Flags()},
		},
		{
			name: "Diagnostics",
			usage: `
              Diagnostics is the list of diagnostic fields to compute. The
              default is to compute all of them.`,
			defaultVal: synmap.DeriveNames(),
			flagsets:   []*pflag.FlagSet{deriveCmd.Flags()},
		},
		{
			name: "SmoothPasses",
			usage: `
              SmoothPasses is the number of smoothing passes to apply to the
              computed diagnostic fields.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{deriveCmd.Flags()},
		},
		{
			name: "MapVariable",
			usage: `
              MapVariable is the name of the variable to map.`,
			defaultVal: "z",
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "MapLevel",
			usage: `
              MapLevel is the pressure level [hPa] to map. It is ignored for
              variables that do not have a vertical dimension.`,
			defaultVal: 500.0,
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "MapWidth",
			usage: `
              MapWidth is the width of each map image in pixels.`,
			defaultVal: 800,
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "Arrows",
			usage: `
              Arrows specifies whether to draw wind arrows on the maps.
              It requires the input to contain the u and v variables.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "Coastlines",
			usage: `
              Coastlines is the location of a line shapefile to draw on top
              of the maps. Like InputFile, it may be local or remote.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "MapStyle",
			usage: `
              MapStyle is the location of a TOML file with map style
              settings: Scale ('linear' or 'broken'), CutPercentile,
              ArrowStride, or any of the other map options. Settings in the
              style file take precedence over the corresponding command-line
              flags.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags()},
		},
		{
			name: "OutDir",
			usage: `
              OutDir is the directory the image files are written to. It is
              created if it doesn't exist.`,
			defaultVal: "plots",
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags(), seriesCmd.Flags()},
		},
		{
			name: "show",
			usage: `
              show opens the first image that was written in the system
              image viewer after drawing finishes.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{mapsCmd.Flags(), seriesCmd.Flags()},
		},
		{
			name: "Series",
			usage: `
              Series is the list of storm time series to plot. The default
              is to plot all of them.`,
			defaultVal: synmap.SeriesNames(),
			flagsets:   []*pflag.FlagSet{seriesCmd.Flags()},
		},
		{
			name: "SeriesFile",
			usage: `
              SeriesFile is the location of a .xlsx spreadsheet to save the
              series values to, in addition to the plots. If it is empty,
              the values are not saved.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{seriesCmd.Flags()},
		},
		{
			name: "TrackFile",
			usage: `
              TrackFile is the location where the storm track is saved. The
              file extension chooses the format: .csv, .shp, or .xlsx.`,
			defaultVal: "track.csv",
			flagsets:   []*pflag.FlagSet{trackCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the location where the output expression results
              are saved, in shapefile format, or in .csv format if the file
              name ends in .csv.`,
			defaultVal: "synmap_output.shp",
			flagsets:   []*pflag.FlagSet{outputCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies which variables should be output,
              as a map from output names to expressions. Expressions may use
              the variables in the dataset plus 'latitude' and 'longitude',
              and can utilize the functions sqrt, abs, exp, min, max, and
              sum. For example:
              OutputVariables = {"speed" = "sqrt(u**2 + v**2)"}.`,
			defaultVal: map[string]string{"speed": "sqrt(u**2 + v**2)"},
			flagsets:   []*pflag.FlagSet{outputCmd.Flags()},
		},
		{
			name: "OutputLevel",
			usage: `
              OutputLevel is the pressure level [hPa] the expressions are
              evaluated at. It is ignored if no expression uses a variable
              with a vertical dimension.`,
			defaultVal: 850.0,
			flagsets:   []*pflag.FlagSet{outputCmd.Flags()},
		},
		{
			name: "OutputTime",
			usage: `
              OutputTime is the index of the time step the expressions are
              evaluated at.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{outputCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("SYNMAP")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(describeCmd)
	Root.AddCommand(deriveCmd)
	Root.AddCommand(mapsCmd)
	Root.AddCommand(seriesCmd)
	Root.AddCommand(trackCmd)
	Root.AddCommand(outputCmd)
}

// outChan returns a channel that writes its messages to the debug log.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			Log.Debug(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("synmap: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "synmap",
	Short: "A synoptic map and diagnostics tool for cyclone case studies.",
	Long: `SynMAP draws synoptic weather maps and storm diagnostics from gridded
reanalysis data for a cyclone case study.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'SYNMAP_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		if Cfg.GetBool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of SynMAP.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("SynMAP v%s\n", synmap.Version)
	},
	DisableAutoGenTag: true,
}

// describeCmd is a command that summarizes the contents of the input file.
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Summarize the input data",
	Long: `describe prints the dimensions and coordinate ranges of the input
file, followed by the units and summary statistics of every variable
it contains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		return Describe(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			cmd.OutOrStdout(),
			outChan)
	},
	DisableAutoGenTag: true,
}

// deriveCmd is a command that computes diagnostic fields and saves them.
var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Compute diagnostic fields",
	Long: `derive loads the reanalysis data, computes the requested diagnostic
fields from it, and saves the data and the results together in a dataset
file. The other subcommands accept either kind of file as their input, so
deriving once up front avoids recomputing the diagnostics on every run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		datasetFile, err := checkOutputFile(Cfg.GetString("DatasetFile"))
		if err != nil {
			return err
		}
		return Derive(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			datasetFile,
			expandStringSlice(Cfg.GetStringSlice("Diagnostics")),
			Cfg.GetInt("SmoothPasses"),
			outChan)
	},
	DisableAutoGenTag: true,
}

// mapsCmd is a command that draws a map image sequence.
var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "Draw a map sequence",
	Long: `maps draws one map image for every time step of the chosen variable
and saves the images to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		o := &synmap.MapOptions{
			OutDir: os.ExpandEnv(Cfg.GetString("OutDir")),
			Width:  Cfg.GetInt("MapWidth"),
			Arrows: Cfg.GetBool("Arrows"),
		}
		if c := os.ExpandEnv(Cfg.GetString("Coastlines")); c != "" {
			o.Coastlines = maybeDownload(context.TODO(), c, outChan)
		}
		if s := Cfg.GetString("MapStyle"); s != "" {
			if err := mapStyle(o, s); err != nil {
				return err
			}
		}
		return Maps(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			Cfg.GetString("MapVariable"),
			Cfg.GetFloat64("MapLevel"),
			o,
			Cfg.GetBool("show"),
			outChan)
	},
	DisableAutoGenTag: true,
}

// seriesCmd is a command that plots storm time series.
var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Plot storm time series",
	Long: `series finds the storm track, extracts the requested time series
along it, and draws one plot per series plus a plot of all of them
together. The track is found from mean sea level pressure, so the input
needs to contain the msl variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		var seriesFile string
		if f := Cfg.GetString("SeriesFile"); f != "" {
			var err error
			seriesFile, err = checkOutputFile(f)
			if err != nil {
				return err
			}
		}
		return Series(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			expandStringSlice(Cfg.GetStringSlice("Series")),
			os.ExpandEnv(Cfg.GetString("OutDir")),
			seriesFile,
			Cfg.GetBool("show"),
			outChan)
	},
	DisableAutoGenTag: true,
}

// trackCmd is a command that finds and saves the storm track.
var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Find the storm track",
	Long: `track finds the storm center at every time step by following the
minimum in mean sea level pressure, and saves the track to a file in
.csv, .shp, or .xlsx format depending on the file extension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		trackFile, err := checkOutputFile(Cfg.GetString("TrackFile"))
		if err != nil {
			return err
		}
		return Track(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			trackFile,
			outChan)
	},
	DisableAutoGenTag: true,
}

// outputCmd is a command that evaluates output expressions and saves the
// results.
var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "Write expression results to a shapefile",
	Long: `output evaluates the OutputVariables expressions at every grid cell
for the chosen pressure level and time step and writes the results to a
shapefile, or to a .csv file if the output file name ends in .csv.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		return Output(
			maybeDownload(context.TODO(), os.ExpandEnv(Cfg.GetString("InputFile")), outChan),
			outputFile,
			Cfg.GetFloat64("OutputLevel"),
			Cfg.GetInt("OutputTime"),
			GetStringMapString("OutputVariables", Cfg),
			outChan)
	},
	DisableAutoGenTag: true,
}
