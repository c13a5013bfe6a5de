// Package prepress holds the process wide CLI flags shared by every command.
package prepress

import (
	"github.com/flanksource/commons/logger"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/flanksource/prepress/report"
)

type AllFlags struct {
	logger.Flags `yaml:"logger"`
	Report       report.Options `yaml:"report"`
	ConfigFile   string         `yaml:"configFile,omitempty"`
}

var Flags = AllFlags{
	Flags: logger.Flags{
		Level:       "info",
		LogToStderr: true,
	},
	Report: report.Options{Format: report.FormatPretty},
}

// BindAllFlags registers logging, output and config file flags.
func BindAllFlags(flags *pflag.FlagSet) *AllFlags {
	flags.CountVarP(&Flags.Flags.LevelCount, "loglevel", "v", "Increase logging level")
	flags.StringVar(&Flags.Flags.Level, "log-level", "info", "Set the default log level")
	flags.BoolVar(&Flags.Flags.JsonLogs, "json-logs", false, "Print logs in json format to stderr")
	flags.BoolVar(&Flags.Flags.ReportCaller, "report-caller", false, "Report log caller info")
	flags.BoolVar(&Flags.Flags.LogToStderr, "log-to-stderr", true, "Log to stderr instead of stdout")
	flags.StringVarP(&Flags.ConfigFile, "config", "c", "", "Path to a prepress.yaml config file")
	Flags.Report.BindFlags(flags)
	return &Flags
}

func (a AllFlags) String() string {
	data, _ := yaml.Marshal(a)
	return string(data)
}

// UseFlags applies the logging flags.
func (a AllFlags) UseFlags() {
	logger.Configure(a.Flags)
	logger.Debugf("using flags: %s", a)
}
