package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/cloudprof/internal/config"
)

// labelFlag collects repeated --label key=value flags.
type labelFlag map[string]string

var _ pflag.Value = (*labelFlag)(nil)

func (l *labelFlag) String() string {
	if l == nil || len(*l) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(*l))
	for _, k := range slices.Sorted(maps.Keys(*l)) {
		pairs = append(pairs, k+"="+(*l)[k])
	}
	return strings.Join(pairs, ",")
}

func (l *labelFlag) Set(value string) error {
	parsed, err := config.ParseLabels(strings.Split(value, ","))
	if err != nil {
		return err
	}
	if *l == nil {
		*l = labelFlag{}
	}
	maps.Copy(*l, parsed)
	return nil
}

func (l *labelFlag) Type() string {
	return "key=value"
}

// demoOptions are the demo command flags that override the configuration.
type demoOptions struct {
	configFile   string
	service      string
	project      string
	samplingRate int
	labels       labelFlag
	skipCheck    bool
	logLevel     string
	pretty       bool
	workers      int
}

func (o *demoOptions) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", fmt.Sprintf("Path to agent configuration file (default: $%s)", config.EnvConfigFile))
	fs.StringVar(&o.service, "service", "", "Service name reported to Cloud Profiler")
	fs.StringVar(&o.project, "project", "", "Project ID (default: from the metadata server)")
	fs.IntVar(&o.samplingRate, "sampling-rate", 0, "CPU sampling frequency in Hz")
	fs.Var(&o.labels, "label", "Deployment label, repeatable (key=value)")
	fs.BoolVar(&o.skipCheck, "skip-platform-check", false, "Run outside GCE")
	fs.StringVar(&o.logLevel, "log-level", "", "Logging level (debug, info, warn, error)")
	fs.BoolVar(&o.pretty, "pretty", false, "Human-readable log output")
	fs.IntVar(&o.workers, "burn-workers", 2, "Goroutines running the synthetic CPU workload")
}

// apply overrides cfg with the flags that were set explicitly.
func (o *demoOptions) apply(fs *pflag.FlagSet, cfg *config.AgentConfig) {
	if fs.Changed("service") {
		cfg.Service = o.service
	}
	if fs.Changed("project") {
		cfg.ProjectID = o.project
	}
	if fs.Changed("sampling-rate") {
		cfg.SamplingRate = o.samplingRate
	}
	if fs.Changed("label") {
		if cfg.Labels == nil {
			cfg.Labels = map[string]string{}
		}
		maps.Copy(cfg.Labels, o.labels)
	}
	if fs.Changed("skip-platform-check") {
		cfg.SkipPlatformCheck = o.skipCheck
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed("pretty") {
		cfg.Logging.Pretty = o.pretty
	}
}
