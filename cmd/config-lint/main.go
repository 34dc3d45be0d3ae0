// Command config-lint checks the transformation table, resource routes and
// feature table before they are deployed.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/synaptica-ai/mocab/pkg/common/config"
	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/feature"
	"github.com/synaptica-ai/mocab/pkg/route"
	"github.com/synaptica-ai/mocab/pkg/terminology"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	cfg := config.Load()
	fs := flag.NewFlagSet("config-lint", flag.ContinueOnError)
	fs.SetOutput(out)
	transformations := fs.String("transformations", cfg.TransformationTable, "transformation table (.csv, .yaml)")
	routes := fs.String("routes", cfg.ResourceRouteTable, "resource route table")
	features := fs.String("features", cfg.FeatureTable, "feature table; empty skips assembly checks")
	systems := fs.String("terminology", cfg.TerminologyCatalog, "code system alias catalog (.yaml); empty uses the built-in aliases")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	failed := false
	report := func(path string, err error, format string, a ...interface{}) {
		if err != nil {
			failed = true
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			return
		}
		fmt.Fprintf(out, "ok   %s: %s\n", path, fmt.Sprintf(format, a...))
	}

	catalog, err := transform.LoadFile(*transformations)
	if err != nil {
		report(*transformations, err, "")
	} else {
		report(*transformations, nil, "%d models", len(catalog.Models()))
	}

	rules, err := route.LoadRuleTable(*routes)
	if err != nil {
		report(*routes, err, "")
	} else {
		report(*routes, nil, "%d routes", rules.Len())
	}

	cat, err := terminology.Load(*systems)
	if err != nil {
		report(*systems, err, "")
	} else if *systems != "" {
		report(*systems, nil, "%d code systems", len(cat.Systems))
	}

	if *features != "" && rules != nil && err == nil {
		table, err := feature.LoadTable(*features, feature.WithTerminology(cat))
		if err == nil {
			err = table.Validate(rules)
		}
		if err != nil {
			report(*features, err, "")
		} else {
			report(*features, nil, "%d models", len(table.Models()))
			if catalog != nil {
				for _, warning := range crossCheck(catalog, table) {
					fmt.Fprintf(out, "warn %s: %s\n", *features, warning)
				}
			}
		}
	}

	if failed {
		logger.Log.Warn("Configuration check failed")
		return 1
	}
	return 0
}

// crossCheck lists feature table entries the transformation table ignores.
func crossCheck(catalog *transform.Catalog, features *feature.Table) []string {
	var warnings []string
	for _, model := range features.Models() {
		table, err := catalog.Get(model)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("model %q has no transformation rows", model))
			continue
		}
		inputs := make(map[string]bool)
		for _, name := range table.Inputs() {
			inputs[name] = true
		}
		list, _ := features.Features(model)
		for _, f := range list {
			if !inputs[f.Name] {
				warnings = append(warnings, fmt.Sprintf("model %q feature %q is not a transformation input", model, f.Name))
			}
		}
	}
	return warnings
}
