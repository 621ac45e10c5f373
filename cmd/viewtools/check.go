package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"viewtools/internal/model"
	"viewtools/internal/tools"
)

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config: ok (%s)\n", configPath)

	registry, err := typeRegistry()
	if err != nil {
		return err
	}
	toolbox, err := loadToolbox(cfg, registry, nil)
	if err != nil {
		return err
	}
	printToolbox(out, toolbox)

	def, err := modelDefinition(cfg)
	if err != nil {
		return err
	}
	if def == nil {
		fmt.Fprintln(out, "model: not configured")
		return nil
	}
	db, err := model.Open(cmd.Context(), def)
	if err != nil {
		return err
	}
	defer db.Close()
	printModel(out, db, def)
	return nil
}

func printToolbox(out io.Writer, def *tools.Definition) {
	fmt.Fprintf(out, "toolbox: %d entries\n", len(def.Descriptors))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, d := range def.Descriptors {
		typeName := d.TypeName
		if typeName == "" {
			typeName = fmt.Sprintf("%v", d.Value)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", d.Key, d.Kind(), d.Scope, typeName)
	}
	tw.Flush()
}

func printModel(out io.Writer, db *model.Database, def *model.Definition) {
	fmt.Fprintf(out, "model: %s, %d entities\n", model.DriverName(def.Driver), len(def.Entities))
	for _, ed := range def.Entities {
		e, err := db.Entity(ed.Name)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "  %s (%s) keys=[%s] fields=[%s]\n",
			e.Name(), e.Table(), strings.Join(e.Keys(), ","), strings.Join(e.Fields(), ","))
		for _, name := range e.AttributeNames() {
			a, _ := e.Attribute(name)
			fmt.Fprintf(out, "    %s.%s: %s\n", e.Name(), name, a.Kind())
		}
	}
	for _, ad := range def.Attributes {
		if a, err := db.Attribute(ad.Name); err == nil {
			fmt.Fprintf(out, "  %s: %s\n", a.Name(), a.Kind())
		}
	}
}
