package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	catalogfile "goa.design/checkin/features/catalog/file"
	"goa.design/checkin/runtime/checkin/rule"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate rule catalogs",
	}

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rule catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalogfile.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d enabled\n", args[0], len(cat), len(cat.Enabled()))
			return nil
		},
	}

	var file string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the rules of a catalog file, or the built-in catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(file)
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), cat)
		},
	}
	list.Flags().StringVarP(&file, "file", "f", "", "Catalog file (defaults to the built-in catalog)")

	export := &cobra.Command{
		Use:   "export",
		Short: "Print the built-in catalog as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := catalogfile.MarshalYAML(rule.DefaultCatalog())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(validate, list, export)
	return cmd
}

func loadCatalog(path string) (rule.Catalog, error) {
	if path == "" {
		return rule.DefaultCatalog(), nil
	}
	return catalogfile.Load(path)
}

func writeCatalog(w io.Writer, cat rule.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tENABLED\tWINDOW\tCONDITIONS")
	for _, r := range cat {
		window := "-"
		if r.Window != nil {
			window = fmt.Sprintf("%02d-%02d", r.Window.StartHour, r.Window.EndHour)
		}
		conds := make([]string, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, c.String())
		}
		if len(conds) == 0 {
			conds = append(conds, "-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.ID, r.Type, r.Priority, r.Enabled, window, strings.Join(conds, "; "))
	}
	return tw.Flush()
}
