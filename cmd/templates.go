package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the vendor extraction templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadTemplates()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tFIELDS\tDESCRIPTION")
		for _, t := range reg.All() {
			fields := make([]string, len(t.Fields))
			for i, f := range t.Fields {
				fields[i] = string(f)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Label, strings.Join(fields, ","), t.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
