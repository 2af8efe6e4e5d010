package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reportq/internal/config"
	"reportq/internal/templates"
)

func templatesCmd() *cobra.Command {
	var dir string

	var command = &cobra.Command{
		Use:   "templates",
		Short: "List the report types that can be generated",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := config.Parse()
				if err != nil {
					return err
				}
				dir = cfg.Templates.Dir
			}
			cat, err := templates.New(dir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSECTIONS\tCHARTS\tTABLES")
			for _, t := range cat.List() {
				ids := make([]string, len(t.Sections))
				for i, s := range t.Sections {
					ids[i] = s.ID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", t.ID, t.Name, strings.Join(ids, ","), len(t.Charts), len(t.Tables))
			}
			return w.Flush()
		},
	}

	command.Flags().StringVar(&dir, "dir", "", "Extra template directory (default from Templates_Dir)")
	return command
}
