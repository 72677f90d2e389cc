package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shotforge/internal/catalog"
	"shotforge/internal/infra"
)

func ModelsCmd(cfg **infra.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the orchestrator accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.Default()
			if path := strings.TrimSpace((*cfg).ModelCatalogPath); path != "" {
				loaded, err := catalog.Load(path)
				if err != nil {
					return err
				}
				cat = loaded
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tKIND\tSHAPE\tQUANTITIES\tRESOLUTIONS\tREFERENCE")
			for _, m := range cat.Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%t\n",
					m.ID, m.Provider, m.Kind, m.Shape, m.Quantities, strings.Join(m.Resolutions, ","), m.SupportsReference)
			}
			return w.Flush()
		},
	}
}
