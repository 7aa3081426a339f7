package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spartis/scanviewer/internal/models"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <mesh>...",
		Short: "Show vertex, triangle and bounds statistics for meshes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := newMeshLoader(ctx.backendURL())
			stats := make([]models.MeshStats, 0, len(args))
			for _, arg := range args {
				ref, err := meshRef(arg)
				if err != nil {
					return err
				}
				g, err := loader.Load(cmd.Context(), ref, nil)
				if err != nil {
					return fmt.Errorf("load %s: %w", arg, err)
				}
				st := g.Stats()
				st.Name = arg
				stats = append(stats, st)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printStats(w io.Writer, stats []models.MeshStats) error {
	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []string{
			st.Name,
			strconv.Itoa(st.Vertices),
			strconv.Itoa(st.Triangles),
			formatPoint(st.Min),
			formatPoint(st.Max),
			formatPoint([3]float64{st.Max[0] - st.Min[0], st.Max[1] - st.Min[1], st.Max[2] - st.Min[2]}),
		})
	}
	_, err := fmt.Fprintln(w, renderTable(
		[]string{"Mesh", "Vertices", "Triangles", "Min", "Max", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	))
	return err
}

func formatPoint(p [3]float64) string {
	return fmt.Sprintf("%.3g, %.3g, %.3g", p[0], p[1], p[2])
}
