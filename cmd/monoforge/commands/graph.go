package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var (
		dotFile string
		project string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the dependency graph",
		Long: `Build the dependency graph and print it: each project with its internal
dependencies, in topological order. Cycles are reported with the full
cycle path.`,
		Example: `  # Print the graph
  monoforge graph

  # Write a Graphviz rendering
  monoforge graph --dot graph.dot

  # Print the transitive internal closure of one project
  monoforge graph --project app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace()
			if err != nil {
				return err
			}
			graph, err := buildGraph(ws)
			if err != nil {
				return err
			}

			if project != "" {
				closure, err := graph.TransitiveClosure(project)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(closure)
				}
				for _, name := range closure {
					fmt.Println(name)
				}
				return nil
			}

			if dotFile != "" {
				dot := graph.ToDOT()
				if dotFile == "-" {
					fmt.Print(dot)
					return nil
				}
				return os.WriteFile(dotFile, []byte(dot), 0o644)
			}

			if jsonOutput {
				type node struct {
					Name     string   `json:"name"`
					Internal []string `json:"internal"`
				}
				nodes := make([]node, 0, len(graph.Order))
				for _, name := range graph.Order {
					nodes = append(nodes, node{Name: name, Internal: graph.Internal[name]})
				}
				return printJSON(nodes)
			}

			for _, name := range graph.Order {
				fmt.Println(name)
				for _, dep := range graph.Internal[name] {
					fmt.Printf("  -> %s\n", dep)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the graph in DOT format to a file ('-' for stdout)")
	cmd.Flags().StringVar(&project, "project", "", "print the transitive internal closure of one project")

	return cmd
}
