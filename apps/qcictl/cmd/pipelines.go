package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qpipelines"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var pipelinesCmd = &cobra.Command{
	Use:     "pipelines",
	Aliases: []string{"pl"},
	Short:   "List and inspect pipeline definitions",
}

var pipelinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines and the events that start them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		pipelines, err := loadPipelines(cmd, cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tON\tSCHEDULE\tTASKS\tDESCRIPTION")
		for _, p := range pipelines {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Name, strings.Join(p.On, ","), p.Schedule, len(p.Tasks), p.Description)
		}
		return w.Flush()
	},
}

var pipelinesShowCmd = &cobra.Command{
	Use:   "show <pipeline>",
	Short: "Print a resolved pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		pipelines, err := loadPipelines(cmd, cfg)
		if err != nil {
			return err
		}
		for _, p := range pipelines {
			if p.Name == args[0] {
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(p)
			}
		}
		return fmt.Errorf("%w: %s", qpipelines.ErrUnknownPipeline, args[0])
	},
}

// loadPipelines reads the local definitions, or the server's with --remote.
func loadPipelines(cmd *cobra.Command, cfg *qsdk.Config) ([]schemas.Pipeline, error) {
	if remote {
		client, err := qsdk.NewClientFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return client.ListPipelines(cmd.Context())
	}

	set, err := qpipelines.Load(cfg.Pipelines...)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.Pipeline, 0, set.Len())
	for _, name := range set.Names() {
		p, _ := set.Get(name)
		out = append(out, schemas.NewPipeline(p, ""))
	}
	return out, nil
}

func init() {
	pipelinesCmd.AddCommand(pipelinesListCmd, pipelinesShowCmd)
	rootCmd.AddCommand(pipelinesCmd)
}
