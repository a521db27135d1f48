// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pgscope/pgscope/cmd/pgscope/cmd/flags"
	"github.com/pgscope/pgscope/internal/connretry"
	"github.com/pgscope/pgscope/internal/connstr"
	"github.com/pgscope/pgscope/pkg/oracle"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <statement>",
		Short: "Discover the locks, schema changes, and table rewrites a statement causes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0])
		},
	}
	return cmd
}

func runInspect(cmd *cobra.Command, statement string) error {
	ctx := cmd.Context()

	output := flags.Output()
	if output != "json" && output != "yaml" && output != "pretty" {
		return errUnknownOutputFormat
	}

	dsn, err := connstr.AppendSearchPathOption(flags.PostgresURL(), flags.Schema())
	if err != nil {
		return fmt.Errorf("building connection string: %w", err)
	}

	sp, _ := pterm.DefaultSpinner.WithText("Connecting to target database...").Start()
	if err := connretry.Ping(ctx, dsn); err != nil {
		sp.Fail(fmt.Sprintf("Could not reach target database: %s", err))
		return err
	}

	sp.UpdateText("Inspecting statement...")
	o := oracle.New(dsn, oracle.WithLogger(spinnerLogger{sp}))

	result, err := o.InspectStatement(ctx, statement)
	if err != nil {
		sp.Fail(fmt.Sprintf("Inspection failed: %s", err))
		return err
	}
	sp.Success("Inspection complete")

	return printInspectedStatement(result, output)
}

func printInspectedStatement(result oracle.InspectedStatement, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result as JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	case "yaml":
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		yamlData, err := yaml.JSONToYAML(data)
		if err != nil {
			return fmt.Errorf("encoding result as YAML: %w", err)
		}
		fmt.Print(string(yamlData))
		return nil
	default:
		printPretty(result)
		return nil
	}
}

func printPretty(result oracle.InspectedStatement) {
	pterm.DefaultSection.Println("Locks")
	if len(result.Locks) == 0 {
		pterm.Println("  (none)")
	}
	for _, l := range result.Locks {
		pterm.Printf("  %s on %s\n", l.Lock, l.Table)
	}

	pterm.DefaultSection.Println("Added objects")
	printObjectList(result.AddedObjects)

	pterm.DefaultSection.Println("Removed objects")
	printObjectList(result.RemovedObjects)

	pterm.DefaultSection.Println("Rewritten tables")
	printObjectList(result.Rewrites)
}

func printObjectList(objects []oracle.DBObject) {
	if len(objects) == 0 {
		pterm.Println("  (none)")
		return
	}
	for _, obj := range objects {
		pterm.Printf("  %v\n", obj)
	}
}

type spinnerLogger struct {
	sp *pterm.SpinnerPrinter
}

func (s spinnerLogger) Debugf(format string, args ...any) {
	s.sp.UpdateText(fmt.Sprintf(format, args...))
}
