package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	language "github.com/hanpama/fedgateway/internal/language"
	planner "github.com/hanpama/fedgateway/internal/planner"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [service=file.graphql ...]",
		Short: "Print the query plan of an operation",
		Long: `Plan composes the services like compose does and prints the fetches the
gateway would issue for the given operation: one block per fetch with its
service, entity type, key and dependencies, followed by the operation sent.

Example:
  fedgateway plan --query '{ me { name reviews { body } } }' \
    accounts=accounts.graphql reviews=reviews.graphql`,
		RunE: runPlan,
	}
	cmd.Flags().StringP("query", "q", "", "Operation document")
	cmd.Flags().String("query-file", "", "Read the operation document from file")
	cmd.Flags().String("operation", "", "Operation name, when the document has several")
	cmd.Flags().String("variables", "", "Variables as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("query", "query-file")
	cmd.MarkFlagsOneRequired("query", "query-file")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	if file, _ := cmd.Flags().GetString("query-file"); file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		query = string(b)
	}
	var vars map[string]any
	if raw, _ := cmd.Flags().GetString("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return fmt.Errorf("invalid --variables: %w", err)
		}
	}
	opName, _ := cmd.Flags().GetString("operation")

	sch, err := composeServices(cmd, args)
	if err != nil {
		return err
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return err
	}
	p, err := planner.Plan(doc, opName, vars, sch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), p.String())
	return err
}
