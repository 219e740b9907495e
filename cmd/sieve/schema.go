package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sieve/internal/fieldspec"
)

type schemaInfo struct {
	Fields     []string       `json:"fields" yaml:"fields"`
	Shape      string         `json:"shape" yaml:"shape"`
	JSONSchema map[string]any `json:"json_schema" yaml:"json_schema"`
}

var schemaCmd = &cobra.Command{
	Use:   "schema <file>",
	Short: "Compile a field specification and print what the model is asked for",
	Long: `Compile a JSON or YAML field specification, such as a file under
<task_dir>/parsers, and print its text rendering and the JSON Schema used
to constrain generation. Compilation errors name the offending field path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		spec, err := fieldspec.Parse(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		schema, err := fieldspec.Compile(spec)
		if err != nil {
			return err
		}
		return printer.Print(schemaInfo{
			Fields:     schema.FieldNames(),
			Shape:      schema.Describe(),
			JSONSchema: schema.JSONSchema(),
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
