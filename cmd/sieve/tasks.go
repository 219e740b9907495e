package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sieve/internal/fieldspec"
	"github.com/jackzampolin/sieve/internal/svcctx"
	"github.com/jackzampolin/sieve/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect task definitions",
}

type taskInfo struct {
	ID          int            `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Path        string         `json:"path" yaml:"path"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	DataPath    string         `json:"data_path,omitempty" yaml:"data_path,omitempty"`
	InputField  string         `json:"input_field,omitempty" yaml:"input_field,omitempty"`
	ExamplePath string         `json:"example_path,omitempty" yaml:"example_path,omitempty"`
	CarryFields []string       `json:"carry_fields,omitempty" yaml:"carry_fields,omitempty"`
	Shape       string         `json:"shape,omitempty" yaml:"shape,omitempty"`
	JSONSchema  map[string]any `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tasks in the task directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := svcctx.ConfigManagerFrom(cmd.Context()).Get()
		paths, err := task.List(cfg.Paths.TaskDir)
		if err != nil {
			return err
		}
		parsers := filepath.Join(cfg.Paths.TaskDir, task.ParsersDir)
		out := make([]taskInfo, 0, len(paths))
		for _, p := range paths {
			t, err := task.Load(p, parsers)
			if err != nil {
				out = append(out, taskInfo{Path: p, Error: err.Error()})
				continue
			}
			out = append(out, taskInfo{ID: t.ID, Name: t.Name, Path: t.Path, Description: t.Description})
		}
		return printer.Print(out)
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and the output shape it asks the model for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		cfg := svcctx.ConfigManagerFrom(cmd.Context()).Get()
		t, err := task.LoadByID(cfg.Paths.TaskDir, id)
		if err != nil {
			return err
		}
		schema, err := fieldspec.Compile(t.Spec)
		if err != nil {
			return err
		}
		return printer.Print(taskInfo{
			ID:          t.ID,
			Name:        t.Name,
			Path:        t.Path,
			Description: t.Description,
			DataPath:    t.DataPath,
			InputField:  t.InputField,
			ExamplePath: t.ExamplePath,
			CarryFields: t.CarryFields,
			Shape:       schema.Describe(),
			JSONSchema:  schema.JSONSchema(),
		})
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}
