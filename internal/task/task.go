// Package task loads extraction task definitions and their datasets.
//
// A task file is JSON or YAML named Task<NNN>_<name> inside the task
// directory. It names the dataset, the input column and the output field
// specification, either inline or as a file under <task_dir>/parsers.
package task

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sieve/internal/fieldspec"
)

//go:embed task.schema.json
var taskSchemaJSON []byte

// ParsersDir is the task-directory subfolder holding referenced field specs.
const ParsersDir = "parsers"

var (
	taskSchema   *jsonschema.Schema
	taskFileName = regexp.MustCompile(`^Task(\d{3,})_(.+)\.(json|ya?ml)$`)
)

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("task.schema.json", bytes.NewReader(taskSchemaJSON)); err != nil {
		panic(fmt.Sprintf("load task schema: %v", err))
	}
	taskSchema = compiler.MustCompile("task.schema.json")
}

// Task is a loaded task definition. It is read-only once loaded.
type Task struct {
	ID          int
	Name        string
	Path        string
	Label       string
	Type        string
	Description string
	DataPath    string
	InputField  string
	ExamplePath string
	// CarryFields lists the input columns copied to the output. Empty means
	// every column.
	CarryFields []string
	Spec        *fieldspec.Spec
}

// NotFoundError reports a task ID with no matching file.
type NotFoundError struct {
	ID  int
	Dir string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no task file for id %03d in %s", e.ID, e.Dir)
}

// InvalidError reports a task file that failed validation.
type InvalidError struct {
	Path string
	Err  error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid task file %s: %v", e.Path, e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Find returns the path of the task file with the given ID.
func Find(dir string, id int) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read task dir: %w", err)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := taskFileName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, _ := strconv.Atoi(m[1]); n == id {
			matches = append(matches, e.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{ID: id, Dir: dir}
	case 1:
		return filepath.Join(dir, matches[0]), nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("task id %03d is ambiguous in %s: %s", id, dir, strings.Join(matches, ", "))
	}
}

// List returns every task file in dir, ordered by ID.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && taskFileName.MatchString(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadByID finds and loads the task with the given ID from dir.
func LoadByID(dir string, id int) (*Task, error) {
	path, err := Find(dir, id)
	if err != nil {
		return nil, err
	}
	return Load(path, filepath.Join(dir, ParsersDir))
}

// Load reads and validates a task file. A string Parser_Format is resolved
// against parsersDir, then against the task file's own directory.
func Load(path, parsersDir string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &InvalidError{Path: path, Err: errors.New("empty document")}
	}
	root := doc.Content[0]

	if err := validateDocument(root); err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}

	var raw struct {
		Task        string   `yaml:"Task"`
		Type        string   `yaml:"Type"`
		Description string   `yaml:"Description"`
		DataPath    string   `yaml:"Data_Path"`
		InputField  string   `yaml:"Input_Field"`
		ExamplePath string   `yaml:"Example_Path"`
		CarryFields []string `yaml:"Carry_Fields"`
	}
	if err := root.Decode(&raw); err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}

	t := &Task{
		Path:        path,
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Label:       raw.Task,
		Type:        raw.Type,
		Description: raw.Description,
		DataPath:    raw.DataPath,
		InputField:  raw.InputField,
		ExamplePath: raw.ExamplePath,
		CarryFields: raw.CarryFields,
	}
	if m := taskFileName.FindStringSubmatch(filepath.Base(path)); m != nil {
		t.ID, _ = strconv.Atoi(m[1])
	}

	spec, err := loadParserFormat(mappingValue(root, "Parser_Format"), parsersDir, filepath.Dir(path))
	if err != nil {
		return nil, &InvalidError{Path: path, Err: err}
	}
	t.Spec = spec
	return t, nil
}

// validateDocument checks the task against the embedded JSON Schema. The
// YAML tree is round-tripped through JSON so the validator sees JSON types.
func validateDocument(root *yaml.Node) error {
	var v any
	if err := root.Decode(&v); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("task must be a mapping with string keys: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return taskSchema.Validate(doc)
}

func loadParserFormat(node *yaml.Node, dirs ...string) (*fieldspec.Spec, error) {
	if node == nil {
		return nil, errors.New("Parser_Format is required")
	}
	if node.Kind == yaml.MappingNode {
		return fieldspec.FromYAML(node)
	}

	ref := node.Value
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = candidates[:0]
		for _, d := range dirs {
			candidates = append(candidates, filepath.Join(d, ref))
		}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read Parser_Format %s: %w", p, err)
		}
		return fieldspec.Parse(data)
	}
	return nil, fmt.Errorf("Parser_Format file %q not found (looked in %s)", ref, strings.Join(candidates, ", "))
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
