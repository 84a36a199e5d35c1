// -----------------------------------------------------------------------
// YAML catalog loading - Deployment-defined application descriptors
// -----------------------------------------------------------------------

package apps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlApp is the on-disk form of one application descriptor. One app per
// file; the file name is not significant.
type yamlApp struct {
	Name          string       `yaml:"name"`
	Command       string       `yaml:"command"`
	Prelude       []string     `yaml:"prelude"`
	DataInputFlag string       `yaml:"data_input_flag"`
	BatchSupport  bool         `yaml:"batch_support"`
	Options       []yamlOption `yaml:"options"`
}

type yamlOption struct {
	Name          string      `yaml:"name"`
	Kind          string      `yaml:"kind"` // flag, value, enum
	Mandatory     bool        `yaml:"mandatory"`
	Type          string      `yaml:"type"` // int, float, string
	Min           *float64    `yaml:"min"`
	Max           *float64    `yaml:"max"`
	Default       interface{} `yaml:"default"`
	AllowedValues []string    `yaml:"allowed_values"`
	Description   string      `yaml:"description"`
	Category      string      `yaml:"category"`
	Subcategory   string      `yaml:"subcategory"`
	Advanced      bool        `yaml:"advanced"`
}

// LoadCatalogDir reads every .yaml/.yml file under dir and registers the
// described applications. Name collisions with already-registered apps are
// rejected, so a deployment cannot shadow the built-in catalog.
func (r *Registry) LoadCatalogDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read app catalog dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		app, err := loadCatalogFile(path)
		if err != nil {
			return err
		}
		if err := r.Register(app); err != nil {
			return fmt.Errorf("app catalog file %s: %w", path, err)
		}
	}

	return nil
}

func loadCatalogFile(path string) (App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("failed to read app catalog file %s: %w", path, err)
	}

	var ya yamlApp
	if err := yaml.Unmarshal(data, &ya); err != nil {
		return App{}, fmt.Errorf("failed to parse app catalog file %s: %w", path, err)
	}

	app := App{
		Name:          ya.Name,
		Command:       ya.Command,
		Prelude:       ya.Prelude,
		DataInputFlag: ya.DataInputFlag,
		BatchSupport:  ya.BatchSupport,
		Options:       make(map[string]Option, len(ya.Options)),
	}
	if app.DataInputFlag == "" {
		app.DataInputFlag = "inputfile"
	}

	for _, yo := range ya.Options {
		opt, err := yo.toOption()
		if err != nil {
			return App{}, fmt.Errorf("app catalog file %s: %w", path, err)
		}
		app.Options[opt.Name] = opt
	}

	return app, nil
}

func (yo yamlOption) toOption() (Option, error) {
	if yo.Name == "" {
		return Option{}, fmt.Errorf("option with empty name")
	}

	opt := Option{
		Name:        yo.Name,
		Mandatory:   yo.Mandatory,
		Min:         yo.Min,
		Max:         yo.Max,
		Default:     yo.Default,
		Description: yo.Description,
		Category:    yo.Category,
		Subcategory: yo.Subcategory,
		Advanced:    yo.Advanced,
	}

	switch yo.Kind {
	case "flag", "":
		opt.Kind = KindFlag
		opt.Type = ValueNone
		return opt, nil
	case "value":
		opt.Kind = KindValue
	case "enum":
		opt.Kind = KindEnum
		if len(yo.AllowedValues) == 0 {
			return Option{}, fmt.Errorf("enum option %s has no allowed values", yo.Name)
		}
		opt.AllowedValues = yo.AllowedValues
	default:
		return Option{}, fmt.Errorf("option %s has unknown kind %q", yo.Name, yo.Kind)
	}

	switch ValueType(yo.Type) {
	case ValueInt, ValueFloat, ValueString:
		opt.Type = ValueType(yo.Type)
	default:
		return Option{}, fmt.Errorf("option %s has unknown value type %q", yo.Name, yo.Type)
	}

	return opt, nil
}
