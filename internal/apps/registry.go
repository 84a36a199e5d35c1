// -----------------------------------------------------------------------
// Registry - Application descriptor registry
// -----------------------------------------------------------------------

package apps

import (
	"fmt"
	"sort"
)

// TransformFunc rewrites an option value before it is emitted as an argument.
// Returning an empty string fails validation for the whole submission.
type TransformFunc func(value string) string

// App is the value object describing one runnable application: its command,
// fixed prelude arguments, option descriptors, per-option transformers and
// the builder for the data-input argument.
type App struct {
	Name          string
	Command       string
	Prelude       []string
	Options       map[string]Option
	Transformers  map[string]TransformFunc
	DataInputFlag string // e.g. "inputfile", "image"
	BatchSupport  bool
}

// DataInputArg renders the data-input argument for a resolved file path.
func (a App) DataInputArg(path string) string {
	return "--" + a.DataInputFlag + "=" + path
}

// CatalogConfig carries the deployment knobs the built-in catalog needs.
type CatalogConfig struct {
	UseSlurm        bool   // caesar submits through the batch system instead of a plain run
	SlurmQueue      string // queue name injected into the caesar prelude when UseSlurm
	MaskRCNNWeights string // weights file baked into the mrcnn prelude
	MaxNProc        int    // runtime hint ceiling, non-positive means 1
	MaxNThreads     int    // runtime hint ceiling, non-positive means 1
}

// Registry holds the application catalog. All reads are lock-free: the
// registry is fully populated at startup and immutable afterwards.
type Registry struct {
	cfg  CatalogConfig
	apps map[string]App
}

// NewRegistry builds a registry populated with the built-in catalog.
func NewRegistry(cfg CatalogConfig) *Registry {
	r := &Registry{
		cfg:  cfg,
		apps: make(map[string]App),
	}

	r.mustRegister(caesarApp(cfg))
	r.mustRegister(cutexApp())
	r.mustRegister(aegeanApp())
	r.mustRegister(classifierApp())
	r.mustRegister(maskRCNNApp(cfg))

	return r
}

// Register adds an application to the catalog. Name collisions are rejected.
func (r *Registry) Register(app App) error {
	if app.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if app.Command == "" {
		return fmt.Errorf("app %s has no command", app.Name)
	}
	if _, exists := r.apps[app.Name]; exists {
		return fmt.Errorf("app %s already registered", app.Name)
	}
	for name, opt := range app.Options {
		switch opt.Kind {
		case KindFlag, KindValue, KindEnum:
		default:
			return fmt.Errorf("app %s option %s has invalid kind %q", app.Name, name, opt.Kind)
		}
	}
	r.apps[app.Name] = app
	return nil
}

func (r *Registry) mustRegister(app App) {
	if err := r.Register(app); err != nil {
		panic(fmt.Sprintf("built-in app catalog is inconsistent: %v", err))
	}
}

// Get returns the application descriptor for name.
func (r *Registry) Get(name string) (App, bool) {
	app, ok := r.apps[name]
	return app, ok
}

// Names returns the sorted list of registered application names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the option schema of an application, option name to
// descriptor fields, as served by the describe endpoint.
func (r *Registry) Describe(name string) (map[string]interface{}, bool) {
	app, ok := r.apps[name]
	if !ok {
		return nil, false
	}
	d := make(map[string]interface{}, len(app.Options))
	for optName, opt := range app.Options {
		d[optName] = opt.Describe()
	}
	return d, true
}
