// -----------------------------------------------------------------------
// Option - Command line option descriptors for registered applications
// -----------------------------------------------------------------------

package apps

// ValueType is the scalar type an option value must carry.
type ValueType string

const (
	ValueNone   ValueType = "none"
	ValueInt    ValueType = "int"
	ValueFloat  ValueType = "float"
	ValueString ValueType = "string"
)

// OptionKind is the descriptor variant. Validation switches exhaustively on
// the kind, so every descriptor is exactly one of flag, value or enum.
type OptionKind string

const (
	KindFlag  OptionKind = "flag"  // boolean switch, no value
	KindValue OptionKind = "value" // typed value, optional inclusive bounds
	KindEnum  OptionKind = "enum"  // value restricted to an allowed set
)

// Option describes one command-line option accepted by an application.
// Descriptors are used only during validation and are never persisted.
type Option struct {
	Name          string
	Kind          OptionKind
	Mandatory     bool
	Type          ValueType // ValueNone for flags
	Min           *float64  // inclusive, value kind only
	Max           *float64  // inclusive, value kind only
	Default       interface{}
	AllowedValues []string // enum kind only
	Description   string
	Category      string
	Subcategory   string
	Advanced      bool
}

// Argopt renders the option in command-line form, `--name` for flags and
// `--name=value` otherwise.
func (o Option) Argopt(value string) string {
	if o.Kind == KindFlag {
		return "--" + o.Name
	}
	return "--" + o.Name + "=" + value
}

// Describe returns the JSON-friendly schema of the descriptor, keyed the way
// the describe endpoint exposes it.
func (o Option) Describe() map[string]interface{} {
	d := map[string]interface{}{
		"mandatory":   o.Mandatory,
		"description": o.Description,
		"advanced":    o.Advanced,
		"category":    o.Category,
		"subcategory": o.Subcategory,
		"enum":        o.Kind == KindEnum,
	}

	switch o.Kind {
	case KindFlag:
		d["type"] = string(ValueNone)
	case KindValue:
		d["type"] = string(o.Type)
		d["default"] = o.Default
		if o.Min != nil {
			d["min"] = *o.Min
		}
		if o.Max != nil {
			d["max"] = *o.Max
		}
	case KindEnum:
		d["type"] = string(o.Type)
		d["default"] = o.Default
		d["allowed_values"] = o.AllowedValues
	}

	return d
}

// fptr is a literal helper for optional bounds in catalog definitions.
func fptr(v float64) *float64 {
	return &v
}
