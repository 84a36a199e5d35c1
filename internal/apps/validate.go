// -----------------------------------------------------------------------
// Validate - Option validation and command synthesis
// -----------------------------------------------------------------------

package apps

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValidationError is a user-facing rejection. The message is returned to the
// submitter verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func rejectf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RuntimeHints carries the parallelism read back from the synthesized
// argument vector, clamped to the configured maxima.
type RuntimeHints struct {
	NProc    int `json:"nproc"`
	NThreads int `json:"nthreads"`
}

// Command is the synthesized invocation for a validated submission.
type Command struct {
	App     string       `json:"app"`
	Command string       `json:"command"`
	Args    []string     `json:"args"`
	Hints   RuntimeHints `json:"runtime_hints"`
}

// ArgString joins the argument vector into the single string passed to
// container entrypoints via JOB_OPTIONS.
func (c *Command) ArgString() string {
	return strings.Join(c.Args, " ")
}

// Validate checks job inputs against the application's descriptors and
// synthesizes the command invocation. It is pure: no store or filesystem
// access. dataPath is the already-resolved server-side input file path.
//
// Numeric values should be json.Number so the submitted literal form is
// preserved in the emitted arguments.
func (r *Registry) Validate(appName string, inputs map[string]interface{}, dataPath string) (*Command, error) {
	app, ok := r.apps[appName]
	if !ok {
		return nil, rejectf("App %s not known or supported!", appName)
	}
	if len(inputs) == 0 {
		return nil, rejectf("Empty job inputs given!")
	}
	if dataPath == "" {
		return nil, rejectf("Empty or null data input given!")
	}

	args := append([]string{}, app.Prelude...)

	// Mandatory options first, in stable order.
	for _, name := range sortedOptionNames(app.Options) {
		opt := app.Options[name]
		if !opt.Mandatory {
			continue
		}
		if _, given := inputs[name]; !given {
			return nil, rejectf("Mandatory option %s not present!", name)
		}
	}

	// Every present key must be a known descriptor and type-check exactly.
	for _, name := range sortedKeys(inputs) {
		opt, known := app.Options[name]
		if !known {
			return nil, rejectf("Option %s not known or supported!", name)
		}

		if opt.Kind == KindFlag {
			args = append(args, opt.Argopt(""))
			continue
		}

		value := inputs[name]
		if !matchesType(value, opt.Type) {
			return nil, rejectf("Option %s expects a %s value type and not a %s !", name, opt.Type, typeName(value))
		}

		str := valueString(value)

		if opt.Kind == KindEnum {
			if !containsValue(opt.AllowedValues, str) {
				return nil, rejectf("Option %s value %s is not among valid enumerations!", name, str)
			}
		}

		if opt.Kind == KindValue && (opt.Min != nil || opt.Max != nil) {
			num, numeric := numericValue(value)
			if numeric {
				if (opt.Min != nil && num < *opt.Min) || (opt.Max != nil && num > *opt.Max) {
					return nil, rejectf("Option %s value %s is outside the allowed range [%s, %s]!",
						name, str, boundString(opt.Min), boundString(opt.Max))
				}
			}
		}

		if transform, found := app.Transformers[name]; found {
			str = transform(str)
			if str == "" {
				return nil, rejectf("Transformed value for option %s is empty, failed validation!", name)
			}
		}

		args = append(args, opt.Argopt(str))
	}

	// The data-input argument is appended exactly once, after all options.
	args = append(args, app.DataInputArg(dataPath))

	return &Command{
		App:     app.Name,
		Command: app.Command,
		Args:    args,
		Hints:   r.extractHints(args),
	}, nil
}

// extractHints reads --nproc and --nthreads back from the emitted vector.
// Non-positive values degrade to 1; values above the configured maxima are
// clamped down to them.
func (r *Registry) extractHints(args []string) RuntimeHints {
	hints := RuntimeHints{NProc: 1, NThreads: 1}
	for _, arg := range args {
		if strings.HasPrefix(arg, "--nproc=") {
			hints.NProc = parseHint(strings.TrimPrefix(arg, "--nproc="))
		} else if strings.HasPrefix(arg, "--nthreads=") {
			hints.NThreads = parseHint(strings.TrimPrefix(arg, "--nthreads="))
		}
	}
	hints.NProc = clampHint(hints.NProc, r.cfg.MaxNProc)
	hints.NThreads = clampHint(hints.NThreads, r.cfg.MaxNThreads)
	return hints
}

func parseHint(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func clampHint(v, max int) int {
	if max > 0 && v > max {
		return max
	}
	return v
}

// matchesType reports whether the decoded value carries exactly the expected
// scalar type. Integer literals do not satisfy float options and vice versa,
// matching the strict descriptor contract.
func matchesType(v interface{}, t ValueType) bool {
	switch t {
	case ValueInt:
		return typeName(v) == string(ValueInt)
	case ValueFloat:
		return typeName(v) == string(ValueFloat)
	case ValueString:
		return typeName(v) == string(ValueString)
	}
	return false
}

func typeName(v interface{}) string {
	switch t := v.(type) {
	case json.Number:
		if _, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return string(ValueInt)
		}
		return string(ValueFloat)
	case int, int32, int64:
		return string(ValueInt)
	case float32, float64:
		return string(ValueFloat)
	case string:
		return string(ValueString)
	case bool:
		return "bool"
	case nil:
		return "null"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// valueString renders the value the way it was submitted. json.Number keeps
// the literal form, so a submitted 5.0 emits as "5.0".
func valueString(v interface{}) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func numericValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func boundString(b *float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(*b, 'f', -1, 64)
}

func containsValue(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func sortedOptionNames(options map[string]Option) []string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
