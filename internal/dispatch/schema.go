package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Arg describes one argument or return value of an operator schema.
type Arg struct {
	Name       string
	Type       string // base type: Tensor, int, float, Scalar, bool, ScalarType, Device
	List       bool   // Type[]
	Optional   bool   // Type?
	AliasSet   string // "a" in Tensor(a) / Tensor(a!)
	Mutable    bool   // the "!" in Tensor(a!)
	KwargOnly  bool   // declared after "*"
	HasDefault bool
	Default    any
}

// Schema is the parsed signature of an operator overload, e.g.
//
//	add_.Tensor(Tensor(a!) self, Tensor other, *, Scalar alpha=1) -> Tensor(a!)
type Schema struct {
	Name     string
	Overload string
	Args     []Arg
	Returns  []Arg
}

var (
	schemaRegex = regexp.MustCompile(`^([A-Za-z0-9_]+)(?:\.([A-Za-z0-9_]+))?\((.*)\)\s*->\s*(.+)$`)
	argRegex    = regexp.MustCompile(`^([A-Za-z]+)(?:\(([a-z])(!?)\))?(\[\])?(\?)?(?:\s+([A-Za-z0-9_]+))?(?:\s*=\s*(.+))?$`)
)

// ParseSchema parses a signature in the operator schema language.
func ParseSchema(sig string) (*Schema, error) {
	m := schemaRegex.FindStringSubmatch(strings.TrimSpace(sig))
	if m == nil {
		return nil, fmt.Errorf("invalid operator schema %q", sig)
	}
	s := &Schema{Name: m[1], Overload: m[2]}

	kwargOnly := false
	for _, raw := range splitTopLevel(m[3]) {
		if raw == "*" {
			kwargOnly = true
			continue
		}
		arg, err := parseArg(raw, true)
		if err != nil {
			return nil, fmt.Errorf("schema %q: %w", sig, err)
		}
		arg.KwargOnly = kwargOnly
		s.Args = append(s.Args, arg)
	}

	rets := strings.TrimSpace(m[4])
	if strings.HasPrefix(rets, "(") && strings.HasSuffix(rets, ")") {
		rets = rets[1 : len(rets)-1]
	}
	for _, raw := range splitTopLevel(rets) {
		arg, err := parseArg(raw, false)
		if err != nil {
			return nil, fmt.Errorf("schema %q: return: %w", sig, err)
		}
		s.Returns = append(s.Returns, arg)
	}
	return s, nil
}

// MustParseSchema is ParseSchema for package-level operator declarations.
func MustParseSchema(sig string) *Schema {
	s, err := ParseSchema(sig)
	if err != nil {
		panic(err)
	}
	return s
}

func parseArg(raw string, named bool) (Arg, error) {
	m := argRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Arg{}, fmt.Errorf("invalid argument %q", raw)
	}
	arg := Arg{
		Type:     m[1],
		AliasSet: m[2],
		Mutable:  m[3] == "!",
		List:     m[4] != "",
		Optional: m[5] != "",
		Name:     m[6],
	}
	if named && arg.Name == "" {
		return Arg{}, fmt.Errorf("argument %q has no name", raw)
	}
	if m[7] != "" {
		def, err := parseDefault(m[7])
		if err != nil {
			return Arg{}, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		arg.HasDefault = true
		arg.Default = def
	}
	return arg, nil
}

func parseDefault(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		out := []int{}
		if inner == "" {
			return out, nil
		}
		for _, p := range strings.Split(inner, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid list default %q", raw)
			}
			out = append(out, v)
		}
		return out, nil
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("unsupported default %q", raw)
}

// splitTopLevel splits on commas that are not nested in brackets or parens.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		parts = append(parts, last)
	}
	return parts
}

// MutatesArg reports whether the schema marks argument i as written in place.
func (s *Schema) MutatesArg(i int) bool {
	return i < len(s.Args) && s.Args[i].Mutable
}

// IsMutable reports whether any argument is written in place.
func (s *Schema) IsMutable() bool {
	for _, a := range s.Args {
		if a.Mutable {
			return true
		}
	}
	return false
}

// Bind matches positional and keyword arguments against the schema and
// returns one value per declared argument, with defaults filled in.
func (s *Schema) Bind(args []any, kwargs map[string]any) ([]any, error) {
	bound := make([]any, len(s.Args))
	set := make([]bool, len(s.Args))

	positional := 0
	for _, a := range s.Args {
		if !a.KwargOnly {
			positional++
		}
	}
	if len(args) > positional {
		return nil, fmt.Errorf("%s() takes %d positional arguments but %d were given", s.Name, positional, len(args))
	}
	for i, v := range args {
		bound[i] = v
		set[i] = true
	}
	for name, v := range kwargs {
		idx := s.argIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument %q", s.Name, name)
		}
		if set[idx] {
			return nil, fmt.Errorf("%s() got multiple values for argument %q", s.Name, name)
		}
		bound[idx] = v
		set[idx] = true
	}
	for i, a := range s.Args {
		if set[i] {
			continue
		}
		switch {
		case a.HasDefault:
			bound[i] = cloneDefault(a.Default)
		case a.Optional:
			bound[i] = nil
		default:
			return nil, fmt.Errorf("%s() missing required argument %q", s.Name, a.Name)
		}
	}
	return bound, nil
}

func (s *Schema) argIndex(name string) int {
	for i, a := range s.Args {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func cloneDefault(v any) any {
	if l, ok := v.([]int); ok {
		return append([]int(nil), l...)
	}
	return v
}

func (s *Schema) String() string {
	var sb strings.Builder
	sb.WriteString(s.Name)
	if s.Overload != "" {
		sb.WriteString("." + s.Overload)
	}
	sb.WriteString("(")
	kw := false
	for i, a := range s.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.KwargOnly && !kw {
			sb.WriteString("*, ")
			kw = true
		}
		sb.WriteString(a.typeString() + " " + a.Name)
		if a.HasDefault {
			sb.WriteString("=" + defaultString(a.Default))
		}
	}
	sb.WriteString(") -> ")
	if len(s.Returns) == 1 {
		sb.WriteString(s.Returns[0].typeString())
	} else {
		rets := make([]string, len(s.Returns))
		for i, r := range s.Returns {
			rets[i] = r.typeString()
		}
		sb.WriteString("(" + strings.Join(rets, ", ") + ")")
	}
	return sb.String()
}

func (a Arg) typeString() string {
	t := a.Type
	if a.AliasSet != "" {
		t += "(" + a.AliasSet
		if a.Mutable {
			t += "!"
		}
		t += ")"
	}
	if a.List {
		t += "[]"
	}
	if a.Optional {
		t += "?"
	}
	return t
}

func defaultString(v any) string {
	switch d := v.(type) {
	case nil:
		return "None"
	case bool:
		if d {
			return "True"
		}
		return "False"
	case []int:
		parts := make([]string, len(d))
		for i, x := range d {
			parts[i] = strconv.Itoa(x)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(d)
	}
}
