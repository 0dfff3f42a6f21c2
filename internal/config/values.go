package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// ResolvePath joins p to root unless p is absolute.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// DiagnosticsDirIn returns the diagnostics dump directory under root.
func (l LogConfig) DiagnosticsDirIn(root string) string {
	return ResolvePath(root, l.DiagnosticsDir)
}

// FileIn returns the log file path under root, or "" when file logging is off.
func (l LogConfig) FileIn(root string) string {
	return ResolvePath(root, l.File)
}

// PathIn returns the journal database path under root.
func (j JournalConfig) PathIn(root string) string {
	return ResolvePath(root, j.Path)
}

// GetValue returns the value at a dot-separated yaml key path such as
// "workflow.max_features" or "model.roles.fix", formatted as a string.
func (c *Config) GetValue(path string) (string, error) {
	v, err := walkPath(reflect.ValueOf(c).Elem(), path, nil)
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

// SetValue parses value into the field at path, using the field's type.
func (c *Config) SetValue(path, value string) error {
	_, err := walkPath(reflect.ValueOf(c).Elem(), path, &value)
	return err
}

// walkPath follows path through nested structs by yaml tag. With set
// non-nil, the final field is assigned from *set.
func walkPath(v reflect.Value, path string, set *string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty config key")
	}
	parts := strings.Split(path, ".")
	for i, part := range parts {
		switch v.Kind() {
		case reflect.Struct:
			field := fieldByTag(v, part)
			if !field.IsValid() {
				return reflect.Value{}, fmt.Errorf("unknown config key: %s", strings.Join(parts[:i+1], "."))
			}
			v = field
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String || i != len(parts)-1 {
				return reflect.Value{}, fmt.Errorf("unsupported key path: %s", path)
			}
			return mapEntry(v, part, set)
		default:
			return reflect.Value{}, fmt.Errorf("%s is not a section", strings.Join(parts[:i], "."))
		}
	}
	if set != nil {
		if err := setFieldValue(v, *set); err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return v, nil
}

func mapEntry(m reflect.Value, key string, set *string) (reflect.Value, error) {
	if set == nil {
		entry := m.MapIndex(reflect.ValueOf(key))
		if !entry.IsValid() {
			return reflect.Zero(m.Type().Elem()), nil
		}
		return entry, nil
	}
	if m.Type().Elem().Kind() != reflect.String {
		return reflect.Value{}, fmt.Errorf("map values of type %s must be set in the config file", m.Type().Elem())
	}
	if m.IsNil() {
		m.Set(reflect.MakeMap(m.Type()))
	}
	m.SetMapIndex(reflect.ValueOf(key), reflect.ValueOf(*set))
	return m.MapIndex(reflect.ValueOf(key)), nil
}

// fieldByTag finds a struct field by yaml tag, falling back to a
// case-insensitive field name.
func fieldByTag(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag := strings.Split(f.Tag.Get("yaml"), ",")[0]; tag == name || strings.EqualFold(f.Name, name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int64:
		if v.Type() == durationType {
			return time.Duration(v.Int()).String()
		}
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = formatValue(v.Index(i))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, fmt.Sprintf("%s: %s", k.String(), formatValue(v.MapIndex(k))))
		}
		sort.Strings(keys)
		return "{" + strings.Join(keys, ", ") + "}"
	case reflect.Struct:
		return fmt.Sprintf("%+v", v.Interface())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// AllConfigPaths lists every leaf key path of Config in declaration order.
func AllConfigPaths() []string {
	var out []string
	collectPaths(reflect.TypeOf(Config{}), "", &out)
	return out
}

func collectPaths(t reflect.Type, prefix string, out *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type != durationType {
			collectPaths(f.Type, path, out)
			continue
		}
		*out = append(*out, path)
	}
}
