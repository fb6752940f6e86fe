package env

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var ErrNotStructPointer = errors.New("env: expected a pointer to a struct")

type options struct {
	includeZero bool
	header      string
}

type Option func(*options)

// WithZeroValues also emits fields holding their zero value, so a generated
// file documents every knob.
func WithZeroValues() Option {
	return func(o *options) { o.includeZero = true }
}

// WithHeader prefixes the output with a comment block.
func WithHeader(text string) Option {
	return func(o *options) { o.header = text }
}

// MarshalEnv reflects over the struct and creates .env content from env tags.
// Slices are joined with commas, matching caarlos0/env's default separator.
func MarshalEnv(c any, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := reflect.ValueOf(c)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return "", ErrNotStructPointer
	}
	v = v.Elem()
	t := v.Type()

	var lines []string
	if o.header != "" {
		for _, line := range strings.Split(strings.TrimRight(o.header, "\n"), "\n") {
			lines = append(lines, "# "+line)
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("env")
		if tag == "" || !field.IsExported() {
			continue
		}

		key := strings.Split(tag, ",")[0]
		if key == "" {
			continue
		}

		val := v.Field(i)
		if !o.includeZero && val.IsZero() {
			continue
		}

		strVal, err := formatValue(val)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		if strings.ContainsAny(strVal, " #\"'\n") {
			strVal = strconv.Quote(strVal)
		}
		lines = append(lines, fmt.Sprintf("%s=%s", key, strVal))
	}

	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func formatValue(v reflect.Value) (string, error) {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Slice:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			s, err := formatValue(v.Index(i))
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported kind %s", v.Kind())
	}
}
