package dbi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/kjk/dbi/u"
)

// Field describes one named value of a record
type Field struct {
	Name string
	// Parse converts a serialized token to a value
	Parse func(s string) (any, error)
	// Format converts a value to a token. fmt.Sprint if nil
	Format func(v any) string
	// Default is the value of a new record and of a value missing in
	// serialized data. If not nil, values must have the same type.
	Default any
}

var (
	stringEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	stringUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// StringField escapes backslashes and newlines so that any string
// fits in a single line payload
func StringField(name string, def string) Field {
	return Field{
		Name: name,
		Parse: func(s string) (any, error) {
			return stringUnescaper.Replace(s), nil
		},
		Format: func(v any) string {
			s, _ := v.(string)
			return stringEscaper.Replace(s)
		},
		Default: def,
	}
}

func IntField(name string, def int) Field {
	return Field{
		Name: name,
		Parse: func(s string) (any, error) {
			return strconv.Atoi(strings.TrimSpace(s))
		},
		Format: func(v any) string {
			n, _ := v.(int)
			return strconv.Itoa(n)
		},
		Default: def,
	}
}

func BoolField(name string, def bool) Field {
	return Field{
		Name: name,
		Parse: func(s string) (any, error) {
			return strconv.ParseBool(strings.TrimSpace(s))
		},
		Format: func(v any) string {
			b, _ := v.(bool)
			return strconv.FormatBool(b)
		},
		Default: def,
	}
}

func FloatField(name string, def float64) Field {
	return Field{
		Name: name,
		Parse: func(s string) (any, error) {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		},
		Format: func(v any) string {
			f, _ := v.(float64)
			return strconv.FormatFloat(f, 'g', -1, 64)
		},
		Default: def,
	}
}

// Schema is an ordered list of fields. Records are serialized as a
// single CSV line with values in schema order.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema validates fields. "id" is reserved for Record.ID.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		index: map[string]int{},
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrSchema, i)
		}
		if f.Name == "id" {
			return nil, fmt.Errorf("%w: field name 'id' is reserved", ErrSchema)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field '%s'", ErrSchema, f.Name)
		}
		if f.Parse == nil {
			return nil, fmt.Errorf("%w: field '%s' has no Parse function", ErrSchema, f.Name)
		}
		s.index[f.Name] = i
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is NewSchema for package-level schema definitions
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	u.PanicIfErr(err)
	return s
}

// FieldNames returns names of fields in schema order
func (s *Schema) FieldNames() []string {
	res := make([]string, len(s.fields))
	for i, f := range s.fields {
		res[i] = f.Name
	}
	return res
}

// NewRecord returns a record that hasn't been stored yet, with default values
func (s *Schema) NewRecord() *Record {
	r := &Record{
		schema: s,
		values: make([]any, len(s.fields)),
	}
	for i, f := range s.fields {
		r.values[i] = f.Default
	}
	return r
}

// RecordFromStrings builds a new record from unparsed values, e.g. from
// command arguments. Missing fields get defaults.
func (s *Schema) RecordFromStrings(vals map[string]string) (*Record, error) {
	r := s.NewRecord()
	for name, str := range vals {
		i, ok := s.index[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field '%s'", ErrSchema, name)
		}
		v, err := s.fields[i].Parse(str)
		if err != nil {
			return nil, fmt.Errorf("%w: field '%s': %w", ErrSchema, name, err)
		}
		r.values[i] = v
	}
	return r, nil
}

func (f *Field) format(v any) string {
	if f.Format != nil {
		return f.Format(v)
	}
	return fmt.Sprint(v)
}

// Serialize renders values of r as one CSV record without the trailing newline
func (s *Schema) Serialize(r *Record) (string, error) {
	if r.schema != s {
		return "", fmt.Errorf("%w: record of a different schema", ErrSchema)
	}
	tokens := make([]string, len(s.fields))
	for i := range s.fields {
		tokens[i] = s.fields[i].format(r.values[i])
	}
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(tokens); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	res := strings.TrimSuffix(sb.String(), "\n")
	// csv writes a single empty value as an empty line, which reads
	// back as no values at all
	if res == "" && len(tokens) == 1 {
		res = `""`
	}
	return res, nil
}

// Deserialize parses a payload created by Serialize. Missing trailing
// values get defaults, extra values are ignored.
func (s *Schema) Deserialize(id int, payload string) (*Record, error) {
	cr := csv.NewReader(strings.NewReader(payload))
	cr.FieldsPerRecord = -1
	tokens, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: record %d: %w", ErrStorage, id, err)
	}
	r := s.NewRecord()
	r.ID = id
	for i := range s.fields {
		if i >= len(tokens) {
			break
		}
		f := &s.fields[i]
		v, err := f.Parse(tokens[i])
		if err != nil {
			return nil, fmt.Errorf("%w: record %d, field '%s': %w", ErrStorage, id, f.Name, err)
		}
		r.values[i] = v
	}
	return r, nil
}

// Record is a set of values described by a Schema.
// ID is 0 until the record is stored.
type Record struct {
	ID     int
	schema *Schema
	values []any
}

func (r *Record) Schema() *Schema {
	return r.schema
}

func (r *Record) fieldIndex(name string) int {
	i, ok := r.schema.index[name]
	u.PanicIf(!ok, "unknown field '%s'", name)
	return i
}

// Get returns the value of a field. Panics on unknown field
func (r *Record) Get(name string) any {
	return r.values[r.fieldIndex(name)]
}

// Set changes the value of a field. If the field has a non-nil default,
// v must be of the same type
func (r *Record) Set(name string, v any) error {
	i, ok := r.schema.index[name]
	if !ok {
		return fmt.Errorf("%w: unknown field '%s'", ErrSchema, name)
	}
	def := r.schema.fields[i].Default
	if def != nil && reflect.TypeOf(def) != reflect.TypeOf(v) {
		return fmt.Errorf("%w: field '%s' expects %T, got %T", ErrSchema, name, def, v)
	}
	r.values[i] = v
	return nil
}

func (r *Record) String(name string) string {
	s, _ := r.Get(name).(string)
	return s
}

func (r *Record) Int(name string) int {
	n, _ := r.Get(name).(int)
	return n
}

func (r *Record) Bool(name string) bool {
	b, _ := r.Get(name).(bool)
	return b
}

func (r *Record) Float(name string) float64 {
	f, _ := r.Get(name).(float64)
	return f
}

// Equal returns true if both records have the same schema, id and values
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.schema == o.schema && r.ID == o.ID && reflect.DeepEqual(r.values, o.values)
}
