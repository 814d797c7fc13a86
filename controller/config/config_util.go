package config

import (
	"errors"
	"reflect"
)

type param interface {
	Validate() error
}

// Metadata the client uses to render a parameter
type Display struct {
	Description string
	Name        string
	Group       string
}

type U64Param struct {
	Type    string
	Value   uint64
	Range   [2]uint64
	Display Display
}

type BoolParam struct {
	Type    string
	Value   bool
	Display Display
}

type SelectParam struct {
	Type    string
	Value   string
	Range   []string
	Display Display
}

func (p U64Param) Validate() error {
	if p.Value >= p.Range[0] && p.Value <= p.Range[1] {
		return nil
	} else {
		return errors.New("U64 value out of range")
	}
}

func (p BoolParam) Validate() error {
	return nil
}

func (p SelectParam) Validate() error {
	for _, s := range p.Range {
		if s == p.Value {
			return nil
		}
	}
	return errors.New("Select value not in list")
}

func MakeU64(value uint64, rng [2]uint64, display Display) U64Param {
	return U64Param{"u64", value, rng, display}
}
func MakeSelect(value string, rng []string, display Display) SelectParam {
	return SelectParam{"select", value, rng, display}
}
func MakeBool(value bool, display Display) BoolParam {
	return BoolParam{"bool", value, display}
}

// Validate every param of a config struct.
// Each field must be one of the param types above.
func Validate(c interface{}) error {
	v, err := structValue(c)
	if err != nil {
		return err
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fieldName := t.Field(i).Name
		if !v.Field(i).CanInterface() {
			return errors.New(fieldName + " : Could not retrieve unexported field")
		}
		p, ok := v.Field(i).Interface().(param)
		if !ok {
			return errors.New(fieldName + " : Invalid struct field type")
		}
		if err := p.Validate(); err != nil {
			return errors.New(fieldName + " : " + err.Error())
		}
	}
	return nil
}

// Validate a struct whose fields are themselves config structs
func ValidateConfigSet(c interface{}) error {
	v, err := structValue(c)
	if err != nil {
		return err
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fieldName := t.Field(i).Name
		if !v.Field(i).CanInterface() {
			return errors.New(fieldName + " : Could not retrieve unexported field")
		}
		if err := Validate(v.Field(i).Interface()); err != nil {
			return errors.New(fieldName + " : " + err.Error())
		}
	}
	return nil
}

// Pointers to structs are accepted for convenience
func structValue(c interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(c)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return v, errors.New("Config is not a struct")
	}
	return v, nil
}

// Copy every param Value from c2 into c1, leaving ranges and
// display data of c1 untouched. c1 must be a pointer.
func CopyValue(c1 interface{}, c2 interface{}) error {
	p1 := reflect.ValueOf(c1)
	if p1.Kind() != reflect.Ptr {
		return errors.New("Initial config must be pointer")
	}
	v1 := p1.Elem()
	v2 := reflect.ValueOf(c2)
	if v2.Kind() == reflect.Ptr {
		v2 = v2.Elem()
	}
	if err := validateCopy(v1, v2); err != nil {
		return err
	}
	performCopy(v1, v2)
	return nil
}

// Like CopyValue, but for a struct of config structs.
// Only the named fields are copied; nil copies every field.
func CopyValueSet(c1 interface{}, c2 interface{}, fields []string) error {
	p1 := reflect.ValueOf(c1)
	if p1.Kind() != reflect.Ptr {
		return errors.New("Initial config must be pointer")
	}
	v1 := p1.Elem()
	v2 := reflect.ValueOf(c2)
	if v2.Kind() == reflect.Ptr {
		v2 = v2.Elem()
	}
	if v1.Type() != v2.Type() {
		return errors.New("Configs must be same type")
	}
	t := v1.Type()
	if t.Kind() != reflect.Struct {
		return errors.New("Configs must be struct")
	}
	if fields == nil {
		for i := 0; i < t.NumField(); i++ {
			fields = append(fields, t.Field(i).Name)
		}
	}
	// Check everything first so a failed copy leaves c1 untouched
	for _, fname := range fields {
		f1 := v1.FieldByName(fname)
		f2 := v2.FieldByName(fname)
		if !f1.IsValid() || !f2.IsValid() {
			return errors.New(fname + " : field not in struct")
		}
		if err := validateCopy(f1, f2); err != nil {
			return errors.New(fname + " : " + err.Error())
		}
	}
	for _, fname := range fields {
		performCopy(v1.FieldByName(fname), v2.FieldByName(fname))
	}
	return nil
}

func validateCopy(v1 reflect.Value, v2 reflect.Value) error {
	if v1.Type() != v2.Type() {
		return errors.New("Configs must be same type")
	}
	t := v1.Type()
	if t.Kind() != reflect.Struct {
		return errors.New("Configs must be struct")
	}
	for i := 0; i < t.NumField(); i++ {
		fieldName := t.Field(i).Name
		if t.Field(i).Type.Kind() != reflect.Struct {
			return errors.New(fieldName + " : must be struct")
		}
		if _, ok := t.Field(i).Type.FieldByName("Value"); !ok {
			return errors.New(fieldName + " : struct must contain Value field")
		}
		if !v1.Field(i).FieldByName("Value").CanSet() {
			return errors.New(fieldName + " : struct Value field must be settable")
		}
	}
	return nil
}

func performCopy(v1 reflect.Value, v2 reflect.Value) {
	for i := 0; i < v1.NumField(); i++ {
		v1.Field(i).FieldByName("Value").Set(v2.Field(i).FieldByName("Value"))
	}
}
