// Package request captures the parts of an HTTP request that SQL statements
// can reference: query and form variables, cookies, headers and basic-auth
// credentials. It also resolves parsed statement parameters against that
// data at execution time.
package request

import (
	json "github.com/goccy/go-json"
)

// Value is one request variable: a single string or a list of strings.
// Repeated form fields and array-shaped set-variable results produce lists.
type Value struct {
	one  string
	many []string
}

func Single(s string) Value { return Value{one: s} }

func List(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{many: items}
}

func (v Value) IsList() bool { return v.many != nil }

// Strings returns the value as a list, wrapping a single value.
func (v Value) Strings() []string {
	if v.many != nil {
		return v.many
	}
	return []string{v.one}
}

// String is the form a value takes when bound into SQL: the single string
// itself, or the JSON encoding of the list.
func (v Value) String() string {
	if v.many == nil {
		return v.one
	}
	b, err := json.Marshal(v.many)
	if err != nil {
		return ""
	}
	return string(b)
}

// fromStrings collapses a multi-valued form entry into a Value.
func fromStrings(vals []string) Value {
	if len(vals) == 1 {
		return Single(vals[0])
	}
	return List(vals)
}
