// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Limits applied to every argument.
const (
	maxStringLength    = 10 * 1024 * 1024 // 10MB
	maxReasonableValue = 1e15
)

// ValidationError describes one bad argument.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Message
	}
	return e.Param + ": " + e.Message
}

func knownType(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// ValidateArgs checks args against schema: required parameters, types,
// enums, numeric bounds, string length, and unknown names.
func ValidateArgs(schema Schema, args map[string]any) error {
	for _, param := range schema.Parameters {
		val, exists := args[param.Name]

		if param.Required && (!exists || val == nil) {
			return &ValidationError{Param: param.Name, Message: "missing required argument"}
		}
		if !exists || val == nil {
			continue
		}

		if err := validateArgType(param, val); err != nil {
			return err
		}

		switch param.Type {
		case TypeNumber, TypeInteger:
			if err := validateNumericBounds(param, val); err != nil {
				return err
			}
		case TypeString:
			s := val.(string)
			if len(s) > maxStringLength {
				return &ValidationError{Param: param.Name, Message: "string value exceeds maximum length"}
			}
			if len(param.Enum) > 0 && !contains(param.Enum, s) {
				return &ValidationError{
					Param:   param.Name,
					Message: fmt.Sprintf("must be one of %s", strings.Join(param.Enum, ", ")),
				}
			}
		}
	}

	var unknown []string
	for name := range args {
		if _, ok := schema.Param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Param: unknown[0], Message: "unknown argument"}
	}
	return nil
}

func validateArgType(param Parameter, val any) error {
	ok := true
	switch param.Type {
	case TypeString:
		_, ok = val.(string)
	case TypeNumber:
		_, ok = toFloat(val)
	case TypeInteger:
		f, isNum := toFloat(val)
		ok = isNum && f == math.Trunc(f)
	case TypeBoolean:
		_, ok = val.(bool)
	case TypeArray:
		switch val.(type) {
		case []any, []string:
		default:
			ok = false
		}
	case TypeObject:
		_, ok = val.(map[string]any)
	}
	if !ok {
		return &ValidationError{Param: param.Name, Message: "expected " + param.Type + " type"}
	}
	return nil
}

func validateNumericBounds(param Parameter, val any) error {
	f, _ := toFloat(val)
	if math.IsNaN(f) || f > maxReasonableValue || f < -maxReasonableValue {
		return &ValidationError{Param: param.Name, Message: "numeric value out of reasonable bounds"}
	}
	return nil
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// PARAMETER ACCESSORS (used after validation)
// =============================================================================

func stringParam(params map[string]any, name, def string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return def
}

func intParam(params map[string]any, name string, def int) int {
	if f, ok := toFloat(params[name]); ok {
		return int(f)
	}
	return def
}

func boolParam(params map[string]any, name string, def bool) bool {
	if v, ok := params[name].(bool); ok {
		return v
	}
	return def
}

// stringsParam accepts an array of strings or a single slash-separated
// string.
func stringsParam(params map[string]any, name string) []string {
	switch v := params[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return strings.Split(v, "/")
	}
	return nil
}
