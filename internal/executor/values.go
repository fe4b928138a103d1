package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// CoerceVariableValues coerces the provided variables against the
// operation's variable definitions, applying defaults. Values are coerced
// by the input rules of their declared type: enums must name a value of the
// enum, input objects may only carry declared fields, and numbers must be
// representable in the target scalar.
func CoerceVariableValues(
	sch *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any, len(operation.VariableDefinitions))
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		if sch.Types[t.Name()] == nil {
			return nil, fmt.Errorf("variable $%s has unknown type %s", name, t.Name())
		}
		val, ok := variableValues[name]
		if !ok {
			switch {
			case varDef.DefaultValue != nil:
				val = astValueToGo(varDef.DefaultValue)
			case t.NonNull:
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			default:
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceInput(sch, val, schema.TypeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces argument values for a field
func coerceArgumentValues(
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
	state *executionState,
	path Path,
) map[string]any {
	coerced := make(map[string]any, len(fieldDef.Arguments))
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		arg := arguments.ForName(name)
		if arg == nil || isUnsetVariable(arg.Value, variableValues) {
			switch {
			case argDef.DefaultValue != nil:
				coerced[name] = argDef.DefaultValue
			case schema.IsNonNull(argDef.Type):
				state.addError(fmt.Sprintf("argument '%s' of required type %s was not provided", name, argDef.Type), path)
			}
			continue
		}
		cv, err := coerceInput(state.schema, valueFromASTWithVars(arg.Value, variableValues), argDef.Type)
		if err != nil {
			state.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", name, err), path)
			continue
		}
		coerced[name] = cv
	}
	return coerced
}

func isUnsetVariable(value *language.Value, variableValues map[string]any) bool {
	if value == nil || value.Kind != language.Variable {
		return false
	}
	_, ok := variableValues[value.Raw]
	return !ok
}

// valueFromASTWithVars converts an AST value to a runtime value with variable substitution
func valueFromASTWithVars(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return variableValues[value.Raw]
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromASTWithVars(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			if isUnsetVariable(f.Value, variableValues) {
				continue
			}
			m[f.Name] = valueFromASTWithVars(f.Value, variableValues)
		}
		return m
	default:
		return astValueToGo(value)
	}
}

// astValueToGo converts a constant AST value to a Go value.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		if iv, err := strconv.Atoi(value.Raw); err == nil {
			return iv
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

// coerceInput coerces value to the input type t.
func coerceInput(sch *schema.Schema, value any, t *schema.TypeRef) (any, error) {
	if schema.IsNonNull(t) {
		if value == nil {
			return nil, fmt.Errorf("null for non-null type %s", t)
		}
		return coerceInput(sch, value, schema.Unwrap(t))
	}
	if value == nil {
		return nil, nil
	}
	if schema.IsList(t) {
		inner := schema.Unwrap(t)
		items, ok := value.([]any)
		if !ok {
			// A single value is a list of one.
			item, err := coerceInput(sch, value, inner)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := coerceInput(sch, item, inner)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	}

	name := schema.GetNamedType(t)
	typ := sch.Types[name]
	if typ == nil {
		return coerceScalar(name, value)
	}
	switch typ.Kind {
	case schema.TypeKindEnum:
		s, ok := value.(string)
		if !ok || !slices.ContainsFunc(typ.EnumValues, func(v *schema.EnumValue) bool { return v.Name == s }) {
			return nil, fmt.Errorf("%v is not a value of enum %s", value, name)
		}
		return s, nil
	case schema.TypeKindInputObject:
		return coerceInputObject(sch, typ, value)
	default:
		return coerceScalar(name, value)
	}
}

func coerceInputObject(sch *schema.Schema, typ *schema.Type, value any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", typ.Name, value)
	}
	for k := range obj {
		if typ.InputField(k) == nil {
			return nil, fmt.Errorf("field %q is not defined by %s", k, typ.Name)
		}
	}
	out := make(map[string]any, len(typ.InputFields))
	for _, f := range typ.InputFields {
		v, ok := obj[f.Name]
		if !ok {
			switch {
			case f.DefaultValue != nil:
				out[f.Name] = f.DefaultValue
			case schema.IsNonNull(f.Type):
				return nil, fmt.Errorf("%s.%s of required type %s was not provided", typ.Name, f.Name, f.Type)
			}
			continue
		}
		cv, err := coerceInput(sch, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typ.Name, f.Name, err)
		}
		out[f.Name] = cv
	}
	if typ.OneOf && len(out) != 1 {
		return nil, fmt.Errorf("exactly one field of %s must be set", typ.Name)
	}
	return out, nil
}

// coerceScalar applies the input coercion of the built-in scalars. Custom
// scalars pass through unchanged for the owning service to validate.
func coerceScalar(name string, value any) (any, error) {
	switch name {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			if _, err := v.Int64(); err == nil {
				return v.String(), nil
			}
		default:
			if i, err := coerceToInt(value); err == nil {
				return strconv.Itoa(i.(int)), nil
			}
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to %s", value, value, name)
}

func coerceToInt(value any) (any, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int32:
		return int(v), nil
	case int64:
		f = float64(v)
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %s to Int", v)
		}
		f = float64(i)
	default:
		return nil, fmt.Errorf("cannot coerce %v (%T) to Int", value, value)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, fmt.Errorf("cannot coerce %v to Int", value)
	}
	return int(f), nil
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Float", value, value)
}
