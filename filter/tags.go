package filter

import (
	"strconv"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/stride-chat/globals"
	"github.com/tcriess/stride-chat/types"
)

// AsInt parses the TagValue as an int, 0 on error
func AsInt(v string) int64 {
	val, _ := strconv.ParseInt(v, 0, 64)
	return val
}

// AsFloat parses the TagValue an a float64, 0.0 on error
func AsFloat(v string) float64 {
	val, _ := strconv.ParseFloat(v, 64)
	return val
}

// AsIntSlice parses the TagValue as a comma-separated slice of int64s (0 in every unparsable item)
func AsIntSlice(v string) []int64 {
	parts := strings.Split(v, ",")
	res := make([]int64, len(parts))
	for i, part := range parts {
		res[i] = AsInt(part)
	}
	return res
}

// AsFloatSlice parses the TagValue as a comma-separated slice of float64s (0.0 in every unparsable item)
func AsFloatSlice(v string) []float64 {
	parts := strings.Split(v, ",")
	res := make([]float64, len(parts))
	for i, part := range parts {
		res[i] = AsFloat(part)
	}
	return res
}

// AsStringSlice parses the TagValue as a comma-separated slice of strings
func AsStringSlice(v string) []string {
	return strings.Split(v, ",")
}

// TagsEnv is the environment of tag update expressions.
type TagsEnv struct {
	Tags          map[string]string
	AsInt         func(string) int64
	AsFloat       func(string) float64
	AsStringSlice func(string) []string
	AsIntSlice    func(string) []int64
	AsFloatSlice  func(string) []float64
}

// formatValue weakly decodes an expression result into the textual form of the given tag type.
func formatValue(res interface{}, typ types.TagValueType) (string, error) {
	helperMap := map[string]interface{}{"value": res}
	switch typ {
	case types.TagValueInt, types.TagValueIntSlice:
		out := struct {
			Value int64 `mapstructure:"value"`
		}{}
		if err := mapstructure.WeakDecode(helperMap, &out); err != nil {
			return "", err
		}
		return strconv.FormatInt(out.Value, 10), nil

	case types.TagValueFloat, types.TagValueFloatSlice:
		out := struct {
			Value float64 `mapstructure:"value"`
		}{}
		if err := mapstructure.WeakDecode(helperMap, &out); err != nil {
			return "", err
		}
		return strconv.FormatFloat(out.Value, 'f', -1, 64), nil
	}
	out := struct {
		Value string `mapstructure:"value"`
	}{}
	if err := mapstructure.WeakDecode(helperMap, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func isSlice(typ types.TagValueType) bool {
	switch typ {
	case types.TagValueStringSlice, types.TagValueIntSlice, types.TagValueFloatSlice:
		return true
	}
	return false
}

// UpdateTags modifies the tags map (required to be non-nil!) according to the given set of updates.
// Each types.TagUpdate contains the name of the map entry to update, the type of the entry, an index (for the
// slice types) and an expression to be applied (the tags are accessible as "Tags", the helper functions for
// type conversion of the entries are listed above).
// UpdateTags is supposed to be called from within the room tags update transaction of the store.
func UpdateTags(tags map[string]string, updates []*types.TagUpdate) []bool {
	resOk := make([]bool, len(updates))
	if tags == nil {
		return resOk
	}
	env := TagsEnv{
		Tags:          tags,
		AsInt:         AsInt,
		AsFloat:       AsFloat,
		AsStringSlice: AsStringSlice,
		AsIntSlice:    AsIntSlice,
		AsFloatSlice:  AsFloatSlice,
	}
	for i, update := range updates {
		res, err := expr.Eval(update.Expression, env)
		if err != nil {
			globals.AppLogger.Error("could not evaluate expression", "expression", update.Expression, "error", err)
			continue
		}
		value, err := formatValue(res, update.Type)
		if err != nil {
			globals.AppLogger.Error("could not decode result", "error", err)
			continue
		}
		if !isSlice(update.Type) {
			tags[update.Name] = value
			resOk[i] = true
			continue
		}
		parts := AsStringSlice(tags[update.Name])
		if update.Index < 0 || update.Index >= len(parts) {
			continue
		}
		parts[update.Index] = value
		tags[update.Name] = strings.Join(parts, ",")
		resOk[i] = true
	}
	return resOk
}
