package types

type TagValueType string

const (
	TagValueString      TagValueType = "string"
	TagValueInt         TagValueType = "int"
	TagValueFloat       TagValueType = "float"
	TagValueStringSlice TagValueType = "string_slice"
	TagValueIntSlice    TagValueType = "int_slice"
	TagValueFloatSlice  TagValueType = "float_slice"
)

// TagUpdate sets room tag Name to the result of Expression, evaluated against
// the current tags. Index addresses one element of the slice types.
type TagUpdate struct {
	Name       string       `json:"name"`
	Type       TagValueType `json:"type"`
	Index      int          `json:"index"`
	Expression string       `json:"expression"`
}
