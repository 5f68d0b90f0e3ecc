package youtrack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the shapes a custom field or activity value can take.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindObject
	KindList
	KindScalar
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindScalar:
		return "scalar"
	}
	return "unknown"
}

// Ref is a reference object: an enum value, a user, a state, a text value.
type Ref struct {
	ID            string `json:"id,omitempty"`
	Type          string `json:"$type,omitempty"`
	Login         string `json:"login,omitempty"`
	Name          string `json:"name,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	Text          string `json:"text,omitempty"`
	LocalizedName string `json:"localizedName,omitempty"`
	Presentation  string `json:"presentation,omitempty"`
	Minutes       *int   `json:"minutes,omitempty"`
	IsResolved    *bool  `json:"isResolved,omitempty"`
}

// DisplayName picks the most human-facing label, preferring a login-style
// name. It returns "" when the object carries no label at all.
func (r *Ref) DisplayName() string {
	for _, s := range []string{r.Login, r.Name, r.Text, r.LocalizedName, r.Presentation, r.FullName} {
		if s != "" {
			return s
		}
	}
	if r.Minutes != nil {
		return strconv.Itoa(*r.Minutes) + "m"
	}
	return ""
}

// FieldValue is the tagged union of value shapes YouTrack returns for
// custom fields and for the added/removed sides of an activity.
// Exactly one of Object, List, Scalar is meaningful, selected by Kind.
type FieldValue struct {
	Kind   ValueKind
	Object *Ref
	List   []FieldValue
	Scalar string

	raw json.RawMessage
}

// UnmarshalJSON never fails on a well-formed JSON value; shapes that do not
// match a reference object decode as scalars holding their JSON text.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	*v = FieldValue{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	v.raw = append(json.RawMessage(nil), data...)

	switch data[0] {
	case '{':
		var ref Ref
		if err := json.Unmarshal(data, &ref); err != nil {
			v.Kind = KindScalar
			v.Scalar = string(data)
			return nil
		}
		v.Kind = KindObject
		v.Object = &ref
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode value list: %w", err)
		}
		v.Kind = KindList
		v.List = make([]FieldValue, 0, len(items))
		for _, item := range items {
			var fv FieldValue
			if err := fv.UnmarshalJSON(item); err != nil {
				return err
			}
			v.List = append(v.List, fv)
		}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode value string: %w", err)
		}
		v.Kind = KindScalar
		v.Scalar = s
	default:
		// numbers and booleans
		v.Kind = KindScalar
		v.Scalar = string(data)
	}
	return nil
}

// MarshalJSON re-emits the value as it was received.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.raw != nil {
		return v.raw, nil
	}
	switch v.Kind {
	case KindObject:
		return json.Marshal(v.Object)
	case KindList:
		return json.Marshal(v.List)
	case KindScalar:
		return json.Marshal(v.Scalar)
	}
	return []byte("null"), nil
}

// IsNull reports whether the value is absent.
func (v FieldValue) IsNull() bool {
	return v.Kind == KindNull
}

// Display flattens the value into one display string:
//   - null gives ""
//   - an object gives its display name
//   - a list gives the comma-joined display names of its items
//   - a scalar gives its string form
func (v FieldValue) Display() string {
	switch v.Kind {
	case KindObject:
		return v.Object.DisplayName()
	case KindList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			if s := item.Display(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case KindScalar:
		return v.Scalar
	}
	return ""
}

// Names returns the display name of each item for list values, or a single
// element for a non-empty object or scalar.
func (v FieldValue) Names() []string {
	switch v.Kind {
	case KindList:
		var out []string
		for _, item := range v.List {
			out = append(out, item.Names()...)
		}
		return out
	case KindObject, KindScalar:
		if s := v.Display(); s != "" {
			return []string{s}
		}
	}
	return nil
}

// ObjectValue builds an object value, mostly for tests and fixtures.
func ObjectValue(ref Ref) FieldValue {
	return FieldValue{Kind: KindObject, Object: &ref}
}

// ListValue builds a list value from references.
func ListValue(refs ...Ref) FieldValue {
	list := make([]FieldValue, 0, len(refs))
	for _, r := range refs {
		list = append(list, ObjectValue(r))
	}
	return FieldValue{Kind: KindList, List: list}
}

// ScalarValue builds a scalar value.
func ScalarValue(s string) FieldValue {
	return FieldValue{Kind: KindScalar, Scalar: s}
}
