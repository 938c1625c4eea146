// Package form defines the form and field model shared by the persistence
// layer and the real-time sync path, along with field value validation.
package form

// FieldType names the declared input type of a field.
type FieldType string

// Field types with constraints enforced by Validate. Any other type is
// stored as-is.
const (
	TypeText     FieldType = "text"
	TypeNumber   FieldType = "number"
	TypeDropdown FieldType = "dropdown"
)

// Field is a typed input slot on a form. Fields are immutable once the
// form has been created.
type Field struct {
	ID       string    `json:"id"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	Options  []string  `json:"options"`
	Order    int       `json:"order"`
	Required bool      `json:"required"`
}

// Form is a form together with its ordered fields and the current
// response document.
type Form struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Fields   []Field        `json:"fields"`
	Response map[string]any `json:"response"`
}

// FieldDefinition describes a field to create.
type FieldDefinition struct {
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	Options  []string  `json:"options"`
	Order    int       `json:"order"`
	Required bool      `json:"required"`
}

// Definition describes a form to create.
type Definition struct {
	Name   string            `json:"name"`
	Fields []FieldDefinition `json:"fields"`
}

// Created identifies a newly created form.
type Created struct {
	ID         string `json:"id"`
	ShareToken string `json:"share_token"`
}
