package shape

import (
	"regexp"
	"strings"

	"github.com/reproforge/reproforge/synth"
)

// FieldType enumerates the inferable field types.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldEmail      FieldType = "email"
	FieldName       FieldType = "name"
	FieldPhone      FieldType = "phone"
	FieldAddress    FieldType = "address"
	FieldDate       FieldType = "date"
	FieldNumber     FieldType = "number"
	FieldBoolean    FieldType = "boolean"
	FieldUUID       FieldType = "uuid"
	FieldForeignKey FieldType = "foreign_key"
)

// Field is one inferred schema column.
type Field struct {
	Type FieldType `json:"type"`
	// References names the table a foreign key points at.
	References string `json:"references,omitempty"`
}

// Schema maps table name to field name to inferred type.
type Schema map[string]map[string]Field

var uuidValueRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// InferSchema derives a schema from captured form submissions. Each form's
// table is named by the last path segment of its URL; field types come from
// name heuristics first and observed values second.
func InferSchema(interactions []synth.Interaction) Schema {
	var out = Schema{}
	for _, it := range interactions {
		if it.Kind != synth.FormSubmission || len(it.FormData) == 0 {
			continue
		}
		var table = tableNameOf(it.URL)
		if out[table] == nil {
			out[table] = map[string]Field{}
		}
		for name, value := range it.FormData {
			if name == "_raw" {
				continue
			}
			out[table][name] = inferField(name, value)
		}
	}
	return out
}

// Augment adds context-specific synthetic fields to every table.
func (s Schema) Augment(context string) {
	for table := range s {
		switch context {
		case "web":
			s[table]["session_id"] = Field{Type: FieldUUID}
			s[table]["user_agent"] = Field{Type: FieldString}
		case "api":
			s[table]["request_id"] = Field{Type: FieldUUID}
			s[table]["client_version"] = Field{Type: FieldString}
		}
	}
}

func inferField(name string, value interface{}) Field {
	var lower = strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, "_id") && lower != "_id":
		return Field{Type: FieldForeignKey, References: strings.TrimSuffix(lower, "_id") + "s"}
	case strings.Contains(lower, "email"):
		return Field{Type: FieldEmail}
	case strings.Contains(lower, "phone"), strings.Contains(lower, "tel"):
		return Field{Type: FieldPhone}
	case strings.Contains(lower, "address"), strings.Contains(lower, "street"),
		strings.Contains(lower, "city"), strings.Contains(lower, "zip"):
		return Field{Type: FieldAddress}
	case strings.Contains(lower, "name"):
		return Field{Type: FieldName}
	case strings.Contains(lower, "date"), strings.HasSuffix(lower, "_at"), strings.Contains(lower, "birthday"):
		return Field{Type: FieldDate}
	case strings.HasPrefix(lower, "is_"), strings.HasPrefix(lower, "has_"), isBoolValue(value):
		return Field{Type: FieldBoolean}
	case strings.Contains(lower, "price"), strings.Contains(lower, "amount"),
		strings.Contains(lower, "count"), strings.Contains(lower, "qty"),
		strings.Contains(lower, "age"), strings.Contains(lower, "number"):
		return Field{Type: FieldNumber}
	case isUUIDValue(value):
		return Field{Type: FieldUUID}
	default:
		return Field{Type: FieldString}
	}
}

func isBoolValue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return true
	case string:
		return t == "true" || t == "false"
	default:
		return false
	}
}

func isUUIDValue(v interface{}) bool {
	var s, ok = v.(string)
	return ok && uuidValueRe.MatchString(strings.ToLower(s))
}

func tableNameOf(rawURL string) string {
	var path = rawURL
	if i := strings.Index(path, "://"); i != -1 {
		path = path[i+3:]
	}
	if i := strings.IndexByte(path, '?'); i != -1 {
		path = path[:i]
	}
	var segments = strings.Split(strings.Trim(path, "/"), "/")
	var last = segments[len(segments)-1]
	if last == "" || strings.IndexByte(last, '.') != -1 {
		return "submissions"
	}
	return strings.ToLower(last)
}
