package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList stores a list of strings as a JSON array column.
type StringList []string

// Value implements driver.Valuer for database serialization.
func (l StringList) Value() (driver.Value, error) {
	cleaned := l.Clean()
	data, errMarshal := json.Marshal([]string(cleaned))
	if errMarshal != nil {
		return nil, fmt.Errorf("string list marshal: %w", errMarshal)
	}
	return data, nil
}

// Scan implements sql.Scanner for database deserialization.
func (l *StringList) Scan(value any) error {
	if l == nil {
		return fmt.Errorf("string list scan: nil receiver")
	}
	if value == nil {
		*l = StringList{}
		return nil
	}

	switch typed := value.(type) {
	case []byte:
		return parseStringListFromBytes(l, typed)
	case string:
		return parseStringListFromBytes(l, []byte(typed))
	default:
		return fmt.Errorf("string list scan: unsupported type %T", value)
	}
}

func parseStringListFromBytes(target *StringList, data []byte) error {
	if len(data) == 0 {
		*target = StringList{}
		return nil
	}

	var list []string
	if errList := json.Unmarshal(data, &list); errList == nil {
		*target = StringList(list).Clean()
		return nil
	}

	var single string
	if errSingle := json.Unmarshal(data, &single); errSingle == nil {
		*target = StringList{single}.Clean()
		return nil
	}

	return fmt.Errorf("string list scan: invalid json")
}

// Clean normalizes the list by trimming entries and removing blanks and duplicates.
func (l StringList) Clean() StringList {
	if len(l) == 0 {
		return StringList{}
	}
	seen := make(map[string]struct{}, len(l))
	cleaned := make(StringList, 0, len(l))
	for _, item := range l {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return StringList{}
	}
	return cleaned
}

// Contains reports whether the list holds the given value.
func (l StringList) Contains(value string) bool {
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}
