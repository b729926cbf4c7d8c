package db

import (
	"errors"
	"fmt"
)

// StorageType is the key type an FT index covers.
type StorageType string

const (
	// StorageHash indexes Redis hashes.
	StorageHash StorageType = "HASH"
	// StorageJSON indexes RedisJSON documents.
	StorageJSON StorageType = "JSON"
)

// IndexFieldType enumerates supported FT schema field types.
type IndexFieldType int

const (
	// IndexFieldNumeric is a numeric range field.
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag is an exact-match field.
	IndexFieldTag
	// IndexFieldText is a full-text field.
	IndexFieldText
	// IndexFieldGeo is a "lon,lat" geo field.
	IndexFieldGeo
)

func (t IndexFieldType) String() string {
	switch t {
	case IndexFieldNumeric:
		return "NUMERIC"
	case IndexFieldTag:
		return "TAG"
	case IndexFieldText:
		return "TEXT"
	case IndexFieldGeo:
		return "GEO"
	}
	return fmt.Sprintf("IndexFieldType(%d)", int(t))
}

// IndexField is one schema entry. Path is the hash field or JSONPath; Alias is the query name.
type IndexField struct {
	Path  string
	Alias string
	Type  IndexFieldType

	Sortable bool
	// IndexMissing makes documents without the field findable with ismissing().
	IndexMissing bool

	// TAG options
	Separator     string
	CaseSensitive bool

	// TEXT options
	Weight float64
	NoStem bool
}

// Name is the name the field is queried by.
func (f *IndexField) Name() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Path
}

// IndexDefinition is a complete FT.CREATE definition.
type IndexDefinition struct {
	Name        string
	StorageType StorageType
	Prefixes    []string
	// Language selects the stemmer for TEXT fields. Empty keeps the server default.
	Language string
	Fields   []IndexField
}

// Validate checks that the definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return errors.New("index name is required")
	}
	if !IsValidIdentifier(idx.Name) {
		return fmt.Errorf("index name %q contains invalid characters", idx.Name)
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]bool, len(idx.Fields))
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Path == "" {
			return fmt.Errorf("field %d: path is required", i)
		}
		name := f.Name()
		if seen[name] {
			return fmt.Errorf("duplicate field name: %s", name)
		}
		seen[name] = true

		if err := f.validate(); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

func (f *IndexField) validate() error {
	switch f.Type {
	case IndexFieldGeo:
		if f.Sortable {
			return errors.New("GEO cannot be sortable")
		}
	case IndexFieldNumeric, IndexFieldTag, IndexFieldText:
	default:
		return fmt.Errorf("unknown type %s", f.Type)
	}
	if f.Type != IndexFieldTag && (f.Separator != "" || f.CaseSensitive) {
		return errors.New("separator and case sensitivity apply to TAG only")
	}
	if f.Type != IndexFieldText && (f.Weight != 0 || f.NoStem) {
		return errors.New("weight and nostem apply to TEXT only")
	}
	if f.Weight < 0 {
		return errors.New("weight must not be negative")
	}
	return nil
}

// IsValidIdentifier reports whether s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		isSpecial := r == '_' || r == ':' || r == '-'
		if !isAlpha && !isDigit && !isSpecial {
			return false
		}
	}
	return true
}
