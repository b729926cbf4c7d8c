package db

import (
	"strconv"
	"strings"
)

// IndexBuilder is a fluent builder for FT index definitions.
// Modifiers such as Missing and NoStem apply to the most recently added field.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts a definition over hashes; call OnJSON for RedisJSON documents.
func NewIndex(name string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, StorageType: StorageHash}}
}

// OnJSON indexes RedisJSON documents.
func (b *IndexBuilder) OnJSON() *IndexBuilder {
	b.def.StorageType = StorageJSON
	return b
}

// Prefix adds key prefixes the index covers.
func (b *IndexBuilder) Prefix(prefixes ...string) *IndexBuilder {
	b.def.Prefixes = append(b.def.Prefixes, prefixes...)
	return b
}

// Language sets the stemming language for TEXT fields.
func (b *IndexBuilder) Language(lang string) *IndexBuilder {
	b.def.Language = lang
	return b
}

// Field appends a fully specified field.
func (b *IndexBuilder) Field(f IndexField) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, f)
	return b
}

// Text adds a TEXT field; weight 0 keeps the server default of 1.
func (b *IndexBuilder) Text(path, alias string, weight float64) *IndexBuilder {
	return b.Field(IndexField{Path: path, Alias: alias, Type: IndexFieldText, Weight: weight})
}

// Tag adds a TAG field.
func (b *IndexBuilder) Tag(path, alias string) *IndexBuilder {
	return b.Field(IndexField{Path: path, Alias: alias, Type: IndexFieldTag})
}

// Numeric adds a NUMERIC field.
func (b *IndexBuilder) Numeric(path, alias string, sortable bool) *IndexBuilder {
	return b.Field(IndexField{Path: path, Alias: alias, Type: IndexFieldNumeric, Sortable: sortable})
}

// Geo adds a GEO field.
func (b *IndexBuilder) Geo(path, alias string) *IndexBuilder {
	return b.Field(IndexField{Path: path, Alias: alias, Type: IndexFieldGeo})
}

// Missing marks the last field INDEXMISSING.
func (b *IndexBuilder) Missing() *IndexBuilder {
	if f := b.last(); f != nil {
		f.IndexMissing = true
	}
	return b
}

// NoStem disables stemming on the last field.
func (b *IndexBuilder) NoStem() *IndexBuilder {
	if f := b.last(); f != nil {
		f.NoStem = true
	}
	return b
}

func (b *IndexBuilder) last() *IndexField {
	if len(b.def.Fields) == 0 {
		return nil
	}
	return &b.def.Fields[len(b.def.Fields)-1]
}

// Build validates and returns the definition.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	def := b.def
	return &def, nil
}

// MustBuild calls Build and panics on error.
func (b *IndexBuilder) MustBuild() *IndexDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// String renders the definition as the FT.CREATE command it produces.
func (idx *IndexDefinition) String() string {
	parts := []string{"FT.CREATE", idx.Name}
	if idx.StorageType != "" {
		parts = append(parts, "ON", string(idx.StorageType))
	}
	if len(idx.Prefixes) > 0 {
		parts = append(parts, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		parts = append(parts, idx.Prefixes...)
	}
	if idx.Language != "" {
		parts = append(parts, "LANGUAGE", idx.Language)
	}
	parts = append(parts, "SCHEMA")
	for i := range idx.Fields {
		parts = append(parts, idx.Fields[i].Args()...)
	}
	return strings.Join(parts, " ")
}

// Args returns the field's FT.CREATE SCHEMA arguments.
func (f *IndexField) Args() []string {
	args := []string{f.Path}
	if f.Alias != "" {
		args = append(args, "AS", f.Alias)
	}
	args = append(args, f.Type.String())

	switch f.Type {
	case IndexFieldText:
		if f.Weight > 0 {
			args = append(args, "WEIGHT", strconv.FormatFloat(f.Weight, 'f', -1, 64))
		}
		if f.NoStem {
			args = append(args, "NOSTEM")
		}
	case IndexFieldTag:
		if f.Separator != "" {
			args = append(args, "SEPARATOR", f.Separator)
		}
		if f.CaseSensitive {
			args = append(args, "CASESENSITIVE")
		}
	}
	if f.IndexMissing {
		args = append(args, "INDEXMISSING")
	}
	if f.Sortable {
		args = append(args, "SORTABLE")
	}
	return args
}
