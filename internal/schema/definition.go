// Copyright 2024 Lix Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema parses entity schema definitions and keeps the registry of
// per-schema capabilities consulted by the mutation validator.
//
// A definition is a JSON-schema object document with lix extensions:
//
//	{
//	  "x-lix-key": "doc",
//	  "x-lix-version": "1.0",
//	  "x-lix-primary-key": ["/id"],
//	  "x-lix-unique": [["/slug"]],
//	  "x-lix-foreign-keys": [{"properties": ["/author_id"],
//	    "references": {"schemaKey": "author", "properties": ["/id"]}, "mode": "immediate"}],
//	  "x-lix-immutable": false,
//	  "type": "object",
//	  "properties": {...}
//	}
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
	"github.com/go-playground/validator/v10"

	"lix/internal/common"
)

// ForeignKeyMode selects when a foreign key is enforced.
type ForeignKeyMode string

const (
	// ModeImmediate checks the referenced row on insert and update.
	ModeImmediate ForeignKeyMode = "immediate"
	// ModeMaterialized is only enforced when the referenced row is deleted.
	ModeMaterialized ForeignKeyMode = "materialized"
)

// Reference names the target of a foreign key.
type Reference struct {
	SchemaKey     string   `json:"schemaKey" validate:"required"`
	Properties    []string `json:"properties" validate:"required,min=1,dive,required"`
	SchemaVersion string   `json:"schemaVersion,omitempty"`
}

// ForeignKey maps local pointers to pointers of another schema.
type ForeignKey struct {
	Properties []string       `json:"properties" validate:"required,min=1,dive,required"`
	References Reference      `json:"references" validate:"required"`
	Mode       ForeignKeyMode `json:"mode,omitempty" validate:"omitempty,oneof=immediate materialized"`

	local  []*Pointer
	remote []*Pointer
}

// Local returns the compiled local pointers.
func (fk *ForeignKey) Local() []*Pointer { return fk.local }

// Remote returns the compiled pointers into the referenced schema.
func (fk *ForeignKey) Remote() []*Pointer { return fk.remote }

// Definition is a parsed schema document.
type Definition struct {
	Key         string         `json:"x-lix-key" validate:"required,max=255"`
	Version     string         `json:"x-lix-version" validate:"required"`
	PrimaryKey  []string       `json:"x-lix-primary-key,omitempty" validate:"omitempty,dive,required"`
	Unique      [][]string     `json:"x-lix-unique,omitempty" validate:"omitempty,dive,min=1,dive,required"`
	ForeignKeys []ForeignKey   `json:"x-lix-foreign-keys,omitempty" validate:"omitempty,dive"`
	Immutable   bool           `json:"x-lix-immutable,omitempty"`
	Type        string         `json:"type" validate:"eq=object"`
	Properties  map[string]any `json:"properties,omitempty"`

	raw        json.RawMessage
	structural *spec.Schema
	primaryKey []*Pointer
	unique     [][]*Pointer
}

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func definitionValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
		structValidator.RegisterStructValidation(validateForeignKeyArity, ForeignKey{})
	})
	return structValidator
}

func validateForeignKeyArity(sl validator.StructLevel) {
	fk := sl.Current().Interface().(ForeignKey)
	if len(fk.Properties) != len(fk.References.Properties) {
		sl.ReportError(fk.Properties, "Properties", "properties", "fkarity", "")
	}
}

// Parse decodes and checks a schema document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSchema, err)
	}
	def.raw = append(json.RawMessage(nil), data...)

	if err := definitionValidator().Struct(&def); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidSchema, describeValidation(err))
	}
	if strings.ContainsAny(def.Key, " /") {
		return nil, fmt.Errorf("%w: key %q must not contain spaces or slashes", common.ErrInvalidSchema, def.Key)
	}

	var err error
	if def.primaryKey, err = def.compile(def.PrimaryKey); err != nil {
		return nil, err
	}
	for _, group := range def.Unique {
		ptrs, err := def.compile(group)
		if err != nil {
			return nil, err
		}
		def.unique = append(def.unique, ptrs)
	}
	for i := range def.ForeignKeys {
		fk := &def.ForeignKeys[i]
		if fk.Mode == "" {
			fk.Mode = ModeImmediate
		}
		if fk.local, err = def.compile(fk.Properties); err != nil {
			return nil, err
		}
		// Remote pointers are checked against the referenced schema at registration.
		for _, s := range fk.References.Properties {
			p, err := ParsePointer(s)
			if err != nil {
				return nil, err
			}
			fk.remote = append(fk.remote, p)
		}
	}

	var structural spec.Schema
	if err := json.Unmarshal(data, &structural); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidSchema, err)
	}
	def.structural = &structural
	return &def, nil
}

// MustParse is Parse for built-in definitions.
func MustParse(data string) *Definition {
	def, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return def
}

// compile parses pointers and checks that each starts at a declared property.
func (d *Definition) compile(raw []string) ([]*Pointer, error) {
	out := make([]*Pointer, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePointer(s)
		if err != nil {
			return nil, err
		}
		if !d.declares(p.Property()) {
			return nil, fmt.Errorf("%w: pointer %s does not reference a declared property of %s",
				common.ErrInvalidSchema, p, d.Key)
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Definition) declares(property string) bool {
	if len(d.Properties) == 0 {
		return true
	}
	_, ok := d.Properties[property]
	return ok
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// Raw returns the original document.
func (d *Definition) Raw() json.RawMessage { return d.raw }

// PrimaryKeyPointers returns the compiled primary key, or nil.
func (d *Definition) PrimaryKeyPointers() []*Pointer { return d.primaryKey }

// UniquePointers returns the compiled unique groups.
func (d *Definition) UniquePointers() [][]*Pointer { return d.unique }

// HasPrimaryKey reports whether the schema declares a primary key.
func (d *Definition) HasPrimaryKey() bool { return len(d.primaryKey) > 0 }

// Conforms checks a snapshot against the structural part of the schema.
func (d *Definition) Conforms(snapshot map[string]any) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is null")
	}
	return validate.AgainstSchema(d.structural, snapshot, strfmt.Default)
}

// EntityID derives the entity id from the primary key values. A single
// value is used as-is. Composite keys escape each part as a pointer segment
// and join them with "/", so distinct key tuples never share an id.
func (d *Definition) EntityID(snapshot map[string]any) (string, bool) {
	if !d.HasPrimaryKey() {
		return "", false
	}
	values := Values(snapshot, d.primaryKey)
	if HasNull(values) {
		return "", false
	}
	parts := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case string:
			parts[i] = x
		default:
			b, _ := json.Marshal(x)
			parts[i] = string(b)
		}
	}
	if len(parts) == 1 {
		return parts[0], true
	}
	for i := range parts {
		parts[i] = EscapeSegment(parts[i])
	}
	return strings.Join(parts, "/"), true
}
