package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lix/internal/common"
)

const authorSchema = `{
	"x-lix-key": "author",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"x-lix-unique": [["/email"]],
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"email": {"type": "string"},
		"name": {"type": "string"}
	},
	"required": ["id"],
	"additionalProperties": false
}`

const postSchema = `{
	"x-lix-key": "post",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"x-lix-foreign-keys": [{
		"properties": ["/author_id"],
		"references": {"schemaKey": "author", "properties": ["/id"]}
	}],
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"author_id": {"type": "string"},
		"meta": {"type": "object"}
	},
	"required": ["id", "author_id"]
}`

func TestParsePointer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		want     string
		property string
	}{
		{"simple", "/id", "/id", "id"},
		{"bare name", "id", "/id", "id"},
		{"nested", "/meta/slug", "/meta/slug", "meta"},
		{"escaped slash", "/a~1b", "/a~1b", "a/b"},
		{"escaped tilde", "/a~0b", "/a~0b", "a~b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := ParsePointer(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.property, p.Property())
		})
	}

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		for _, s := range []string{"", "/", "/a//b"} {
			_, err := ParsePointer(s)
			assert.ErrorIs(t, err, common.ErrInvalidSchema, "pointer %q", s)
		}
	})
}

func TestEscapeSegment(t *testing.T) {
	t.Parallel()

	for _, seg := range []string{"plain", "a~b", "a/b", "~1", "~0/~"} {
		p, err := ParsePointer("/" + EscapeSegment(seg))
		require.NoError(t, err)
		assert.Equal(t, seg, p.Property())
	}
}

func TestPointerGet(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"id":   "p1",
		"null": nil,
		"meta": map[string]any{"slug": "hello", "a/b": 1.0},
		"tags": []any{"x", "y"},
	}

	assert.Equal(t, "p1", MustPointer("/id").Get(doc))
	assert.Equal(t, "hello", MustPointer("/meta/slug").Get(doc))
	assert.Equal(t, 1.0, MustPointer("/meta/a~1b").Get(doc))
	assert.Equal(t, "y", MustPointer("/tags/1").Get(doc))
	assert.Nil(t, MustPointer("/null").Get(doc))
	assert.Nil(t, MustPointer("/missing").Get(doc))
	assert.Nil(t, MustPointer("/id").Get(nil))

	values := Values(doc, []*Pointer{MustPointer("/id"), MustPointer("/missing")})
	assert.Equal(t, []any{"p1", nil}, values)
	assert.True(t, HasNull(values))
	assert.False(t, HasNull(values[:1]))
}

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		def, err := Parse([]byte(postSchema))
		require.NoError(t, err)
		assert.Equal(t, "post", def.Key)
		assert.Equal(t, "1.0", def.Version)
		assert.Equal(t, []string{"/id"}, Strings(def.PrimaryKeyPointers()))
		require.Len(t, def.ForeignKeys, 1)
		assert.Equal(t, ModeImmediate, def.ForeignKeys[0].Mode, "mode defaults to immediate")
		assert.Equal(t, Capabilities{PrimaryKey: true, ForeignKeys: true}, def.Capabilities())
	})

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing key", `{"x-lix-version": "1.0", "type": "object"}`},
		{"missing version", `{"x-lix-key": "a", "type": "object"}`},
		{"not an object schema", `{"x-lix-key": "a", "x-lix-version": "1.0", "type": "string"}`},
		{"key with slash", `{"x-lix-key": "a/b", "x-lix-version": "1.0", "type": "object"}`},
		{"undeclared primary key", `{"x-lix-key": "a", "x-lix-version": "1.0", "type": "object",
			"properties": {"id": {"type": "string"}}, "x-lix-primary-key": ["/nope"]}`},
		{"empty unique group", `{"x-lix-key": "a", "x-lix-version": "1.0", "type": "object",
			"x-lix-unique": [[]]}`},
		{"foreign key arity", `{"x-lix-key": "a", "x-lix-version": "1.0", "type": "object",
			"x-lix-foreign-keys": [{"properties": ["/x", "/y"], "references": {"schemaKey": "b", "properties": ["/id"]}}]}`},
		{"bad foreign key mode", `{"x-lix-key": "a", "x-lix-version": "1.0", "type": "object",
			"x-lix-foreign-keys": [{"properties": ["/x"], "references": {"schemaKey": "b", "properties": ["/id"]}, "mode": "eventually"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, common.ErrInvalidSchema)
		})
	}
}

func TestDefinitionConforms(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(authorSchema))
	require.NoError(t, err)

	assert.NoError(t, def.Conforms(map[string]any{"id": "a1", "email": "a@x"}))
	assert.Error(t, def.Conforms(map[string]any{"email": "a@x"}), "missing required id")
	assert.Error(t, def.Conforms(map[string]any{"id": 42.0}), "wrong type")
	assert.Error(t, def.Conforms(map[string]any{"id": "a1", "extra": true}), "additional property")
	assert.Error(t, def.Conforms(nil))
}

func TestDefinitionEntityID(t *testing.T) {
	t.Parallel()

	def := MustParse(`{"x-lix-key": "pair", "x-lix-version": "1", "type": "object",
		"x-lix-primary-key": ["/a", "/b"]}`)
	id, ok := def.EntityID(map[string]any{"a": "x", "b": 2.0})
	assert.True(t, ok)
	assert.Equal(t, "x/2", id)

	first, _ := def.EntityID(map[string]any{"a": "x~y", "b": "z"})
	second, _ := def.EntityID(map[string]any{"a": "x", "b": "y~z"})
	assert.Equal(t, "x~0y/z", first)
	assert.Equal(t, "x/y~0z", second)
	assert.NotEqual(t, first, second)

	first, _ = def.EntityID(map[string]any{"a": "x/y", "b": "z"})
	second, _ = def.EntityID(map[string]any{"a": "x", "b": "y/z"})
	assert.NotEqual(t, first, second)

	single := MustParse(`{"x-lix-key": "one", "x-lix-version": "1", "type": "object",
		"x-lix-primary-key": ["/id"]}`)
	id, _ = single.EntityID(map[string]any{"id": "a~b/c"})
	assert.Equal(t, "a~b/c", id, "single keys are not escaped")

	_, ok = def.EntityID(map[string]any{"a": "x"})
	assert.False(t, ok)

	noPK := MustParse(`{"x-lix-key": "free", "x-lix-version": "1", "type": "object"}`)
	_, ok = noPK.EntityID(map[string]any{"a": "x"})
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("builtins are preloaded", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		for _, key := range []string{KeyCommit, KeyVersion, KeyCommitEdge, KeyAccount} {
			def, err := r.Lookup(key, BuiltinVersion)
			require.NoError(t, err, key)
			assert.True(t, IsBuiltin(def.Key))
		}
		commit, _ := r.Latest(KeyCommit)
		assert.True(t, commit.Capabilities().Immutable)
	})

	t.Run("register and lookup", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		require.NoError(t, r.Register(MustParse(authorSchema)))
		require.NoError(t, r.Register(MustParse(postSchema)))

		_, err := r.Lookup("author", "1.0")
		assert.NoError(t, err)
		_, err = r.Lookup("author", "2.0")
		assert.True(t, errors.Is(err, common.ErrSchemaVersionMismatch))
		_, err = r.Lookup("nope", "1.0")
		assert.True(t, errors.Is(err, common.ErrSchemaNotRegistered))

		err = r.Register(MustParse(authorSchema))
		assert.ErrorIs(t, err, common.ErrExists)

		refs := r.ReferencingSchemas("author")
		require.Len(t, refs, 1)
		assert.Equal(t, "post", refs[0].Definition.Key)
		assert.Empty(t, r.ReferencingSchemas("post"))
	})

	t.Run("foreign key target must exist", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		err := r.Register(MustParse(postSchema))
		assert.ErrorIs(t, err, common.ErrInvalidSchema)
	})

	t.Run("foreign key must hit primary key or unique group", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		require.NoError(t, r.Register(MustParse(authorSchema)))
		byName := MustParse(`{"x-lix-key": "c", "x-lix-version": "1", "type": "object",
			"x-lix-foreign-keys": [{"properties": ["/n"], "references": {"schemaKey": "author", "properties": ["/name"]}}]}`)
		assert.ErrorIs(t, r.Register(byName), common.ErrInvalidSchema)

		byEmail := MustParse(`{"x-lix-key": "d", "x-lix-version": "1", "type": "object",
			"x-lix-foreign-keys": [{"properties": ["/e"], "references": {"schemaKey": "author", "properties": ["/email"]}}]}`)
		assert.NoError(t, r.Register(byEmail))
	})

	t.Run("builtin keys cannot be registered", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		def := MustParse(`{"x-lix-key": "lix_commit", "x-lix-version": "2.0", "type": "object"}`)
		assert.ErrorIs(t, r.Register(def), common.ErrInvalidSchema)
	})

	t.Run("latest orders numerically", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		require.NoError(t, r.Register(MustParse(`{"x-lix-key": "v", "x-lix-version": "1.9", "type": "object"}`)))
		require.NoError(t, r.Register(MustParse(`{"x-lix-key": "v", "x-lix-version": "1.10", "type": "object"}`)))
		def, ok := r.Latest("v")
		require.True(t, ok)
		assert.Equal(t, "1.10", def.Version)
		assert.Equal(t, []string{"1.10", "1.9"}, r.Versions("v"))
	})
}
