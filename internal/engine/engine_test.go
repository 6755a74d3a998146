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

package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/onsi/gomega"

	"lix/internal/common"
	"lix/internal/schema"
	"lix/internal/state"
	"lix/internal/storage"
)

const docSchema = `{
	"x-lix-key": "doc",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"title": {"type": "string"}
	},
	"required": ["id"]
}`

const authorSchema = `{
	"x-lix-key": "author",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"type": "object",
	"properties": {"id": {"type": "string"}, "name": {"type": "string"}},
	"required": ["id"]
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
	"properties": {"id": {"type": "string"}, "author_id": {"type": "string"}},
	"required": ["id", "author_id"]
}`

// testEnv is an engine on a fresh store with the test schemas registered.
type testEnv struct {
	t    *testing.T
	g    *WithT
	ctx  context.Context
	path string
	lix  *Lix
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	g := NewWithT(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.lix")

	lix, err := Open(ctx, path, Options{})
	g.Expect(err).NotTo(HaveOccurred())
	for _, s := range []string{docSchema, authorSchema, postSchema} {
		_, err := lix.RegisterSchema(ctx, []byte(s))
		g.Expect(err).NotTo(HaveOccurred())
	}
	e := &testEnv{t: t, g: g, ctx: ctx, path: path, lix: lix}
	t.Cleanup(func() { e.lix.Close() })
	return e
}

func (e *testEnv) reopen() {
	e.t.Helper()
	e.g.Expect(e.lix.Close()).To(Succeed())
	lix, err := Open(e.ctx, e.path, Options{})
	e.g.Expect(err).NotTo(HaveOccurred())
	e.lix = lix
}

func (e *testEnv) put(version, key string, snapshot map[string]any) {
	e.t.Helper()
	_, err := e.lix.InsertIn(e.ctx, version, Mutation{SchemaKey: key, Snapshot: snapshot})
	e.g.Expect(err).NotTo(HaveOccurred())
}

func (e *testEnv) commit(version string) string {
	e.t.Helper()
	id, err := e.lix.Commit(e.ctx, version, CommitOptions{})
	e.g.Expect(err).NotTo(HaveOccurred())
	return id
}

func (e *testEnv) branch(name, parent string) {
	e.t.Helper()
	_, err := e.lix.CreateVersion(e.ctx, CreateVersionOptions{ID: name, Name: name, InheritsFrom: &parent})
	e.g.Expect(err).NotTo(HaveOccurred())
}

func (e *testEnv) title(version, id string) (string, *string) {
	e.t.Helper()
	s, err := e.lix.GetIn(e.ctx, version, "doc", id)
	e.g.Expect(err).NotTo(HaveOccurred())
	return s.Snapshot["title"].(string), s.InheritedFromVersionID
}

func TestBootstrap(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	versions, err := e.lix.Versions(e.ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(versions).To(HaveLen(2))

	active, err := e.lix.ActiveVersion(e.ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(active.ID).To(Equal(MainVersionID))
	g.Expect(active.InheritsFromVersionID).NotTo(BeNil())
	g.Expect(*active.InheritsFromVersionID).To(Equal(GlobalVersionID))

	root, err := e.lix.GetCommit(e.ctx, active.CommitID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(root.ParentIDs).To(BeEmpty())

	// Reopening does not bootstrap again.
	e.reopen()
	versions, err = e.lix.Versions(e.ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(versions).To(HaveLen(2))
}

func TestMainFeatureScenario(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "doc", "title": "A"})
	e.commit("main")
	e.branch("feature", "main")

	title, from := e.title("feature", "doc")
	g.Expect(title).To(Equal("A"))
	g.Expect(from).NotTo(BeNil())
	g.Expect(*from).To(Equal("main"))

	_, err := e.lix.UpdateIn(e.ctx, "feature", Mutation{
		SchemaKey: "doc", EntityID: "doc", Snapshot: map[string]any{"id": "doc", "title": "B"},
	})
	g.Expect(err).NotTo(HaveOccurred())

	title, from = e.title("feature", "doc")
	g.Expect(title).To(Equal("B"))
	g.Expect(from).To(BeNil())

	title, from = e.title("main", "doc")
	g.Expect(title).To(Equal("A"))
	g.Expect(from).To(BeNil())
}

func TestDiamondInheritance(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.branch("A", GlobalVersionID)
	e.put("A", "doc", map[string]any{"id": "x", "title": "A"})
	e.commit("A")
	e.branch("B", "A")
	e.branch("C", "A")
	for _, v := range []string{"B", "C"} {
		_, err := e.lix.UpdateIn(e.ctx, v, Mutation{SchemaKey: "doc", EntityID: "x",
			Snapshot: map[string]any{"id": "x", "title": v}})
		g.Expect(err).NotTo(HaveOccurred())
		e.commit(v)
	}
	e.branch("D", "B")

	title, from := e.title("D", "x")
	g.Expect(title).To(Equal("B"))
	g.Expect(*from).To(Equal("B"))

	first, err := e.lix.Materialize(e.ctx, "D", "doc", "x")
	g.Expect(err).NotTo(HaveOccurred())
	second, err := e.lix.Materialize(e.ctx, "D", "doc", "x")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(second).To(Equal(first))

	ancestry, err := e.lix.VersionAncestry(e.ctx, "D")
	g.Expect(err).NotTo(HaveOccurred())
	ids := make([]string, 0, len(ancestry))
	for i, a := range ancestry {
		g.Expect(a.Depth).To(Equal(i))
		ids = append(ids, a.AncestorID)
	}
	g.Expect(ids).To(Equal([]string{"D", "B", "A", GlobalVersionID}))
}

func TestTombstoneOfInheritedEntity(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "x", "title": "parent"})
	e.commit("main")
	e.branch("child", "main")

	g.Expect(e.lix.DeleteIn(e.ctx, "child", Mutation{SchemaKey: "doc", EntityID: "x"})).To(Succeed())

	s, err := e.lix.Materialize(e.ctx, "child", "doc", "x")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Snapshot).To(BeNil())
	g.Expect(s.InheritedFromVersionID).To(BeNil())

	_, err = e.lix.GetIn(e.ctx, "child", "doc", "x")
	g.Expect(err).To(MatchError(common.ErrNotFound))

	title, from := e.title("main", "x")
	g.Expect(title).To(Equal("parent"))
	g.Expect(from).To(BeNil())

	// Committing the tombstone keeps it hidden in the child.
	e.commit("child")
	rows, err := e.lix.SelectIn(e.ctx, "child", state.Options{Filter: state.Filter{SchemaKey: "doc"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(BeEmpty())

	err = e.lix.DeleteIn(e.ctx, "child", Mutation{SchemaKey: "doc", EntityID: "x"})
	g.Expect(err).To(MatchError(common.ErrEntityNotFoundForDelete))
}

func TestPrimaryKeyAcrossVersions(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "x", "title": "one"})
	_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "doc",
		Snapshot: map[string]any{"id": "x", "title": "two"}})
	g.Expect(err).To(MatchError(common.ErrPrimaryKeyViolation))
	kind, ok := common.KindOf(err)
	g.Expect(ok).To(BeTrue())
	g.Expect(kind).To(Equal(common.KindPrimaryKeyViolation))

	_, err = e.lix.CreateVersion(e.ctx, CreateVersionOptions{ID: "solo", Standalone: true})
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.lix.InsertIn(e.ctx, "solo", Mutation{SchemaKey: "doc",
		Snapshot: map[string]any{"id": "x", "title": "two"}})
	g.Expect(err).NotTo(HaveOccurred())
}

func TestInsertNeverReplacesAnEntity(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "d1", "title": "first"})
	_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "doc", EntityID: "d1",
		Snapshot: map[string]any{"id": "d2", "title": "second"}})
	g.Expect(err).To(MatchError(common.ErrPrimaryKeyViolation))

	title, _ := e.title("main", "d1")
	g.Expect(title).To(Equal("first"))
	_, err = e.lix.GetIn(e.ctx, "main", "doc", "d2")
	g.Expect(err).To(MatchError(common.ErrNotFound))

	// Inherited entities are protected the same way.
	e.commit("main")
	e.branch("child", "main")
	_, err = e.lix.InsertIn(e.ctx, "child", Mutation{SchemaKey: "doc", EntityID: "d1",
		Snapshot: map[string]any{"id": "d3", "title": "third"}})
	g.Expect(err).To(MatchError(common.ErrPrimaryKeyViolation))
}

func TestCompositePrimaryKey(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	_, err := e.lix.RegisterSchema(e.ctx, []byte(`{
		"x-lix-key": "pair",
		"x-lix-version": "1.0",
		"x-lix-primary-key": ["/a", "/b"],
		"type": "object",
		"properties": {"a": {"type": "string"}, "b": {"type": "string"}},
		"required": ["a", "b"]
	}`))
	g.Expect(err).NotTo(HaveOccurred())

	first, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "pair",
		Snapshot: map[string]any{"a": "x~y", "b": "z"}})
	g.Expect(err).NotTo(HaveOccurred())
	second, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "pair",
		Snapshot: map[string]any{"a": "x", "b": "y~z"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(first.EntityID).NotTo(Equal(second.EntityID))

	rows, err := e.lix.SelectIn(e.ctx, "main", state.Options{Filter: state.Filter{SchemaKey: "pair"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(2))

	s, err := e.lix.GetIn(e.ctx, "main", "pair", first.EntityID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Snapshot).To(Equal(map[string]any{"a": "x~y", "b": "z"}))
}

func TestForeignKeyImmediate(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "post",
		Snapshot: map[string]any{"id": "p1", "author_id": "a1"}})
	g.Expect(err).To(MatchError(common.ErrForeignKeyViolation))

	e.put("main", "author", map[string]any{"id": "a1", "name": "Ada"})
	e.put("main", "post", map[string]any{"id": "p1", "author_id": "a1"})

	post, err := e.lix.GetIn(e.ctx, "main", "post", "p1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(post.Snapshot).To(HaveKeyWithValue("author_id", "a1"))
}

func TestCommitFlush(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	before, err := e.lix.Version(e.ctx, "main")
	g.Expect(err).NotTo(HaveOccurred())

	var mu sync.Mutex
	var events []CommitEvent
	unsubscribe := e.lix.OnCommit(func(ev CommitEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	e.put("main", "doc", map[string]any{"id": "a", "title": "1"})
	e.put("main", "doc", map[string]any{"id": "b", "title": "1"})
	_, err = e.lix.UpdateIn(e.ctx, "main", Mutation{SchemaKey: "doc", EntityID: "a",
		Snapshot: map[string]any{"id": "a", "title": "2"}})
	g.Expect(err).NotTo(HaveOccurred())

	pending, err := e.lix.Materialize(e.ctx, "main", "doc", "a")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(pending.Depth).To(Equal(state.PendingDepth))

	commitID, err := e.lix.Commit(e.ctx, "main", CommitOptions{Message: "two docs"})
	g.Expect(err).NotTo(HaveOccurred())

	after, err := e.lix.Version(e.ctx, "main")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(after.CommitID).To(Equal(commitID))

	commit, err := e.lix.GetCommit(e.ctx, commitID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(commit.ParentIDs).To(Equal([]string{before.CommitID}))
	g.Expect(commit.Message).To(Equal("two docs"))

	s, err := e.lix.Materialize(e.ctx, "main", "doc", "a")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Snapshot["title"]).To(Equal("2"))
	g.Expect(s.Depth).To(Equal(0))
	g.Expect(s.CommitID).To(Equal(commitID))

	mu.Lock()
	g.Expect(events).To(HaveLen(1))
	g.Expect(events[0].CommitID).To(Equal(commitID))
	g.Expect(events[0].ChangeIDs).To(HaveLen(2), "superseded pending changes are collapsed")
	mu.Unlock()

	_, err = e.lix.Commit(e.ctx, "main", CommitOptions{})
	g.Expect(err).To(MatchError(common.ErrNothingToCommit))

	unsubscribe()
	e.put("main", "doc", map[string]any{"id": "c", "title": "1"})
	e.commit("main")
	mu.Lock()
	g.Expect(events).To(HaveLen(1))
	mu.Unlock()

	history, err := e.lix.History(e.ctx, "main", "doc", "a")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(history).To(HaveLen(1), "only the collapsed change is part of the commit graph")
}

func TestCommitAuthor(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	account, err := e.lix.CreateAccount(e.ctx, "Ada")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(e.lix.SetActiveAccount(e.ctx, account.ID)).To(Succeed())
	g.Expect(e.lix.SetActiveAccount(e.ctx, "ghost")).To(MatchError(common.ErrNotFound))

	e.put("main", "doc", map[string]any{"id": "a", "title": "1"})
	commitID := e.commit("main")

	authors, err := e.lix.CommitAuthors(e.ctx, commitID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(authors).To(Equal([]string{account.ID}))

	active, err := e.lix.ActiveAccount(e.ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(active.Name).To(Equal("Ada"))
}

func TestMerge(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "a", "title": "main"})
	e.commit("main")
	_, err := e.lix.CreateVersion(e.ctx, CreateVersionOptions{ID: "topic", Standalone: true})
	g.Expect(err).NotTo(HaveOccurred())
	e.put("topic", "doc", map[string]any{"id": "b", "title": "topic"})
	e.commit("topic")

	mainBefore, _ := e.lix.Version(e.ctx, "main")
	topic, _ := e.lix.Version(e.ctx, "topic")
	mergeID, err := e.lix.Merge(e.ctx, "main", "topic")
	g.Expect(err).NotTo(HaveOccurred())

	commit, err := e.lix.GetCommit(e.ctx, mergeID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(commit.ParentIDs).To(ConsistOf(mainBefore.CommitID, topic.CommitID))

	rows, err := e.lix.SelectIn(e.ctx, "main", state.Options{Filter: state.Filter{SchemaKey: "doc"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(2))
}

func TestVersionManagement(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.branch("feature", "main")
	_, err := e.lix.CreateVersion(e.ctx, CreateVersionOptions{Name: "feature"})
	g.Expect(err).To(MatchError(common.ErrExists))

	ghost := "ghost"
	_, err = e.lix.CreateVersion(e.ctx, CreateVersionOptions{Name: "x", InheritsFrom: &ghost})
	g.Expect(err).To(MatchError(common.ErrVersionNotFound))

	v, err := e.lix.SwitchVersion(e.ctx, "feature")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v.ID).To(Equal("feature"))
	_, err = e.lix.Insert(e.ctx, Mutation{SchemaKey: "doc", Snapshot: map[string]any{"id": "d", "title": "t"}})
	g.Expect(err).NotTo(HaveOccurred())
	s, err := e.lix.Get(e.ctx, "doc", "d")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.VersionID).To(Equal("feature"))
	_, err = e.lix.GetIn(e.ctx, "main", "doc", "d")
	g.Expect(err).To(MatchError(common.ErrNotFound))

	feature := "feature"
	err = e.lix.SetInheritance(e.ctx, "main", &feature)
	g.Expect(err).To(MatchError(common.ErrVersionInheritanceCycle))
	g.Expect(e.lix.SetInheritance(e.ctx, "feature", nil)).To(Succeed())
	g.Expect(e.lix.SetInheritance(e.ctx, "main", &feature)).To(Succeed())

	// Branching from an existing commit shares its history.
	e.commit("feature")
	tip, _ := e.lix.Version(e.ctx, "feature")
	_, err = e.lix.CreateVersion(e.ctx, CreateVersionOptions{ID: "fork", FromCommitID: tip.CommitID, Standalone: true})
	g.Expect(err).NotTo(HaveOccurred())
	s, err = e.lix.GetIn(e.ctx, "fork", "doc", "d")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.InheritedFromVersionID).To(BeNil())
}

func TestUntrackedState(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "doc", Untracked: true,
		Snapshot: map[string]any{"id": "u", "title": "local"}})
	g.Expect(err).NotTo(HaveOccurred())
	e.branch("child", "main")

	s, err := e.lix.GetIn(e.ctx, "main", "doc", "u")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Untracked).To(BeTrue())

	_, err = e.lix.Commit(e.ctx, "main", CommitOptions{})
	g.Expect(err).To(MatchError(common.ErrNothingToCommit))

	_, err = e.lix.GetIn(e.ctx, "child", "doc", "u")
	g.Expect(err).To(MatchError(common.ErrNotFound))

	changes, err := e.lix.Changes(e.ctx, storage.ChangeFilter{SchemaKey: "doc"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(changes).To(BeEmpty())

	g.Expect(e.lix.DeleteIn(e.ctx, "main", Mutation{SchemaKey: "doc", EntityID: "u", Untracked: true})).To(Succeed())
	_, err = e.lix.GetIn(e.ctx, "main", "doc", "u")
	g.Expect(err).To(MatchError(common.ErrNotFound))
}

func TestBuiltinSchemasAreEngineManaged(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: schema.KeyVersion,
		Snapshot: map[string]any{"id": "v", "name": "v", "commit_id": "c"}})
	g.Expect(err).To(MatchError(common.ErrInvalidOperation))

	_, err = e.lix.RegisterSchema(e.ctx, []byte(`{"x-lix-key": "lix_commit", "x-lix-version": "9", "type": "object"}`))
	g.Expect(err).To(MatchError(common.ErrInvalidSchema))

	// Commits and tip moves are recorded in the change log.
	e.put("main", "doc", map[string]any{"id": "a", "title": "1"})
	commitID := e.commit("main")
	changes, err := e.lix.Changes(e.ctx, storage.ChangeFilter{SchemaKey: schema.KeyCommit, EntityID: commitID})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(changes).To(HaveLen(1))
	g.Expect(changes[0].Snapshot).To(HaveKeyWithValue("id", commitID))

	tips, err := e.lix.Changes(e.ctx, storage.ChangeFilter{SchemaKey: schema.KeyVersion, EntityID: "main"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tips[len(tips)-1].Snapshot).To(HaveKeyWithValue("commit_id", commitID))
}

func TestSchemasPersist(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	_, err := e.lix.RegisterSchema(e.ctx, []byte(docSchema))
	g.Expect(err).To(MatchError(common.ErrExists))

	e.reopen()
	def, err := e.lix.Schema("post", "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(def.ForeignKeys).To(HaveLen(1))
	g.Expect(e.lix.Schemas()).To(HaveLen(7))
}

func TestExportImportRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "author", map[string]any{"id": "a1", "name": "Ada"})
	e.commit("main")
	e.branch("feature", "main")
	e.put("feature", "post", map[string]any{"id": "p1", "author_id": "a1"})

	var blob bytes.Buffer
	g.Expect(e.lix.Export(e.ctx, &blob)).To(Succeed())

	copyPath := filepath.Join(t.TempDir(), "copy.lix")
	imported, err := OpenFromBlob(e.ctx, copyPath, &blob, Options{})
	g.Expect(err).NotTo(HaveOccurred())
	defer imported.Close()

	for _, v := range []string{"main", "feature"} {
		want, err := e.lix.SelectIn(e.ctx, v, state.Options{})
		g.Expect(err).NotTo(HaveOccurred())
		got, err := imported.SelectIn(e.ctx, v, state.Options{})
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(got).To(Equal(want))
	}

	active, err := imported.ActiveVersion(e.ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(active.ID).To(Equal(MainVersionID))

	_, err = OpenFromBlob(e.ctx, copyPath, &blob, Options{})
	g.Expect(err).To(MatchError(common.ErrExists))
}

func TestCyclicEdgesTerminate(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	e.put("main", "doc", map[string]any{"id": "a", "title": "1"})
	tip := e.commit("main")
	commit, _ := e.lix.GetCommit(e.ctx, tip)

	// Corrupt the graph: the root now has the tip as parent.
	store := e.lix.Store()
	g.Expect(store.DB().InsertCommitEdgesWith(store.DB().DB, e.ctx, commit.ParentIDs[0], []string{tip})).To(Succeed())
	e.lix.view.Graphs().Invalidate()

	rows, err := e.lix.CommitGraph(e.ctx, "main")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(2))

	title, _ := e.title("main", "a")
	g.Expect(title).To(Equal("1"))
}

func TestVerifyCommitGraph(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	lix, err := Open(ctx, filepath.Join(t.TempDir(), "store.lix"), Options{VerifyCommitGraph: true})
	g.Expect(err).NotTo(HaveOccurred())
	defer lix.Close()

	main, err := lix.Version(ctx, "main")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = lix.Commit(ctx, "main", CommitOptions{Parents: []string{main.CommitID}})
	g.Expect(err).To(MatchError(common.ErrNothingToCommit), "the tip is never its own extra parent")

	_, err = lix.Commit(ctx, "main", CommitOptions{Parents: []string{"missing"}})
	g.Expect(err).To(MatchError(common.ErrNotFound))

	global, err := lix.Version(ctx, GlobalVersionID)
	g.Expect(err).NotTo(HaveOccurred())
	id, err := lix.Commit(ctx, "main", CommitOptions{Parents: []string{global.CommitID}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id).NotTo(BeEmpty())
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := e.lix.InsertIn(e.ctx, "main", Mutation{SchemaKey: "doc",
				Snapshot: map[string]any{"id": string(rune('a' + i)), "title": "t"}})
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			_, err := e.lix.SelectIn(e.ctx, "main", state.Options{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		g.Expect(err).NotTo(HaveOccurred())
	}

	rows, err := e.lix.SelectIn(e.ctx, "main", state.Options{Filter: state.Filter{SchemaKey: "doc"}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(20))
}
