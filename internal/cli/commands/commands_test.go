package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"lix/internal/common"
	"lix/internal/config"
	"lix/internal/engine"
	"lix/internal/state"
)

const todoSchema = `{
	"x-lix-key": "todo",
	"x-lix-version": "1.0",
	"x-lix-primary-key": ["/id"],
	"type": "object",
	"properties": {"id": {"type": "string"}, "title": {"type": "string"}},
	"required": ["id", "title"]
}`

// cliEnv runs commands in-process against an isolated config dir and store.
type cliEnv struct {
	t     *testing.T
	g     *WithT
	dir   string
	store string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, filepath.Join(dir, "config"))
	return &cliEnv{t: t, g: NewWithT(t), dir: dir, store: filepath.Join(dir, "project", "store.lix")}
}

// resetFlags restores every flag to its default so values do not leak
// between runs of the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI and returns what it printed to stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	resetFlags(rootCmd)

	r, w, err := os.Pipe()
	e.g.Expect(err).NotTo(HaveOccurred())
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(&out, r)
		close(done)
	}()

	rootCmd.SetArgs(append([]string{"--store", e.store}, args...))
	rootCmd.SetErr(io.Discard)
	runErr := rootCmd.ExecuteContext(context.Background())
	w.Close()
	<-done
	return out.String(), runErr
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	e.g.Expect(err).NotTo(HaveOccurred(), "lix %s", strings.Join(args, " "))
	return out
}

func (e *cliEnv) open() *engine.Lix {
	e.t.Helper()
	lx, err := engine.Open(context.Background(), e.store, engine.Options{})
	e.g.Expect(err).NotTo(HaveOccurred())
	e.t.Cleanup(func() { lx.Close() })
	return lx
}

func (e *cliEnv) registerTodo() {
	e.t.Helper()
	path := filepath.Join(e.dir, "todo.json")
	e.g.Expect(os.WriteFile(path, []byte(todoSchema), 0644)).To(Succeed())
	e.mustRun("schema", "add", "@"+path)
}

func TestInit(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g

	_, err := e.run("version", "ls")
	g.Expect(err).To(MatchError(ContainSubstring("lix init")))

	out := e.mustRun("init")
	g.Expect(out).To(ContainSubstring("Initialized empty lix store"))
	out = e.mustRun("init")
	g.Expect(out).To(ContainSubstring("Reinitialized existing lix store"))

	_, err = os.Stat(config.SettingsPath())
	g.Expect(err).NotTo(HaveOccurred())

	out = e.mustRun("version", "ls")
	g.Expect(out).To(ContainSubstring("main"))
	g.Expect(out).To(ContainSubstring("global"))
}

func TestSchemaCommands(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g
	e.mustRun("init")
	e.registerTodo()

	out := e.mustRun("schema", "ls")
	g.Expect(out).To(ContainSubstring("todo"))
	g.Expect(out).To(ContainSubstring("lix_commit"))

	out = e.mustRun("schema", "show", "todo")
	g.Expect(out).To(ContainSubstring(`"x-lix-key": "todo"`))

	_, err := e.run("schema", "add", todoSchema)
	g.Expect(err).To(MatchError(common.ErrExists))
}

func TestStateAndCommitFlow(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g
	e.mustRun("init")
	e.registerTodo()

	e.mustRun("state", "insert", "todo", `{"id": "t1", "title": "write docs"}`)
	out := e.mustRun("state", "ls")
	g.Expect(out).To(ContainSubstring("pending"))

	_, err := e.run("state", "insert", "todo", `{"id": "t2"}`)
	g.Expect(err).To(MatchError(common.ErrSchemaValidationFailed))

	out = e.mustRun("commit", "-m", "first todo")
	g.Expect(out).To(ContainSubstring("first todo"))
	_, err = e.run("commit")
	g.Expect(err).To(MatchError(common.ErrNothingToCommit))

	e.mustRun("version", "create", "feature", "--from", "main")
	e.mustRun("state", "update", "todo", "t1", `{"id": "t1", "title": "ship"}`, "--version", "feature")

	out = e.mustRun("state", "get", "todo", "t1")
	g.Expect(out).To(ContainSubstring(`"write docs"`))
	out = e.mustRun("state", "get", "todo", "t1", "--version", "feature")
	g.Expect(out).To(ContainSubstring(`"ship"`))

	e.mustRun("version", "switch", "feature")
	e.mustRun("state", "delete", "todo", "t1")
	_, err = e.run("state", "get", "todo", "t1")
	g.Expect(err).To(MatchError(common.ErrNotFound))
	out = e.mustRun("state", "ls", "--tombstones")
	g.Expect(out).To(ContainSubstring("deleted"))

	out = e.mustRun("log", "--version", "main")
	g.Expect(out).To(ContainSubstring("first todo"))

	out = e.mustRun("history", "todo", "t1", "--version", "main")
	g.Expect(out).To(ContainSubstring(`"write docs"`))

	lx := e.open()
	active, err := lx.ActiveVersion(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(active.Name).To(Equal("feature"))
}

func TestVersionInheritCycle(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g
	e.mustRun("init")

	e.mustRun("version", "create", "a", "--from", "main")
	e.mustRun("version", "create", "b", "--from", "a")
	_, err := e.run("version", "inherit", "a", "b")
	g.Expect(err).To(MatchError(common.ErrVersionInheritanceCycle))

	e.mustRun("version", "inherit", "a")
	out := e.mustRun("version", "inherit", "main", "b")
	g.Expect(out).To(ContainSubstring("now inherits from b"))
}

func TestMergeAndAuthors(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g
	e.mustRun("init")
	e.registerTodo()

	e.mustRun("account", "add", "ada", "--use")
	e.mustRun("version", "create", "topic", "--standalone")
	e.mustRun("state", "insert", "todo", `{"id": "t1", "title": "a"}`, "--version", "topic")
	e.mustRun("commit", "--version", "topic")
	e.mustRun("merge", "topic")

	lx := e.open()
	ctx := context.Background()
	rows, err := lx.Select(ctx, state.Filter{SchemaKey: "todo"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows).To(HaveLen(1))

	main, err := lx.Version(ctx, "main")
	g.Expect(err).NotTo(HaveOccurred())
	authors, err := lx.CommitAuthors(ctx, main.CommitID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(authors).To(HaveLen(1))
}

func TestExportImport(t *testing.T) {
	e := newCLIEnv(t)
	g := e.g
	e.mustRun("init")
	e.registerTodo()
	e.mustRun("state", "insert", "todo", `{"id": "t1", "title": "a"}`)
	e.mustRun("commit")

	blob := filepath.Join(e.dir, "store.blob")
	e.mustRun("export", blob)

	original := e.store
	e.store = filepath.Join(e.dir, "copy", "store.lix")
	e.mustRun("import", blob)
	out := e.mustRun("state", "get", "todo", "t1")
	g.Expect(out).To(ContainSubstring(`"title": "a"`))

	_, err := e.run("import", blob)
	g.Expect(err).To(MatchError(common.ErrExists))
	e.store = original
}
