package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"lix/internal/common"
)

// maxInParams bounds the number of ids bound into a single IN (...) clause.
const maxInParams = 500

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// ChangeFilter narrows change queries. Empty fields match everything.
type ChangeFilter struct {
	SchemaKey string
	EntityID  string
	FileID    string
}

func (f ChangeFilter) apply(alias string, conds []string, args []any) ([]string, []any) {
	if f.SchemaKey != "" {
		conds = append(conds, alias+".schema_key = ?")
		args = append(args, f.SchemaKey)
	}
	if f.EntityID != "" {
		conds = append(conds, alias+".entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.FileID != "" {
		conds = append(conds, alias+".file_id = ?")
		args = append(args, f.FileID)
	}
	return conds, args
}

// --- Schema info / config ---

// GetSchemaInfo retrieves a schema_info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetSchemaInfo sets a schema_info value (upserts).
func (db *BunDB) SetSchemaInfo(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&SchemaInfoModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// GetConfigValue retrieves a config value by key. Missing keys return "".
func (db *BunDB) GetConfigValue(ctx context.Context, key string) (string, error) {
	return db.GetConfigValueWith(db.DB, ctx, key)
}

// GetConfigValueWith is like GetConfigValue but uses the provided bun.IDB (for transaction support).
func (db *BunDB) GetConfigValueWith(idb bun.IDB, ctx context.Context, key string) (string, error) {
	var config ConfigModel
	err := idb.NewSelect().
		Model(&config).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return config.Value, nil
}

// SetConfigValueWith sets a config value (upserts).
func (db *BunDB) SetConfigValueWith(idb bun.IDB, ctx context.Context, key, value string) error {
	_, err := idb.NewInsert().
		Model(&ConfigModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Change log ---

// InsertChangeWith appends a change to the log and fills in its seq.
// Changes are never updated or deleted after this point.
func (db *BunDB) InsertChangeWith(idb bun.IDB, ctx context.Context, c *Change) error {
	model, err := NewChangeModel(c)
	if err != nil {
		return err
	}
	model.Seq = 0
	// Use RETURNING clause to get the seq (libsql doesn't support LastInsertId)
	if _, err := idb.NewInsert().
		Model(model).
		Returning("seq").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert change %s: %w", c.ID, err)
	}
	c.Seq = model.Seq
	c.CreatedAt = time.UnixMilli(model.CreatedAt)
	return nil
}

// GetChange returns a change by id.
func (db *BunDB) GetChange(ctx context.Context, id string) (*Change, error) {
	var model ChangeModel
	err := db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToChange()
}

// ListChanges returns changes in insertion order.
func (db *BunDB) ListChanges(ctx context.Context, filter ChangeFilter) ([]*Change, error) {
	var models []ChangeModel
	q := db.NewSelect().Model(&models)
	if filter.SchemaKey != "" {
		q = q.Where("schema_key = ?", filter.SchemaKey)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.FileID != "" {
		q = q.Where("file_id = ?", filter.FileID)
	}
	if err := q.OrderExpr("seq ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return toChanges(models)
}

func toChanges(models []ChangeModel) ([]*Change, error) {
	changes := make([]*Change, 0, len(models))
	for i := range models {
		c, err := models[i].ToChange()
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// CommitChange is a change reachable through a commit's change set.
type CommitChange struct {
	CommitID string
	Change   *Change
}

type commitChangeRow struct {
	CommitID      string         `bun:"commit_id"`
	Seq           int64          `bun:"seq"`
	ID            string         `bun:"id"`
	EntityID      string         `bun:"entity_id"`
	SchemaKey     string         `bun:"schema_key"`
	SchemaVersion string         `bun:"schema_version"`
	FileID        string         `bun:"file_id"`
	PluginKey     string         `bun:"plugin_key"`
	Snapshot      sql.NullString `bun:"snapshot"`
	Metadata      sql.NullString `bun:"metadata"`
	CreatedAt     int64          `bun:"created_at"`
}

// ChangesInCommitsWith returns every change that belongs to the change set of
// one of the given commits, joined with the commit id that carries it.
// Commit ids are bound in batches to stay under SQLite's parameter limit.
func (db *BunDB) ChangesInCommitsWith(idb bun.IDB, ctx context.Context, commitIDs []string, filter ChangeFilter) ([]CommitChange, error) {
	var result []CommitChange
	for start := 0; start < len(commitIDs); start += maxInParams {
		end := min(start+maxInParams, len(commitIDs))

		conds := []string{"c.id IN (?)"}
		args := []any{bun.In(commitIDs[start:end])}
		conds, args = filter.apply("e", conds, args)

		query := `
			SELECT c.id AS commit_id, ch.seq, ch.id, ch.entity_id, ch.schema_key, ch.schema_version,
			       ch.file_id, ch.plugin_key, ch.snapshot, ch.metadata, ch.created_at
			FROM commits c
			JOIN change_set_elements e ON e.change_set_id = c.change_set_id
			JOIN changes ch ON ch.id = e.change_id
			WHERE ` + strings.Join(conds, " AND ") + `
			ORDER BY ch.seq ASC`

		var rows []commitChangeRow
		if err := idb.NewRaw(query, args...).Scan(ctx, &rows); err != nil {
			return nil, fmt.Errorf("failed to query commit changes: %w", err)
		}
		for _, r := range rows {
			c, err := (&ChangeModel{
				Seq:           r.Seq,
				ID:            r.ID,
				EntityID:      r.EntityID,
				SchemaKey:     r.SchemaKey,
				SchemaVersion: r.SchemaVersion,
				FileID:        r.FileID,
				PluginKey:     r.PluginKey,
				Snapshot:      r.Snapshot,
				Metadata:      r.Metadata,
				CreatedAt:     r.CreatedAt,
			}).ToChange()
			if err != nil {
				return nil, err
			}
			result = append(result, CommitChange{CommitID: r.CommitID, Change: c})
		}
	}
	return result, nil
}

// --- Change sets ---

// InsertChangeSetWith creates a change set and its element links.
func (db *BunDB) InsertChangeSetWith(idb bun.IDB, ctx context.Context, id string, changes []*Change) error {
	if _, err := idb.NewInsert().
		Model(&ChangeSetModel{ID: id, CreatedAt: time.Now().UnixMilli()}).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert change set: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}
	elements := make([]ChangeSetElementModel, 0, len(changes))
	for _, c := range changes {
		elements = append(elements, ChangeSetElementModel{
			ChangeSetID: id,
			ChangeID:    c.ID,
			EntityID:    c.EntityID,
			SchemaKey:   c.SchemaKey,
			FileID:      c.FileID,
		})
	}
	if _, err := idb.NewInsert().Model(&elements).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert change set elements: %w", err)
	}
	return nil
}

// ListChangeSetElements returns the element links of a change set.
func (db *BunDB) ListChangeSetElements(ctx context.Context, changeSetID string) ([]ChangeSetElementModel, error) {
	var elements []ChangeSetElementModel
	err := db.NewSelect().
		Model(&elements).
		Where("change_set_id = ?", changeSetID).
		Scan(ctx)
	return elements, err
}

// --- Commits ---

// InsertCommitWith inserts a commit row and its parent edges.
func (db *BunDB) InsertCommitWith(idb bun.IDB, ctx context.Context, commit *CommitModel, parentIDs []string) error {
	if _, err := idb.NewInsert().Model(commit).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert commit: %w", err)
	}
	return db.InsertCommitEdgesWith(idb, ctx, commit.ID, parentIDs)
}

// InsertCommitEdgesWith records child → parent edges. Duplicate edges are ignored.
func (db *BunDB) InsertCommitEdgesWith(idb bun.IDB, ctx context.Context, childID string, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	edges := make([]CommitEdgeModel, 0, len(parentIDs))
	for _, p := range parentIDs {
		edges = append(edges, CommitEdgeModel{ParentID: p, ChildID: childID})
	}
	if _, err := idb.NewInsert().
		Model(&edges).
		On("CONFLICT DO NOTHING").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert commit edges: %w", err)
	}
	return nil
}

// ListCommitEdges returns every edge of the commit graph.
func (db *BunDB) ListCommitEdges(ctx context.Context) ([]CommitEdgeModel, error) {
	return db.ListCommitEdgesWith(db.DB, ctx)
}

// ListCommitEdgesWith is like ListCommitEdges but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ListCommitEdgesWith(idb bun.IDB, ctx context.Context) ([]CommitEdgeModel, error) {
	var edges []CommitEdgeModel
	err := idb.NewSelect().
		Model(&edges).
		OrderExpr("child_id ASC, parent_id ASC").
		Scan(ctx)
	return edges, err
}

// CommitExistsWith reports whether a commit row exists.
func (db *BunDB) CommitExistsWith(idb bun.IDB, ctx context.Context, id string) (bool, error) {
	return idb.NewSelect().
		Model((*CommitModel)(nil)).
		Where("id = ?", id).
		Exists(ctx)
}

// GetCommit returns a commit with its parent ids.
func (db *BunDB) GetCommit(ctx context.Context, id string) (*Commit, error) {
	var model CommitModel
	err := db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var parents []string
	if err := db.NewSelect().
		Model((*CommitEdgeModel)(nil)).
		Column("parent_id").
		Where("child_id = ?", id).
		OrderExpr("parent_id ASC").
		Scan(ctx, &parents); err != nil {
		return nil, err
	}
	return commitFromModel(&model, parents), nil
}

// ListCommits returns every commit, oldest first, with parent ids.
func (db *BunDB) ListCommits(ctx context.Context) ([]*Commit, error) {
	var models []CommitModel
	if err := db.NewSelect().
		Model(&models).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	edges, err := db.ListCommitEdges(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[string][]string)
	for _, e := range edges {
		parents[e.ChildID] = append(parents[e.ChildID], e.ParentID)
	}
	commits := make([]*Commit, 0, len(models))
	for i := range models {
		commits = append(commits, commitFromModel(&models[i], parents[models[i].ID]))
	}
	return commits, nil
}

func commitFromModel(m *CommitModel, parents []string) *Commit {
	if parents == nil {
		parents = []string{}
	}
	return &Commit{
		ID:          m.ID,
		ChangeSetID: m.ChangeSetID,
		ChangeID:    m.ChangeID.String,
		Message:     m.Message,
		ParentIDs:   parents,
		CreatedAt:   time.UnixMilli(m.CreatedAt),
	}
}

// --- Versions ---

// InsertVersionWith creates a version row.
func (db *BunDB) InsertVersionWith(idb bun.IDB, ctx context.Context, v *Version) error {
	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := idb.NewInsert().
		Model(&VersionModel{
			ID:                    v.ID,
			Name:                  v.Name,
			CommitID:              v.CommitID,
			InheritsFromVersionID: NullString(v.InheritsFromVersionID),
			Hidden:                v.Hidden,
			CreatedAt:             created.UnixMilli(),
		}).
		Exec(ctx)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("version %q: %w", v.Name, common.ErrExists)
	}
	return err
}

// GetVersion returns a version by id.
func (db *BunDB) GetVersion(ctx context.Context, id string) (*Version, error) {
	return db.GetVersionWith(db.DB, ctx, id)
}

// GetVersionWith is like GetVersion but uses the provided bun.IDB (for transaction support).
func (db *BunDB) GetVersionWith(idb bun.IDB, ctx context.Context, id string) (*Version, error) {
	return db.getVersionWhere(idb, ctx, "id = ?", id)
}

// GetVersionByName returns a version by its unique name.
func (db *BunDB) GetVersionByName(ctx context.Context, name string) (*Version, error) {
	return db.getVersionWhere(db.DB, ctx, "name = ?", name)
}

func (db *BunDB) getVersionWhere(idb bun.IDB, ctx context.Context, where string, arg any) (*Version, error) {
	var model VersionModel
	err := idb.NewSelect().
		Model(&model).
		Where(where, arg).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToVersion(), nil
}

// ListVersions returns all versions ordered by creation time.
func (db *BunDB) ListVersions(ctx context.Context) ([]*Version, error) {
	return db.ListVersionsWith(db.DB, ctx)
}

// ListVersionsWith is like ListVersions but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ListVersionsWith(idb bun.IDB, ctx context.Context) ([]*Version, error) {
	var models []VersionModel
	if err := idb.NewSelect().
		Model(&models).
		OrderExpr("created_at ASC, name ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	versions := make([]*Version, 0, len(models))
	for i := range models {
		versions = append(versions, models[i].ToVersion())
	}
	return versions, nil
}

// UpdateVersionTipWith moves a version's tip to commitID.
func (db *BunDB) UpdateVersionTipWith(idb bun.IDB, ctx context.Context, id, commitID string) error {
	res, err := idb.NewUpdate().
		Model((*VersionModel)(nil)).
		Set("commit_id = ?", commitID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, id)
}

// UpdateVersionInheritanceWith sets or clears a version's parent.
func (db *BunDB) UpdateVersionInheritanceWith(idb bun.IDB, ctx context.Context, id string, parentID *string) error {
	res, err := idb.NewUpdate().
		Model((*VersionModel)(nil)).
		Set("inherits_from_version_id = ?", NullString(parentID)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// VersionParents returns the inheritance relation id → parent id.
func (db *BunDB) VersionParents(ctx context.Context) (map[string]string, error) {
	return db.VersionParentsWith(db.DB, ctx)
}

// VersionParentsWith is like VersionParents but uses the provided bun.IDB (for transaction support).
func (db *BunDB) VersionParentsWith(idb bun.IDB, ctx context.Context) (map[string]string, error) {
	var models []VersionModel
	if err := idb.NewSelect().
		Model(&models).
		Column("id", "inherits_from_version_id").
		Scan(ctx); err != nil {
		return nil, err
	}
	parents := make(map[string]string, len(models))
	for _, m := range models {
		if m.InheritsFromVersionID.Valid {
			parents[m.ID] = m.InheritsFromVersionID.String
		}
	}
	return parents, nil
}

// --- Pending changes ---

// InsertPendingWith links an appended change to a version's working set.
func (db *BunDB) InsertPendingWith(idb bun.IDB, ctx context.Context, versionID string, c *Change) error {
	_, err := idb.NewInsert().
		Model(&PendingChangeModel{
			VersionID: versionID,
			ChangeID:  c.ID,
			EntityID:  c.EntityID,
			SchemaKey: c.SchemaKey,
		}).
		Exec(ctx)
	return err
}

// ListPending returns a version's pending changes in insertion order.
func (db *BunDB) ListPending(ctx context.Context, versionID string, filter ChangeFilter) ([]*Change, error) {
	return db.ListPendingWith(db.DB, ctx, versionID, filter)
}

// ListPendingWith is like ListPending but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ListPendingWith(idb bun.IDB, ctx context.Context, versionID string, filter ChangeFilter) ([]*Change, error) {
	conds := []string{"p.version_id = ?"}
	args := []any{versionID}
	conds, args = filter.apply("ch", conds, args)

	var models []ChangeModel
	query := `
		SELECT ch.seq, ch.id, ch.entity_id, ch.schema_key, ch.schema_version, ch.file_id,
		       ch.plugin_key, ch.snapshot, ch.metadata, ch.created_at
		FROM pending_changes p
		JOIN changes ch ON ch.id = p.change_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ch.seq ASC`
	if err := idb.NewRaw(query, args...).Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	return toChanges(models)
}

// ClearPendingWith drops a version's pending links. The changes stay in the log.
func (db *BunDB) ClearPendingWith(idb bun.IDB, ctx context.Context, versionID string) error {
	_, err := idb.NewDelete().
		Model((*PendingChangeModel)(nil)).
		Where("version_id = ?", versionID).
		Exec(ctx)
	return err
}

// --- Stored schemas ---

// InsertStoredSchemaWith stores a schema definition. Re-registering the same
// (key, version) pair fails with common.ErrExists.
func (db *BunDB) InsertStoredSchemaWith(idb bun.IDB, ctx context.Context, key, version, definition string) error {
	_, err := idb.NewInsert().
		Model(&StoredSchemaModel{
			Key:        key,
			Version:    version,
			Definition: definition,
			CreatedAt:  time.Now().UnixMilli(),
		}).
		Exec(ctx)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("schema %s@%s: %w", key, version, common.ErrExists)
	}
	return err
}

// ListStoredSchemas returns all stored schema definitions.
func (db *BunDB) ListStoredSchemas(ctx context.Context) ([]StoredSchemaModel, error) {
	var models []StoredSchemaModel
	err := db.NewSelect().
		Model(&models).
		OrderExpr("created_at ASC, key ASC, version ASC").
		Scan(ctx)
	return models, err
}

// --- Accounts ---

// InsertAccountWith creates an account.
func (db *BunDB) InsertAccountWith(idb bun.IDB, ctx context.Context, id, name string) error {
	_, err := idb.NewInsert().
		Model(&AccountModel{ID: id, Name: name, CreatedAt: time.Now().UnixMilli()}).
		Exec(ctx)
	return err
}

// GetAccount returns an account by id.
func (db *BunDB) GetAccount(ctx context.Context, id string) (*AccountModel, error) {
	var model AccountModel
	err := db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// ListAccounts returns all accounts.
func (db *BunDB) ListAccounts(ctx context.Context) ([]AccountModel, error) {
	var models []AccountModel
	err := db.NewSelect().
		Model(&models).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	return models, err
}

// InsertCommitAuthorWith attributes a commit to an account.
func (db *BunDB) InsertCommitAuthorWith(idb bun.IDB, ctx context.Context, commitID, accountID string) error {
	_, err := idb.NewInsert().
		Model(&CommitAuthorModel{CommitID: commitID, AccountID: accountID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// ListCommitAuthors returns the account ids attributed to a commit.
func (db *BunDB) ListCommitAuthors(ctx context.Context, commitID string) ([]string, error) {
	var ids []string
	err := db.NewSelect().
		Model((*CommitAuthorModel)(nil)).
		Column("account_id").
		Where("commit_id = ?", commitID).
		OrderExpr("account_id ASC").
		Scan(ctx, &ids)
	return ids, err
}

// --- Untracked state ---

// UpsertUntrackedWith writes version-local untracked state.
func (db *BunDB) UpsertUntrackedWith(idb bun.IDB, ctx context.Context, versionID string, c *Change) error {
	snapshot, err := EncodeJSON(c.Snapshot)
	if err != nil {
		return err
	}
	if !snapshot.Valid {
		return errors.New("untracked state requires a snapshot")
	}
	_, err = idb.NewInsert().
		Model(&UntrackedStateModel{
			VersionID:     versionID,
			EntityID:      c.EntityID,
			SchemaKey:     c.SchemaKey,
			SchemaVersion: c.SchemaVersion,
			FileID:        c.FileID,
			PluginKey:     c.PluginKey,
			Snapshot:      snapshot.String,
			UpdatedAt:     time.Now().UnixMilli(),
		}).
		On("CONFLICT (version_id, entity_id, schema_key) DO UPDATE").
		Set("schema_version = EXCLUDED.schema_version").
		Set("file_id = EXCLUDED.file_id").
		Set("plugin_key = EXCLUDED.plugin_key").
		Set("snapshot = EXCLUDED.snapshot").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// DeleteUntrackedWith removes untracked state. Returns true if a row was removed.
func (db *BunDB) DeleteUntrackedWith(idb bun.IDB, ctx context.Context, versionID, entityID, schemaKey string) (bool, error) {
	res, err := idb.NewDelete().
		Model((*UntrackedStateModel)(nil)).
		Where("version_id = ?", versionID).
		Where("entity_id = ?", entityID).
		Where("schema_key = ?", schemaKey).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListUntracked returns a version's untracked state as changes (Seq is 0).
func (db *BunDB) ListUntracked(ctx context.Context, versionID string, filter ChangeFilter) ([]*Change, error) {
	var models []UntrackedStateModel
	q := db.NewSelect().Model(&models).Where("version_id = ?", versionID)
	if filter.SchemaKey != "" {
		q = q.Where("schema_key = ?", filter.SchemaKey)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.FileID != "" {
		q = q.Where("file_id = ?", filter.FileID)
	}
	if err := q.OrderExpr("schema_key ASC, entity_id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	changes := make([]*Change, 0, len(models))
	for _, m := range models {
		snapshot, err := DecodeJSON(sql.NullString{String: m.Snapshot, Valid: true})
		if err != nil {
			return nil, err
		}
		changes = append(changes, &Change{
			EntityID:      m.EntityID,
			SchemaKey:     m.SchemaKey,
			SchemaVersion: m.SchemaVersion,
			FileID:        m.FileID,
			PluginKey:     m.PluginKey,
			Snapshot:      snapshot,
			CreatedAt:     time.UnixMilli(m.UpdatedAt),
		})
	}
	log.Tracef("[Storage] ListUntracked version=%s rows=%d", versionID, len(changes))
	return changes, nil
}
