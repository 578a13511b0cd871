package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/noetl/noetl/pkg/playbook"
)

// Record is the bun persistence model for the catalog table, grounded on
// the teacher's per-entity bun models in
// internal/infrastructure/storage/bun_store.go.
type Record struct {
	bun.BaseModel `bun:"table:catalog,alias:cat"`

	Path      string    `bun:"path,pk"`
	Version   int       `bun:"version,pk"`
	Kind      string    `bun:"kind,notnull"`
	Content   []byte    `bun:"content,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// BunStore is the Postgres-backed catalog.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*Record)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("catalog: init schema: %w", err)
	}
	return nil
}

func (s *BunStore) RegisterPlaybook(ctx context.Context, def playbook.Definition) (int, error) {
	if def.Version == 0 {
		latest, err := s.LatestPlaybookVersion(ctx, def.Path)
		if err != nil {
			if _, ok := err.(*ErrNotFound); !ok {
				return 0, err
			}
		}
		def.Version = latest + 1
	}
	content, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("catalog: marshal playbook: %w", err)
	}
	rec := &Record{Path: def.Path, Version: def.Version, Kind: string(KindPlaybook), Content: content}
	_, err = s.db.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: register playbook (versions are immutable, path+version must be new): %w", err)
	}
	return def.Version, nil
}

func (s *BunStore) GetPlaybook(ctx context.Context, path string, version int) (playbook.Definition, error) {
	if version == 0 {
		v, err := s.LatestPlaybookVersion(ctx, path)
		if err != nil {
			return playbook.Definition{}, err
		}
		version = v
	}
	rec := new(Record)
	err := s.db.NewSelect().Model(rec).Where("path = ? AND version = ? AND kind = ?", path, version, KindPlaybook).Scan(ctx)
	if err != nil {
		return playbook.Definition{}, &ErrNotFound{What: fmt.Sprintf("%s@%d", path, version)}
	}
	var def playbook.Definition
	if err := json.Unmarshal(rec.Content, &def); err != nil {
		return playbook.Definition{}, fmt.Errorf("catalog: unmarshal playbook: %w", err)
	}
	return def, nil
}

func (s *BunStore) LatestPlaybookVersion(ctx context.Context, path string) (int, error) {
	var version int
	err := s.db.NewSelect().Model((*Record)(nil)).Column("version").
		Where("path = ? AND kind = ?", path, KindPlaybook).
		Order("version DESC").Limit(1).Scan(ctx, &version)
	if err != nil {
		return 0, &ErrNotFound{What: path}
	}
	return version, nil
}

func (s *BunStore) ListPlaybooks(ctx context.Context) ([]Entry, error) {
	var records []*Record
	err := s.db.NewSelect().Model(&records).Where("kind = ?", KindPlaybook).Order("path ASC", "version ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list playbooks: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		var content map[string]any
		_ = json.Unmarshal(r.Content, &content)
		out = append(out, Entry{Path: r.Path, Version: r.Version, Kind: Kind(r.Kind), Content: content, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// credentialRecord is a distinct bun model (table:credentials) since
// credentials are never logged and deserve isolation from the catalog
// table's content column, per spec.md §3's "never logged" invariant.
type credentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`

	Name      string    `bun:"name,pk"`
	Type      string    `bun:"type,notnull"`
	Data      []byte    `bun:"data,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (s *BunStore) RegisterCredential(ctx context.Context, name string, credType string, data map[string]any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("catalog: marshal credential: %w", err)
	}
	rec := &credentialRecord{Name: name, Type: credType, Data: blob}
	_, err = s.db.NewInsert().Model(rec).On("CONFLICT (name) DO UPDATE").
		Set("type = EXCLUDED.type").Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("catalog: register credential: %w", err)
	}
	return nil
}

func (s *BunStore) GetCredential(ctx context.Context, name string) (string, map[string]any, error) {
	rec := new(credentialRecord)
	if err := s.db.NewSelect().Model(rec).Where("name = ?", name).Scan(ctx); err != nil {
		return "", nil, &ErrNotFound{What: name}
	}
	var data map[string]any
	_ = json.Unmarshal(rec.Data, &data)
	return rec.Type, data, nil
}

func (s *BunStore) ListCredentials(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().Model((*credentialRecord)(nil)).Column("name").Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("catalog: list credentials: %w", err)
	}
	return names, nil
}
