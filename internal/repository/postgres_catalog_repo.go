package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ted-sama/trackr/internal/model"
)

// PostgresCatalogRepo はPostgreSQLを使用したカタログリポジトリ。
type PostgresCatalogRepo struct {
	db *sql.DB
}

// NewPostgresCatalogRepo はPostgresCatalogRepoを生成する。
func NewPostgresCatalogRepo(db *sql.DB) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{db: db}
}

const catalogColumns = `id, title, alternative_titles, cover_image, external_id, data_source`

// FindByExternalID はソースと外部IDでカタログエントリを検索する。見つからない場合はnilを返す。
func (r *PostgresCatalogRepo) FindByExternalID(ctx context.Context, externalID string, source model.DataSource) (*model.CatalogEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+`
		 FROM catalog_entries WHERE data_source = $1 AND external_id = $2`,
		string(source), externalID,
	)

	entry, err := scanCatalogEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによるカタログエントリの検索に失敗しました: %w", err)
	}
	return entry, nil
}

// LoadAllForMatching はマッチング用のワーキングセットを読み込む。
// filter.DataSourcesが空の場合は全件を返す。順序はid順で安定させる。
func (r *PostgresCatalogRepo) LoadAllForMatching(ctx context.Context, filter model.CatalogFilter) ([]model.CatalogEntry, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_entries`
	var args []any
	if len(filter.DataSources) > 0 {
		sources := make([]string, len(filter.DataSources))
		for i, s := range filter.DataSources {
			sources[i] = string(s)
		}
		query += ` WHERE data_source = ANY($1)`
		args = append(args, pq.Array(sources))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("カタログの読み込みに失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("カタログエントリのスキャンに失敗しました: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カタログの読み込み中にエラーが発生しました: %w", err)
	}

	return entries, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(s rowScanner) (*model.CatalogEntry, error) {
	entry := &model.CatalogEntry{}
	var coverImage, externalID sql.NullString
	var dataSource string

	if err := s.Scan(
		&entry.ID, &entry.Title, pq.Array(&entry.AlternativeTitles),
		&coverImage, &externalID, &dataSource,
	); err != nil {
		return nil, err
	}

	entry.CoverImage = nullStringPtr(coverImage)
	entry.ExternalID = nullStringPtr(externalID)
	entry.DataSource = model.DataSource(dataSource)
	return entry, nil
}

// nullStringPtr はsql.NullStringを*stringに変換する。NULLの場合はnilを返す。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
