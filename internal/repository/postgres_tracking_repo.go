package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ted-sama/trackr/internal/model"
)

// PostgresTrackingRepo はPostgreSQLを使用した読書記録リポジトリ。
type PostgresTrackingRepo struct {
	db *sql.DB
}

// NewPostgresTrackingRepo はPostgresTrackingRepoを生成する。
func NewPostgresTrackingRepo(db *sql.DB) *PostgresTrackingRepo {
	return &PostgresTrackingRepo{db: db}
}

// Exists は指定ユーザーが指定作品の記録を持っているかどうかを返す。
func (r *PostgresTrackingRepo) Exists(ctx context.Context, userID, catalogEntryID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tracking_records WHERE user_id = $1 AND catalog_entry_id = $2)`,
		userID, catalogEntryID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("読書記録の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は記録を作成する。(user_id, catalog_entry_id) が重複する場合は何もせずfalseを返す。
// IDが空の場合はUUIDを生成する。
func (r *PostgresTrackingRepo) Create(ctx context.Context, record *model.TrackingRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	var createdAt any
	if !record.CreatedAt.IsZero() {
		createdAt = record.CreatedAt
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tracking_records
		     (id, user_id, catalog_entry_id, status, chapters, volumes, rating,
		      start_date, finish_date, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
		 ON CONFLICT (user_id, catalog_entry_id) DO NOTHING`,
		record.ID, record.UserID, record.CatalogEntryID, string(record.Status),
		record.Progress.Chapters, record.Progress.Volumes, record.Rating,
		record.StartDate, record.FinishDate, record.Notes, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("読書記録の作成に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("読書記録の作成結果の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}
