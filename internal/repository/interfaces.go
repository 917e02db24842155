// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/ted-sama/trackr/internal/model"
)

// CatalogRepository はカタログの読み取りインターフェース。
// 取り込み処理はカタログを変更しない。
type CatalogRepository interface {
	// FindByExternalID はソースと外部IDでカタログエントリを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string, source model.DataSource) (*model.CatalogEntry, error)

	// LoadAllForMatching はマッチング用のワーキングセットを読み込む。
	// 1回の取り込みにつき1回だけ呼び出される。
	LoadAllForMatching(ctx context.Context, filter model.CatalogFilter) ([]model.CatalogEntry, error)
}

// TrackingRepository は読書記録の永続化インターフェース。
// (user_id, catalog_entry_id) の組ごとに高々1件の記録を保証する。
type TrackingRepository interface {
	// Exists は指定ユーザーが指定作品の記録を持っているかどうかを返す。
	Exists(ctx context.Context, userID, catalogEntryID string) (bool, error)

	// Create は記録を作成する。同じ組の記録が既に存在した場合はfalseを返し、エラーにはしない。
	Create(ctx context.Context, record *model.TrackingRecord) (bool, error)
}
