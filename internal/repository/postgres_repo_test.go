package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/ted-sama/trackr/internal/database"
	"github.com/ted-sama/trackr/internal/model"
)

// PostgresCatalogRepoはCatalogRepositoryインターフェースを満たすことを検証
func TestPostgresCatalogRepo_ImplementsInterface(t *testing.T) {
	var _ CatalogRepository = (*PostgresCatalogRepo)(nil)
}

// PostgresTrackingRepoはTrackingRepositoryインターフェースを満たすことを検証
func TestPostgresTrackingRepo_ImplementsInterface(t *testing.T) {
	var _ TrackingRepository = (*PostgresTrackingRepo)(nil)
}

func TestNullStringPtr(t *testing.T) {
	if nullStringPtr(sql.NullString{}) != nil {
		t.Error("NULLはnilになるべき")
	}
	if p := nullStringPtr(sql.NullString{String: "13", Valid: true}); p == nil || *p != "13" {
		t.Errorf("nullStringPtr = %v, want 13", p)
	}
}

// setupRepoDB はマイグレーション済みのテスト用データベースを返す。
// TEST_DATABASE_URL に接続できない場合はスキップする。
func setupRepoDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL, database.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE tracking_records, catalog_entries CASCADE`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	return db
}

func insertCatalogEntry(t *testing.T, db *sql.DB, title string, alts []string, externalID *string, source model.DataSource) string {
	t.Helper()
	altsLiteral := "{}"
	if len(alts) > 0 {
		altsLiteral = "{" + joinQuoted(alts) + "}"
	}
	var id string
	err := db.QueryRow(
		`INSERT INTO catalog_entries (title, alternative_titles, external_id, data_source)
		 VALUES ($1, $2::text[], $3, $4) RETURNING id`,
		title, altsLiteral, externalID, string(source),
	).Scan(&id)
	if err != nil {
		t.Fatalf("カタログエントリの挿入に失敗: %v", err)
	}
	return id
}

func joinQuoted(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out
}

func TestPostgresCatalogRepo_Integration(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresCatalogRepo(db)
	ctx := context.Background()

	malID := "13"
	opID := insertCatalogEntry(t, db, "One Piece", []string{"ワンピース"}, &malID, model.DataSourceMAL)
	insertCatalogEntry(t, db, "Blame!", nil, nil, model.DataSourceTrackr)

	t.Run("外部IDで検索できる", func(t *testing.T) {
		got, err := repo.FindByExternalID(ctx, "13", model.DataSourceMAL)
		if err != nil {
			t.Fatalf("FindByExternalIDでエラーが発生: %v", err)
		}
		if got == nil || got.ID != opID || got.Title != "One Piece" {
			t.Fatalf("FindByExternalID = %+v", got)
		}
		if len(got.AlternativeTitles) != 1 || got.AlternativeTitles[0] != "ワンピース" {
			t.Errorf("AlternativeTitles = %v", got.AlternativeTitles)
		}
	})

	t.Run("ソースが異なれば見つからない", func(t *testing.T) {
		got, err := repo.FindByExternalID(ctx, "13", model.DataSourceMangacollec)
		if err != nil || got != nil {
			t.Errorf("FindByExternalID = %+v, %v, want nil, nil", got, err)
		}
	})

	t.Run("全件読み込み", func(t *testing.T) {
		got, err := repo.LoadAllForMatching(ctx, model.CatalogFilter{})
		if err != nil {
			t.Fatalf("LoadAllForMatchingでエラーが発生: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("件数 = %d, want 2", len(got))
		}
	})

	t.Run("ソースで絞り込み", func(t *testing.T) {
		got, err := repo.LoadAllForMatching(ctx, model.CatalogFilter{DataSources: []model.DataSource{model.DataSourceTrackr}})
		if err != nil {
			t.Fatalf("LoadAllForMatchingでエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0].Title != "Blame!" || got[0].ExternalID != nil {
			t.Errorf("LoadAllForMatching = %+v", got)
		}
	})
}

func TestPostgresTrackingRepo_Integration(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresTrackingRepo(db)
	ctx := context.Background()

	entryID := insertCatalogEntry(t, db, "Monster", nil, nil, model.DataSourceTrackr)

	exists, err := repo.Exists(ctx, "user-1", entryID)
	if err != nil || exists {
		t.Fatalf("Exists = %v, %v, want false, nil", exists, err)
	}

	rating := 4.5
	chapters := 162
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	record := &model.TrackingRecord{
		UserID:         "user-1",
		CatalogEntryID: entryID,
		Status:         model.StatusCompleted,
		Progress:       model.Progress{Chapters: &chapters},
		Rating:         &rating,
		StartDate:      &start,
		Notes:          "Chef-d'œuvre",
	}

	created, err := repo.Create(ctx, record)
	if err != nil || !created {
		t.Fatalf("Create = %v, %v, want true, nil", created, err)
	}
	if record.ID == "" {
		t.Error("IDが採番されるべき")
	}

	exists, err = repo.Exists(ctx, "user-1", entryID)
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v, want true, nil", exists, err)
	}

	// 同じ組の2回目の作成はエラーにせずfalseを返す
	dup := *record
	dup.ID = ""
	created, err = repo.Create(ctx, &dup)
	if err != nil {
		t.Fatalf("重複作成でエラーが発生: %v", err)
	}
	if created {
		t.Error("重複作成はfalseを返すべき")
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM tracking_records WHERE user_id = 'user-1'`).Scan(&count); err != nil {
		t.Fatalf("カウントに失敗: %v", err)
	}
	if count != 1 {
		t.Errorf("読書記録は1件であるべき, got %d", count)
	}
}
