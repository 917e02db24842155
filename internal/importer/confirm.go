package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ted-sama/trackr/internal/model"
)

// Confirm はユーザーが選択した保留エントリから読書記録を作成する。
// 同じ作品の記録が既にある場合や同時実行で先に作成された場合は黙ってスキップし、
// (user, catalog entry) の組ごとに記録が高々1件になることを保証する。
// エントリ単位の失敗はErrorsに追加し、残りのエントリの処理は続ける。
func (s *Service) Confirm(ctx context.Context, userID string, entries []model.PendingImportEntry) model.ConfirmResult {
	result := model.ConfirmResult{Errors: []string{}}
	seen := make(map[string]struct{}, len(entries))

	for i := range entries {
		s.confirmEntry(ctx, userID, &entries[i], seen, &result)
	}

	s.metrics.RecordImported(result.Imported)
	s.logger.Info("取り込みを確定しました",
		slog.String("user_id", userID),
		slog.Int("requested", len(entries)),
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)

	return result
}

// confirmEntry は1件の保留エントリを処理し、結果をresultに加える。
// パニックはこのエントリのエラーとして記録し、呼び出し元の処理は続ける。
func (s *Service) confirmEntry(ctx context.Context, userID string, e *model.PendingImportEntry, seen map[string]struct{}, result *model.ConfirmResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("読書記録の作成中にパニックが発生しました",
				slog.String("user_id", userID),
				slog.String("catalog_entry_id", e.CatalogEntryID),
				slog.Any("panic", rec),
			)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: panic: %v", label(e), rec))
		}
	}()

	if err := s.validate.Struct(e); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: 入力が不正です: %v", label(e), err))
		return
	}

	if _, dup := seen[e.CatalogEntryID]; dup {
		result.Skipped++
		return
	}
	seen[e.CatalogEntryID] = struct{}{}

	exists, err := s.tracking.Exists(ctx, userID, e.CatalogEntryID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: 読書記録の確認に失敗しました: %v", label(e), err))
		return
	}
	if exists {
		result.Skipped++
		return
	}

	created, err := s.tracking.Create(ctx, s.trackingRecord(userID, e))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: 読書記録の作成に失敗しました: %v", label(e), err))
		return
	}
	if !created {
		result.Skipped++
		return
	}
	result.Imported++
}

func (s *Service) trackingRecord(userID string, e *model.PendingImportEntry) *model.TrackingRecord {
	notes := e.Notes
	if s.sanitizer != nil {
		notes = s.sanitizer.PlainText(notes)
	}
	return &model.TrackingRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		CatalogEntryID: e.CatalogEntryID,
		Status:         e.Status,
		Progress:       e.Progress,
		Rating:         e.Rating,
		StartDate:      e.StartDate,
		FinishDate:     e.FinishDate,
		Notes:          notes,
		CreatedAt:      s.now(),
	}
}

// label はエラーメッセージでエントリを識別するための表示名を返す。
func label(e *model.PendingImportEntry) string {
	switch {
	case e.CatalogTitle != "":
		return e.CatalogTitle
	case e.SourceTitle != "":
		return e.SourceTitle
	case e.CatalogEntryID != "":
		return e.CatalogEntryID
	}
	return "(不明なエントリ)"
}
