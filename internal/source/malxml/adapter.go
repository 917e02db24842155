// Package malxml はMyAnimeListのXMLエクスポートファイルを取り込み候補に変換する。
package malxml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

// exportTypeManga はマンガリストのエクスポートを示すuser_export_typeの値。
const exportTypeManga = "2"

// scoreScale はMyAnimeListの評価の上限。
const scoreScale = 10

type exportDocument struct {
	XMLName xml.Name      `xml:"myanimelist"`
	Info    exportInfo    `xml:"myinfo"`
	Manga   []exportManga `xml:"manga"`
	Anime   []struct{}    `xml:"anime"`
}

type exportInfo struct {
	UserName   string `xml:"user_name"`
	ExportType string `xml:"user_export_type"`
}

type exportManga struct {
	MangaDBID    string `xml:"manga_mangadb_id"`
	Title        string `xml:"manga_title"`
	ReadVolumes  string `xml:"my_read_volumes"`
	ReadChapters string `xml:"my_read_chapters"`
	StartDate    string `xml:"my_start_date"`
	FinishDate   string `xml:"my_finish_date"`
	Score        string `xml:"my_score"`
	Status       string `xml:"my_status"`
	Comments     string `xml:"my_comments"`
}

// Adapter はXMLエクスポートの文字列を識別子として受け取るソースアダプタ。
type Adapter struct {
	logger *slog.Logger
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter はAdapterを生成する。
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Name はソース名を返す。
func (a *Adapter) Name() model.DataSource {
	return model.DataSourceMAL
}

// Fetch はXMLエクスポートを解析して候補の一覧をファイル内の順序で返す。
// 不正なXMLはparse_failure、アニメリストのエクスポートはwrong_export_type、
// マンガが1件も無い場合はno_entriesとなる。
func (a *Adapter) Fetch(ctx context.Context, document string) ([]model.RawCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc exportDocument
	if err := xml.Unmarshal([]byte(document), &doc); err != nil {
		return nil, model.NewSourceError(model.DataSourceMAL, model.SourceParseFailure,
			fmt.Errorf("XMLエクスポートのパースに失敗しました: %w", err))
	}

	exportType := strings.TrimSpace(doc.Info.ExportType)
	if (exportType != "" && exportType != exportTypeManga) || (len(doc.Anime) > 0 && len(doc.Manga) == 0) {
		return nil, model.NewSourceError(model.DataSourceMAL, model.SourceWrongExportType,
			fmt.Errorf("マンガリストではないエクスポートです: user_export_type=%q", exportType))
	}

	if len(doc.Manga) == 0 {
		return nil, model.NewSourceError(model.DataSourceMAL, model.SourceNoEntries,
			errors.New("エクスポートにマンガが含まれていません"))
	}

	candidates := make([]model.RawCandidate, 0, len(doc.Manga))
	for _, m := range doc.Manga {
		candidates = append(candidates, toCandidate(m))
	}

	a.logger.Info("MyAnimeListエクスポートを解析しました",
		slog.String("user_name", doc.Info.UserName),
		slog.Int("entries", len(candidates)),
	)

	return candidates, nil
}

func toCandidate(m exportManga) model.RawCandidate {
	c := model.RawCandidate{
		SourceTitle: strings.TrimSpace(m.Title),
		DataSource:  model.DataSourceMAL,
		RawStatus:   strings.TrimSpace(m.Status),
		Status:      source.MapMALStatus(m.Status),
		Progress: model.Progress{
			Chapters: positiveInt(m.ReadChapters),
			Volumes:  positiveInt(m.ReadVolumes),
		},
		ScoreScale: scoreScale,
		StartDate:  source.ParseMALDate(m.StartDate),
		FinishDate: source.ParseMALDate(m.FinishDate),
		Notes:      strings.TrimSpace(m.Comments),
	}

	if id := strings.TrimSpace(m.MangaDBID); id != "" && id != "0" {
		c.ExternalID = &id
	}
	if score, err := strconv.ParseFloat(strings.TrimSpace(m.Score), 64); err == nil && score > 0 {
		c.Score = &score
	}

	return c
}

func positiveInt(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}
