package model

// DataSource はカタログエントリや取り込み候補の出所を表す。
type DataSource string

const (
	// DataSourceMAL はMyAnimeList（XMLエクスポートおよびAPI v2）を示す。
	DataSourceMAL DataSource = "mal"
	// DataSourceMangacollec はMangacollecの公開コレクションを示す。
	DataSourceMangacollec DataSource = "mangacollec"
	// DataSourceTrackr は外部IDを持たないネイティブのカタログエントリを示す。
	DataSourceTrackr DataSource = "trackr"
)

// CatalogEntry はカタログ上の正規化された作品を表す。
// 取り込みパイプラインの中では読み取り専用として扱う。
type CatalogEntry struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	AlternativeTitles []string   `json:"alternativeTitles"`
	CoverImage        *string    `json:"coverImage,omitempty"`
	ExternalID        *string    `json:"externalId,omitempty"`
	DataSource        DataSource `json:"dataSource"`
}

// CatalogFilter はマッチング用ワーキングセットの読み込み条件を表す。
// ゼロ値は全件を意味する。
type CatalogFilter struct {
	DataSources []DataSource
}
