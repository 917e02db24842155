package source

import (
	"strconv"
	"strings"
	"time"

	"github.com/ted-sama/trackr/internal/model"
)

// malStatusCodes はMyAnimeListエクスポートの数値ステータスと内部ステータスの対応表。
// 5は欠番。
var malStatusCodes = map[string]model.ReadingStatus{
	"1": model.StatusReading,
	"2": model.StatusCompleted,
	"3": model.StatusOnHold,
	"4": model.StatusDropped,
	"6": model.StatusPlanToRead,
}

// malStatusLabels はMyAnimeListのステータス表記（エクスポートの文字列、API v2の値）と内部ステータスの対応表。
var malStatusLabels = map[string]model.ReadingStatus{
	"reading":      model.StatusReading,
	"completed":    model.StatusCompleted,
	"on-hold":      model.StatusOnHold,
	"on_hold":      model.StatusOnHold,
	"dropped":      model.StatusDropped,
	"plan to read": model.StatusPlanToRead,
	"plan_to_read": model.StatusPlanToRead,
}

// MapMALStatus はMyAnimeListのステータスを内部ステータスに変換する。
// 変換できない場合は空文字列を返し、呼び出し元はその候補をスキップ扱いにする。
func MapMALStatus(raw string) model.ReadingStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := malStatusCodes[key]; ok {
		return s
	}
	if s, ok := malStatusLabels[key]; ok {
		return s
	}
	return ""
}

// ParseMALDate はMyAnimeList形式の日付（YYYY-MM-DD）を解析する。
// "0000-00-00"は未設定としてnilを返し、月や日だけが00の場合は1として補う。
func ParseMALDate(s string) *time.Time {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return nil
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil || year <= 0 {
		return nil
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 0 || month > 12 {
		return nil
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 0 || day > 31 {
		return nil
	}
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}
