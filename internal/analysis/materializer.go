package analysis

import (
	"context"
	"fmt"

	"github.com/Shikha320/Heritageshield/internal/store"
)

// AlertCreator はアラートを1件保存します。
type AlertCreator interface {
	CreateAlert(ctx context.Context, input store.AlertInput) (*store.Alert, error)
}

// Materializer はワーカーが報告したアラートを保存済みアラートに変換します。
type Materializer struct {
	alerts AlertCreator
}

// NewMaterializer は Materializer を作成します。
func NewMaterializer(alerts AlertCreator) *Materializer {
	return &Materializer{alerts: alerts}
}

// CameraLabel は動画の表示名からアラートの camera ラベルを作ります。
func CameraLabel(displayName string) string {
	return "Video: " + displayName
}

// Materialize は entries を順番に保存します。並べ替えや重複排除はしません。
// 途中で保存に失敗した場合はそこで打ち切り、それまでに保存したアラートと KindPersistence のエラーを返します。
// 保存済みのアラートは削除しません。
func (m *Materializer) Materialize(ctx context.Context, displayName string, entries []AlertEntry) ([]store.Alert, error) {
	created := make([]store.Alert, 0, len(entries))
	camera := CameraLabel(displayName)
	for i, entry := range entries {
		alert, err := m.alerts.CreateAlert(ctx, store.AlertInput{
			Type:     entry.Type,
			Message:  entry.Message,
			Camera:   camera,
			Severity: store.Severity(entry.Severity),
		})
		if err != nil {
			return created, persistenceError(
				fmt.Sprintf("failed to save alert %d of %d", i+1, len(entries)), err)
		}
		created = append(created, *alert)
	}
	return created, nil
}
