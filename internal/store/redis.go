package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	videoKeyPrefix = "video:"
	alertKeyPrefix = "alert:"

	videosIndexKey  = "videos"
	alertsIndexKey  = "alerts"
	alertsActiveKey = "alerts:active"

	maxTxRetries = 10
)

// RedisStore は動画とアラートを Redis に保存します。
// 各レコードは JSON 文字列として保存し、作成日時をスコアとする ZSET で並び順を保持します。
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateVideo は動画レコードを保存します。ID が空の場合は採番します。
func (s *RedisStore) CreateVideo(ctx context.Context, video *Video) error {
	if video == nil {
		return fmt.Errorf("video is nil")
	}
	now := s.now()
	if video.ID == "" {
		video.ID = uuid.NewString()
	}
	if video.Status == "" {
		video.Status = StatusUploaded
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = now
	}
	video.UpdatedAt = now

	payload, err := json.Marshal(video)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, videoKey(video.ID), payload, 0)
		pipe.ZAdd(ctx, videosIndexKey, redis.Z{Score: float64(video.CreatedAt.UnixNano()), Member: video.ID})
		return nil
	})
	return err
}

// GetVideo は動画レコードを取得します。
func (s *RedisStore) GetVideo(ctx context.Context, id string) (*Video, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, videoKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var video Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// ListVideos は動画レコードを新しい順に返します。
func (s *RedisStore) ListVideos(ctx context.Context) ([]Video, error) {
	raws, err := s.listRecords(ctx, videosIndexKey, videoKeyPrefix)
	if err != nil {
		return nil, err
	}
	videos := make([]Video, 0, len(raws))
	for _, raw := range raws {
		var v Video
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// SetVideoStatus は動画の解析状態を更新します。
// 許可されていない遷移は ErrInvalidTransition を返し、レコードを変更しません。
func (s *RedisStore) SetVideoStatus(ctx context.Context, id string, status VideoStatus) error {
	return s.update(ctx, videoKey(id), func(data []byte) ([]byte, error) {
		var video Video
		if err := json.Unmarshal(data, &video); err != nil {
			return nil, err
		}
		if err := checkTransition(video.Status, status); err != nil {
			return nil, err
		}
		video.Status = status
		video.UpdatedAt = s.now()
		return json.Marshal(&video)
	})
}

// DeleteVideo は動画レコードを削除します。
func (s *RedisStore) DeleteVideo(ctx context.Context, id string) error {
	return s.delete(ctx, videoKey(id), func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, videosIndexKey, id)
	})
}

// CreateAlert は入力を検証してアラートを保存します。
func (s *RedisStore) CreateAlert(ctx context.Context, input AlertInput) (*Alert, error) {
	in, err := input.Normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()
	alert := newAlert(in, now)

	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, alertKey(alert.ID), payload, 0)
		pipe.ZAdd(ctx, alertsIndexKey, redis.Z{Score: float64(now.UnixNano()), Member: alert.ID})
		pipe.SAdd(ctx, alertsActiveKey, alert.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts はアラートを新しい順に返します。activeOnly の場合は未解決のものだけを返します。
func (s *RedisStore) ListAlerts(ctx context.Context, activeOnly bool) ([]Alert, error) {
	raws, err := s.listRecords(ctx, alertsIndexKey, alertKeyPrefix)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(raws))
	for _, raw := range raws {
		var a Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		if activeOnly && a.Resolved {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// ResolveAlert はアラートを解決済みにします。
func (s *RedisStore) ResolveAlert(ctx context.Context, id string) (*Alert, error) {
	var resolved Alert
	err := s.update(ctx, alertKey(id), func(data []byte) ([]byte, error) {
		if err := json.Unmarshal(data, &resolved); err != nil {
			return nil, err
		}
		resolved.Resolved = true
		resolved.UpdatedAt = s.now()
		return json.Marshal(&resolved)
	}, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, alertsActiveKey, id)
	})
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// DeleteAlert はアラートを削除します。
func (s *RedisStore) DeleteAlert(ctx context.Context, id string) error {
	return s.delete(ctx, alertKey(id), func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, alertsIndexKey, id)
		pipe.SRem(ctx, alertsActiveKey, id)
	})
}

// AlertSummary はアラート件数を集計します。
func (s *RedisStore) AlertSummary(ctx context.Context) (AlertSummary, error) {
	var total, active *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.ZCard(ctx, alertsIndexKey)
		active = pipe.SCard(ctx, alertsActiveKey)
		return nil
	})
	if err != nil {
		return AlertSummary{}, err
	}
	summary := AlertSummary{Total: total.Val(), Active: active.Val()}
	summary.Resolved = summary.Total - summary.Active
	return summary, nil
}

// listRecords は index の新しい順に JSON 文字列を返します。
// インデックスに残っていても本体が消えているものは読み飛ばします。
func (s *RedisStore) listRecords(ctx context.Context, index, prefix string) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, str)
	}
	return out, nil
}

// update は key を WATCH したうえで値を書き換えます。競合した場合は再試行します。
func (s *RedisStore) update(ctx context.Context, key string, mutate func([]byte) ([]byte, error), extra ...func(redis.Pipeliner)) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		payload, err := mutate(data)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for _, fn := range extra {
				fn(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too many concurrent writers", key)
}

func (s *RedisStore) delete(ctx context.Context, key string, extra func(redis.Pipeliner)) error {
	var deleted *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, key)
		extra(pipe)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func newAlert(in AlertInput, now time.Time) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Message:   strings.TrimSpace(in.Message),
		Camera:    in.Camera,
		Gate:      in.Gate,
		Location:  in.Location,
		Image:     in.Image,
		Severity:  in.Severity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func videoKey(id string) string {
	return videoKeyPrefix + id
}

func alertKey(id string) string {
	return alertKeyPrefix + id
}
