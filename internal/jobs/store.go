package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shikha320/Heritageshield/internal/analysis"
)

const (
	runKeyPrefix = "analysis:run:"
	maxTxRetries = 10
)

// ErrRunNotFound は更新対象のランが存在しない（期限切れを含む）場合に返されます。
var ErrRunNotFound = errors.New("analysis run not found")

// Store は解析ランの状態を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はラン情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID is required")
	}
	data, err := s.rdb.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はラン情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, runKey(record.RunID), payload, s.ttl).Err()
}

// MarkRunning はワーカー実行開始を記録します。
func (s *Store) MarkRunning(ctx context.Context, runID string, attempt int) error {
	return s.updatePartial(ctx, runID, func(record *Record) {
		record.Status = StatusRunning
		record.Stage = "analyzing"
		record.Attempt = attempt
		record.Error = nil
	})
}

// MarkWaiting はリトライ待ちになったことを記録します。
func (s *Store) MarkWaiting(ctx context.Context, runID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, runID, func(record *Record) {
		record.Status = StatusQueued
		record.Stage = "retry_wait"
		record.Error = errInfo
	})
}

// MarkDone は解析完了時の結果を保存します。
func (s *Store) MarkDone(ctx context.Context, runID string, summary *analysis.Summary) error {
	return s.updatePartial(ctx, runID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Stage = "completed"
		record.Result = summary
		record.Error = nil
	})
}

// MarkFailed は解析失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, runID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, runID, func(record *Record) {
		record.Status = StatusFailed
		record.Stage = "failed"
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

func (s *Store) updatePartial(ctx context.Context, runID string, mutate func(*Record)) error {
	key := runKey(runID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
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
	return fmt.Errorf("update run %s: too many concurrent writers", runID)
}

func runKey(id string) string {
	return runKeyPrefix + id
}
