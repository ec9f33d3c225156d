// Package jobs は動画解析を非同期ランとして実行する仕組みを提供します。
// ランは Asynq のタスクとしてキューに投入され、状態は Redis に保存されます。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Shikha320/Heritageshield/internal/analysis"
	"github.com/Shikha320/Heritageshield/internal/config"
)

const (
	taskTypeAnalyze = "video:analyze"
	queueName       = "analysis"
	maxRetry        = 3

	// taskGrace はワーカーのタイムアウトと空き枠待ちに上乗せするタスク全体の猶予です。
	taskGrace = 30 * time.Second
)

// Submitter は動画1本の解析を同期的に実行します。
type Submitter interface {
	Submit(ctx context.Context, videoID string) (*analysis.Summary, error)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はランの投入と状態管理を担います。
type Manager struct {
	cfg        *config.Config
	client     enqueuer
	server     *asynq.Server
	mux        *asynq.ServeMux
	store      *Store
	submitter  Submitter
	log        zerolog.Logger
	retryState func(ctx context.Context) (retried, max int)
}

// TaskPayload は解析タスクのペイロードです。
type TaskPayload struct {
	RunID   string `json:"runId"`
	VideoID string `json:"videoId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, submitter Submitter, store *Store, log zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if submitter == nil {
		return nil, errors.New("submitter is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.AnalysisMaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger:   NewAsynqLogger(log),
			LogLevel: asynq.WarnLevel,
		},
	)

	manager := newManager(cfg, asynq.NewClient(opt), submitter, store, log)
	manager.server = server
	return manager, nil
}

func newManager(cfg *config.Config, client enqueuer, submitter Submitter, store *Store, log zerolog.Logger) *Manager {
	manager := &Manager{
		cfg:        cfg,
		client:     client,
		mux:        asynq.NewServeMux(),
		store:      store,
		submitter:  submitter,
		log:        log,
		retryState: asynqRetryState,
	}
	manager.mux.HandleFunc(taskTypeAnalyze, manager.handleAnalyzeTask)
	return manager
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if m.server == nil {
		return errors.New("asynq server is not configured")
	}
	return m.server.Start(m.mux)
}

// Shutdown は処理中のタスクの完了を待ってからサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	if m.server != nil {
		m.server.Shutdown()
	}
	if err := m.client.Close(); err != nil {
		m.log.Warn().Err(err).Msg("failed to close asynq client")
	}
}

// Enqueue は動画の解析をキューに投入し、ランIDを返します。
func (m *Manager) Enqueue(ctx context.Context, videoID string) (string, error) {
	if videoID == "" {
		return "", fmt.Errorf("videoID is required")
	}
	payload := TaskPayload{
		RunID:   uuid.NewString(),
		VideoID: videoID,
	}

	record := &Record{
		RunID:   payload.RunID,
		VideoID: videoID,
		Status:  StatusQueued,
		Stage:   "queued",
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeAnalyze, body, asynq.Queue(queueName))
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.RunID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(m.taskTimeout()),
		asynq.Retention(m.cfg.RunTTL()),
	)
	if err != nil {
		if markErr := m.store.MarkFailed(context.WithoutCancel(ctx), payload.RunID, &ErrorInfo{
			Code:    "ENQUEUE_FAILED",
			Message: "failed to enqueue analysis",
		}); markErr != nil {
			m.log.Warn().Err(markErr).Str("runId", payload.RunID).Msg("failed to mark run as failed")
		}
		return "", err
	}
	m.log.Info().Str("runId", payload.RunID).Str("videoId", videoID).Msg("analysis run queued")
	return payload.RunID, nil
}

// GetRecord はラン情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, runID string) (*Record, error) {
	return m.store.Get(ctx, runID)
}

func (m *Manager) handleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RunID == "" || payload.VideoID == "" {
		return fmt.Errorf("missing runId or videoId in payload: %w", asynq.SkipRetry)
	}

	log := m.log.With().Str("runId", payload.RunID).Str("videoId", payload.VideoID).Logger()
	retried, maxRetries := m.retryState(ctx)

	if err := m.store.MarkRunning(ctx, payload.RunID, retried+1); err != nil {
		if !errors.Is(err, ErrRunNotFound) {
			return err
		}
		// 保持期間切れでレコードが消えている場合は作り直す
		if err := m.store.Upsert(ctx, &Record{
			RunID:   payload.RunID,
			VideoID: payload.VideoID,
			Status:  StatusRunning,
			Stage:   "analyzing",
			Attempt: retried + 1,
		}); err != nil {
			return err
		}
	}

	summary, err := m.submitter.Submit(ctx, payload.VideoID)
	if err == nil {
		return m.finishRun(ctx, payload.RunID, summary, log)
	}

	info := errorInfo(err)
	if retryable(err) && retried < maxRetries {
		log.Info().Str("code", info.Code).Int("attempt", retried+1).Msg("analysis deferred, will retry")
		if markErr := m.store.MarkWaiting(ctx, payload.RunID, info); markErr != nil {
			log.Warn().Err(markErr).Msg("failed to record retry wait")
		}
		return err
	}
	return m.failRun(ctx, payload.RunID, info, log)
}

func (m *Manager) finishRun(ctx context.Context, runID string, summary *analysis.Summary, log zerolog.Logger) error {
	// 解析自体は完了しているため、状態の保存に失敗してもタスクはやり直さない
	if err := m.store.MarkDone(context.WithoutCancel(ctx), runID, summary); err != nil {
		log.Error().Err(err).Msg("failed to store analysis result")
		return nil
	}
	log.Info().Int("alerts", len(summary.Alerts)).Msg("analysis run finished")
	return nil
}

func (m *Manager) failRun(ctx context.Context, runID string, info *ErrorInfo, log zerolog.Logger) error {
	log.Warn().Str("code", info.Code).Str("reason", info.Reason).Msg(info.Message)
	if err := m.store.MarkFailed(context.WithoutCancel(ctx), runID, info); err != nil {
		return err
	}
	return nil
}

func (m *Manager) taskTimeout() time.Duration {
	return m.cfg.AnalysisTimeout + m.cfg.AnalysisQueueWait + taskGrace
}

// retryable は同時実行の制限による一時的な失敗かどうかを返します。
func retryable(err error) bool {
	switch analysis.KindOf(err) {
	case analysis.KindConflict, analysis.KindUnavailable:
		return true
	default:
		return false
	}
}

func errorInfo(err error) *ErrorInfo {
	var aErr *analysis.Error
	if errors.As(err, &aErr) {
		return &ErrorInfo{
			Code:    string(aErr.Kind),
			Reason:  string(aErr.Failure),
			Message: aErr.Message,
			Details: aErr.Details,
		}
	}
	return &ErrorInfo{
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
	}
}

func asynqRetryState(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetries, _ := asynq.GetMaxRetry(ctx)
	return retried, maxRetries
}
