// Package analysis は動画解析ジョブのパイプラインを提供します。
// ワーカープロセスの起動、出力の解析、アラートの保存、動画の解析状態の更新を1回の依頼としてまとめて扱います。
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Shikha320/Heritageshield/internal/config"
	"github.com/Shikha320/Heritageshield/internal/store"
)

// staleGrace は analyzing のまま放置された状態を古いとみなすまでの猶予です（タイムアウトに加算）。
const staleGrace = time.Minute

// JobStore は解析対象の動画レコードを読み書きします。
type JobStore interface {
	GetVideo(ctx context.Context, id string) (*store.Video, error)
	SetVideoStatus(ctx context.Context, id string, status store.VideoStatus) error
}

// ArtifactStore は保存済み動画ファイルの場所を解決します。
type ArtifactStore interface {
	Path(filename string) string
	Exists(ctx context.Context, filename string) (bool, error)
}

// Options は配備ごとに固定の解析設定です。
type Options struct {
	WorkerPath string
	Script     string // WorkerPath の最初の引数（python スクリプトなど）。空なら省略
	Model      string // 空なら --model を渡さない
	Env        []string

	Interval   int
	Confidence float64
	Limits     Limits

	MaxConcurrency int
	QueueWait      time.Duration
}

// OptionsFromConfig は設定から Options を作ります。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkerPath: cfg.AnalyzerPath,
		Script:     cfg.AnalyzerScript,
		Model:      cfg.AnalyzerModel,
		Env:        cfg.AnalyzerEnv,
		Interval:   cfg.AnalysisInterval,
		Confidence: cfg.AnalysisConfidence,
		Limits: Limits{
			Timeout:        cfg.AnalysisTimeout,
			MaxOutputBytes: cfg.AnalysisMaxOutputBytes,
		},
		MaxConcurrency: cfg.AnalysisMaxConcurrency,
		QueueWait:      cfg.AnalysisQueueWait,
	}
}

// Summary は解析成功時にクライアントへ返す集約結果です。
type Summary struct {
	JobID          string            `json:"jobId"`
	TotalFrames    int64             `json:"totalFrames"`
	AnalyzedFrames int64             `json:"analyzedFrames"`
	FPS            float64           `json:"fps"`
	Summary        map[string]int    `json:"summary"`
	Detections     []json.RawMessage `json:"detections"`
	Alerts         []store.Alert     `json:"alerts"`
}

// Service は解析依頼を受け付けて最後まで実行します。
type Service struct {
	jobs         JobStore
	artifacts    ArtifactStore
	runner       ProcessRunner
	materializer *Materializer
	opts         Options
	locks        *lockTable
	admission    *admission
	log          zerolog.Logger
	now          func() time.Time
}

// NewService は Service を作成します。
func NewService(jobs JobStore, alerts AlertCreator, artifacts ArtifactStore, runner ProcessRunner, opts Options, log zerolog.Logger) *Service {
	return &Service{
		jobs:         jobs,
		artifacts:    artifacts,
		runner:       runner,
		materializer: NewMaterializer(alerts),
		opts:         opts,
		locks:        newLockTable(),
		admission:    newAdmission(opts.MaxConcurrency, opts.QueueWait),
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Submit は videoID の動画を解析します。
//
// 動画またはファイルが存在しない場合は状態を変更せずに KindNotFound を返します。
// 同じ動画の解析が実行中なら KindConflict、同時実行枠が空かなければ KindUnavailable を返します。
// analyzing に遷移した後の失敗では、必ず状態を error にしてから返します。
func (s *Service) Submit(ctx context.Context, videoID string) (*Summary, error) {
	log := s.log.With().Str("videoId", videoID).Logger()

	release, ok := s.locks.tryLock(videoID)
	if !ok {
		return nil, &Error{Kind: KindConflict, Message: fmt.Sprintf("analysis for video %s is already running", videoID)}
	}
	defer release()

	video, err := s.jobs.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("video not found")
			return nil, notFoundError("Video not found")
		}
		return nil, persistenceError("failed to load video", err)
	}

	present, err := s.artifacts.Exists(ctx, video.Filename)
	if err != nil {
		return nil, persistenceError("failed to check video file", err)
	}
	if !present {
		log.Warn().Str("filename", video.Filename).Msg("video file missing from disk")
		return nil, notFoundError("Video file missing from disk")
	}

	if video.Status == store.StatusAnalyzing && !s.isStale(video) {
		return nil, &Error{Kind: KindConflict, Message: fmt.Sprintf("video %s is already being analyzed", videoID)}
	}

	releaseSlot, err := s.admission.acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("analysis capacity exhausted")
		return nil, &Error{Kind: KindUnavailable, Message: "no analysis worker is available, try again later", Err: err}
	}
	defer releaseSlot()

	if err := s.jobs.SetVideoStatus(ctx, videoID, store.StatusAnalyzing); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("video was deleted before analysis started")
			return nil, notFoundError("Video not found")
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, &Error{Kind: KindConflict, Message: fmt.Sprintf("video %s cannot be analyzed now", videoID), Err: err}
		}
		return nil, persistenceError("failed to update video status", err)
	}
	log.Info().Str("from", string(video.Status)).Msg("analysis started")

	out, err := s.runner.Run(ctx, s.command(s.artifacts.Path(video.Filename)), s.opts.Limits)
	if err != nil {
		s.markFailed(ctx, videoID, log)
		if KindOf(err) == "" {
			err = &Error{Kind: KindProcess, Failure: FailureNonZeroExit, Message: "analysis worker failed", Err: err}
		}
		return nil, err
	}
	if len(out.Stderr) > 0 {
		log.Debug().Str("stderr", tailExcerpt(out.Stderr)).Msg("analysis worker diagnostics")
	}

	result, err := Parse(out.Stdout)
	if err != nil {
		s.markFailed(ctx, videoID, log)
		log.Warn().Err(err).Msg("analysis output could not be parsed")
		return nil, err
	}
	if result.Error != "" {
		s.markFailed(ctx, videoID, log)
		log.Warn().Str("workerError", result.Error).Msg("analysis worker reported failure")
		return nil, &Error{Kind: KindSemantic, Message: result.Error}
	}

	// ワーカー完了後の保存は呼び出し元の切断で中断しない
	persistCtx := context.WithoutCancel(ctx)

	alerts, err := s.materializer.Materialize(persistCtx, displayName(video), result.Alerts)
	if err != nil {
		s.markFailed(ctx, videoID, log)
		log.Error().Err(err).Int("created", len(alerts)).Int("reported", len(result.Alerts)).Msg("failed to save analysis alerts")
		return nil, err
	}

	if err := s.jobs.SetVideoStatus(persistCtx, videoID, store.StatusAnalyzed); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.markFailed(ctx, videoID, log)
			return nil, persistenceError("failed to update video status", err)
		}
		log.Warn().Msg("video was deleted during analysis")
	}

	log.Info().
		Int64("totalFrames", result.TotalFrames).
		Int64("analyzedFrames", result.AnalyzedFrames).
		Int("alerts", len(alerts)).
		Dur("elapsed", out.Stopped.Sub(out.Started)).
		Msg("analysis finished")

	return &Summary{
		JobID:          videoID,
		TotalFrames:    result.TotalFrames,
		AnalyzedFrames: result.AnalyzedFrames,
		FPS:            result.FPS,
		Summary:        result.Summary,
		Detections:     result.Detections,
		Alerts:         alerts,
	}, nil
}

func (s *Service) markFailed(ctx context.Context, videoID string, log zerolog.Logger) {
	err := s.jobs.SetVideoStatus(context.WithoutCancel(ctx), videoID, store.StatusError)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		log.Warn().Msg("video was deleted during analysis")
	default:
		log.Error().Err(err).Msg("failed to mark analysis as failed")
	}
}

// isStale は analyzing のまま更新されていないレコードを判定します（プロセス異常終了後の回復用）。
func (s *Service) isStale(video *store.Video) bool {
	limit := s.opts.Limits.Timeout + staleGrace
	return s.now().Sub(video.UpdatedAt) > limit
}

func (s *Service) command(path string) Command {
	args := make([]string, 0, 8)
	if s.opts.Script != "" {
		args = append(args, s.opts.Script)
	}
	args = append(args,
		path,
		"--interval", strconv.Itoa(s.opts.Interval),
		"--conf", strconv.FormatFloat(s.opts.Confidence, 'f', -1, 64),
	)
	if s.opts.Model != "" {
		args = append(args, "--model", s.opts.Model)
	}
	return Command{Path: s.opts.WorkerPath, Args: args, Env: s.opts.Env}
}

func displayName(video *store.Video) string {
	if video.OriginalName != "" {
		return video.OriginalName
	}
	return video.Filename
}
