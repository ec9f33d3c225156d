package main

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/Shikha320/Heritageshield/internal/config"
	"github.com/Shikha320/Heritageshield/internal/jobs"
	"github.com/Shikha320/Heritageshield/internal/logger"
)

// setupJobs は非同期解析ランのレコードストアとキューマネージャーを組み立てます。
func setupJobs(cfg *config.Config, rdb *redis.Client, submitter jobs.Submitter) (*jobs.Manager, error) {
	runs := jobs.NewStore(rdb, cfg.RunTTL())
	return jobs.NewManager(cfg, submitter, runs, logger.Component("jobs"))
}
