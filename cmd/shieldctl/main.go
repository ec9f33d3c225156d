// Package main は解析パイプラインを手元で操作するための CLI です。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Shikha320/Heritageshield/internal/analysis"
	"github.com/Shikha320/Heritageshield/internal/config"
	"github.com/Shikha320/Heritageshield/internal/jobs"
	"github.com/Shikha320/Heritageshield/internal/logger"
	"github.com/Shikha320/Heritageshield/internal/storage"
	"github.com/Shikha320/Heritageshield/internal/store"
)

var (
	cfg *config.Config

	flagVerbose bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentPreRunE = initShieldctl
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(runStatusCmd)
	rootCmd.AddCommand(parseCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "shieldctl",
	Short:        "Operate the Heritage Shield video analysis pipeline",
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <videoId>",
	Short: "run the analysis worker for an uploaded video and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE:  doAnalyze,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <videoId>",
	Short: "queue an asynchronous analysis run and print its run id",
	Args:  cobra.ExactArgs(1),
	RunE:  doEnqueue,
}

var runStatusCmd = &cobra.Command{
	Use:   "run <runId>",
	Short: "show the state of an asynchronous analysis run",
	Args:  cobra.ExactArgs(1),
	RunE:  doRunStatus,
}

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "parse captured worker output (stdin when file is omitted or -)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doParse,
}

func initShieldctl(cmd *cobra.Command, _ []string) error {
	// parse はワーカー出力の確認用なので設定を必要としない
	if cmd == parseCmd {
		logger.Init(logLevel(), "console")
		return nil
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	logger.Init(cfg.LogLevel, "console")
	return nil
}

func logLevel() string {
	if flagVerbose {
		return "debug"
	}
	return "warn"
}

func doAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rdb, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = rdb.Close()
	}()

	records := store.NewRedisStore(rdb)
	files, err := storage.NewLocal(cfg.UploadDir, cfg.MaxUploadSize)
	if err != nil {
		return err
	}
	service := analysis.NewService(
		records,
		records,
		files,
		analysis.NewExecRunner(logger.Component("runner")),
		analysis.OptionsFromConfig(cfg),
		logger.Component("analysis"),
	)

	summary, err := service.Submit(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}

func doEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager, rdb, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer func() {
		manager.Shutdown()
		_ = rdb.Close()
	}()

	if _, err := store.NewRedisStore(rdb).GetVideo(ctx, args[0]); err != nil {
		return fmt.Errorf("video %s: %w", args[0], err)
	}
	runID, err := manager.Enqueue(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), runID)
	return err
}

func doRunStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rdb, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = rdb.Close()
	}()

	record, err := jobs.NewStore(rdb, cfg.RunTTL()).Get(ctx, args[0])
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("run %s: %w", args[0], jobs.ErrRunNotFound)
	}
	return writeJSON(cmd.OutOrStdout(), record)
}

func doParse(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading worker output: %w", err)
	}
	result, err := analysis.Parse(raw)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("worker reported an error: %s", result.Error)
	}
	return nil
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// openManager はワーカーを起動せずに投入専用のマネージャーを作ります。
func openManager(ctx context.Context) (*jobs.Manager, *redis.Client, error) {
	rdb, err := openRedis(ctx)
	if err != nil {
		return nil, nil, err
	}
	manager, err := jobs.NewManager(cfg, noSubmitter{}, jobs.NewStore(rdb, cfg.RunTTL()), logger.Component("jobs"))
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return manager, rdb, nil
}

// noSubmitter は投入専用のマネージャーに渡します。ワーカーを起動しないので呼ばれません。
type noSubmitter struct{}

func (noSubmitter) Submit(context.Context, string) (*analysis.Summary, error) {
	return nil, errors.New("shieldctl does not process analysis runs")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(err error) {
	var aErr *analysis.Error
	if errors.As(err, &aErr) {
		fmt.Fprintf(os.Stderr, "shieldctl: %s\n", aErr.Error())
		if aErr.Details != "" {
			fmt.Fprintf(os.Stderr, "details: %s\n", aErr.Details)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "shieldctl: %v\n", err)
}
