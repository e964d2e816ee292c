package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hookrouter/internal/config"
	"hookrouter/internal/db"
	"hookrouter/internal/queue"
	"hookrouter/internal/rules"
	"hookrouter/internal/types"
)

// checkResult is the outcome of one configuration check.
type checkResult struct {
	Name    string
	Valid   bool
	Message string
}

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load the server configuration and probe its backends",
	Long: `Load configuration the way the server does (.env, then SSM pointers outside
local mode, then the environment) and check that the configured rule store and
queue are reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
		defer cancel()

		results := []checkResult{
			{Name: "config", Valid: true, Message: fmt.Sprintf("environment %s", cfg.Environment)},
			checkRules(ctx, cfg.Rules),
			checkQueue(ctx, cfg.Queue),
			checkChannels(cfg),
		}

		failed := 0
		for _, r := range results {
			status := "ok"
			if !r.Valid {
				status = "FAIL"
				failed++
			}
			printf(cmd, "%-8s %-4s %s\n", r.Name, status, r.Message)
		}
		if failed > 0 {
			return fmt.Errorf("%d checks failed", failed)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "overall time limit for backend probes")
	rootCmd.AddCommand(checkCmd)
}

func checkRules(ctx context.Context, cfg config.RulesConfig) checkResult {
	res := checkResult{Name: "rules"}
	switch cfg.Backend {
	case "file":
		loaded, err := rules.LoadFile(cfg.File)
		if err != nil {
			res.Message = err.Error()
			return res
		}
		res.Valid, res.Message = true, fmt.Sprintf("file %s: %d rules", cfg.File, len(loaded))
	case "postgres":
		pool, err := db.Open(ctx, cfg.DatabaseURL.Unmask())
		if err != nil {
			res.Message = err.Error()
			return res
		}
		pool.Close()
		res.Valid, res.Message = true, "postgres reachable"
	case "sqlite":
		store, err := rules.OpenSQLite(ctx, cfg.SQLitePath, types.RealClock{})
		if err != nil {
			res.Message = err.Error()
			return res
		}
		defer store.Close()
		all, err := store.GetAllRules(ctx)
		if err != nil {
			res.Message = err.Error()
			return res
		}
		res.Valid, res.Message = true, fmt.Sprintf("sqlite %s: %d rules", cfg.SQLitePath, len(all))
	default:
		res.Valid, res.Message = true, "in-memory (rules are lost on restart)"
	}
	return res
}

func checkQueue(ctx context.Context, cfg config.QueueConfig) checkResult {
	res := checkResult{Name: "queue"}
	switch cfg.Backend {
	case "redis":
		client, err := queue.NewRedisClient(cfg.RedisURL, cfg.RedisPassword.Unmask())
		if err != nil {
			res.Message = err.Error()
			return res
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			res.Message = fmt.Sprintf("ping redis: %v", err)
			return res
		}
		res.Valid, res.Message = true, "redis reachable"
	case "sqs":
		res.Valid, res.Message = true, "sqs "+cfg.SQSStandardURL+" (consumed by dispatch-worker)"
	default:
		res.Valid, res.Message = true, fmt.Sprintf("in-memory, %d workers", cfg.Workers)
	}
	return res
}

// checkChannels reports which credentialed channels can deliver. Missing
// credentials are not an error: those channels reject their rules instead.
func checkChannels(cfg *config.Config) checkResult {
	res := checkResult{Name: "channels", Valid: true}
	var missing []string
	if !cfg.SMS.Enabled() {
		missing = append(missing, "sms")
	}
	if !cfg.Telegram.BotToken.IsSet() {
		missing = append(missing, "telegram")
	}
	if cfg.Email.From == "" {
		missing = append(missing, "email")
	}
	if len(missing) == 0 {
		res.Message = "all channels configured"
	} else {
		res.Message = fmt.Sprintf("not configured: %v", missing)
	}
	return res
}
