package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hookrouter/internal/archive"
	"hookrouter/internal/routing"
	"hookrouter/internal/rules"
	"hookrouter/internal/types"
)

var (
	routeRules  string
	routeSource string
	routeData   string
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show the notifications a payload would produce",
	Long: `Route a webhook payload through the rules of a file and print the
resulting notification messages as JSON, one object per line.

--data accepts a JSON file, an archived event (.json.zst) or "-" for stdin.
Archived events carry their own source; --source overrides it.`,
	Example: `  routerctl route --rules rules.yaml --source github --data push.json
  curl -s https://example.com/payload | routerctl route --rules rules.yaml --source grafana --data -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := rules.LoadFile(routeRules)
		if err != nil {
			return err
		}
		ev, err := readEvent(cmd.InOrStdin(), routeData, routeSource)
		if err != nil {
			return err
		}

		clock := types.RealClock{}
		store, err := rules.NewMemoryStore(clock, loaded...)
		if err != nil {
			return err
		}
		logger := commandLogger(cmd)
		capture := &captureQueue{}
		engine := routing.NewEngine(store, capture,
			routing.NewEvaluator(clock, logger), routing.NewTransformer(logger), clock, logger)

		if _, err := engine.RouteEvent(cmd.Context(), ev); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, c := range capture.items {
			if err := enc.Encode(c); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d notifications from %d rules\n", len(capture.items), store.Len())
		return nil
	},
}

func init() {
	routeCmd.Flags().StringVarP(&routeRules, "rules", "r", "", "rule file (YAML or JSON)")
	routeCmd.Flags().StringVar(&routeSource, "source", "", "webhook source name")
	routeCmd.Flags().StringVarP(&routeData, "data", "d", "-", "payload file, archived event or - for stdin")
	_ = routeCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(routeCmd)
}

// readEvent builds the event to route. Plain payloads become the event data;
// archived events are decoded whole.
func readEvent(stdin io.Reader, path, source string) (*types.Event, error) {
	var (
		r   io.Reader = stdin
		raw []byte
		err error
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	if strings.HasSuffix(path, ".zst") {
		ev, err := archive.Decode(r)
		if err != nil {
			return nil, err
		}
		if source != "" {
			ev.Source = source
		}
		if ev.Source == "" {
			return nil, errors.New("archived event has no source; pass --source")
		}
		return ev, nil
	}

	if source == "" {
		return nil, errors.New("--source is required for plain payloads")
	}
	if raw, err = io.ReadAll(r); err != nil {
		return nil, err
	}
	data := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	return &types.Event{
		ID:         uuid.NewString(),
		ReceivedAt: types.RealClock{}.Now().UTC(),
		Source:     source,
		Data:       data,
	}, nil
}

// routed is one captured enqueue.
type routed struct {
	Priority int                        `json:"queuePriority"`
	Message  *types.NotificationMessage `json:"message"`
}

// captureQueue records messages instead of delivering them.
type captureQueue struct {
	mu    sync.Mutex
	items []routed
}

func (q *captureQueue) Enqueue(_ context.Context, msg *types.NotificationMessage, priority int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, routed{Priority: priority, Message: msg})
	return msg.ID, nil
}
