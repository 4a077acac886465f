package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/hyperstar-dev/hyperstar"
	"github.com/hyperstar-dev/hyperstar/internal/config"
	"github.com/hyperstar-dev/hyperstar/internal/errors"
	"github.com/hyperstar-dev/hyperstar/pkg/action"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/schedule"
	"github.com/hyperstar-dev/hyperstar/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo counter application",
		Long: `Run a small shared-counter application: every connected browser
sees the same count, and any of them can change it.

Examples:
  hyperstar serve
  hyperstar serve --addr=:9000
  hyperstar serve --config=./hyperstar.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, configPath)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from hyperstar.json)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to hyperstar.json")

	return cmd
}

// demoState is the shared state of the demo application.
type demoState struct {
	Count   int       `json:"count"`
	Started time.Time `json:"started"`
}

// demoSession is the per-session state.
type demoSession struct {
	Increments int `json:"increments"`
}

func runServe(addr, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Address = addr
	}

	snapshot, err := buildSnapshotter(cfg)
	if err != nil {
		return err
	}

	app := hyperstar.New(
		demoState{Started: time.Now()},
		func() demoSession { return demoSession{} },
		hyperstar.Config{
			Address:          cfg.Address,
			BasePath:         cfg.BasePath,
			CookieName:       cfg.CookieName,
			KeepAlive:        cfg.KeepAlive(),
			DisableMetrics:   !cfg.MetricsEnabled(),
			Snapshot:         snapshot,
			SnapshotDebounce: cfg.SnapshotDebounce(),
		})

	app.SetView(func(sessionID string, s demoState, u demoSession) (string, error) {
		return fmt.Sprintf(`
			<h1>Shared counter</h1>
			<p id="count">%d</p>
			<p id="mine">You incremented %d times</p>
			<button id="inc" data-on-click="action('increment')">+1</button>
			<button id="inc10" data-on-click="action('increment', 'amount', 10)">+10</button>
			<button id="reset" data-on-click="action('reset')">reset</button>`,
			s.Count, u.Increments), nil
	})

	app.SetPage(func(r *http.Request, sessionID string) (string, error) {
		return fmt.Sprintf(`<!doctype html>
<html>
<head><title>hyperstar demo</title></head>
<body>
  <div id="app"></div>
  <script>window.HYPERSTAR_BASE = %q;</script>
</body>
</html>`, cfg.BasePath), nil
	})

	app.MustAction("increment",
		action.NewShape(action.Int("amount").WithDefault(1)),
		func(ctx *action.Context[demoState, demoSession]) error {
			amount := ctx.Int("amount")
			ctx.UpdateState(func(s demoState) demoState {
				s.Count += amount
				return s
			})
			ctx.UpdateSessionState(func(u demoSession) demoSession {
				u.Increments++
				return u
			})
			return nil
		})

	app.MustAction("reset", action.NewShape(),
		func(ctx *action.Context[demoState, demoSession]) error {
			ctx.UpdateState(func(s demoState) demoState {
				s.Count = 0
				return s
			})
			ctx.SetTitle("counter reset")
			return nil
		})

	// Heartbeat job: pushes uptime while anyone is connected, sleeps
	// otherwise.
	if _, err := app.Repeat("uptime", schedule.RepeatConfig{
		Interval:  time.Second,
		TrackRate: true,
		Handler: func(ctx context.Context, job *schedule.Job) error {
			uptime := time.Since(app.Store().Get().Started).Round(time.Second)
			app.Hub().Broadcast(protocol.Signals(map[string]any{"uptime": uptime.String()}))
			return nil
		},
	}); err != nil {
		return err
	}

	fmt.Printf("hyperstar demo listening on %s\n", cfg.Address)
	return app.Run()
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	default:
		cfg, err := config.Load(".")
		if err != nil {
			var herr *errors.Error
			if stderrors.As(err, &herr) && herr.Code == "H100" {
				// No config file is fine; run on defaults.
				return config.New(), nil
			}
			return nil, err
		}
		return cfg, nil
	}
}

func buildSnapshotter(cfg *config.Config) (store.Snapshotter, error) {
	switch {
	case cfg.Snapshot.S3Bucket != "":
		client := s3.New(s3.Options{Region: os.Getenv("AWS_REGION")})
		return store.NewS3Snapshotter(client, cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Key), nil
	case cfg.Snapshot.Path != "":
		return &store.DiskSnapshotter{Path: cfg.Snapshot.Path}, nil
	default:
		return nil, nil
	}
}
