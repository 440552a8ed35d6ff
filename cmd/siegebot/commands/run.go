package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"siegebot/internal/app"
	"siegebot/internal/sched"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot until interrupted",
	Long: `Starts every configured profile and runs their duty queues until
SIGINT or SIGTERM. Under systemd the service notifies readiness and feeds
the watchdog. SIGUSR1 resumes all profiles paused for operator
intervention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background())
			return err
		}

		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		go feedWatchdog(ctx)
		go resumeOnSignal(ctx, a)

		<-ctx.Done()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.Stop(stopCtx)
	},
}

// feedWatchdog pings the systemd watchdog at half the configured interval.
// No-op outside systemd or when WatchdogSec is unset.
func feedWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// resumeOnSignal lets an operator clear intervention pauses without any
// control channel: kill -USR1 resumes every paused profile.
func resumeOnSignal(ctx context.Context, a *app.App) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			profiles, _ := a.Status()
			for _, p := range profiles {
				if p.State == sched.WorkerPaused {
					_ = a.Resume(p.Profile)
				}
			}
		}
	}
}
