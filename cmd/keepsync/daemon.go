package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/keepsync/keepsync/internal/provider"
	"github.com/keepsync/keepsync/internal/provider/backupfile"
	"github.com/keepsync/keepsync/internal/schedule"
	syncpkg "github.com/keepsync/keepsync/internal/sync"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync until interrupted",
	Long: `Run sync continuously. The active provider syncs on the configured
interval; when it is not the file-based provider and backup
credentials are available, the file-based provider runs its own
independent schedule alongside, with an immediate cycle whenever the
backup directory changes. Stops cleanly on SIGINT or SIGTERM, waiting
for in-flight cycles to finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		var logger *log.Logger
		if daemonForeground || cfg.LogFile == "" {
			logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		} else {
			rotating := &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
			}
			logger = log.New(rotating, "[daemon] ", log.LstdFlags)
		}

		logEvents := func(ev syncpkg.Event) {
			if ev.Message != "" {
				logger.Printf("%s %s: %s", ev.Provider, ev.Type, ev.Message)
			} else {
				logger.Printf("%s %s", ev.Provider, ev.Type)
			}
		}

		name := activeProviderName(ctx, st, cfg)
		primary := newEngine(ctx, st, cfg, name,
			syncpkg.WithLogger(log.New(logger.Writer(), "[sync] ", log.LstdFlags)))
		primary.Notifier().Subscribe(logEvents)

		g, ctx := errgroup.WithContext(ctx)

		startScheduler := func(engine *syncpkg.Engine) *schedule.Scheduler {
			sched := schedule.New(func(ctx context.Context) error {
				_, err := engine.Sync(ctx)
				return err
			}, schedule.WithInterval(cfg.SyncInterval), schedule.WithLogger(logger))
			sched.Start(ctx)
			g.Go(func() error {
				<-ctx.Done()
				sched.Stop()
				return nil
			})
			return sched
		}

		primarySched := startScheduler(primary)

		// The cloud-backup provider keeps its own schedule so backups
		// stay current regardless of which provider is active.
		backupEngine := primary
		backupSched := primarySched
		if name != provider.NameBackupFile {
			engine, err := buildEngine(ctx, st, cfg, provider.NameBackupFile,
				syncpkg.WithLogger(log.New(logger.Writer(), "[sync] ", log.LstdFlags)))
			if err != nil {
				logger.Printf("cloud backup schedule disabled: %v", err)
				backupEngine, backupSched = nil, nil
			} else {
				engine.Notifier().Subscribe(logEvents)
				backupEngine = engine
				backupSched = startScheduler(engine)
			}
		}

		if backupEngine != nil && cfg.WatchBackups {
			if bf, ok := backupEngine.Provider().(*backupfile.Provider); ok {
				if docPath := bf.DocumentPath(); docPath != "" {
					watcher := schedule.NewWatcher(filepath.Dir(docPath), backupSched.Trigger, logger)
					if err := watcher.Start(ctx); err != nil {
						logger.Printf("backup watcher disabled: %v", err)
					} else {
						g.Go(func() error {
							<-ctx.Done()
							watcher.Stop()
							return nil
						})
					}
				}
			}
		}

		// First cycles right away so a fresh daemon is useful before
		// the first tick. The manual trigger steers the active
		// provider; the backup schedule follows its own clock.
		primarySched.Trigger()
		if backupSched != nil && backupSched != primarySched {
			backupSched.Trigger()
		}

		fmt.Printf("keepsync daemon running (provider %s, interval %s)\n", name, cfg.SyncInterval)
		if err := g.Wait(); err != nil {
			fatal("daemon: %v", err)
		}
		fmt.Println("keepsync daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "log to stderr instead of the log file")
}
