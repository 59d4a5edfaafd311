package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/driver"
	"github.com/sshz/workbin-syncer/internal/engine"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/internal/notify"
	"github.com/sshz/workbin-syncer/internal/scheduler"
	"github.com/sshz/workbin-syncer/internal/source"
	"github.com/sshz/workbin-syncer/internal/store"
	"github.com/sshz/workbin-syncer/pkg/models"
	"github.com/sshz/workbin-syncer/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	configFlag := &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the TOML configuration file",
		Value: "wsyncd.toml",
	}

	app := &cli.App{
		Name:                 "wsyncd",
		Usage:                "Workbin-to-cloud sync daemon",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:   "daemon",
				Usage:  "Run the sync scheduler until interrupted",
				Flags:  []cli.Flag{configFlag},
				Action: runDaemon,
			},
			{
				Name:  "scan",
				Usage: "Run one scan-and-transfer cycle for a single user",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User id",
						Required: true,
					},
				},
				Action: runOneShotScan,
			},
			{
				Name:  "status",
				Usage: "Show a user's sync status",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User id",
						Required: true,
					},
				},
				Action: showStatus,
			},
			{
				Name:  "users",
				Usage: "Inspect and adjust user records",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List users with syncing enabled",
						Flags:  []cli.Flag{configFlag},
						Action: listUsers,
					},
					{
						Name:   "enable",
						Usage:  "Enable syncing for a user",
						Flags:  userFlags(configFlag),
						Action: setEnabled(true),
					},
					{
						Name:   "disable",
						Usage:  "Disable syncing for a user",
						Flags:  userFlags(configFlag),
						Action: setEnabled(false),
					},
					{
						Name:   "logout",
						Usage:  "Disconnect a user's destination and forget it",
						Flags:  userFlags(configFlag),
						Action: logoutTarget,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func userFlags(configFlag cli.Flag) []cli.Flag {
	return []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:     "user",
			Usage:    "User id",
			Required: true,
		},
	}
}

func openStore(c *cli.Context) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, st, nil
}

func runDaemon(c *cli.Context) error {
	cfg, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := logging.New(cfg.Logging)

	lock := flock.New(cfg.Daemon.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another wsyncd instance holds %s", cfg.Daemon.LockPath)
	}
	defer lock.Unlock()

	src := source.New(cfg.Source, logger)
	drivers := driver.NewRegistry(logger)
	notifier := notify.NewService(cfg, logger)

	eng := engine.New(st, src, drivers, notifier, cfg.Limits.MaxFileSize, logger)
	sched := scheduler.New(st, eng, cfg.Daemon, logger)
	eng.SetQueue(sched)

	if err := sched.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("daemon started",
		"scan_interval", cfg.Daemon.ScanInterval,
		"database", cfg.Database.Path)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	sched.Stop()
	return nil
}

// collectQueue captures the transfer jobs a scan derives so the one-shot
// command can run them in the foreground.
type collectQueue struct {
	mu    sync.Mutex
	files []models.RemoteFile
}

func (q *collectQueue) TriggerFileTransfer(_ string, file models.RemoteFile) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.files = append(q.files, file)
	return true
}

func runOneShotScan(c *cli.Context) error {
	cfg, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	userID := c.String("user")
	logger := logging.New(cfg.Logging)
	src := source.New(cfg.Source, logger)
	drivers := driver.NewRegistry(logger)
	notifier := notify.NewService(cfg, logger)

	eng := engine.New(st, src, drivers, notifier, cfg.Limits.MaxFileSize, logger)
	queue := &collectQueue{}
	eng.SetQueue(queue)

	ctx := context.Background()
	eng.ScanUser(ctx, userID)

	if len(queue.files) == 0 {
		fmt.Println("Nothing new to sync")
		return nil
	}

	fmt.Printf("Transferring %d files...\n", len(queue.files))
	bar := pb.StartNew(len(queue.files))

	jobs := make(chan models.RemoteFile, len(queue.files))
	for _, f := range queue.files {
		jobs <- f
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Daemon.TransferWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				eng.TransferFile(ctx, userID, f)
				bar.Increment()
			}
		}()
	}
	wg.Wait()
	bar.Finish()

	stats, err := st.Stats(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("Done: %d files in the synced set\n", stats.SyncedFiles)
	return nil
}

func showStatus(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(c.Context, c.String("user"))
	if err != nil {
		return err
	}

	fmt.Printf("User: %s\n", stats.UserID)
	fmt.Printf("Email: %s\n", stats.Email)
	fmt.Printf("Sync Enabled: %v\n", stats.Enabled)
	target := stats.Target
	if target == "" {
		target = "none"
		if stats.LastTarget != "" {
			target = fmt.Sprintf("none (was %s)", stats.LastTarget)
		}
	}
	fmt.Printf("Destination: %s\n", target)
	fmt.Printf("Modules: %d\n", stats.Modules)
	fmt.Printf("Synced Files: %d\n", stats.SyncedFiles)
	return nil
}

func listUsers(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.ListEnabledUsers(c.Context)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No users have syncing enabled")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func setEnabled(enabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		_, st, err := openStore(c)
		if err != nil {
			return err
		}
		defer st.Close()

		userID := c.String("user")
		err = st.WithLock(c.Context, userID, func(u *models.User) error {
			u.Enabled = enabled
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("User '%s' enabled=%v\n", userID, enabled)
		return nil
	}
}

func logoutTarget(c *cli.Context) error {
	_, st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	userID := c.String("user")
	err = st.WithLock(c.Context, userID, func(u *models.User) error {
		u.LogoutTarget()
		// Explicit user-initiated logout also forgets the reconnect hint.
		u.LastTarget = ""
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("User '%s' destination disconnected\n", userID)
	return nil
}
