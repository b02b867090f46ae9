package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"vehicle-tracker/internal/config"
	"vehicle-tracker/internal/poscache"
	"vehicle-tracker/internal/routes"
	"vehicle-tracker/internal/tracker"
)

func main() {
	app := &cli.App{
		Name:  "tracker",
		Usage: "ingest vehicle GPS feeds, infer direction and terminal state",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "poll every configured feed until interrupted",
				Action: runCommand,
			},
			{
				Name:   "routes",
				Usage:  "load route geometry once and print per-line directions",
				Action: routesCommand,
			},
			{
				Name:  "snapshot",
				Usage: "print the stored position cache snapshot of a feed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "feed", Required: true, Usage: "feed name"},
				},
				Action: snapshotCommand,
			},
			{
				Name:  "coverage",
				Usage: "report, per line, the share of a stored snapshot with no direction within the snap cutoff",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "feed", Required: true, Usage: "feed name"},
					&cli.IntFlag{Name: "sample", Value: tracker.DefaultCoverageSample, Usage: "points sampled per line"},
				},
				Action: coverageCommand,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("tracker failed")
	}
}

func setup() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func runCommand(c *cli.Context) error {
	cfg := setup()
	if len(cfg.Feeds) == 0 {
		log.Fatal().Msg("no feeds configured: set FEEDS_FILE or FEED_URL")
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer svc.close()

	svc.tracker.Start(ctx)
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	svc.tracker.Stop(shutdownCtx)
	if err := svc.dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sink queue not drained before shutdown deadline")
	}
	return nil
}

func routesCommand(c *cli.Context) error {
	cfg := setup()
	res, err := openResources(c.Context, cfg, cfg.RoutesSource == config.RoutesPostgres || cfg.RoutesSource == config.RoutesPostgresGTFS, false)
	if err != nil {
		return err
	}
	defer res.close()

	geom, err := geometryCache(cfg, res, nil)
	if err != nil {
		return err
	}
	if geom == nil {
		return fmt.Errorf("ROUTES_SOURCE=%s has no geometry to load", cfg.RoutesSource)
	}
	if err := geom.Reload(c.Context); err != nil {
		return err
	}
	for _, line := range geom.Lines() {
		dirs := geom.ByLine(line)
		labels := make([]string, 0, len(dirs))
		for _, g := range dirs {
			labels = append(labels, g.Direction)
		}
		fmt.Printf("%-12s %d  %s\n", line, len(dirs), strings.Join(labels, ","))
	}
	return nil
}

type snapshotReport struct {
	Feed    string
	SavedAt time.Time
	Lines   []poscache.LineSummary
}

func snapshotCommand(c *cli.Context) error {
	cfg := setup()
	res, err := openResources(c.Context, cfg, cfg.SnapshotStore == config.SnapshotPostgres, cfg.SnapshotStore == config.SnapshotRedis)
	if err != nil {
		return err
	}
	defer res.close()

	store, err := snapshotStore(cfg, res)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("SNAPSHOT_STORE=none")
	}
	doc, err := store.Load(c.Context, c.String("feed"))
	if err != nil {
		return err
	}
	cache := poscache.New(poscache.DefaultDepth)
	cache.Restore(doc.Lines)
	pretty.Println(snapshotReport{
		Feed:    doc.Feed,
		SavedAt: doc.SavedAt,
		Lines:   cache.Summary(time.Now(), poscache.DefaultActiveWindow),
	})
	return nil
}

func coverageCommand(c *cli.Context) error {
	cfg := setup()
	needDB := cfg.SnapshotStore == config.SnapshotPostgres ||
		cfg.RoutesSource == config.RoutesPostgres || cfg.RoutesSource == config.RoutesPostgresGTFS
	res, err := openResources(c.Context, cfg, needDB, cfg.SnapshotStore == config.SnapshotRedis)
	if err != nil {
		return err
	}
	defer res.close()

	store, err := snapshotStore(cfg, res)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("SNAPSHOT_STORE=none")
	}
	geom, err := geometryCache(cfg, res, nil)
	if err != nil {
		return err
	}
	if geom == nil {
		return fmt.Errorf("ROUTES_SOURCE=%s has no geometry to load", cfg.RoutesSource)
	}
	if err := geom.Reload(c.Context); err != nil {
		return err
	}
	doc, err := store.Load(c.Context, c.String("feed"))
	if err != nil {
		return err
	}

	rows := tracker.Coverage(routes.NewEngine(geom, cfg.MaxSnapMeters), doc.Lines, c.Int("sample"))
	var sampled, unmatched int
	for _, r := range rows {
		fmt.Printf("%-12s %5d %5d %6.2f%%\n", r.LineID, r.Sampled, r.Unmatched, r.UnmatchedPct)
		sampled += r.Sampled
		unmatched += r.Unmatched
	}
	log.Info().
		Str("feed", doc.Feed).
		Time("saved_at", doc.SavedAt).
		Int("lines", len(rows)).
		Int("sampled", sampled).
		Int("unmatched", unmatched).
		Msg("coverage report")
	return nil
}
