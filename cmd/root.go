// Package cmd defines the kbmirror command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbmirror/internal/app"
	"github.com/JakeFAU/kbmirror/internal/config"
	"github.com/JakeFAU/kbmirror/internal/logging"
	pkgconfig "github.com/JakeFAU/kbmirror/pkg/config"
)

// Runner is the part of app.App the command drives. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, opts app.Options) (app.Summary, error)
	Close()
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

type rootFlags struct {
	cfgFile      string
	discoverOnly bool
	useSiteMap   bool
	noImages     bool
}

// newRootCmd builds the command around v so tests get an isolated viper.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:   "kbmirror",
		Short: "Mirror a knowledge base into categorized Markdown files.",
		Long: `kbmirror maps a knowledge-base site breadth-first into its categories,
renders every article, and writes it as Markdown with YAML front matter into a
folder tree that mirrors the site. Images are downloaded once per run and an
index.md ties the output together.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/kbmirror/, $HOME/.kbmirror)")
	fl.BoolVar(&f.discoverOnly, "discover-only", false, "map the site and save the site map without fetching articles")
	fl.BoolVar(&f.useSiteMap, "use-sitemap", false, "reuse the saved site map instead of discovering")
	fl.BoolVar(&f.noImages, "no-images", false, "leave image references remote")
	fl.Int("concurrent", 3, "number of articles fetched in parallel")
	fl.Float64("delay", 1.5, "minimum seconds between requests")
	_ = v.BindPFlag("crawler.concurrency", fl.Lookup("concurrent"))
	_ = v.BindPFlag("crawler.delay_seconds", fl.Lookup("delay"))
	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper, f rootFlags) error {
	if err := pkgconfig.InitConfig(v, f.cfgFile); err != nil {
		return err
	}
	if f.noImages {
		v.Set("images.enabled", false)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	restore := logging.SetGlobal(logger)
	defer restore()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	summary, err := a.Run(cmd.Context(), app.Options{
		DiscoverOnly: f.discoverOnly,
		UseSiteMap:   f.useSiteMap,
		NoImages:     f.noImages,
	})
	app.PrintSummary(cmd.OutOrStdout(), summary)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(viper.New()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
