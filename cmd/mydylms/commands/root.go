package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"mydylms-backend/internal/app"
	"mydylms-backend/internal/components/chrono"
	"mydylms-backend/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mydylms",
	Short: "mydylms is an API gateway in front of the mydy learning portal.",
	// every subcommand works on the same wired gateway
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.ReadConfig(configPath)
		if err != nil {
			return err
		}
		telemetry.InitSlog(verbose || cfg.Verbose)

		clock, err := chrono.NewStandardImpl(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
		otlp, err := telemetry.Setup(cmd.Context(), "mydylms-backend", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		tel, err := telemetry.NewMeteredAPI(telemetry.SlogAPI{}, otel.Meter("mydylms-backend"))
		if err != nil {
			return errors.Join(err, otlp.Shutdown(cmd.Context()))
		}

		a, err := app.New(cfg, clock, tel)
		if err != nil {
			return errors.Join(err, otlp.Shutdown(cmd.Context()))
		}
		opened = &resources{app: a, otlp: otlp}
		cmd.SetContext(withApp(cmd.Context(), a))
		return nil
	},
}

// resources is what PersistentPreRunE opened. cobra skips post-run hooks
// when RunE fails, so execute releases it instead.
type resources struct {
	app  *app.App
	otlp telemetry.Telemetry
}

var opened *resources

func closeResources(ctx context.Context) error {
	if opened == nil {
		return nil
	}
	r := opened
	opened = nil

	err := r.app.Close()
	// flush pending spans and metrics even when the command was cancelled
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return errors.Join(err, r.otlp.Shutdown(shutdownCtx))
}

func execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, closeResources(ctx))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "The config file to read.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.SilenceUsage = true
}

func ExecuteContext(ctx context.Context) {
	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appKey struct{}

func withApp(ctx context.Context, a *app.App) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

func getApp(ctx context.Context) *app.App {
	return ctx.Value(appKey{}).(*app.App)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
