package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"sheet-to-json/common"
	"sheet-to-json/convert"
	"sheet-to-json/fetch"
	"sheet-to-json/jobs"
	"sheet-to-json/pagination"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *common.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sheet-to-json",
		Short:        "Convert remote spreadsheets to paginated JSON",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			common.SetupLogging(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "Human-readable log output")

	rootCmd.AddCommand(newServeCmd(cfg), newConvertCmd(cfg))
	return rootCmd
}

func newServeCmd(cfg *common.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	cmd.Flags().StringVar(&cfg.ConvertMode, "mode", cfg.ConvertMode, "Conversion mode: sync, async, auto")
	cmd.Flags().StringVar(&cfg.ResponseMode, "response", cfg.ResponseMode, "Response mode: buffered, streaming")
	cmd.Flags().IntVar(&cfg.MaxConcurrentJobs, "max-jobs", cfg.MaxConcurrentJobs, "Maximum concurrent background conversions")
	return cmd
}

func newConvertCmd(cfg *common.Config) *cobra.Command {
	var (
		offset int
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "convert [fileUrl]",
		Short: "Convert a remote spreadsheet once and print one page of JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileURL := args[0]
			if offset < 0 {
				return fmt.Errorf("invalid offset %d: %w", offset, pagination.ErrInvalidOffset)
			}

			converter := convert.NewConverter(newFetcher(*cfg))
			result, err := converter.Convert(cmd.Context(), fileURL)
			if err != nil {
				return err
			}

			body := convert.PageBody(pagination.Paginate(result, offset, pagination.PageSize, pagination.ConvertLinker(fileURL)))
			var out []byte
			if pretty {
				out, err = json.MarshalIndent(body, "", "  ")
			} else {
				out, err = json.Marshal(body)
			}
			if err != nil {
				return fmt.Errorf("encode page: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Index of the first record to print")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	return cmd
}

func newFetcher(cfg common.Config) *fetch.Fetcher {
	return fetch.New(fetch.Config{Dir: cfg.TempDir, Timeout: cfg.FetchTimeout})
}

// newRouter builds the gin engine with the service middleware and routes.
func newRouter(db *gorm.DB, handler *convert.Handler) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery(), common.MetricsMiddleware(db))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(r)
	return r
}

func serve(ctx context.Context, cfg common.Config) error {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := common.Init(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := common.Close(db); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := common.NewJobStore(db)
	registry := jobs.NewRegistry(jobs.Options{TTL: cfg.JobTTL, Recorder: store})
	go registry.Run(ctx)
	runner := jobs.NewRunner(ctx, registry, cfg.MaxConcurrentJobs)

	handler := convert.NewHandler(convert.Deps{
		Converter:    convert.NewConverter(newFetcher(cfg)),
		Registry:     registry,
		Runner:       runner,
		Cache:        convert.NewResultCache(cfg.CacheTTL),
		Store:        store,
		ConvertMode:  cfg.ConvertMode,
		ResponseMode: cfg.ResponseMode,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(db, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("convert_mode", cfg.ConvertMode).
			Str("response_mode", cfg.ResponseMode).
			Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	runner.Wait()
	return err
}
