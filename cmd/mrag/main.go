package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/handler"
	"github.com/xxxsen/mrag/internal/job"
	"github.com/xxxsen/mrag/internal/middleware"
	"github.com/xxxsen/mrag/internal/pkg/password"
	"github.com/xxxsen/mrag/internal/schedule"
	"github.com/xxxsen/mrag/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mrag",
		Short:         "document retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newMigrateCmd(&configPath),
		newIngestCmd(&configPath),
		newImportCmd(&configPath),
		newSearchCmd(&configPath),
		newHashPasswordCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.BasicAuth.Username == "" || cfg.BasicAuth.PasswordHash == "" {
				return fmt.Errorf("basic_auth.username and basic_auth.password_hash are required")
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	cfg := a.cfg
	logger := logutil.GetLogger(context.Background())
	deps := handler.RouterDeps{
		Documents:    handler.NewDocumentHandler(a.rag),
		Username:     cfg.BasicAuth.Username,
		PasswordHash: cfg.BasicAuth.PasswordHash,
		SearchRate:   cfg.SearchRate.PerSecond,
		SearchBurst:  cfg.SearchRate.Burst,
	}
	if source, err := filestore.New(cfg.Source); err == nil {
		deps.Import = handler.NewImportHandler(service.NewImportService(a.rag, source))
	} else {
		logger.Info("import route disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cacheStore != nil {
		scheduler := schedule.NewCronScheduler()
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheStore, cfg.EmbedCache.MaxAgeDays)
		if err := scheduler.AddJob(cleanup, cfg.EmbedCache.CleanupSpec); err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORS),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server stopping...")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(cmd.Context()).Info("migrations applied", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func newIngestCmd(configPath *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "insert local files as documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, file := range args {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				f := format
				if f == "" {
					f, _ = filestore.FormatOf(file)
				}
				doc, err := a.rag.InsertDocument(cmd.Context(), service.DocumentInput{Content: string(raw), Format: f})
				if err != nil {
					return fmt.Errorf("ingest %s: %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", file, doc.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "html, markdown or text; guessed from the extension when empty")
	return cmd
}

func newImportCmd(configPath *string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import every document under a prefix of the configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			source, err := filestore.New(cfg.Source)
			if err != nil {
				return fmt.Errorf("init source: %w", err)
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := service.NewImportService(a.rag, source).Import(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only import keys under this prefix")
	return cmd
}

func newSearchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "print the chunks most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			chunks, err := a.rag.GetRelevantChunks(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, chunks)
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "print the bcrypt hash for basic_auth.password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := ""
			if len(args) == 1 {
				plain = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				plain = strings.TrimRight(line, "\r\n")
			}
			if plain == "" {
				return fmt.Errorf("password must not be empty")
			}
			hash, err := password.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
