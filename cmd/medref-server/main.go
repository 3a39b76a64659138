package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medref/medref/internal/config"
	"github.com/medref/medref/internal/domain/dashboard"
	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/domain/lab"
	"github.com/medref/medref/internal/domain/patient"
	"github.com/medref/medref/internal/domain/referral"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/internal/platform/metrics"
	"github.com/medref/medref/internal/platform/middleware"
	"github.com/medref/medref/internal/platform/notification"
	"github.com/medref/medref/internal/platform/websocket"
)

const (
	tokenIssuer      = "medref"
	requestTimeout   = 30 * time.Second
	multipartSlack   = 64 * 1024
	notificationKeep = 500
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medref-server",
		Short: "Patient referral API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads the configuration and connects to the database. Used by
// the maintenance subcommands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := db.NewMigrator(pool)
			if err != nil {
				return err
			}
			defer migrator.Close()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := db.NewMigrator(pool)
			if err != nil {
				return err
			}
			defer migrator.Close()

			version, err := migrator.Down(ctx)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Println("No migration to roll back.")
				return nil
			}
			fmt.Printf("Rolled back migration %d.\n", version)
			return nil
		},
	}
	cmd.AddCommand(downCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := db.NewMigrator(pool)
			if err != nil {
				return err
			}
			defer migrator.Close()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default roles, labs and test types",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(os.Getenv("ENV"))
			identitySvc := identity.NewService(identity.NewRoleRepoPG(pool), identity.NewUserRepoPG(pool), nil, logger)
			if err := identitySvc.EnsureRoles(ctx); err != nil {
				return fmt.Errorf("seed roles: %w", err)
			}
			labSvc := lab.NewService(lab.NewLabRepoPG(pool), lab.NewTestTypeRepoPG(pool), logger)
			if err := labSvc.EnsureCatalog(ctx, lab.DefaultCatalog); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			fmt.Println("Seed data is in place.")
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account, e.g. the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			firstName, _ := cmd.Flags().GetString("first-name")
			lastName, _ := cmd.Flags().GetString("last-name")
			mobile, _ := cmd.Flags().GetString("mobile")
			role, _ := cmd.Flags().GetString("role")
			labRef, _ := cmd.Flags().GetString("lab")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(os.Getenv("ENV"))
			identitySvc := identity.NewService(identity.NewRoleRepoPG(pool), identity.NewUserRepoPG(pool), nil, logger)

			req := &identity.RegisterRequest{
				LastName: lastName,
				Mobile:   mobile,
				Email:    email,
				Password: password,
				Role:     role,
			}
			if firstName != "" {
				req.FirstName = &firstName
			}
			if labRef != "" {
				labSvc := lab.NewService(lab.NewLabRepoPG(pool), lab.NewTestTypeRepoPG(pool), logger)
				l, err := labSvc.ResolveLab(ctx, labRef)
				if err != nil {
					return fmt.Errorf("resolve lab %q: %w", labRef, err)
				}
				req.LabID = &l.ID
			}

			u, err := identitySvc.Register(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s (%s)\n", u.RoleName, u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")
	createCmd.Flags().String("mobile", "", "Mobile number")
	createCmd.Flags().String("role", auth.RoleAdmin, "Role: Admin, Doctor or Lab-technician")
	createCmd.Flags().String("lab", "", "Lab id or name for lab technicians")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")
	_ = createCmd.MarkFlagRequired("last-name")
	cmd.AddCommand(createCmd)

	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveReportKey returns the report encryption key from the configuration.
// In development an unset key is derived from a fixed seed; the second
// return value is true in that case.
func resolveReportKey(cfg *config.Config) ([]byte, bool, error) {
	key, err := cfg.ReportKey()
	if err != nil {
		return nil, false, err
	}
	if key != nil {
		return key, false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("REPORT_ENCRYPTION_KEY is required when ENV=%q", cfg.Env)
	}
	sum := sha256.Sum256([]byte("medref-development-report-key"))
	return sum[:], true, nil
}

// skipRequestTimeout matches report transfers, which are bounded by the body
// limit instead, and the long-lived event stream.
func skipRequestTimeout(c echo.Context) bool {
	p := c.Path()
	return strings.HasSuffix(p, "/report") || p == "/api/v1/events"
}

func registerPoolGauges(m *metrics.Metrics, pool *pgxpool.Pool) error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"db_pool_total_conns", "Open database connections", func() float64 { return float64(pool.Stat().TotalConns()) }},
		{"db_pool_acquired_conns", "Database connections in use", func() float64 { return float64(pool.Stat().AcquiredConns()) }},
		{"db_pool_idle_conns", "Idle database connections", func() float64 { return float64(pool.Stat().IdleConns()) }},
	}
	for _, g := range gauges {
		if err := m.RegisterGauge(g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Report storage
	key, derived, err := resolveReportKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve report encryption key")
	}
	if derived {
		logger.Warn().Msg("REPORT_ENCRYPTION_KEY is not set; using a development key")
	}
	enc, err := blobstore.NewEncryptor(key)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create report encryptor")
	}
	reports, err := blobstore.NewFileStore(cfg.ReportDir, enc, cfg.MaxReportBytes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open report store")
	}
	logger.Info().Str("dir", cfg.ReportDir).Msg("report store ready")

	notifier := notification.NewManager(
		notification.LogSender{Logger: logger},
		notification.NewTemplateEngine(),
		notificationKeep,
	)

	hub := websocket.NewHub(logger)
	m := metrics.New()
	if err := registerPoolGauges(m, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to register pool metrics")
	}

	// Services
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), tokenIssuer, cfg.JWTTTL)
	identitySvc := identity.NewService(identity.NewRoleRepoPG(pool), identity.NewUserRepoPG(pool), tokens, logger)
	labSvc := lab.NewService(lab.NewLabRepoPG(pool), lab.NewTestTypeRepoPG(pool), logger)
	patientSvc := patient.NewService(patient.NewRepoPG(pool), logger)
	referralSvc := referral.NewService(referral.Deps{
		Referrals: referral.NewRepoPG(pool),
		History:   referral.NewHistoryRepoPG(pool),
		Patients:  patientSvc,
		Catalog:   labSvc,
		Users:     identitySvc,
		Reports:   reports,
		Tx:        db.NewTransactor(pool),
		Notifier:  notifier,
		Events:    hub,
		Metrics:   m,
		Logger:    logger,
	})
	patientSvc.SetReferralFinder(referralSvc)
	dashboardSvc := dashboard.NewService(dashboard.NewRepoPG(pool), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{HSTS: !cfg.IsDev(), CacheablePaths: []string{"/metrics"}}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Disposition", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", middleware.FormatLimit(cfg.MaxReportBytes+multipartSlack)))
	e.Use(middleware.RequestTimeout(requestTimeout, skipRequestTimeout))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.Check{Name: "report_store", Fn: reports.Check}))
	e.GET("/metrics", m.Handler())

	// API
	apiV1 := newAPIGroup(e, cfg, logger)

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	lab.NewHandler(labSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	referral.NewHandler(referralSvc).RegisterRoutes(apiV1)
	dashboard.NewHandler(dashboardSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newAPIGroup mounts /api/v1. The limiter runs after authentication so
// signed-in users get their own bucket.
func newAPIGroup(e *echo.Echo, cfg *config.Config, logger zerolog.Logger) *echo.Group {
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	api := e.Group("/api/v1")
	api.Use(auth.JWTMiddleware(auth.JWTConfig{
		Secret:  []byte(cfg.JWTSecret),
		Issuer:  tokenIssuer,
		Skipper: auth.AuthSkipper,
	}))
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.Audit(logger))
	return api
}
