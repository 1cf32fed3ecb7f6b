package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	configPath string
	envFile    string
	debug      bool
	headless   bool
	maxRetries int
}

var errRunFailed = errors.New("run did not complete")

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "slotwatch",
		Short:         "Check a VFS booking portal for appointment availability",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with credentials")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run the browser without a window (overrides config)")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "Login retry budget (overrides config and MAX_STAGE_RETRIES)")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}

	config, err := LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		config.DebugMode = true
		config.Log.Level = "debug"
	}
	if cmd.Flags().Changed("headless") {
		config.Headless = opts.headless
	}

	logger := NewLogger(config.Log, zapcore.Lock(os.Stdout))
	defer syncLogger(logger)
	zap.ReplaceGlobals(logger)

	if initUserDataDirError != nil {
		logger.Warn("Could not create user data directory", zap.String("dir", getUserDataDir()), zap.Error(initUserDataDirError))
	}

	creds, err := LoadCredentials()
	if err != nil {
		logger.Error("Missing credentials", zap.Error(err))
		return err
	}
	switch {
	case opts.maxRetries > 0:
		config.MaxRetries = opts.maxRetries
	case creds.MaxRetries > 0:
		config.MaxRetries = creds.MaxRetries
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║              VFS Appointment Slot Watcher                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	logger.Info("Starting run",
		zap.String("login_url", config.LoginURL),
		zap.Bool("headless", config.Headless),
		zap.Int("login_retries", config.MaxRetries),
		zap.String("checkpoints", filepath.Join(config.CheckpointDir, runID)),
	)

	ctx, cancel := context.WithTimeout(ctx, runTimeout(config))
	defer cancel()

	driver, err := LaunchRodDriver(config, logger)
	if err != nil {
		logger.Error("Failed to set up browser", zap.Error(err))
		return err
	}

	outcome := newController(config, creds, driver, runID, logger).Run(ctx, BuildPlanFor(config, creds, driver, logger))

	if !outcome.Success {
		return errRunFailed
	}
	fmt.Println()
	fmt.Println("✓ " + outcome.Message)
	return nil
}

func newController(config *Config, creds Credentials, driver Driver, runID string, logger *zap.Logger) *StageController {
	checkpoints := NewCheckpointer(driver, config.CheckpointDir, runID, logger)
	executor := NewStageExecutor(checkpoints, logger)
	cascade := NewDropdownCascadeSelector(driver, executor, logger)
	extractor := NewResultExtractor(driver, config.Selectors.StatusBanner, config.Selectors.Alerts, config.ResultKeywords, logger)

	var sender Sender
	if creds.MailConfigured() {
		sender = &SMTPSender{
			Host:     config.SMTPHost,
			Port:     config.SMTPPort,
			From:     creds.MailSender,
			Password: creds.MailPassword,
			To:       creds.MailRecipient,
		}
	}
	messages, err := ResolveLocale(localeDir())
	if err != nil {
		logger.Warn("Locale initialization failed, using default English", zap.Error(err))
	}
	dispatcher := NewNotificationDispatcher(sender, NotifyPolicy{
		OnFailure:          config.NotifyOnFailure,
		OnlyWhenAvailable:  config.NotifyOnlyWhenAvailable,
		UnavailablePhrases: config.UnavailablePhrases,
	}, config.DashboardURL, messages, logger)

	return NewStageController(driver, executor, cascade, extractor, dispatcher, logger)
}

// BuildPlanFor creates the login flow against a fresh solver client and wires
// the full plan.
func BuildPlanFor(config *Config, creds Credentials, driver Driver, logger *zap.Logger) Plan {
	solver := NewSolverClient(config.SolverURL, nil, logger)
	login := NewLoginFlow(loginSettings(config), creds, driver, solver, logger)
	return BuildPlan(config, driver, login)
}

// localeDir is the lang/ directory next to the executable.
func localeDir() string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exePath), "lang")
}

// Set by init when the user data directory cannot be created; reported once
// the logger exists.
var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./slotwatch-data"
	}
	return filepath.Join(home, ".slotwatch")
}
