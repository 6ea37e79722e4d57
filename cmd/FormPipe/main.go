package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/FormPipe/internal/api"
	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/genai"
	"github.com/BTreeMap/FormPipe/internal/lockfile"
	"github.com/BTreeMap/FormPipe/internal/notify"
	"github.com/BTreeMap/FormPipe/internal/oracle"
	"github.com/BTreeMap/FormPipe/internal/page"
	"github.com/BTreeMap/FormPipe/internal/profile"
	"github.com/BTreeMap/FormPipe/internal/registrar"
	"github.com/BTreeMap/FormPipe/internal/scheduler"
	"github.com/BTreeMap/FormPipe/internal/store"
	"github.com/BTreeMap/FormPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FormPipe state data
	DefaultStateDir = "/var/lib/formpipe"
	// DefaultAppDBFileName is the default SQLite database for outcomes and jobs
	DefaultAppDBFileName = "formpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite device store for the WhatsApp notifier
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultParallel is the default number of registrations run at once
	DefaultParallel = 2
	// DefaultPollInterval is how often the job runner and outbox sender look for due work
	DefaultPollInterval = 5 * time.Second
)

// Browser backends.
const (
	BrowserRod        = "rod"
	BrowserPlaywright = "playwright"
)

// Notification channels.
const (
	NotifyLog      = "log"
	NotifyTwilio   = "twilio"
	NotifyWhatsApp = "whatsapp"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Debug("Final configuration", "state_dir", flags.StateDir, "dsn_set", flags.DBDSN != "", "serve", flags.Serve,
		"urls", len(flags.URLs), "browser", flags.Browser, "notify", flags.Notify)
	if err := run(ctx, flags); err != nil {
		slog.Error("FormPipe failed", "error", err)
		os.Exit(1)
	}
	slog.Info("FormPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel      string
	StateDir      string
	DBDSN         string
	WhatsAppDSN   string
	ProfilePath   string
	SettingsPath  string
	Provider      string
	Model         string
	Browser       string
	DebuggerURL   string
	BrowserBin    string
	UserDataDir   string
	Headless      bool
	APIAddr       string
	Notify        string
	NotifyTo      string
	Parallel      int
	PollInterval  time.Duration
	OracleDebug   string
	OracleTimeout time.Duration
}

// Flags holds the resolved command line options
type Flags struct {
	URLs          []string
	Serve         bool
	Parallel      int
	APIAddr       string
	StateDir      string
	DBDSN         string
	WhatsAppDSN   string
	ProfilePath   string
	SettingsPath  string
	Provider      string
	Model         string
	Browser       string
	DebuggerURL   string
	BrowserBin    string
	UserDataDir   string
	Headless      bool
	Notify        string
	NotifyTo      string
	QROutput      string
	NumericCode   bool
	PollInterval  time.Duration
	OracleDebug   string
	OracleTimeout time.Duration
}

// urlList collects a repeatable -url flag.
type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty url")
	}
	*u = append(*u, v)
	return nil
}

// initializeLogger sets up structured logging on stdout at the given level (debug, info, warn, error)
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil || level == "" {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:      os.Getenv("FORMPIPE_LOG_LEVEL"),
		StateDir:      os.Getenv("FORMPIPE_STATE_DIR"),
		DBDSN:         os.Getenv("DATABASE_DSN"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		ProfilePath:   os.Getenv("FORMPIPE_PROFILE"),
		SettingsPath:  os.Getenv("FORMPIPE_SETTINGS"),
		Provider:      os.Getenv("FORMPIPE_LLM_PROVIDER"),
		Model:         os.Getenv("FORMPIPE_LLM_MODEL"),
		Browser:       os.Getenv("FORMPIPE_BROWSER"),
		DebuggerURL:   os.Getenv("FORMPIPE_DEBUGGER_URL"),
		BrowserBin:    os.Getenv("FORMPIPE_BROWSER_BIN"),
		UserDataDir:   os.Getenv("FORMPIPE_USER_DATA_DIR"),
		Headless:      util.ParseBoolEnv("FORMPIPE_HEADLESS", true),
		APIAddr:       os.Getenv("API_ADDR"),
		Notify:        os.Getenv("FORMPIPE_NOTIFY"),
		NotifyTo:      os.Getenv("FORMPIPE_NOTIFY_TO"),
		Parallel:      util.ParseIntEnv("FORMPIPE_PARALLEL", DefaultParallel),
		PollInterval:  util.ParseDurationEnv("FORMPIPE_POLL_INTERVAL", DefaultPollInterval),
		OracleDebug:   os.Getenv("FORMPIPE_LLM_DEBUG_DIR"),
		OracleTimeout: util.ParseDurationEnv("FORMPIPE_LLM_TIMEOUT", oracle.DefaultAttemptTimeout),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FORMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_URL is accepted when DATABASE_DSN is not set
	if config.DBDSN == "" {
		config.DBDSN = os.Getenv("DATABASE_URL")
	}
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = whatsAppDSN(config.StateDir)
	}
	if config.Browser == "" {
		config.Browser = BrowserRod
	}
	if config.Notify == "" {
		config.Notify = NotifyLog
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"FORMPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DBDSN != "",
		"FORMPIPE_PROFILE", config.ProfilePath,
		"FORMPIPE_LLM_PROVIDER", config.Provider,
		"FORMPIPE_BROWSER", config.Browser,
		"FORMPIPE_NOTIFY", config.Notify,
		"API_ADDR", config.APIAddr)

	return config
}

func whatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("FormPipe", flag.ContinueOnError)
	var urls urlList
	fs.Var(&urls, "url", "event page to register for (repeatable)")
	serve := fs.Bool("serve", false, "run the HTTP API, job runner and scheduler instead of a one-shot registration")
	parallel := fs.Int("parallel", config.Parallel, "registrations run at once (overrides $FORMPIPE_PARALLEL)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	stateDir := fs.String("state-dir", config.StateDir, "state directory for FormPipe data (overrides $FORMPIPE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DBDSN, "outcome and job database DSN (overrides $DATABASE_DSN or $DATABASE_URL)")
	waDSN := fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)")
	profilePath := fs.String("profile", config.ProfilePath, "YAML or JSON profile file (overrides $FORMPIPE_PROFILE)")
	settingsPath := fs.String("settings", config.SettingsPath, "YAML engine settings file (overrides $FORMPIPE_SETTINGS)")
	provider := fs.String("llm-provider", config.Provider, "oracle provider: openai or gemini (overrides $FORMPIPE_LLM_PROVIDER)")
	model := fs.String("llm-model", config.Model, "oracle model name (overrides $FORMPIPE_LLM_MODEL)")
	browser := fs.String("browser", config.Browser, "page backend: rod or playwright (overrides $FORMPIPE_BROWSER)")
	debuggerURL := fs.String("debugger-url", config.DebuggerURL, "attach to a running Chrome DevTools endpoint (overrides $FORMPIPE_DEBUGGER_URL)")
	browserBin := fs.String("browser-bin", config.BrowserBin, "browser binary to launch (overrides $FORMPIPE_BROWSER_BIN)")
	userDataDir := fs.String("user-data-dir", config.UserDataDir, "browser profile directory (overrides $FORMPIPE_USER_DATA_DIR)")
	headless := fs.Bool("headless", config.Headless, "run the browser headless (overrides $FORMPIPE_HEADLESS)")
	notifyKind := fs.String("notify", config.Notify, "outcome notifications: log, twilio or whatsapp (overrides $FORMPIPE_NOTIFY)")
	notifyTo := fs.String("notify-to", config.NotifyTo, "phone number that receives notifications (overrides $FORMPIPE_NOTIFY_TO)")
	qrOutput := fs.String("qr-output", "", "path to write the WhatsApp login QR code")
	numeric := fs.Bool("numeric-code", false, "print the WhatsApp pairing code instead of a QR code")
	pollInterval := fs.Duration("poll-interval", config.PollInterval, "job and notification poll interval (overrides $FORMPIPE_POLL_INTERVAL)")
	oracleDebug := fs.String("llm-debug-dir", config.OracleDebug, "write every oracle exchange here (overrides $FORMPIPE_LLM_DEBUG_DIR)")
	oracleTimeout := fs.Duration("llm-timeout", config.OracleTimeout, "bound on a single oracle call (overrides $FORMPIPE_LLM_TIMEOUT)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	flags := Flags{
		URLs:          append(urls, fs.Args()...),
		Serve:         *serve,
		Parallel:      *parallel,
		APIAddr:       *apiAddr,
		StateDir:      *stateDir,
		DBDSN:         *dbDSN,
		WhatsAppDSN:   *waDSN,
		ProfilePath:   *profilePath,
		SettingsPath:  *settingsPath,
		Provider:      *provider,
		Model:         *model,
		Browser:       strings.ToLower(*browser),
		DebuggerURL:   *debuggerURL,
		BrowserBin:    *browserBin,
		UserDataDir:   *userDataDir,
		Headless:      *headless,
		Notify:        strings.ToLower(*notifyKind),
		NotifyTo:      *notifyTo,
		QROutput:      *qrOutput,
		NumericCode:   *numeric,
		PollInterval:  *pollInterval,
		OracleDebug:   *oracleDebug,
		OracleTimeout: *oracleTimeout,
	}

	// Follow an explicit -state-dir with the default file locations
	if *stateDir != config.StateDir {
		if flags.DBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			flags.DBDSN = filepath.Join(*stateDir, DefaultAppDBFileName)
		}
		if flags.WhatsAppDSN == whatsAppDSN(config.StateDir) {
			flags.WhatsAppDSN = whatsAppDSN(*stateDir)
		}
		slog.Debug("Updated default DSNs based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *stateDir)
	}

	if err := validateFlags(flags); err != nil {
		return Flags{}, err
	}
	slog.Debug("flags parsed", "urls", len(flags.URLs), "serve", flags.Serve, "parallel", flags.Parallel,
		"browser", flags.Browser, "notify", flags.Notify, "profile", flags.ProfilePath)
	return flags, nil
}

func validateFlags(f Flags) error {
	if !f.Serve && len(f.URLs) == 0 {
		return errors.New("at least one -url is required unless -serve is set")
	}
	if f.ProfilePath == "" {
		return errors.New("-profile (or $FORMPIPE_PROFILE) is required")
	}
	if f.Parallel < 1 {
		return fmt.Errorf("-parallel must be at least 1, got %d", f.Parallel)
	}
	switch f.Browser {
	case BrowserRod, BrowserPlaywright:
	default:
		return fmt.Errorf("unknown -browser %q", f.Browser)
	}
	switch f.Notify {
	case NotifyLog, NotifyTwilio, NotifyWhatsApp:
	default:
		return fmt.Errorf("unknown -notify %q", f.Notify)
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("-poll-interval must be positive, got %v", f.PollInterval)
	}
	return nil
}

// run wires the modules together and executes one-shot or serve mode.
func run(ctx context.Context, flags Flags) error {
	mode := "one-shot"
	if flags.Serve {
		mode = "serve"
	}
	lock, err := lockfile.Acquire(flags.StateDir, mode)
	if err != nil {
		return err
	}
	defer lock.Release()

	prof, err := profile.Load(flags.ProfilePath)
	if err != nil {
		return err
	}
	engineOpts, err := buildEngineOptions(flags)
	if err != nil {
		return err
	}

	st, err := store.Open(flags.DBDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, closeNotifier, err := buildNotifier(ctx, flags)
	if err != nil {
		return err
	}
	defer closeNotifier()

	backend, err := buildBrowserBackend(ctx, flags)
	if err != nil {
		return err
	}
	defer backend.Close()

	regOpts := []registrar.Option{
		registrar.WithStore(st),
		registrar.WithEngineOptions(engineOpts...),
	}
	if o := buildOracle(ctx, flags); o != nil {
		regOpts = append(regOpts, registrar.WithOracle(o))
	}

	if !flags.Serve {
		reg := registrar.New(backend, prof, append(regOpts, registrar.WithNotifier(notifier))...)
		outcomes, err := reg.RegisterAll(ctx, flags.URLs, flags.Parallel)
		for _, o := range outcomes {
			fmt.Fprintln(os.Stdout, notify.Format(o))
		}
		return err
	}

	// Serve mode: notifications go through the durable outbox.
	reg := registrar.New(backend, prof, append(regOpts, registrar.WithNotifier(notify.NewOutbox(st, flags.NotifyTo)))...)
	return serve(ctx, flags, st, reg, notifier)
}

func serve(ctx context.Context, flags Flags, st store.Backend, reg *registrar.Registrar, notifier notify.Notifier) error {
	runner := store.NewJobRunner(st, flags.PollInterval, flags.Parallel)
	runner.RegisterHandler(store.JobKindRegistration, reg.HandleJob)
	if err := runner.RecoverStaleJobs(); err != nil {
		return err
	}
	sender := store.NewOutboxSender(st, notify.SendFunc(notifier), flags.PollInterval)
	if err := sender.RecoverStaleMessages(); err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	server := api.NewServer(st, sched)
	for _, url := range flags.URLs {
		id, err := server.Enqueue(url, time.Time{})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", url, err)
		}
		slog.Info("Registration queued from command line", "url", url, "job_id", id)
	}

	slog.Info("Bootstrapping FormPipe service", "addr", flags.APIAddr, "parallel", flags.Parallel)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sender.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, flags.APIAddr)
	})
	return g.Wait()
}

func buildEngineOptions(flags Flags) ([]form.Option, error) {
	if flags.SettingsPath == "" {
		return nil, nil
	}
	settings, err := form.LoadSettings(flags.SettingsPath)
	if err != nil {
		return nil, err
	}
	return settings.Options(), nil
}

// buildOracle returns nil when no provider can be configured; the engine then answers every
// unresolved field with its fallback policy.
func buildOracle(ctx context.Context, flags Flags) form.Oracle {
	var opts []genai.Option
	if flags.Model != "" {
		opts = append(opts, genai.WithModel(flags.Model))
	}
	if flags.OracleDebug != "" {
		opts = append(opts, genai.WithDebugDir(flags.OracleDebug))
	}
	completer, err := genai.New(ctx, flags.Provider, opts...)
	if err != nil {
		slog.Warn("Oracle disabled, falling back to defaults for unresolved fields", "provider", flags.Provider, "error", err)
		return nil
	}
	return oracle.New(completer, oracle.WithAttemptTimeout(flags.OracleTimeout))
}

func buildBrowserBackend(ctx context.Context, flags Flags) (page.Backend, error) {
	opts := []page.RodOption{page.WithHeadless(flags.Headless)}
	if flags.DebuggerURL != "" {
		opts = append(opts, page.WithDebuggerURL(flags.DebuggerURL))
	}
	if flags.BrowserBin != "" {
		opts = append(opts, page.WithBrowserBin(flags.BrowserBin))
	}
	if flags.UserDataDir != "" {
		opts = append(opts, page.WithUserDataDir(flags.UserDataDir))
	}
	if flags.Browser == BrowserPlaywright {
		return page.NewPlaywrightBackend(opts...)
	}
	return page.NewRodBackend(ctx, opts...)
}

// buildNotifier returns the configured notifier and a func that releases it.
func buildNotifier(ctx context.Context, flags Flags) (notify.Notifier, func(), error) {
	noop := func() {}
	switch flags.Notify {
	case NotifyTwilio:
		n, err := notify.NewTwilio(notify.WithTo(flags.NotifyTo))
		if err != nil {
			return nil, noop, err
		}
		return notify.Multi{notify.Log{}, n}, noop, nil
	case NotifyWhatsApp:
		opts := []notify.WhatsAppOption{notify.WithDBDSN(flags.WhatsAppDSN), notify.WithRecipient(flags.NotifyTo)}
		if flags.QROutput != "" {
			opts = append(opts, notify.WithQRCodeOutput(flags.QROutput))
		}
		if flags.NumericCode {
			opts = append(opts, notify.WithNumericCode())
		}
		n, err := notify.NewWhatsApp(ctx, opts...)
		if err != nil {
			return nil, noop, err
		}
		return notify.Multi{notify.Log{}, n}, closer(n), nil
	default:
		return notify.Log{}, noop, nil
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}
