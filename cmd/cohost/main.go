package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lumen-live/cohost/internal/caption"
	"github.com/lumen-live/cohost/internal/catalog"
	"github.com/lumen-live/cohost/internal/directive"
	"github.com/lumen-live/cohost/internal/expression"
	"github.com/lumen-live/cohost/internal/identity"
	"github.com/lumen-live/cohost/internal/idle"
	"github.com/lumen-live/cohost/internal/lockfile"
	"github.com/lumen-live/cohost/internal/persona"
	"github.com/lumen-live/cohost/internal/pipeline"
	"github.com/lumen-live/cohost/internal/playback"
	"github.com/lumen-live/cohost/internal/provider"
	"github.com/lumen-live/cohost/internal/source"
	"github.com/lumen-live/cohost/internal/speech"
	"github.com/lumen-live/cohost/internal/store"
	"github.com/lumen-live/cohost/internal/util"
	"github.com/lumen-live/cohost/internal/vts"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for cohost state data
	DefaultStateDir = "/var/lib/cohost"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "cohost.db"
	// DefaultVTSURL is the default VTube Studio API address
	DefaultVTSURL = "ws://127.0.0.1:8001"
	// DefaultOverlayAddr is the default caption overlay listen address
	DefaultOverlayAddr = ":8800"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One co-host per machine: the audio device and the avatar are exclusive.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire instance lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping cohost", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "")
	if err := run(ctx, flags); err != nil {
		slog.Error("cohost failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("cohost exited successfully")
}

func run(ctx context.Context, flags Flags) error {
	st, err := store.Open(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	router, err := provider.FromSettings(ctx, st)
	if err != nil {
		return err
	}
	if len(router.Providers()) == 0 {
		slog.Warn("No reply providers enabled; every turn will use the fallback line")
	}

	personaPrompt := loadPersona(ctx, st, *flags.presetFile)

	// Avatar expressions.
	trigger := buildExpressionTrigger(flags)
	state := expression.NewStateMachine(expressionConfig(), trigger)
	animator := expression.NewAnimator(trigger, 0, "待机动作", "打断待机")

	// Music lanes: their own player process, independent of speech.
	musicPlayer := playback.NewProcessPlayer(*flags.musicVolume)
	cat := buildCatalog(ctx, st, flags)
	scheduler := playback.NewScheduler(cat, musicPlayer, *flags.playlistID)
	go scheduler.Run(ctx)

	dispatcher := directive.NewDispatcher(scheduler, state, animator)

	speaker := buildSpeaker(ctx, st, flags)
	overlay := startOverlay(flags)
	defer overlay.Close()

	clock := idle.NewClock(*flags.idleMin, *flags.idleMax)
	coordinator := pipeline.NewCoordinator(pipeline.Config{
		Router:      router,
		Dispatcher:  dispatcher,
		State:       state,
		Filter:      identity.NewFilter(*flags.selfUID, *flags.hostName, 20),
		Clock:       clock,
		Speaker:     speaker,
		Captions:    overlay,
		Log:         st,
		Poser:       animator,
		Persona:     personaPrompt,
		HostName:    *flags.hostName,
		AutoSend:    false, // no outbound sender in console mode
		MaxTokens:   *flags.maxTokens,
		Temperature: *flags.temperature,
	})

	idleScheduler := idle.NewScheduler(clock, coordinator.IdleTurn, idle.DefaultPollInterval)
	go idleScheduler.Run(ctx)

	slog.Info("cohost ready, reading events from stdin ('name: message' per line)")
	coordinator.Run(ctx, source.NewConsole(os.Stdin))
	return nil
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	CatalogURL  string
	VTSURL      string
	OverlayAddr string
	PresetFile  string
	HostName    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	catalogURL  *string
	vtsURL      *string
	overlayAddr *string
	presetFile  *string
	hostName    *string
	selfUID     *int64
	playlistID  *int64
	musicVolume *int
	maxTokens   *int
	temperature *float64
	idleMin     *time.Duration
	idleMax     *time.Duration
}

// initializeLogger sets up structured logging with the level taken from
// $COHOST_LOG_LEVEL.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("COHOST_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:    os.Getenv("COHOST_STATE_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		CatalogURL:  os.Getenv("CATALOG_URL"),
		VTSURL:      os.Getenv("VTS_URL"),
		OverlayAddr: os.Getenv("OVERLAY_ADDR"),
		PresetFile:  os.Getenv("PRESET_FILE"),
		HostName:    os.Getenv("HOST_NAME"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COHOST_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.VTSURL == "" {
		config.VTSURL = DefaultVTSURL
	}
	if config.OverlayAddr == "" {
		config.OverlayAddr = DefaultOverlayAddr
	}

	slog.Debug("environment variables loaded",
		"COHOST_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CATALOG_URL", config.CatalogURL,
		"VTS_URL", config.VTSURL,
		"OVERLAY_ADDR", config.OverlayAddr,
		"PRESET_FILE", config.PresetFile,
		"HOST_NAME", config.HostName)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for cohost data (overrides $COHOST_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "settings database DSN, SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		catalogURL:  flag.String("catalog-url", config.CatalogURL, "music catalog gateway base URL (overrides $CATALOG_URL)"),
		vtsURL:      flag.String("vts-url", config.VTSURL, "VTube Studio API address (overrides $VTS_URL)"),
		overlayAddr: flag.String("overlay-addr", config.OverlayAddr, "caption overlay listen address (overrides $OVERLAY_ADDR)"),
		presetFile:  flag.String("preset-file", config.PresetFile, "persona preset YAML file (overrides $PRESET_FILE)"),
		hostName:    flag.String("host-name", config.HostName, "the host account's display name (overrides $HOST_NAME)"),
		selfUID:     flag.Int64("self-uid", int64(util.ParseIntEnv("SELF_UID", 0)), "the host account's numeric uid"),
		playlistID:  flag.Int64("playlist-id", int64(util.ParseIntEnv("BGM_PLAYLIST_ID", 2387965986)), "default ambient playlist id"),
		musicVolume: flag.Int("music-volume", util.ParseIntEnv("MUSIC_VOLUME", 25), "music playback volume 0-100"),
		maxTokens:   flag.Int("max-tokens", util.ParseIntEnv("REPLY_MAX_TOKENS", 256), "reply token budget"),
		temperature: flag.Float64("temperature", util.ParseFloatEnv("REPLY_TEMPERATURE", 0.8), "reply sampling temperature"),
		idleMin:     flag.Duration("idle-min", util.ParseDurationEnv("IDLE_MIN", 5*time.Minute), "minimum quiet window before idle chatter"),
		idleMax:     flag.Duration("idle-max", util.ParseDurationEnv("IDLE_MAX", 10*time.Minute), "maximum quiet window before idle chatter"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"catalogURL", *flags.catalogURL,
		"vtsURL", *flags.vtsURL,
		"overlayAddr", *flags.overlayAddr,
		"presetFile", *flags.presetFile,
		"hostName", *flags.hostName,
		"playlistID", *flags.playlistID)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// loadPersona resolves the persona prompt: preset file flag first, then the
// stored preset_file setting, then the stored persona text itself.
func loadPersona(ctx context.Context, st store.Store, presetFile string) string {
	if presetFile == "" {
		if stored, err := st.GetSetting(ctx, "preset_file"); err == nil {
			presetFile = strings.TrimSpace(stored)
		}
	}
	if presetFile != "" {
		prompt, err := persona.LoadPreset(presetFile)
		if err == nil && prompt != "" {
			slog.Info("Persona preset loaded", "preset_file", presetFile)
			return prompt
		}
		slog.Warn("Persona preset unusable, falling back to stored persona", "preset_file", presetFile, "error", err)
	}
	prompt, err := st.GetSetting(ctx, "persona")
	if err != nil || prompt == "" {
		slog.Warn("No persona configured; replies will have no character prompt")
		return ""
	}
	return prompt
}

// buildExpressionTrigger connects to VTube Studio. When the avatar host is
// unreachable the co-host still runs; expressions become logged no-ops.
func buildExpressionTrigger(flags Flags) expression.TriggerFunc {
	cfg := expressionConfig()
	client := vts.NewClient(*flags.vtsURL, filepath.Join(*flags.stateDir, ".vts_token"), cfg.Ignored)
	if err := client.Connect(); err != nil {
		slog.Warn("VTube Studio unavailable, expressions disabled", "url", *flags.vtsURL, "error", err)
		return func(_ context.Context, name string) error {
			slog.Debug("Expression skipped, no avatar host", "hotkey", name)
			return nil
		}
	}
	return func(_ context.Context, name string) error {
		return client.TriggerHotkey(name)
	}
}

func expressionConfig() expression.Config {
	return expression.Config{
		OneShot: []string{"挥手"},
		Timed:   map[string]time.Duration{"吐舌": 3 * time.Second},
		Ignored: []string{"expression1", "空"},
		FanName: "纸扇开合",
		FanOpen: true,
	}
}

func buildCatalog(ctx context.Context, st store.Store, flags Flags) *catalog.Client {
	base := *flags.catalogURL
	if base == "" {
		if stored, err := st.GetSetting(ctx, "catalog.base_url"); err == nil {
			base = strings.TrimSpace(stored)
		}
	}
	var opts []catalog.ClientOption
	if cookie, err := st.GetSetting(ctx, "catalog.cookie"); err == nil && cookie != "" {
		opts = append(opts, catalog.WithCookie(cookie))
	}
	return catalog.NewClient(base, opts...)
}

// buildSpeaker wires the TTS voice when tts.enable=yes; without it the
// co-host runs captions-only.
func buildSpeaker(ctx context.Context, st store.Store, flags Flags) pipeline.SpeechOut {
	enabled, _ := st.GetSetting(ctx, "tts.enable")
	if !strings.EqualFold(strings.TrimSpace(enabled), "yes") {
		slog.Info("TTS disabled, running captions-only")
		return nil
	}
	voice, _ := st.GetSetting(ctx, "tts.voice")
	region, _ := st.GetSetting(ctx, "tts.region")
	synth, err := speech.NewPollySynthesizer(ctx, speech.PollyConfig{Region: region, VoiceID: voice})
	if err != nil {
		slog.Warn("TTS synthesizer unavailable, running captions-only", "error", err)
		return nil
	}
	return speech.NewSpeaker(synth, playback.NewProcessPlayer(100))
}

func startOverlay(flags Flags) *caption.Overlay {
	overlay := caption.NewOverlay()
	mux := http.NewServeMux()
	mux.HandleFunc("/overlay", overlay.Handler)
	go func() {
		slog.Info("Caption overlay listening", "addr", *flags.overlayAddr)
		if err := http.ListenAndServe(*flags.overlayAddr, mux); err != nil {
			slog.Error("Caption overlay server failed", "error", err)
		}
	}()
	return overlay
}
