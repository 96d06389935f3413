package manager

import (
	"time"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/internal/prompt"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 4
	defaultMaxWait       = 30 * time.Second
	defaultWatchDebounce = 2 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Opener materializes weights; required.
	Opener backend.Opener
	Loader LoaderConfig
	// Template formats prompts; the zero value means prompt.Zephyr.
	Template prompt.Template
	// Directive is the system turn prepended to HTTP conversations that do
	// not carry their own.
	Directive string
	// Params are the default generation parameters.
	Params backend.Params
	Stream StreamConfig
	// Admission for blocking callers (HTTP).
	MaxQueueDepth int
	MaxWait       time.Duration
	// WatchDebounce is the quiet period before a replaced weights file
	// triggers a reload.
	WatchDebounce time.Duration
	// Logger receives structured logs; nil means zerolog.Nop().
	Logger *zerolog.Logger
	// Publisher receives lifecycle events; nil drops them.
	Publisher EventPublisher
	// Now is the clock used for latency; nil means time.Now.
	Now func() time.Time
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.Template.Name == "" {
		cfg.Template = prompt.Zephyr
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = defaultWatchDebounce
	}
	cfg.Stream = cfg.Stream.withDefaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}

	h := NewHandle()
	h.SetLogger(log)
	m := &Manager{
		cfg:       cfg,
		handle:    h,
		loader:    NewLoader(cfg.Loader, cfg.Opener, h, log),
		gate:      newGate(cfg.MaxQueueDepth, cfg.MaxWait),
		log:       log,
		pub:       cfg.Publisher,
		state:     StateIdle,
		startTime: time.Now(),
	}
	m.session = &Session{
		Handle:   h,
		Template: cfg.Template,
		Params:   cfg.Params,
		Stream:   cfg.Stream,
		Now:      cfg.Now,
		Log:      log,
	}
	return m
}
