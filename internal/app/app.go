// Package app wires the Cadenza subsystems into a running service.
//
// The App owns every process-wide collaborator: the PostgreSQL store, the
// completion queue notifier, the speech and language providers, the prompt
// pack, the transcript bus, and the health checks. New builds them in
// numbered steps; Shutdown drains live sessions and runs the accumulated
// closers in reverse. Interview sessions themselves hang off the [Registry],
// one orchestrator per live connection.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithNotifier, WithLLM, etc.). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/health"
	"github.com/cadenza-ai/cadenza/internal/knowledge"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/notify"
	notifysqs "github.com/cadenza-ai/cadenza/pkg/notify/sqs"
	"github.com/cadenza-ai/cadenza/pkg/provider/embeddings"
	embedollama "github.com/cadenza-ai/cadenza/pkg/provider/embeddings/ollama"
	embedopenai "github.com/cadenza-ai/cadenza/pkg/provider/embeddings/openai"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	llmanyllm "github.com/cadenza-ai/cadenza/pkg/provider/llm/anyllm"
	llmopenai "github.com/cadenza-ai/cadenza/pkg/provider/llm/openai"
	"github.com/cadenza-ai/cadenza/pkg/provider/stt"
	sttdeepgram "github.com/cadenza-ai/cadenza/pkg/provider/stt/deepgram"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	ttselevenlabs "github.com/cadenza-ai/cadenza/pkg/provider/tts/elevenlabs"
	"github.com/cadenza-ai/cadenza/pkg/store"
	storepostgres "github.com/cadenza-ai/cadenza/pkg/store/postgres"
	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/transport/webrtc"
)

// defaultEmbeddingDimensions matches text-embedding-3-small, the column width
// the first migration creates when no embeddings provider is configured.
const defaultEmbeddingDimensions = 1536

// defaultOllamaEmbedModel is the embeddings model requested from a local
// Ollama instance when EMBEDDINGS_PROVIDER=ollama.
const defaultOllamaEmbedModel = "nomic-embed-text"

// ConnFactory builds the transport connection for a new session. The default
// factory dials WebRTC; tests swap in loopback doubles.
type ConnFactory func(sessionID string) (transport.Connection, error)

// App owns the process-wide collaborators and the session registry.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Collaborators — initialised in New, shared by every session.
	store     store.Store
	notifier  notify.Notifier
	llm       llm.Provider
	stt       stt.Provider
	tts       tts.Provider
	embedder  embeddings.Provider
	knowledge *knowledge.Assembler
	prompts   *prompt.Pack
	bus       *events.Bus
	health    *health.Handler
	sessions  *Registry

	newConn ConnFactory

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger for the container and everything it builds.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects a completion notifier instead of building the SQS one.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithLLM injects an LLM provider instead of building one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithSTT injects a speech-to-text provider instead of building Deepgram.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.stt = p }
}

// WithTTS injects a text-to-speech provider instead of building ElevenLabs.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.tts = p }
}

// WithEmbeddings injects an embeddings provider instead of building one from
// config. The store's vector column width follows the injected provider.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithConnectionFactory replaces the WebRTC connection factory.
func WithConnectionFactory(f ConnFactory) Option {
	return func(a *App) { a.newConn = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the container. cfg is assumed to have passed [config.Config.Validate];
// New only re-checks what it cannot build without.
//
// Initialisation is synchronous: the database pool is connected and migrated,
// the queue client resolves its AWS configuration, and provider clients are
// constructed before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		newConn: func(sessionID string) (transport.Connection, error) {
			return webrtc.New(sessionID)
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Embeddings ────────────────────────────────────────────────────
	// Built before the store so the vector column width can follow the model.
	if err := a.initEmbeddings(); err != nil {
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}

	// ── 2. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Completion queue ──────────────────────────────────────────────
	if err := a.initNotifier(ctx); err != nil {
		return nil, fmt.Errorf("app: init notifier: %w", err)
	}

	// ── 4. Speech and language providers ─────────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 5. Prompt pack ───────────────────────────────────────────────────
	if err := a.initPrompts(); err != nil {
		return nil, fmt.Errorf("app: init prompts: %w", err)
	}

	// ── 6. Transcript bus ────────────────────────────────────────────────
	a.initBus()

	// ── 7. Knowledge retrieval ───────────────────────────────────────────
	a.knowledge = knowledge.NewAssembler(a.embedder, a.store, a.log)

	// ── 8. Health checks ─────────────────────────────────────────────────
	a.initHealth()

	// ── 9. Session registry ──────────────────────────────────────────────
	a.sessions = newRegistry(a)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEmbeddings builds the configured embeddings provider. No provider
// configured means knowledge retrieval stays off; that is not an error.
func (a *App) initEmbeddings() error {
	if a.embedder != nil {
		return nil
	}

	switch a.cfg.EmbeddingsProvider {
	case config.EmbeddingsOff:
		a.log.Info("app: knowledge retrieval disabled, no embeddings provider configured")
		return nil
	case config.EmbeddingsOpenAI:
		p, err := embedopenai.New(a.cfg.OpenAIAPIKey, "")
		if err != nil {
			return err
		}
		a.embedder = p
	case config.EmbeddingsOllama:
		p, err := embedollama.New(a.cfg.OllamaURL, defaultOllamaEmbedModel)
		if err != nil {
			return err
		}
		a.embedder = p
	default:
		return fmt.Errorf("unknown embeddings provider %q", a.cfg.EmbeddingsProvider)
	}

	a.log.Info("app: embeddings provider ready",
		"model", a.embedder.ModelID(),
		"dimensions", a.embedder.Dimensions())
	return nil
}

// initStore connects the PostgreSQL pool and runs migrations, or keeps the
// injected store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if a.cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when no store is injected")
	}

	dims := defaultEmbeddingDimensions
	if a.embedder != nil {
		dims = a.embedder.Dimensions()
	}

	st, err := storepostgres.NewStore(ctx, a.cfg.DatabaseURL, dims)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initNotifier builds the SQS completion notifier (or keeps the injected one)
// and guards it with a circuit breaker so a dead broker degrades to logged
// partial results instead of a stall on every finalization.
func (a *App) initNotifier(ctx context.Context) error {
	if a.notifier == nil {
		if a.cfg.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when no notifier is injected")
		}
		var opts []notifysqs.Option
		if a.cfg.AWSRegion != "" {
			opts = append(opts, notifysqs.WithRegion(a.cfg.AWSRegion))
		}
		if a.cfg.AWSAccessKeyID != "" {
			opts = append(opts, notifysqs.WithStaticCredentials(a.cfg.AWSAccessKeyID, a.cfg.AWSSecretAccessKey))
		}
		n, err := notifysqs.New(ctx, a.cfg.SQSQueueURL, opts...)
		if err != nil {
			return err
		}
		a.notifier = n
	}

	a.notifier = resilience.NewGuardedNotifier(a.notifier, "completion-queue",
		resilience.CircuitBreakerConfig{}, a.log)
	return nil
}

// initProviders builds the LLM, STT, and TTS clients for every slot that was
// not injected. When a fallback model is configured the LLM slot becomes a
// failover group with per-model circuit breakers.
func (a *App) initProviders() error {
	if a.llm == nil {
		primary, err := a.buildLLM(a.cfg.LLMModel)
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		if a.cfg.LLMFallbackModel != "" {
			group := resilience.NewLLMFallback(primary, a.cfg.LLMModel, resilience.FallbackConfig{})
			fallback, err := a.buildLLM(a.cfg.LLMFallbackModel)
			if err != nil {
				return fmt.Errorf("llm fallback: %w", err)
			}
			group.AddFallback(a.cfg.LLMFallbackModel, fallback)
			a.llm = group
			a.log.Info("app: llm failover enabled",
				"primary", a.cfg.LLMModel, "fallback", a.cfg.LLMFallbackModel)
		} else {
			a.llm = primary
		}
	}

	if a.stt == nil {
		p, err := sttdeepgram.New(a.cfg.DeepgramAPIKey)
		if err != nil {
			return fmt.Errorf("stt: %w", err)
		}
		a.stt = p
	}

	if a.tts == nil {
		p, err := ttselevenlabs.New(a.cfg.ElevenLabsAPIKey)
		if err != nil {
			return fmt.Errorf("tts: %w", err)
		}
		a.tts = p
	}

	return nil
}

// buildLLM constructs one LLM client for the configured provider family.
func (a *App) buildLLM(model string) (llm.Provider, error) {
	switch a.cfg.LLMProvider {
	case config.LLMOpenAI:
		return llmopenai.New(a.cfg.OpenAIAPIKey, model)
	case config.LLMAnyLLM:
		if a.cfg.GeminiAPIKey != "" {
			return llmanyllm.NewGemini(model, anyllmlib.WithAPIKey(a.cfg.GeminiAPIKey))
		}
		return llmanyllm.NewOpenAI(model, anyllmlib.WithAPIKey(a.cfg.OpenAIAPIKey))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", a.cfg.LLMProvider)
	}
}

// initPrompts loads the template pack, with YAML overrides when configured.
func (a *App) initPrompts() error {
	p, err := prompt.Load(a.cfg.PromptsFile)
	if err != nil {
		return err
	}
	a.prompts = p
	if a.cfg.PromptsFile != "" {
		a.log.Info("app: prompt overrides loaded", "path", a.cfg.PromptsFile)
	}
	return nil
}

// initBus creates the transcript bus and registers the persisting subscriber.
func (a *App) initBus() {
	a.bus = events.NewBus(a.log)
	a.bus.Subscribe(events.NewStoreSubscriber(a.store, a.log), events.TopicTranscriptCreated)
}

// initHealth registers the named readiness checks.
func (a *App) initHealth() {
	checks := []health.Checker{
		{
			Name: "database",
			Check: func(ctx context.Context) error {
				if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
					return p.Ping(ctx)
				}
				return nil
			},
		},
		{
			// Breaker state is the reachability signal: it opens after
			// consecutive send failures and recovers on its own.
			Name: "queue",
			Check: func(context.Context) error {
				if g, ok := a.notifier.(interface{ BreakerState() resilience.State }); ok {
					if s := g.BreakerState(); s == resilience.StateOpen {
						return fmt.Errorf("completion queue breaker is %s", s)
					}
				}
				return nil
			},
		},
		{
			Name: "providers",
			Check: func(context.Context) error {
				if a.llm == nil || a.stt == nil || a.tts == nil {
					return fmt.Errorf("provider slots incomplete")
				}
				return nil
			},
		},
	}
	a.health = health.New(checks...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the live-session registry.
func (a *App) Sessions() *Registry { return a.sessions }

// Health returns the readiness handler for the HTTP host.
func (a *App) Health() *health.Handler { return a.health }

// Bus returns the process-wide transcript bus.
func (a *App) Bus() *events.Bus { return a.bus }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains every live session, then runs the closers in reverse-init
// order. It respects the context deadline: when ctx expires, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down",
			"live_sessions", a.sessions.Count(), "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			a.log.Warn("app: session drain incomplete", "error", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("app: closer error", "index", i, "error", err)
			}
		}

		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}
