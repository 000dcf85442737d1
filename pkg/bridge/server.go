package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxbridge/pkg/automation"
	"github.com/harunnryd/voxbridge/pkg/config"
	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
	"github.com/harunnryd/voxbridge/pkg/logging"
	"github.com/harunnryd/voxbridge/pkg/metrics"
	"github.com/harunnryd/voxbridge/pkg/resilience"
	"github.com/harunnryd/voxbridge/pkg/session"
	"github.com/harunnryd/voxbridge/pkg/stages"
	"github.com/harunnryd/voxbridge/pkg/telephony"
	"github.com/harunnryd/voxbridge/pkg/tools"
)

// engineDialer is the engine-side handshake surface; narrowed for tests.
type engineDialer interface {
	CreateCall(ctx context.Context, req engine.CallRequest) (engine.CallResponse, error)
	Join(ctx context.Context, joinURL string) (*engine.Conn, error)
}

// callController is the provider call-control surface; narrowed for tests.
type callController interface {
	EndCall(ctx context.Context, callSID string) error
	FetchStatus(ctx context.Context, callSID string) (string, error)
}

// Server bridges provider media-stream sockets to voice-engine sockets,
// one session per call.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	observer metrics.Observer

	registry     *session.Registry
	stageSet     *stages.Set
	orchestrator *stages.Orchestrator
	dispatcher   *tools.Dispatcher
	webhook      *automation.Client
	engineClient engineDialer
	callControl  callController
	validator    *telephony.Validator

	upgrader websocket.Upgrader
	server   *http.Server
	draining atomic.Bool
}

func NewServer(cfg config.Config, logger *slog.Logger, observer metrics.Observer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	retry := resilience.NewRetryPolicy(cfg.Automation.Retries, time.Duration(cfg.Automation.RetryBackoffMS)*time.Millisecond)

	stageSet := stages.NewSet(stages.Params{
		Voices:     stageVoices(cfg.Stages.Voices),
		WebhookURL: cfg.Automation.WebhookURL,
		CorpusID:   cfg.Engine.CorpusID,
	})
	orchestrator := stages.NewOrchestrator(stageSet, logging.NewComponentLogger(logger, "stages"))
	webhook := automation.NewClient(cfg.Automation.WebhookURL, retry)

	s := &Server{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "bridge"),
		observer:     observer,
		registry:     session.NewRegistry(),
		stageSet:     stageSet,
		orchestrator: orchestrator,
		webhook:      webhook,
		engineClient: engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey),
		callControl:  telephony.NewCallControl(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, retry),
		validator:    telephony.NewValidator(cfg.Twilio.AuthToken, cfg.Server.PublicURL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.dispatcher = tools.NewDispatcher(
		orchestrator,
		webhook,
		s,
		cfg.Calendars,
		logging.NewComponentLogger(logger, "tools"),
		observer,
	)
	return s
}

// Registry exposes the session table for liveness checks.
func (s *Server) Registry() *session.Registry { return s.registry }

// Start serves HTTP until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.VoicePath, s.handleVoice)
	mux.HandleFunc(s.cfg.Server.WebsocketPath, s.handleMediaStream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.Server.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Drain terminates every live session and stops accepting new calls.
func (s *Server) Drain() error {
	s.draining.Store(true)
	s.registry.Each(func(sess *session.Session) {
		s.Terminate(context.Background(), sess, "server_drain")
	})
	if s.server != nil {
		_ = s.server.Close()
	}
	return nil
}

// handleVoice answers the provider voice webhook with TwiML connecting
// the call to the media-stream socket.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.validator.Validate(r); err != nil {
		s.logger.Warn("twilio_invalid_signature", "reason", string(errorsx.Reason(err)), "error", err.Error())
		w.WriteHeader(http.StatusForbidden)
		return
	}
	twiml := telephony.StreamTwiML(s.websocketURL(r), "")
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) websocketURL(r *http.Request) string {
	if s.cfg.Server.PublicURL != "" {
		host := s.cfg.Server.PublicURL
		host = strings.TrimPrefix(host, "https://")
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimRight(host, "/")
		return "wss://" + host + s.cfg.Server.WebsocketPath
	}
	return "wss://" + r.Host + s.cfg.Server.WebsocketPath
}

func stageVoices(raw map[string]string) map[stages.Name]string {
	out := make(map[stages.Name]string, len(raw))
	for k, v := range raw {
		out[stages.Name(k)] = v
	}
	return out
}
