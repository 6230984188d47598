package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
	"github.com/fyrsmithlabs/camlearnd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/camlearnd/internal/mcp"

// Server serves the feedback and preference tools over an MCP transport.
type Server struct {
	mcp          *mcp.Server
	feedback     *feedback.Service
	prefs        preferences.Store
	metrics      *Metrics
	tracer       trace.Tracer
	logger       *zap.Logger
	queryTimeout time.Duration
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "camlearnd").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// QueryTimeout bounds the storage work of a single tool call
	// (default: 10s).
	QueryTimeout time.Duration

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "camlearnd",
		Version:      "dev",
		QueryTimeout: 10 * time.Second,
		Logger:       zap.NewNop(),
	}
}

// NewServer creates an MCP server over the given services. The telemetry
// handle may be nil, in which case the global OTel providers are used.
func NewServer(cfg *Config, feedbackSvc *feedback.Service, prefStore preferences.Store, tel *telemetry.Telemetry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if feedbackSvc == nil {
		return nil, fmt.Errorf("feedback service is required")
	}
	if prefStore == nil {
		return nil, fmt.Errorf("preference store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		feedback:     feedbackSvc,
		prefs:        prefStore,
		metrics:      NewMetrics(tel.Meter(instrumentationName), logger),
		tracer:       tel.Tracer(instrumentationName),
		logger:       logger,
		queryTimeout: queryTimeout,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport and blocks until the
// client disconnects or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
