package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
)

// defaultBaseConfidence is the rule-based confidence assumed when a
// caller does not supply one.
const defaultBaseConfidence = 0.8

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerConfidenceTools()
	s.registerHistoryTools()
	s.registerPreferenceTools()
}

// resolveGeometry returns the explicit geometry type when given,
// otherwise classifies the supplied feature tags. Empty when neither is
// available.
func resolveGeometry(geometryType string, featureTypes []string) string {
	if g := strings.TrimSpace(geometryType); g != "" {
		return g
	}
	if len(featureTypes) == 0 {
		return ""
	}
	features := make([]preferences.Feature, len(featureTypes))
	for i, t := range featureTypes {
		features[i] = preferences.Feature{Type: t}
	}
	return preferences.Classify(features)
}

// payloadSchemaVersion marks documents recorded through this boundary so
// future payload format changes stay distinguishable in historical rows.
const payloadSchemaVersion = 1

// storedPayload wraps a tool-supplied document in a version envelope for
// storage; the document itself sits verbatim under "data". Nil maps stay
// nil so an absent user choice is not stored as JSON null.
func storedPayload(v map[string]any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{
		"schema_version": payloadSchemaVersion,
		"data":           v,
	})
	if err != nil {
		return nil
	}
	return b
}

// unwrapPayload returns the document under a version envelope, or the map
// itself when it carries no envelope.
func unwrapPayload(m map[string]any) map[string]any {
	if len(m) != 2 {
		return m
	}
	if _, ok := m["schema_version"]; !ok {
		return m
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		return m
	}
	return data
}

// endSpan closes a tool span, recording the error outcome if any.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ===== CONFIDENCE TOOLS =====

type adjustedConfidenceInput struct {
	OperationType  string   `json:"operation_type" jsonschema:"required,Suggestion category (e.g. stock_setup)"`
	Material       string   `json:"material" jsonschema:"required,Part material"`
	GeometryType   string   `json:"geometry_type,omitempty" jsonschema:"Geometry classification (e.g. pocket-heavy)"`
	Features       []string `json:"features,omitempty" jsonschema:"Detected machining feature types, used to classify geometry when geometry_type is omitted"`
	BaseConfidence float64  `json:"base_confidence,omitempty" jsonschema:"Rule-based confidence of the suggestion (default: 0.8)"`
}

type choiceGroupOutput struct {
	Choice     map[string]any `json:"choice,omitempty" jsonschema:"The recorded user choice; absent when the suggestion was accepted as-is"`
	Count      int            `json:"count" jsonschema:"How many events recorded this choice"`
	MostRecent time.Time      `json:"most_recent" jsonschema:"When this choice was last recorded"`
	Weight     float64        `json:"weight" jsonschema:"Recency-weighted mass of the group"`
}

type adjustedConfidenceOutput struct {
	Confidence     float64             `json:"confidence" jsonschema:"Blended confidence after learning"`
	Source         string              `json:"source" jsonschema:"Attribution: default, user_preference, or user_preference_tentative"`
	SampleCount    int                 `json:"sample_count" jsonschema:"Number of matched events considered"`
	AcceptanceRate float64             `json:"acceptance_rate" jsonschema:"Recency-weighted acceptance rate of the matched history"`
	Outcome        string              `json:"outcome" jsonschema:"learned, no_history, or store_error"`
	GeometryType   string              `json:"geometry_type,omitempty" jsonschema:"Geometry classification used for matching"`
	Conflicting    bool                `json:"conflicting,omitempty" jsonschema:"True when recent history contains comparable but contradictory choices"`
	Alternatives   []choiceGroupOutput `json:"alternatives,omitempty" jsonschema:"Competing choice groups, heaviest first"`
	Notice         string              `json:"notice,omitempty" jsonschema:"One-time message set when enough history exists to start learning"`
}

type recordUserChoiceInput struct {
	OperationType string         `json:"operation_type" jsonschema:"required,Suggestion category"`
	Material      string         `json:"material" jsonschema:"required,Part material"`
	GeometryType  string         `json:"geometry_type,omitempty" jsonschema:"Geometry classification"`
	Features      []string       `json:"features,omitempty" jsonschema:"Detected machining feature types, used to classify geometry when geometry_type is omitted"`
	Context       map[string]any `json:"context,omitempty" jsonschema:"Situational facts at decision time, stored verbatim"`
	Suggestion    map[string]any `json:"suggestion" jsonschema:"required,The suggestion that was shown to the user"`
	UserChoice    map[string]any `json:"user_choice,omitempty" jsonschema:"What the user picked instead; omit when the suggestion was accepted as-is"`
	FeedbackType  string         `json:"feedback_type,omitempty" jsonschema:"explicit_good or explicit_bad for deliberate ratings; implicit types are derived from user_choice"`
	Note          string         `json:"note,omitempty" jsonschema:"Optional free-text rationale"`
	Confidence    float64        `json:"confidence,omitempty" jsonschema:"Base confidence that was shown with the suggestion"`
}

type recordUserChoiceOutput struct {
	Status        string `json:"status" jsonschema:"Always recorded on success"`
	ID            int64  `json:"id" jsonschema:"Assigned event ID"`
	OperationType string `json:"operation_type"`
	Material      string `json:"material"`
	GeometryType  string `json:"geometry_type,omitempty"`
	FeedbackType  string `json:"feedback_type" jsonschema:"Classification actually recorded"`
	Message       string `json:"message"`
}

func (s *Server) registerConfidenceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_adjusted_confidence",
		Description: "Adjust a suggestion's confidence using learned feedback history",
	}, s.handleAdjustedConfidence)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_user_choice",
		Description: "Record what the user did with a suggestion so future confidence reflects it",
	}, s.handleRecordUserChoice)
}

func (s *Server) handleAdjustedConfidence(ctx context.Context, req *mcp.CallToolRequest, args adjustedConfidenceInput) (*mcp.CallToolResult, adjustedConfidenceOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.get_adjusted_confidence")
	s.metrics.IncrementActive(ctx, "get_adjusted_confidence")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "get_adjusted_confidence")
		s.metrics.RecordInvocation(ctx, "get_adjusted_confidence", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	if strings.TrimSpace(args.OperationType) == "" {
		toolErr = fmt.Errorf("invalid operation_type: %w", feedback.ErrEmptyOperationType)
		return nil, adjustedConfidenceOutput{}, toolErr
	}
	if strings.TrimSpace(args.Material) == "" {
		toolErr = fmt.Errorf("invalid material: %w", feedback.ErrEmptyMaterial)
		return nil, adjustedConfidenceOutput{}, toolErr
	}

	base := args.BaseConfidence
	if base == 0 {
		base = defaultBaseConfidence
	}
	if base < 0 || base > 1 {
		toolErr = fmt.Errorf("invalid base_confidence: %w", feedback.ErrInvalidConfidence)
		return nil, adjustedConfidenceOutput{}, toolErr
	}

	geometry := resolveGeometry(args.GeometryType, args.Features)
	span.SetAttributes(
		attribute.String("operation_type", args.OperationType),
		attribute.String("material", args.Material),
		attribute.String("geometry_type", geometry),
	)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	result := s.feedback.AdjustedConfidence(ctx, feedback.SuggestRequest{
		OperationType:  args.OperationType,
		Material:       args.Material,
		GeometryType:   geometry,
		BaseConfidence: base,
	})
	if result.Outcome == feedback.OutcomeStoreError {
		s.metrics.RecordFallback(ctx, args.OperationType)
	}

	output := adjustedConfidenceOutput{
		Confidence:     result.Confidence,
		Source:         string(result.Source),
		SampleCount:    result.SampleCount,
		AcceptanceRate: result.AcceptanceRate,
		Outcome:        string(result.Outcome),
		GeometryType:   geometry,
		Conflicting:    result.Conflicting,
		Alternatives:   toChoiceGroups(result.Alternatives),
		Notice:         result.Notice,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Confidence %.2f (%s, %d samples)", output.Confidence, output.Source, output.SampleCount)},
		},
	}, output, nil
}

func (s *Server) handleRecordUserChoice(ctx context.Context, req *mcp.CallToolRequest, args recordUserChoiceInput) (*mcp.CallToolResult, recordUserChoiceOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.record_user_choice")
	s.metrics.IncrementActive(ctx, "record_user_choice")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "record_user_choice")
		s.metrics.RecordInvocation(ctx, "record_user_choice", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	geometry := resolveGeometry(args.GeometryType, args.Features)
	span.SetAttributes(
		attribute.String("operation_type", args.OperationType),
		attribute.String("material", args.Material),
		attribute.String("geometry_type", geometry),
	)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	event, err := s.feedback.Record(ctx, feedback.RecordRequest{
		OperationType:     args.OperationType,
		Material:          args.Material,
		GeometryType:      geometry,
		ContextSnapshot:   storedPayload(args.Context),
		SuggestionPayload: storedPayload(args.Suggestion),
		UserChoice:        storedPayload(args.UserChoice),
		FeedbackType:      feedback.FeedbackType(args.FeedbackType),
		Note:              args.Note,
		ConfidenceBefore:  args.Confidence,
	})
	if err != nil {
		toolErr = fmt.Errorf("recording user choice: %w", err)
		return nil, recordUserChoiceOutput{}, toolErr
	}

	output := recordUserChoiceOutput{
		Status:        "recorded",
		ID:            event.ID,
		OperationType: event.OperationType,
		Material:      event.Material,
		GeometryType:  event.GeometryType,
		FeedbackType:  string(event.FeedbackType),
		Message:       "Feedback recorded successfully",
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: output.Message},
		},
	}, output, nil
}

// toChoiceGroups converts matcher choice groups into tool output form.
// Choices arrive as objects through record_user_choice, so a choice that
// fails to decode is surfaced as absent rather than an error.
func toChoiceGroups(groups []feedback.ChoiceGroup) []choiceGroupOutput {
	if len(groups) == 0 {
		return nil
	}
	out := make([]choiceGroupOutput, len(groups))
	for i, g := range groups {
		var choice map[string]any
		if len(g.Choice) > 0 {
			_ = json.Unmarshal(g.Choice, &choice)
		}
		out[i] = choiceGroupOutput{
			Choice:     unwrapPayload(choice),
			Count:      g.Count,
			MostRecent: g.MostRecent,
			Weight:     g.Weight,
		}
	}
	return out
}

// ===== HISTORY TOOLS =====

type feedbackStatsInput struct {
	OperationType string `json:"operation_type,omitempty" jsonschema:"Limit statistics to one suggestion category"`
}

type feedbackStatsOutput struct {
	Overall         feedback.ScopeStats   `json:"overall" jsonschema:"Counts over the whole requested scope"`
	ByMaterial      []feedback.ScopeStats `json:"by_material" jsonschema:"Per-material breakdown, largest first"`
	ByGeometryType  []feedback.ScopeStats `json:"by_geometry_type" jsonschema:"Per-geometry breakdown, largest first"`
	ByOperationType []feedback.ScopeStats `json:"by_operation_type,omitempty" jsonschema:"Per-operation breakdown; omitted when already scoped to one"`
}

type exportHistoryInput struct {
	Format        string `json:"format,omitempty" jsonschema:"Export encoding, csv or json (default: json)"`
	OperationType string `json:"operation_type,omitempty" jsonschema:"Limit the export to one suggestion category"`
}

type exportHistoryOutput struct {
	Status string `json:"status" jsonschema:"Always success"`
	Format string `json:"format" jsonschema:"Encoding actually used"`
	Data   string `json:"data" jsonschema:"The serialized history"`
}

type clearHistoryInput struct {
	OperationType string `json:"operation_type,omitempty" jsonschema:"Limit the clear to one suggestion category"`
	Confirm       bool   `json:"confirm" jsonschema:"required,Must be true; clearing is destructive and never implicit"`
}

type clearHistoryOutput struct {
	Status        string `json:"status" jsonschema:"Always success"`
	DeletedCount  int64  `json:"deleted_count" jsonschema:"Number of events deleted"`
	OperationType string `json:"operation_type" jsonschema:"Cleared scope, or all"`
}

func (s *Server) registerHistoryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_feedback_stats",
		Description: "Summarize recorded feedback history with acceptance rates",
	}, s.handleFeedbackStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_feedback_history",
		Description: "Export the full feedback history as CSV or JSON",
	}, s.handleExportHistory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_feedback_history",
		Description: "Delete recorded feedback history; requires confirm=true",
	}, s.handleClearHistory)
}

func (s *Server) handleFeedbackStats(ctx context.Context, req *mcp.CallToolRequest, args feedbackStatsInput) (*mcp.CallToolResult, feedbackStatsOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.get_feedback_stats")
	s.metrics.IncrementActive(ctx, "get_feedback_stats")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "get_feedback_stats")
		s.metrics.RecordInvocation(ctx, "get_feedback_stats", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	span.SetAttributes(attribute.String("operation_type", args.OperationType))

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	stats, err := s.feedback.Statistics(ctx, args.OperationType)
	if err != nil {
		toolErr = fmt.Errorf("computing feedback stats: %w", err)
		return nil, feedbackStatsOutput{}, toolErr
	}

	output := feedbackStatsOutput{
		Overall:         stats.Overall,
		ByMaterial:      stats.ByMaterial,
		ByGeometryType:  stats.ByGeometryType,
		ByOperationType: stats.ByOperationType,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d decisions recorded, %.0f%% accepted", output.Overall.Count, output.Overall.AcceptanceRate*100)},
		},
	}, output, nil
}

func (s *Server) handleExportHistory(ctx context.Context, req *mcp.CallToolRequest, args exportHistoryInput) (*mcp.CallToolResult, exportHistoryOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.export_feedback_history")
	s.metrics.IncrementActive(ctx, "export_feedback_history")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "export_feedback_history")
		s.metrics.RecordInvocation(ctx, "export_feedback_history", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	format := feedback.Format(args.Format)
	if format == "" {
		format = feedback.FormatJSON
	}
	span.SetAttributes(
		attribute.String("format", string(format)),
		attribute.String("operation_type", args.OperationType),
	)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	data, err := s.feedback.Export(ctx, format, args.OperationType)
	if err != nil {
		toolErr = fmt.Errorf("exporting feedback history: %w", err)
		return nil, exportHistoryOutput{}, toolErr
	}

	output := exportHistoryOutput{
		Status: "success",
		Format: string(format),
		Data:   data,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Exported feedback history as %s", format)},
		},
	}, output, nil
}

func (s *Server) handleClearHistory(ctx context.Context, req *mcp.CallToolRequest, args clearHistoryInput) (*mcp.CallToolResult, clearHistoryOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.clear_feedback_history")
	s.metrics.IncrementActive(ctx, "clear_feedback_history")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "clear_feedback_history")
		s.metrics.RecordInvocation(ctx, "clear_feedback_history", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	span.SetAttributes(
		attribute.String("operation_type", args.OperationType),
		attribute.Bool("confirm", args.Confirm),
	)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	deleted, err := s.feedback.Clear(ctx, args.OperationType, args.Confirm)
	if err != nil {
		toolErr = fmt.Errorf("clearing feedback history: %w", err)
		return nil, clearHistoryOutput{}, toolErr
	}

	scope := args.OperationType
	if scope == "" {
		scope = "all"
	}
	output := clearHistoryOutput{
		Status:        "success",
		DeletedCount:  deleted,
		OperationType: scope,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Cleared %d feedback events (%s)", deleted, scope)},
		},
	}, output, nil
}

// ===== PREFERENCE TOOLS =====

type stockPreferenceInput struct {
	Material     string   `json:"material" jsonschema:"required,Part material"`
	GeometryType string   `json:"geometry_type,omitempty" jsonschema:"Geometry classification"`
	Features     []string `json:"features,omitempty" jsonschema:"Detected machining feature types, used to classify geometry when geometry_type is omitted"`
}

type stockPreferenceOutput struct {
	Material             string   `json:"material"`
	GeometryType         string   `json:"geometry_type"`
	OffsetsXYMM          float64  `json:"offsets_xy_mm" jsonschema:"Stock margin around the part in X and Y in mm"`
	OffsetsZMM           float64  `json:"offsets_z_mm" jsonschema:"Stock margin above and below the part in mm"`
	PreferredOrientation string   `json:"preferred_orientation,omitempty" jsonschema:"Preferred part orientation, if expressed"`
	StockShape           string   `json:"stock_shape" jsonschema:"Raw stock form, e.g. rectangular or round"`
	MachiningAllowanceMM *float64 `json:"machining_allowance_mm,omitempty" jsonschema:"Finishing allowance to leave on all faces in mm"`
	Source               string   `json:"source" jsonschema:"user_preference when stored, default otherwise"`
}

type saveStockPreferenceInput struct {
	Material             string   `json:"material" jsonschema:"required,Part material"`
	GeometryType         string   `json:"geometry_type,omitempty" jsonschema:"Geometry classification"`
	Features             []string `json:"features,omitempty" jsonschema:"Detected machining feature types, used to classify geometry when geometry_type is omitted"`
	OffsetsXYMM          float64  `json:"offsets_xy_mm,omitempty" jsonschema:"Stock margin around the part in X and Y in mm (default: 5)"`
	OffsetsZMM           float64  `json:"offsets_z_mm,omitempty" jsonschema:"Stock margin above and below the part in mm (default: 2.5)"`
	PreferredOrientation string   `json:"preferred_orientation,omitempty" jsonschema:"Preferred part orientation"`
	StockShape           string   `json:"stock_shape,omitempty" jsonschema:"Raw stock form, rectangular or round (default: rectangular)"`
	MachiningAllowanceMM *float64 `json:"machining_allowance_mm,omitempty" jsonschema:"Finishing allowance to leave on all faces in mm"`
}

type saveStockPreferenceOutput struct {
	Status       string `json:"status" jsonschema:"Always saved on success"`
	Material     string `json:"material" jsonschema:"Normalized material key"`
	GeometryType string `json:"geometry_type" jsonschema:"Normalized geometry key"`
}

func (s *Server) registerPreferenceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stock_preference",
		Description: "Look up the stored stock sizing preference for a material and geometry, falling back to defaults",
	}, s.handleGetStockPreference)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_stock_preference",
		Description: "Store a stock sizing preference for a material and geometry",
	}, s.handleSaveStockPreference)
}

func (s *Server) handleGetStockPreference(ctx context.Context, req *mcp.CallToolRequest, args stockPreferenceInput) (*mcp.CallToolResult, stockPreferenceOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.get_stock_preference")
	s.metrics.IncrementActive(ctx, "get_stock_preference")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "get_stock_preference")
		s.metrics.RecordInvocation(ctx, "get_stock_preference", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	if strings.TrimSpace(args.Material) == "" {
		toolErr = fmt.Errorf("invalid material: %w", preferences.ErrEmptyMaterial)
		return nil, stockPreferenceOutput{}, toolErr
	}
	geometry := resolveGeometry(args.GeometryType, args.Features)
	if geometry == "" {
		toolErr = fmt.Errorf("invalid geometry_type: %w", preferences.ErrEmptyGeometryType)
		return nil, stockPreferenceOutput{}, toolErr
	}
	span.SetAttributes(
		attribute.String("material", args.Material),
		attribute.String("geometry_type", geometry),
	)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	pref, err := s.prefs.Get(ctx, args.Material, geometry)
	if err != nil {
		toolErr = fmt.Errorf("loading stock preference: %w", err)
		return nil, stockPreferenceOutput{}, toolErr
	}

	source := preferences.SourceUserPreference
	if pref == nil {
		pref = preferences.Defaults(args.Material, geometry)
		source = preferences.SourceDefault
	}

	output := stockPreferenceOutput{
		Material:             pref.Material,
		GeometryType:         pref.GeometryType,
		OffsetsXYMM:          pref.OffsetXYMM,
		OffsetsZMM:           pref.OffsetZMM,
		PreferredOrientation: pref.PreferredOrientation,
		StockShape:           pref.StockShape,
		MachiningAllowanceMM: pref.MachiningAllowanceMM,
		Source:               string(source),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Stock preference for %s/%s (from: %s)", output.Material, output.GeometryType, output.Source)},
		},
	}, output, nil
}

func (s *Server) handleSaveStockPreference(ctx context.Context, req *mcp.CallToolRequest, args saveStockPreferenceInput) (*mcp.CallToolResult, saveStockPreferenceOutput, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mcp.save_stock_preference")
	s.metrics.IncrementActive(ctx, "save_stock_preference")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "save_stock_preference")
		s.metrics.RecordInvocation(ctx, "save_stock_preference", time.Since(start), toolErr)
		endSpan(span, toolErr)
	}()

	geometry := resolveGeometry(args.GeometryType, args.Features)
	span.SetAttributes(
		attribute.String("material", args.Material),
		attribute.String("geometry_type", geometry),
	)

	pref := &preferences.StockPreference{
		Material:             args.Material,
		GeometryType:         geometry,
		OffsetXYMM:           args.OffsetsXYMM,
		OffsetZMM:            args.OffsetsZMM,
		PreferredOrientation: args.PreferredOrientation,
		StockShape:           args.StockShape,
		MachiningAllowanceMM: args.MachiningAllowanceMM,
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.prefs.Save(ctx, pref); err != nil {
		toolErr = fmt.Errorf("saving stock preference: %w", err)
		return nil, saveStockPreferenceOutput{}, toolErr
	}

	output := saveStockPreferenceOutput{
		Status:       "saved",
		Material:     pref.Material,
		GeometryType: pref.GeometryType,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Stock preference saved for %s/%s", output.Material, output.GeometryType)},
		},
	}, output, nil
}
