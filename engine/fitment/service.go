// Package fitment resolves blocks of application text into fitments and
// associates them with products.
package fitment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/engine/graph"
	"github.com/sssolid/crown-nexus/engine/parser"
	"github.com/sssolid/crown-nexus/engine/resolve"
	"github.com/sssolid/crown-nexus/pkg/fn"
	"github.com/sssolid/crown-nexus/pkg/resilience"
)

// fitmentNamespace seeds the name-based fitment ids.
var fitmentNamespace = uuid.MustParse("4f1c6a8e-2b7d-5e3a-9c0f-6d2e8b1a7c45")

var (
	tracer   = otel.Tracer("crown-nexus/fitment")
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// VehicleResolver resolves the vehicle part of an application.
type VehicleResolver interface {
	Resolve(ctx context.Context, app domain.ParsedApplication) (resolve.VehicleResolution, error)
}

// PositionResolver resolves the position part of an application.
type PositionResolver interface {
	Resolve(ctx context.Context, text string) (resolve.PositionResolution, error)
}

// Associator links products to fitments idempotently.
type Associator interface {
	AssociateAll(ctx context.Context, as []graph.Association) error
}

// Options tunes a Service.
type Options struct {
	// Workers bounds how many lines resolve at once. Default 8.
	Workers int
	// BatchSize caps associations per write transaction. Default 500.
	BatchSize int
	// Retry governs association writes. Zero value uses three quick attempts.
	Retry  fn.RetryOpts
	Logger *slog.Logger
}

// Request is the input of one processing call.
type Request struct {
	Texts             []string `json:"texts" validate:"required,min=1"`
	PartTerminologyID int      `json:"part_terminology_id" validate:"gt=0"`
	ProductID         string   `json:"product_id,omitempty" validate:"omitempty,max=128"`
}

// Response groups results by the raw statement text. Counts are per line.
type Response struct {
	Results      map[string][]domain.ProcessingResult `json:"results"`
	Order        []string                             `json:"order"`
	ValidCount   int                                  `json:"valid_count"`
	WarningCount int                                  `json:"warning_count"`
	ErrorCount   int                                  `json:"error_count"`
	Associated   int                                  `json:"associated"`
}

// Service runs parsing, resolution and association for application text.
type Service struct {
	vehicles  VehicleResolver
	positions PositionResolver
	assoc     Associator
	opts      Options
	logger    *slog.Logger
}

// NewService creates a Service. assoc may be nil when no product is ever
// associated.
func NewService(vehicles VehicleResolver, positions PositionResolver, assoc Associator, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     2 * time.Second,
			Jitter:      true,
			Retryable:   retryable,
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{vehicles: vehicles, positions: positions, assoc: assoc, opts: opts, logger: opts.Logger}
}

func retryable(err error) bool {
	return !errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// line is the outcome of one statement.
type line struct {
	raw     string
	status  domain.Status
	results []domain.ProcessingResult
	assoc   []graph.Association
}

// Handle validates req and processes it.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, domain.NewValidationError(fe.Field(), fmt.Sprint(fe.Value()),
				fmt.Errorf("fitment: %s failed %s", fe.Field(), fe.Tag()))
		}
		return nil, fmt.Errorf("fitment: validate request: %w", err)
	}
	return s.Process(ctx, req.Texts, req.PartTerminologyID, req.ProductID)
}

// Process parses every text into statements, resolves them on a bounded
// worker pool and merges the results in input order. With a productID,
// every fitment of a line that is not ERROR is associated with the product.
// Per-line failures are reported in the response; only infrastructure
// errors fail the call.
func (s *Service) Process(ctx context.Context, texts []string, partTerminologyID int, productID string) (*Response, error) {
	ctx, span := tracer.Start(ctx, "fitment.Process")
	defer span.End()
	start := time.Now()

	var stmts []parser.Statement
	for _, t := range texts {
		stmts = append(stmts, parser.Parse(t)...)
	}
	span.SetAttributes(
		attribute.Int("fitment.statements", len(stmts)),
		attribute.Int("fitment.part_terminology_id", partTerminologyID),
		attribute.Bool("fitment.associate", productID != ""),
	)

	stage := fn.TracedStage("fitment.line",
		func(st parser.Statement) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("fitment.text", st.Raw)}
		},
		func(ctx context.Context, st parser.Statement) fn.Result[line] {
			return fn.FromPair(s.processLine(ctx, st, partTerminologyID, productID))
		})

	lines := make([]line, len(stmts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, st := range stmts {
		g.Go(func() error {
			l, err := stage(gctx, st).Unwrap()
			if err != nil {
				return err
			}
			lines[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		processTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fitment: process: %w", err)
	}

	resp := merge(lines)
	if productID != "" {
		n, err := s.associate(ctx, lines)
		resp.Associated = n
		if err != nil {
			processTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("fitment: associate %s: %w", productID, err)
		}
	}

	processTotal.WithLabelValues("ok").Inc()
	processDuration.Observe(time.Since(start).Seconds())
	linesTotal.WithLabelValues(string(domain.StatusValid)).Add(float64(resp.ValidCount))
	linesTotal.WithLabelValues(string(domain.StatusWarning)).Add(float64(resp.WarningCount))
	linesTotal.WithLabelValues(string(domain.StatusError)).Add(float64(resp.ErrorCount))
	s.logger.Info("applications processed",
		"lines", len(stmts),
		"valid", resp.ValidCount,
		"warning", resp.WarningCount,
		"error", resp.ErrorCount,
		"associated", resp.Associated,
		"duration", time.Since(start),
	)
	return resp, nil
}

// processLine resolves one statement. Errors returned here are
// infrastructure failures; line-level failures become ERROR results.
func (s *Service) processLine(ctx context.Context, st parser.Statement, partTerminologyID int, productID string) (line, error) {
	l := line{raw: st.Raw}
	if st.Err != nil {
		return l.fail(st.Err), nil
	}

	veh, vErr := s.vehicles.Resolve(ctx, st.App)
	if vErr != nil && !isLineError(vErr) {
		return line{}, vErr
	}
	pos, pErr := s.positions.Resolve(ctx, st.App.PositionText)
	if pErr != nil && !isLineError(pErr) {
		return line{}, pErr
	}

	switch {
	case vErr != nil && pErr != nil:
		return l.fail(fmt.Errorf("%w; %s", vErr, messageOf(pErr))), nil
	case vErr != nil:
		if pos.Status == domain.StatusWarning {
			return l.fail(fmt.Errorf("%w; %s", vErr, pos.Message)), nil
		}
		return l.fail(vErr), nil
	case pErr != nil:
		return l.fail(pErr), nil
	}

	l.status = domain.Worst(veh.Status, pos.Status)
	var kind domain.ErrorKind
	if pos.Status == domain.StatusWarning {
		kind = domain.KindPositionNotFound
	}
	msg := joinMessages(veh.Message, pos.Message)

	for _, v := range veh.Vehicles {
		for _, ids := range pos.Groups {
			f := &domain.ResolvedFitment{
				ID:              FitmentID(v.ID, ids, partTerminologyID),
				VehicleID:       v.ID,
				PositionIDs:     ids,
				PartTerminology: partTerminologyID,
			}
			l.results = append(l.results, domain.ProcessingResult{
				OriginalText: st.Raw,
				Status:       l.status,
				Kind:         kind,
				Message:      msg,
				Fitment:      f,
			})
			if productID != "" {
				l.assoc = append(l.assoc, graph.Association{
					ProductID:         productID,
					FitmentID:         f.ID,
					VehicleID:         f.VehicleID,
					PositionIDs:       f.PositionIDs,
					PartTerminologyID: partTerminologyID,
					SourceText:        st.Raw,
				})
			}
		}
	}
	return l, nil
}

func (l line) fail(err error) line {
	kind, _ := domain.KindOf(err)
	l.status = domain.StatusError
	l.results = []domain.ProcessingResult{{
		OriginalText: l.raw,
		Status:       domain.StatusError,
		Kind:         kind,
		Message:      messageOf(err),
	}}
	l.assoc = nil
	return l
}

// associate writes the fitments of every non-ERROR line, one batch per
// transaction. It returns the number of associations written.
func (s *Service) associate(ctx context.Context, lines []line) (int, error) {
	if s.assoc == nil {
		return 0, errors.New("no associator configured")
	}
	ctx, span := tracer.Start(ctx, "fitment.associate")
	defer span.End()

	n := 0
	for _, l := range lines {
		if l.status == domain.StatusError {
			continue
		}
		for _, batch := range fn.Chunk(l.assoc, s.opts.BatchSize) {
			err := fn.RetryErr(ctx, s.opts.Retry, func(ctx context.Context) error {
				return s.assoc.AssociateAll(ctx, batch)
			})
			if err != nil {
				return n, err
			}
			n += len(batch)
		}
	}
	associatedTotal.Add(float64(n))
	span.SetAttributes(attribute.Int("fitment.associated", n))
	return n, nil
}

// merge groups line results by raw text in first-seen order.
func merge(lines []line) *Response {
	resp := &Response{Results: make(map[string][]domain.ProcessingResult), Order: []string{}}
	for _, l := range lines {
		if _, seen := resp.Results[l.raw]; !seen {
			resp.Order = append(resp.Order, l.raw)
			resp.Results[l.raw] = []domain.ProcessingResult{}
		}
		resp.Results[l.raw] = append(resp.Results[l.raw], l.results...)
		switch l.status {
		case domain.StatusValid:
			resp.ValidCount++
		case domain.StatusWarning:
			resp.WarningCount++
		default:
			resp.ErrorCount++
		}
	}
	return resp
}

// FitmentID derives a stable id from the vehicle, the position set and the
// part terminology. Position order does not matter.
func FitmentID(vehicleID int, positionIDs []int, partTerminologyID int) string {
	sorted := slices.Clone(positionIDs)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = fmt.Sprint(p)
	}
	name := fmt.Sprintf("%d|%s|%d", vehicleID, strings.Join(parts, ","), partTerminologyID)
	return uuid.NewSHA1(fitmentNamespace, []byte(name)).String()
}

func isLineError(err error) bool {
	_, ok := domain.KindOf(err)
	return ok
}

func messageOf(err error) string {
	var pe *domain.ParseError
	if errors.As(err, &pe) {
		return pe.Msg
	}
	var re *domain.ResolutionError
	if errors.As(err, &re) && errors.Unwrap(err) == nil {
		return re.Msg
	}
	return err.Error()
}

func joinMessages(msgs ...string) string {
	var out []string
	for _, m := range msgs {
		if m != "" {
			out = append(out, m)
		}
	}
	return strings.Join(out, "; ")
}
