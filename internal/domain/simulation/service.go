package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/platform/cache"
)

const cacheKeyPrefix = "sim:v1:"

// Metrics receives one observation per served or refused simulation.
type Metrics interface {
	ObserveSimulation(model string, cached bool, elapsed time.Duration)
	CountRejection(reason string)
}

type Options struct {
	// Advisory turns clinical range violations into warnings.
	Advisory bool
	CacheTTL time.Duration
	Metrics  Metrics
}

type Service struct {
	engine *pkpd.Engine
	store  cache.Store
	opts   Options
	logger zerolog.Logger
}

// NewService wires the engine to an optional result cache. store may be nil.
func NewService(engine *pkpd.Engine, store cache.Store, opts Options, logger zerolog.Logger) *Service {
	return &Service{engine: engine, store: store, opts: opts, logger: logger}
}

// Validate returns every clinical range violation in req.
func (s *Service) Validate(req Request) []string {
	var msgs []string
	var ve *pkpd.ValidationError
	if err := pkpd.Validate(req.Patient, req.DoseEvents); errors.As(err, &ve) {
		msgs = ve.Messages
	}
	return append(msgs, pkpd.ValidateDuration(req.DurationMin)...)
}

// admit applies the validation policy. Under the strict policy violations
// are returned as a *pkpd.ValidationError.
func (s *Service) admit(req Request) ([]string, error) {
	msgs := s.Validate(req)
	if len(msgs) == 0 {
		return nil, nil
	}
	if s.opts.Advisory {
		return msgs, nil
	}
	return nil, &pkpd.ValidationError{Messages: msgs}
}

// Simulate runs req, serving identical requests from the cache.
func (s *Service) Simulate(ctx context.Context, req Request) (*Outcome, error) {
	// configuration errors take precedence over range checks
	if len(req.DoseEvents) == 0 {
		s.reject("no_doses")
		return nil, pkpd.ErrNoDoseEvents
	}
	if _, err := pkpd.LookupModel(req.Patient.Model); err != nil {
		s.reject("unknown_model")
		return nil, err
	}
	warnings, err := s.admit(req)
	if err != nil {
		s.reject("validation")
		return nil, err
	}

	model := string(req.Patient.Model)
	key := cacheKeyPrefix + pkpd.RunKey(req.Patient, req.DoseEvents, req.DurationMin)
	if res := s.lookup(ctx, key); res != nil {
		s.observe(model, true, 0)
		return &Outcome{Result: res, Warnings: warnings, Cached: true}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.engine.Simulate(req.Patient, req.DoseEvents, req.DurationMin)
	if err != nil {
		var ve *pkpd.ValidationError
		if errors.As(err, &ve) {
			s.reject("limits")
		} else {
			s.reject("engine")
		}
		return nil, err
	}
	s.observe(model, false, time.Since(start))
	s.remember(ctx, key, res)

	return &Outcome{Result: res, Warnings: warnings}, nil
}

func (s *Service) observe(model string, cached bool, elapsed time.Duration) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveSimulation(model, cached, elapsed)
	}
}

func (s *Service) reject(reason string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CountRejection(reason)
	}
}

func (s *Service) lookup(ctx context.Context, key string) *pkpd.SimulationResult {
	if s.store == nil {
		return nil
	}
	b, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Msg("result cache read failed")
		}
		return nil
	}
	var res pkpd.SimulationResult
	if err := json.Unmarshal(b, &res); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable cache entry")
		_ = s.store.Delete(ctx, key)
		return nil
	}
	return &res
}

func (s *Service) remember(ctx context.Context, key string, res *pkpd.SimulationResult) {
	if s.store == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn().Err(err).Msg("result not cacheable")
		return
	}
	if err := s.store.Set(ctx, key, b, s.opts.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("result cache write failed")
	}
}

// Parameters derives the individualized PK/PD parameters for p.
func (s *Service) Parameters(p pkpd.Patient) (*ParametersResponse, error) {
	if _, err := pkpd.LookupModel(p.Model); err != nil {
		return nil, err
	}
	warnings := pkpd.ValidatePatient(p)
	if len(warnings) > 0 && !s.opts.Advisory {
		return nil, &pkpd.ValidationError{Messages: warnings}
	}
	params, err := pkpd.DeriveParameters(p)
	if err != nil {
		return nil, err
	}
	return &ParametersResponse{Model: p.Model, BMI: p.BMI(), Parameters: params, Warnings: warnings}, nil
}

// Models lists the variant table in catalogue order.
func (s *Service) Models() []ModelInfo {
	defs := pkpd.Models()
	out := make([]ModelInfo, len(defs))
	for i, def := range defs {
		out[i] = ModelInfo{ModelDefinition: def, Label: def.Variant.Label()}
	}
	return out
}
