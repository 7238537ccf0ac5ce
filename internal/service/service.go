// Package service orchestrates ingestion, the taste pipeline, the brand cache
// and offer resolution for the HTTP handlers.
package service

import (
	"context"
	"fmt"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/brandcache"
	"github.com/dhxmo/CultureQ/internal/cache"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/crypto"
	"github.com/dhxmo/CultureQ/internal/database"
	"github.com/dhxmo/CultureQ/internal/events"
	"github.com/dhxmo/CultureQ/internal/features"
	"github.com/dhxmo/CultureQ/internal/ingestion"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/matcher"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/offers"
	"github.com/dhxmo/CultureQ/internal/plaid"
	"github.com/dhxmo/CultureQ/internal/profile"
	"github.com/dhxmo/CultureQ/internal/qloo"
	"github.com/dhxmo/CultureQ/internal/tracing"
	"github.com/dhxmo/CultureQ/internal/validation"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	DB         *database.DB
	Plaid      plaid.Provider
	Qloo       qloo.Provider
	LLM        llm.Provider
	Cipher     *crypto.Cipher
	FrontCache cache.Cache
	Events     *events.Manager
	Features   *features.Manager
	Clock      clock.Clock

	Prompts        profile.Prompts
	ProfileOptions profile.Options
	MatcherOptions matcher.Options
	BrandOptions   brandcache.Options
	SyncConfig     ingestion.SyncConfig
}

// Service provides business logic for the CultureQ API.
type Service struct {
	db       *database.DB
	plaid    plaid.Provider
	cipher   *crypto.Cipher
	syncer   *ingestion.Syncer
	profiles *profile.Builder
	matcher  *matcher.Matcher
	brands   *brandcache.Cache
	offers   *offers.Resolver
	events   *events.Manager
	features *features.Manager
	clock    clock.Clock
	tracer   trace.Tracer
}

// NewService wires the pipeline components. Missing clock, cache, events or
// features fall back to the real clock, an in-memory cache, a disabled event
// manager and the default flags.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.NewReal()
	}
	if d.FrontCache == nil {
		d.FrontCache = cache.NewInMemoryCache(d.Clock)
	}
	if d.Events == nil {
		d.Events = events.NewManager(false, d.Clock)
	}
	if d.Features == nil {
		d.Features = features.NewFromSettings(features.Settings{StrictMatching: true})
	}

	return &Service{
		db:       d.DB,
		plaid:    d.Plaid,
		cipher:   d.Cipher,
		syncer:   ingestion.NewSyncer(d.Plaid, d.SyncConfig),
		profiles: profile.NewBuilder(d.LLM, d.Prompts, d.ProfileOptions),
		matcher:  matcher.New(d.LLM, d.Clock, d.MatcherOptions),
		brands:   brandcache.New(d.DB, d.FrontCache, d.Qloo, d.Clock, d.BrandOptions),
		offers:   offers.NewResolver(d.DB, d.Clock),
		events:   d.Events,
		features: d.Features,
		clock:    d.Clock,
		tracer:   tracing.Tracer("service"),
	}
}

// Offers exposes the campaign resolver for the admin routes.
func (s *Service) Offers() *offers.Resolver {
	return s.offers
}

// Features exposes the flag manager.
func (s *Service) Features() *features.Manager {
	return s.features
}

// requireUser validates the id and loads the user.
func (s *Service) requireUser(ctx context.Context, userID string) (models.User, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return models.User{}, err
	}
	return s.db.GetUser(ctx, userID)
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// notOwned hides resources owned by another user behind ErrNotFound.
func notOwned(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, apperrors.ErrNotFound)
}
