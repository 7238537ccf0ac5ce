package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/events"
	"github.com/dhxmo/CultureQ/internal/ingestion"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ExchangeToken links a bank account. The first link of an item creates the
// user; later links of the same item replace the stored token.
func (s *Service) ExchangeToken(ctx context.Context, publicToken string) (resp models.ExchangeTokenResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.ExchangeToken")
	defer func() { endSpan(span, err) }()

	publicToken = validation.SanitizeString(publicToken)
	if err := validation.Required(publicToken, "public_token"); err != nil {
		return models.ExchangeTokenResponse{}, err
	}

	exchange, err := s.plaid.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return models.ExchangeTokenResponse{}, fmt.Errorf("token exchange: %w", err)
	}

	var email string
	identity, err := s.plaid.GetIdentity(ctx, exchange.AccessToken)
	if err != nil {
		zap.L().Warn("Identity lookup failed, linking without email",
			zap.String("item_id", exchange.ItemID),
			zap.Error(err))
	} else if len(identity.Emails) > 0 {
		email = strings.TrimSpace(identity.Emails[0])
	}

	encToken, err := s.cipher.Encrypt(exchange.AccessToken)
	if err != nil {
		return models.ExchangeTokenResponse{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	var encEmail string
	if email != "" {
		if encEmail, err = s.cipher.Encrypt(email); err != nil {
			return models.ExchangeTokenResponse{}, fmt.Errorf("failed to encrypt email: %w", err)
		}
	}

	user, created, err := s.db.UpsertUserByItemID(ctx, exchange.ItemID, encEmail, encToken, s.clock.Now())
	if err != nil {
		return models.ExchangeTokenResponse{}, err
	}

	zap.L().Info("Linked bank account",
		zap.String("user_id", user.ID),
		zap.String("item_id", exchange.ItemID),
		zap.Bool("created", created))

	return models.ExchangeTokenResponse{Success: true, UserID: user.ID, ItemID: exchange.ItemID}, nil
}

// SyncTransactions pulls every transaction update for the user, stores the
// normalized result and returns the count most recent transactions with
// their categories.
func (s *Service) SyncTransactions(ctx context.Context, userID string, count int) (resp models.SyncTransactionsResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.SyncTransactions")
	span.SetAttributes(attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	count, err = ingestion.ResolveCount(count)
	if err != nil {
		return models.SyncTransactionsResponse{}, err
	}

	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return models.SyncTransactionsResponse{}, err
	}

	accessToken, ok := s.cipher.SafeDecrypt(user.EncryptedAccessToken)
	if !ok || accessToken == "" {
		return models.SyncTransactionsResponse{}, fmt.Errorf("stored access token is unreadable: %w", apperrors.ErrProcessingFailed)
	}

	result, err := s.syncer.SyncAll(ctx, accessToken)
	if err != nil {
		return models.SyncTransactionsResponse{}, err
	}
	span.SetAttributes(attribute.Int("sync.polls", result.Polls))

	upserts := ingestion.NormalizeAll(user.ID, append(result.Added, result.Modified...))
	if err := s.db.ApplyTransactionSync(ctx, upserts, result.Removed); err != nil {
		return models.SyncTransactionsResponse{}, err
	}
	if err := s.db.UpdateLastSync(ctx, user.ID, s.clock.Now()); err != nil {
		return models.SyncTransactionsResponse{}, err
	}

	stored, err := s.db.ListTransactions(ctx, user.ID, 0)
	if err != nil {
		return models.SyncTransactionsResponse{}, err
	}
	recent := ingestion.Recent(stored, count)

	s.events.PublishTransactionsSynced(ctx, events.TransactionsSyncedData{
		UserID:   user.ID,
		Added:    len(result.Added),
		Modified: len(result.Modified),
		Removed:  len(result.Removed),
		Polls:    result.Polls,
	})

	return models.SyncTransactionsResponse{
		Merchants:         recent,
		Categories:        ingestion.Categories(recent),
		TotalTransactions: len(stored),
	}, nil
}

// UpdateProfile sets the user's demographics and excluded merchants. Fields
// left out of the request keep their stored value.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (models.User, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	if req.City != nil {
		city := validation.SanitizeString(*req.City)
		req.City = &city
	}
	if req.ExcludedMerchants != nil {
		req.ExcludedMerchants = validation.SanitizeStrings(req.ExcludedMerchants)
	}
	if err := validation.Struct(req); err != nil {
		return models.User{}, err
	}

	age, city, excluded := user.Age, user.City, user.ExcludedMerchants
	if req.Age != nil {
		age = req.Age
	}
	if req.City != nil {
		city = req.City
		if *city == "" {
			city = nil
		}
	}
	if req.ExcludedMerchants != nil {
		excluded = req.ExcludedMerchants
	}

	if err := s.db.UpdateUserProfile(ctx, user.ID, age, city, excluded, s.clock.Now()); err != nil {
		return models.User{}, err
	}
	return s.db.GetUser(ctx, user.ID)
}

func (s *Service) GetUser(ctx context.Context, userID string) (models.User, error) {
	return s.requireUser(ctx, userID)
}
