package service

import (
	"context"

	"github.com/dhxmo/CultureQ/internal/events"
	"github.com/dhxmo/CultureQ/internal/features"
	"github.com/dhxmo/CultureQ/internal/matcher"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/profile"
	"github.com/dhxmo/CultureQ/internal/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Chat runs one chat turn. Without a conversation id a new conversation is
// started; it is only stored once the assistant has replied.
func (s *Service) Chat(ctx context.Context, req models.ChatRequest) (resp models.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.Chat")
	defer func() { endSpan(span, err) }()

	req.Message = validation.SanitizeString(req.Message)
	req.ConversationID = validation.SanitizeString(req.ConversationID)
	if err := validation.Required(req.Message, "message"); err != nil {
		return models.ChatResponse{}, err
	}

	user, err := s.requireUser(ctx, validation.SanitizeString(req.UserID))
	if err != nil {
		return models.ChatResponse{}, err
	}

	var conv models.Conversation
	if req.ConversationID == "" {
		if !req.ChatType.Valid() {
			return models.ChatResponse{}, &validation.ValidationError{Field: "chatType", Message: "is not a supported chat type"}
		}
		conv = models.Conversation{UserID: user.ID, ChatType: req.ChatType}
	} else {
		if conv, err = s.ownedConversation(ctx, user.ID, req.ConversationID); err != nil {
			return models.ChatResponse{}, err
		}
		if req.ChatType != "" && req.ChatType != conv.ChatType {
			return models.ChatResponse{}, &validation.ValidationError{Field: "chatType", Message: "does not match the conversation"}
		}
	}
	span.SetAttributes(attribute.String("chat_type", string(conv.ChatType)))

	now := s.clock.Now()
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser, Content: req.Message, Timestamp: now})

	reply, err := s.profiles.Reply(ctx, conv)
	if err != nil {
		return models.ChatResponse{}, err
	}

	if conv.ID == "" {
		created, err := s.db.CreateConversation(ctx, user.ID, conv.ChatType, profile.ConversationTitle(conv.ChatType), now)
		if err != nil {
			return models.ChatResponse{}, err
		}
		conv.ID = created.ID
	}

	if _, err := s.db.AppendMessages(ctx, conv.ID, profile.StampMessages(req.Message, reply, now), now); err != nil {
		return models.ChatResponse{}, err
	}

	return models.ChatResponse{ConversationID: conv.ID, Message: reply, ChatType: conv.ChatType}, nil
}

// ProcessConversation extracts insights from the transcript, matches brands
// unless the chat type skips matching, completes the conversation and
// refreshes the user's profile tags.
func (s *Service) ProcessConversation(ctx context.Context, req models.ProcessRequest) (resp models.ProcessResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.ProcessConversation")
	defer func() { endSpan(span, err) }()

	userID := validation.SanitizeString(req.UserID)
	if err := validation.ValidateUUID(userID, "userId"); err != nil {
		return models.ProcessResponse{}, err
	}
	if err := validation.ValidateUUID(req.ConversationID, "conversationId"); err != nil {
		return models.ProcessResponse{}, err
	}

	conv, err := s.ownedConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return models.ProcessResponse{}, err
	}
	if req.ChatType != "" && req.ChatType != conv.ChatType {
		return models.ProcessResponse{}, &validation.ValidationError{Field: "chatType", Message: "does not match the conversation"}
	}
	if len(conv.Messages) == 0 {
		return models.ProcessResponse{}, &validation.ValidationError{Field: "conversationId", Message: "conversation has no messages"}
	}
	span.SetAttributes(
		attribute.String("chat_type", string(conv.ChatType)),
		attribute.String("conversation_id", conv.ID),
	)

	extraction, outcome, err := s.profiles.ExtractInsights(ctx, conv.Transcript(), conv.ChatType)
	if err != nil {
		return models.ProcessResponse{}, err
	}
	span.SetAttributes(attribute.String("extraction.outcome", string(outcome)))

	if _, err := s.db.UpdateExtraction(ctx, conv.ID, extraction, outcome, s.clock.Now()); err != nil {
		return models.ProcessResponse{}, err
	}

	appended, total := 0, len(conv.MatchedBrands)
	if !conv.ChatType.SkipsBrandMatching() {
		if appended, total, err = s.matchBrands(ctx, conv, extraction); err != nil {
			return models.ProcessResponse{}, err
		}
	}

	if err := s.db.CompleteConversation(ctx, conv.ID, s.clock.Now()); err != nil {
		return models.ProcessResponse{}, err
	}

	if err := s.refreshProfileTags(ctx, userID); err != nil {
		zap.L().Warn("Failed to refresh taste profile tags", zap.String("user_id", userID), zap.Error(err))
	}

	s.events.PublishConversationProcessed(ctx, events.ConversationProcessedData{
		UserID:         userID,
		ConversationID: conv.ID,
		ChatType:       conv.ChatType,
		ParseOutcome:   outcome,
		MatchedBrands:  appended,
		TotalMatches:   total,
	})

	return models.ProcessResponse{
		Success:            true,
		Data:               extraction,
		ParseOutcome:       outcome,
		MatchedBrandsCount: appended,
		TotalMatches:       total,
		Summary:            extraction.Summary,
	}, nil
}

// matchBrands scores the global catalog against the extraction and appends
// the matches. A provider failure is logged and yields no matches.
func (s *Service) matchBrands(ctx context.Context, conv models.Conversation, extraction models.Extraction) (int, int, error) {
	rows, err := s.db.ListMerchantBrands(ctx)
	if err != nil {
		return 0, 0, err
	}

	m := s.matcher.WithStrict(s.features.IsEnabled(features.FeatureStrictMatching))
	matches, outcome, err := m.MatchBrands(ctx, models.UserContext{
		Insights: extraction.ExtractedInsights,
		Summary:  extraction.Summary,
		ChatType: conv.ChatType,
	}, matcher.BuildCatalog(rows))
	if err != nil {
		zap.L().Warn("Brand matching failed, completing without matches",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		matches = nil
	}

	appended, total, err := s.db.AppendMatchedBrands(ctx, conv.ID, matches,
		s.features.IsEnabled(features.FeatureDedupeAcrossRuns), s.clock.Now())
	if err != nil {
		return 0, 0, err
	}
	metrics.BrandMatchesTotal.Add(float64(appended))

	zap.L().Info("Matched brands",
		zap.String("conversation_id", conv.ID),
		zap.String("parse_outcome", string(outcome)),
		zap.Int("appended", appended),
		zap.Int("total", total))

	return appended, total, nil
}

// refreshProfileTags rebuilds the tag lists from every completed conversation.
func (s *Service) refreshProfileTags(ctx context.Context, userID string) error {
	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	convs, err := s.db.ListConversations(ctx, userID, "", true, 0)
	if err != nil {
		return err
	}

	extractions := make([]models.Extraction, 0, len(convs))
	for _, c := range convs {
		if c.Extraction != nil && c.ParseOutcome != models.ParseOutcomeFallback {
			extractions = append(extractions, *c.Extraction)
		}
	}

	next := profile.BuildProfile(user.TasteProfile, extractions)
	return s.db.UpdateTasteProfile(ctx, userID, next, s.clock.Now())
}

// GetConversation returns a conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.Conversation{}, err
	}
	return s.db.GetConversation(ctx, id)
}

// AttachBrands stores the neighbors fetched for one matched brand of a conversation.
func (s *Service) AttachBrands(ctx context.Context, conversationID string, req models.AttachBrandsRequest) (models.Conversation, error) {
	if err := validation.ValidateUUID(conversationID, "id"); err != nil {
		return models.Conversation{}, err
	}
	req.BrandName = validation.SanitizeString(req.BrandName)
	if err := validation.Required(req.BrandName, "brandName"); err != nil {
		return models.Conversation{}, err
	}
	if req.AttachedBrands == nil {
		req.AttachedBrands = []models.BrandEntity{}
	}
	return s.db.SetAttachedBrands(ctx, conversationID, req.BrandName, req.AttachedBrands, s.clock.Now())
}

func (s *Service) ownedConversation(ctx context.Context, userID, conversationID string) (models.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return models.Conversation{}, &validation.ValidationError{Field: "conversationId", Message: "must be a valid UUID"}
	}
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.UserID != userID {
		return models.Conversation{}, notOwned("conversation", conversationID)
	}
	return conv, nil
}
