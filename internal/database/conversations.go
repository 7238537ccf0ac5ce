package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/google/uuid"
)

const conversationColumns = `id, user_id, chat_type, title, messages, extraction,
	parse_outcome, matched_brands, is_completed, created_at, updated_at`

// CreateConversation inserts an empty, not completed conversation.
func (db *DB) CreateConversation(ctx context.Context, userID string, chatType models.ChatType, title string, now time.Time) (models.Conversation, error) {
	conv := models.Conversation{
		ID:            uuid.New().String(),
		UserID:        userID,
		ChatType:      chatType,
		Title:         title,
		Messages:      []models.Message{},
		MatchedBrands: []models.MatchedBrand{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := db.conn.ExecContext(ctx, `INSERT INTO conversations (
		id, user_id, chat_type, title, messages, matched_brands, is_completed, created_at, updated_at
	) VALUES (?, ?, ?, ?, '[]', '[]', 0, ?, ?)`,
		conv.ID, conv.UserID, string(conv.ChatType), conv.Title, formatTime(now), formatTime(now))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to insert conversation: %w", err)
	}

	return conv, nil
}

// GetConversation returns the conversation with the given id.
func (db *DB) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	return scanConversation(db.conn.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
}

// ListConversations returns a user's conversations, newest first. A non-empty
// chatType narrows the result; completedOnly drops conversations still in progress.
// limit <= 0 means no limit.
func (db *DB) ListConversations(ctx context.Context, userID string, chatType models.ChatType, completedOnly bool, limit int) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ?`
	args := []interface{}{userID}

	if chatType != "" {
		query += ` AND chat_type = ?`
		args = append(args, string(chatType))
	}
	if completedOnly {
		query += ` AND is_completed = 1`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// AppendMessages appends to the conversation's message history.
func (db *DB) AppendMessages(ctx context.Context, id string, messages []models.Message, now time.Time) (models.Conversation, error) {
	return db.mutateConversation(ctx, id, now, func(conv *models.Conversation) error {
		conv.Messages = append(conv.Messages, messages...)
		return nil
	})
}

// UpdateExtraction stores the extraction result without completing the conversation.
func (db *DB) UpdateExtraction(ctx context.Context, id string, extraction models.Extraction, outcome models.ParseOutcome, now time.Time) (models.Conversation, error) {
	return db.mutateConversation(ctx, id, now, func(conv *models.Conversation) error {
		conv.Extraction = &extraction
		conv.ParseOutcome = outcome
		return nil
	})
}

// AppendMatchedBrands appends matches to the conversation and returns the
// number appended and the new running total. When skipExisting is set, matches
// whose entity id is already on the conversation are dropped.
func (db *DB) AppendMatchedBrands(ctx context.Context, id string, matches []models.MatchedBrand, skipExisting bool, now time.Time) (appended int, total int, err error) {
	conv, err := db.mutateConversation(ctx, id, now, func(conv *models.Conversation) error {
		existing := make(map[string]bool, len(conv.MatchedBrands))
		if skipExisting {
			for _, m := range conv.MatchedBrands {
				existing[m.EntityID] = true
			}
		}
		for _, m := range matches {
			if existing[m.EntityID] {
				continue
			}
			conv.MatchedBrands = append(conv.MatchedBrands, m)
			appended++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return appended, len(conv.MatchedBrands), nil
}

// SetAttachedBrands stores the neighbors of the matched brand named brandName.
func (db *DB) SetAttachedBrands(ctx context.Context, id, brandName string, attached []models.BrandEntity, now time.Time) (models.Conversation, error) {
	return db.mutateConversation(ctx, id, now, func(conv *models.Conversation) error {
		found := false
		for i := range conv.MatchedBrands {
			if conv.MatchedBrands[i].Name == brandName {
				fetchedAt := now
				conv.MatchedBrands[i].AttachedBrands = attached
				conv.MatchedBrands[i].AttachedBrandsFetchedAt = &fetchedAt
				found = true
			}
		}
		if !found {
			return fmt.Errorf("matched brand %q: %w", brandName, apperrors.ErrNotFound)
		}
		return nil
	})
}

// CompleteConversation marks the conversation terminal.
func (db *DB) CompleteConversation(ctx context.Context, id string, now time.Time) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE conversations SET is_completed = 1, updated_at = ? WHERE id = ?`,
		formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to complete conversation: %w", err)
	}
	return requireRow(res, "conversation", id)
}

// mutateConversation runs a read-modify-write of one conversation document
// inside a single transaction.
func (db *DB) mutateConversation(ctx context.Context, id string, now time.Time, mutate func(*models.Conversation) error) (models.Conversation, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err != nil {
		return models.Conversation{}, err
	}

	if err := mutate(&conv); err != nil {
		return models.Conversation{}, err
	}
	conv.UpdatedAt = now

	messagesJSON, err := encodeJSON(conv.Messages)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to encode messages: %w", err)
	}
	matchedJSON, err := encodeJSON(conv.MatchedBrands)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to encode matched brands: %w", err)
	}
	var extraction sql.NullString
	if conv.Extraction != nil {
		data, err := encodeJSON(conv.Extraction)
		if err != nil {
			return models.Conversation{}, fmt.Errorf("failed to encode extraction: %w", err)
		}
		extraction = sql.NullString{String: data, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET
		messages = ?, extraction = ?, parse_outcome = ?, matched_brands = ?, updated_at = ?
		WHERE id = ?`,
		messagesJSON, extraction, string(conv.ParseOutcome), matchedJSON, formatTime(now), id)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return conv, nil
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var (
		conv                              models.Conversation
		chatType, messagesJSON, matchJSON string
		outcome                           string
		extraction                        sql.NullString
		completed                         bool
		createdAtStr, updatedAtStr        string
	)

	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&chatType,
		&conv.Title,
		&messagesJSON,
		&extraction,
		&outcome,
		&matchJSON,
		&completed,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("conversation: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to scan conversation: %w", err)
	}

	conv.ChatType = models.ChatType(chatType)
	conv.ParseOutcome = models.ParseOutcome(outcome)
	conv.IsCompleted = completed

	conv.Messages = []models.Message{}
	if err := decodeJSON(messagesJSON, &conv.Messages); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to decode messages: %w", err)
	}
	conv.MatchedBrands = []models.MatchedBrand{}
	if err := decodeJSON(matchJSON, &conv.MatchedBrands); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to decode matched brands: %w", err)
	}
	if extraction.Valid && extraction.String != "" {
		var e models.Extraction
		if err := decodeJSON(extraction.String, &e); err != nil {
			return models.Conversation{}, fmt.Errorf("failed to decode extraction: %w", err)
		}
		conv.Extraction = &e
	}

	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return conv, nil
}
