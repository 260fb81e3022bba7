package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lease-ledger/internal/domain"

	"go.uber.org/zap"
)

type PersonalAccessTokenRepository struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPersonalAccessTokenRepository(db *sql.DB, log *zap.Logger) *PersonalAccessTokenRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &PersonalAccessTokenRepository{db: db, log: log}
}

// tokenHash is the stored form of a plain token: the sha256 hex of the part
// after "<id>|", or of the whole token when there is no id prefix.
func tokenHash(plainToken string) string {
	plainToken = strings.TrimSpace(plainToken)
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		plainToken = plainToken[idx+1:]
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(plainToken)))
}

// FindTokenByPlainToken accepts "<id>|<secret>" or a bare secret. Stored
// tokens are sha256 hex digests of the secret.
func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	var tokenID *int64
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		if id, err := strconv.ParseInt(plainToken[:idx], 10, 64); err == nil {
			tokenID = &id
		} else {
			r.log.Debug("token id prefix is not numeric", zap.Error(err))
		}
	}

	hash := tokenHash(plainToken)
	now := time.Now()

	var pat domain.PersonalAccessToken
	if tokenID != nil {
		err := r.db.QueryRowContext(ctx, `
			SELECT id, token, tokenable_id, abilities, expires_at
			FROM personal_access_tokens
			WHERE id = $1
			  AND (expires_at IS NULL OR expires_at > $2)`,
			*tokenID, now,
		).Scan(&pat.ID, &pat.TokenHash, &pat.UserID, &pat.Abilities, &pat.ExpiresAt)
		switch {
		case err == nil && pat.TokenHash == hash:
			return &pat, nil
		case err == nil:
			r.log.Debug("token hash mismatch", zap.Int64("token_id", pat.ID))
		case !errors.Is(err, sql.ErrNoRows):
			r.log.Warn("token lookup by id failed", zap.Int64("token_id", *tokenID), zap.Error(err))
		}
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, token, tokenable_id, abilities, expires_at
		FROM personal_access_tokens
		WHERE token = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC
		LIMIT 1`,
		hash, now,
	).Scan(&pat.ID, &pat.TokenHash, &pat.UserID, &pat.Abilities, &pat.ExpiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.log.Warn("token lookup by hash failed", zap.Error(err))
		}
		return nil, errors.New("token not found")
	}
	return &pat, nil
}
