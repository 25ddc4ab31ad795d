package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"dunning-service/internal/domain"

	"go.uber.org/zap"
)

var ErrTokenNotFound = errors.New("token not found")

type PersonalAccessTokenRepository struct {
	db *sql.DB
}

func NewPersonalAccessTokenRepository(db *sql.DB) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db}
}

const tokenSelect = `
	SELECT t.id, t.token, t.user_id, u.organization_id, t.abilities, t.expires_at, t.last_used_at
	FROM personal_access_tokens t
	JOIN users u ON u.id = t.user_id
`

// splitPlainToken accepts "<id>|<secret>" or a bare secret.
func splitPlainToken(plain string) (id int64, hasID bool, secret string) {
	idx := strings.IndexByte(plain, '|')
	if idx <= 0 {
		return 0, false, plain
	}
	id, err := strconv.ParseInt(plain[:idx], 10, 64)
	if err != nil {
		return 0, false, plain[idx+1:]
	}
	return id, true, plain[idx+1:]
}

func hashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// FindTokenByPlainToken looks a token up by id when the plain token carries one,
// otherwise by its sha256 digest. Expired tokens are not returned.
func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, ErrTokenNotFound
	}

	id, hasID, secret := splitPlainToken(plainToken)
	digest := hashToken(secret)
	now := time.Now()

	if hasID {
		pat, err := r.scan(r.db.QueryRowContext(ctx,
			tokenSelect+`WHERE t.id = $1 AND (t.expires_at IS NULL OR t.expires_at > $2)`,
			id, now,
		))
		switch {
		case err == nil && pat.TokenHash == digest:
			return pat, nil
		case err == nil:
			zap.L().Debug("token digest mismatch", zap.Int64("token_id", id))
			return nil, ErrTokenNotFound
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrTokenNotFound
		default:
			return nil, err
		}
	}

	pat, err := r.scan(r.db.QueryRowContext(ctx,
		tokenSelect+`WHERE t.token = $1 AND (t.expires_at IS NULL OR t.expires_at > $2)
		ORDER BY t.created_at DESC
		LIMIT 1`,
		digest, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return pat, err
}

// TouchLastUsed records that the token authenticated a request.
func (r *PersonalAccessTokenRepository) TouchLastUsed(ctx context.Context, tokenID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = $1 WHERE id = $2`,
		at, tokenID,
	)
	return err
}

func (r *PersonalAccessTokenRepository) scan(row *sql.Row) (*domain.PersonalAccessToken, error) {
	var (
		pat       domain.PersonalAccessToken
		abilities sql.NullString
	)
	if err := row.Scan(
		&pat.ID,
		&pat.TokenHash,
		&pat.UserID,
		&pat.OrganizationID,
		&abilities,
		&pat.ExpiresAt,
		&pat.LastUsedAt,
	); err != nil {
		return nil, err
	}
	pat.Abilities = parseAbilities(abilities)
	return &pat, nil
}

// parseAbilities reads the JSON array column. A NULL column grants everything,
// a malformed one grants nothing.
func parseAbilities(col sql.NullString) []string {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return []string{domain.AbilityAll}
	}
	var out []string
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		zap.L().Warn("malformed token abilities", zap.Error(err))
		return nil
	}
	return out
}
