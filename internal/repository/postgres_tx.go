package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/heartrisk/internal/model"
)

// withUserTx はトランザクション内でrequest.jwt.claimsにユーザーIDを設定してからfnを実行する。
// 行レベルセキュリティのポリシーはこの設定値のsubを参照する。
func withUserTx(ctx context.Context, db *sql.DB, userID string, fn func(tx *sql.Tx) error) error {
	claims, err := json.Marshal(map[string]string{
		"sub":  userID,
		"role": "authenticated",
	})
	if err != nil {
		return fmt.Errorf("failed to encode claims: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", toDataError(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('request.jwt.claims', $1, true)`,
		string(claims),
	); err != nil {
		return fmt.Errorf("failed to set request claims: %w", toDataError(err))
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", toDataError(err))
	}
	return nil
}

// toDataError はPostgreSQLのエラーをデータAPIと同じ形式の*model.DataErrorに変換する。
// pq.Error以外はそのまま返す。
func toDataError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	return &model.DataError{
		Status:  statusForSQLState(string(pqErr.Code)),
		Code:    string(pqErr.Code),
		Message: pqErr.Message,
		Details: pqErr.Detail,
		Hint:    pqErr.Hint,
	}
}

// statusForSQLState はSQLSTATEをHTTPステータスに対応付ける。
func statusForSQLState(code string) int {
	switch {
	case code == "23505":
		return http.StatusConflict
	case code == "42501":
		return http.StatusForbidden
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return http.StatusBadRequest
	case code == "42P01":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// validID は予測IDがUUID形式かを判定する。
// 形式が不正なIDは存在しないIDとして扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
