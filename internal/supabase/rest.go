package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/heartrisk/internal/backend"
)

// REST はデータAPI（/rest/v1）のテーブル操作を提供する。
// リクエストにはTokenSourceから取得したユーザーのアクセストークンを付与し、
// 行レベルセキュリティを適用させる。
type REST struct {
	client *Client
	tokens backend.TokenSource
}

// NewREST はRESTを生成する。
func NewREST(client *Client, tokens backend.TokenSource) *REST {
	return &REST{client: client, tokens: tokens}
}

// Eq は等価フィルターの値を組み立てる。
func Eq(v string) string {
	return "eq." + v
}

// Filter はカラム名と値の等価条件からクエリを組み立てる。
func Filter(pairs ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Set(pairs[i], Eq(pairs[i+1]))
	}
	return q
}

// selectPageSize はSelectが1リクエストで取得する行数。
// サーバー側のmax-rows（既定1000）を超えないこと。
const selectPageSize = 1000

// Select は条件に一致する全行を取得しoutにデコードする。orderは "created_at.desc" の形式。
// 行はlimit/offsetでページ単位に取得する。ページ間で順序が変わらないよう、
// orderには一意なカラムを含めること。
func (r *REST) Select(ctx context.Context, table string, filter url.Values, order string, out any) error {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	rows := []json.RawMessage{}
	for offset := 0; ; offset += selectPageSize {
		q := cloneValues(filter)
		q.Set("select", "*")
		if order != "" {
			q.Set("order", order)
		}
		q.Set("limit", strconv.Itoa(selectPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page []json.RawMessage
		err := r.client.do(ctx, request{
			api:    apiREST,
			method: http.MethodGet,
			path:   "/rest/v1/" + table,
			query:  q,
			token:  token,
			out:    &page,
		})
		if err != nil {
			return err
		}
		rows = append(rows, page...)
		if len(page) < selectPageSize {
			break
		}
	}

	buf, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to merge %s rows: %w", table, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return nil
}

// Insert は1行を挿入し、サーバーが採番した値を含む行をoutにデコードする。
func (r *REST) Insert(ctx context.Context, table string, row any, out any) error {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	return r.client.do(ctx, request{
		api:    apiREST,
		method: http.MethodPost,
		path:   "/rest/v1/" + table,
		query:  url.Values{"select": {"*"}},
		token:  token,
		prefer: "return=representation",
		body:   row,
		out:    out,
	})
}

// Upsert はonConflictのカラムをキーに1行を作成または更新する。
// rowに含まれないカラムは既存の値を維持する。
func (r *REST) Upsert(ctx context.Context, table, onConflict string, row any) error {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	return r.client.do(ctx, request{
		api:    apiREST,
		method: http.MethodPost,
		path:   "/rest/v1/" + table,
		query:  url.Values{"on_conflict": {onConflict}},
		token:  token,
		prefer: "resolution=merge-duplicates,return=minimal",
		body:   row,
	})
}

// Delete は条件に一致する行を削除し、削除された行をoutにデコードする。
// 条件のない削除はデータAPI側で拒否されるため、filterは必須。
func (r *REST) Delete(ctx context.Context, table string, filter url.Values, out any) error {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	req := request{
		api:     apiREST,
		method:  http.MethodDelete,
		path:    "/rest/v1/" + table,
		query:   cloneValues(filter),
		token:   token,
		prefer:  "return=minimal",
		emptyOK: true,
	}
	if out != nil {
		req.prefer = "return=representation"
		req.out = out
	}
	return r.client.do(ctx, req)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
