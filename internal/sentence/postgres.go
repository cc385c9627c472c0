package sentence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 小資料表上 BERNOULLI 抽樣常常不夠數，不足時改用全表掃描
const (
	sampleQuery = `
SELECT text
FROM sentences TABLESAMPLE BERNOULLI(10)
WHERE is_active = TRUE
  AND language = 'en'
  AND contains_emoji = FALSE
  AND word_count BETWEEN 5 AND 10
ORDER BY RANDOM()
LIMIT $1`

	fullScanQuery = `
SELECT text
FROM sentences
WHERE is_active = TRUE
  AND language = 'en'
  AND contains_emoji = FALSE
  AND word_count BETWEEN 5 AND 10
ORDER BY RANDOM()
LIMIT $1`

	statsQuery = `
SELECT COUNT(*),
       COALESCE(AVG(word_count), 0)::int,
       COALESCE(AVG(char_count), 0)::int
FROM sentences
WHERE is_active = TRUE`
)

// PoolStats 題庫統計
type PoolStats struct {
	Total    int64 `json:"total"`
	AvgWords int32 `json:"avgWords"`
	AvgChars int32 `json:"avgChars"`
}

// Postgres 從 sentences 資料表抽取題目
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres 建立 PostgreSQL 題庫
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With("component", "sentence"),
	}
}

// Sentences 隨機抽取 n 句，抽樣不足時退回全表查詢
func (p *Postgres) Sentences(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sentence count must be positive, got %d", n)
	}

	out, err := p.query(ctx, sampleQuery, n)
	if err != nil {
		return nil, err
	}
	if len(out) >= n {
		return out[:n], nil
	}

	p.logger.Debug("sample too small, using full scan", "need", n, "sampled", len(out))
	out, err = p.query(ctx, fullScanQuery, n)
	if err != nil {
		return nil, err
	}
	if len(out) < n {
		return nil, &InsufficientError{Need: n, Have: len(out)}
	}
	return out[:n], nil
}

// query 執行查詢並丟棄不合格的句子
func (p *Postgres) query(ctx context.Context, sql string, n int) ([]string, error) {
	rows, err := p.pool.Query(ctx, sql, n)
	if err != nil {
		return nil, fmt.Errorf("select sentences: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan sentences: %w", err)
	}

	valid := texts[:0]
	for _, t := range texts {
		if err := Validate(t); err != nil {
			p.logger.Warn("skipping invalid sentence", "text", t, "error", err)
			continue
		}
		valid = append(valid, t)
	}
	return valid, nil
}

// Stats 回傳啟用中句子的統計
func (p *Postgres) Stats(ctx context.Context) (PoolStats, error) {
	var s PoolStats
	if err := p.pool.QueryRow(ctx, statsQuery).Scan(&s.Total, &s.AvgWords, &s.AvgChars); err != nil {
		return PoolStats{}, fmt.Errorf("sentence stats: %w", err)
	}
	return s, nil
}

// Ping 檢查資料庫連線
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
