package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/jackc/pgx/v5"
)

const shopColumns = `id, name, type_id, images, area, address, x, y, avg_price, sold, comments, score, open_hours, created_at, updated_at`

// GetShop loads a shop by id. A missing shop is reported as (nil, nil).
func (s *PostgresStore) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	var sh domain.Shop
	err := s.pool.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id).Scan(
		&sh.ID, &sh.Name, &sh.TypeID, &sh.Images, &sh.Area, &sh.Address, &sh.X, &sh.Y,
		&sh.AvgPrice, &sh.Sold, &sh.Comments, &sh.Score, &sh.OpenHours, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shop: %w", err)
	}
	return &sh, nil
}

// SaveShop inserts or replaces a shop row.
func (s *PostgresStore) SaveShop(ctx context.Context, sh *domain.Shop) error {
	now := time.Now()
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = now
	}
	sh.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO shops (`+shopColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type_id = EXCLUDED.type_id,
			images = EXCLUDED.images,
			area = EXCLUDED.area,
			address = EXCLUDED.address,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			avg_price = EXCLUDED.avg_price,
			sold = EXCLUDED.sold,
			comments = EXCLUDED.comments,
			score = EXCLUDED.score,
			open_hours = EXCLUDED.open_hours,
			updated_at = EXCLUDED.updated_at
	`, sh.ID, sh.Name, sh.TypeID, sh.Images, sh.Area, sh.Address, sh.X, sh.Y,
		sh.AvgPrice, sh.Sold, sh.Comments, sh.Score, sh.OpenHours, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save shop: %w", err)
	}
	return nil
}

// UpdateShop overwrites the mutable fields of an existing shop.
func (s *PostgresStore) UpdateShop(ctx context.Context, sh *domain.Shop) error {
	sh.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE shops SET
			name = $2, type_id = $3, images = $4, area = $5, address = $6, x = $7, y = $8,
			avg_price = $9, sold = $10, comments = $11, score = $12, open_hours = $13, updated_at = $14
		WHERE id = $1
	`, sh.ID, sh.Name, sh.TypeID, sh.Images, sh.Area, sh.Address, sh.X, sh.Y,
		sh.AvgPrice, sh.Sold, sh.Comments, sh.Score, sh.OpenHours, sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("shop %d: %w", sh.ID, ErrNotFound)
	}
	return nil
}
