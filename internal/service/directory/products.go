package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
)

// ProductInput carries the fields a farmer supplies for a listing.
type ProductInput struct {
	Name              string
	Description       string
	PriceCents        int64
	QuantityAvailable int64
}

const productColumns = `id, farmer_id, name, description, price_cents, quantity_available, created_at`

// CreateProduct lists a product for the farmer.
func (s *Service) CreateProduct(ctx context.Context, farmer models.User, in ProductInput) (*models.Product, error) {
	if err := s.guard.AuthorizeRole(farmer, models.RoleFarmer); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if in.PriceCents < 0 || in.QuantityAvailable < 0 {
		return nil, fmt.Errorf("%w: price and quantity must not be negative", ErrInvalidInput)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	id, err := s.db.InsertID(ctx, s.db,
		`INSERT INTO products (farmer_id, name, description, price_cents, quantity_available, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		farmer.ID, in.Name, in.Description, in.PriceCents, in.QuantityAvailable, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &models.Product{
		ID:                id,
		FarmerID:          farmer.ID,
		Name:              in.Name,
		Description:       in.Description,
		PriceCents:        in.PriceCents,
		QuantityAvailable: in.QuantityAvailable,
		CreatedAt:         now,
	}, nil
}

// GetProduct loads a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, messaging.NotFoundf("Product not found.")
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

// ListProducts returns the catalog newest first, optionally for one farmer.
func (s *Service) ListProducts(ctx context.Context, farmerID int64) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if farmerID > 0 {
		query += ` WHERE farmer_id = ?`
		args = append(args, farmerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Description, &p.PriceCents, &p.QuantityAvailable, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
