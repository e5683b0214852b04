package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"farmconnect/internal/models"
	"farmconnect/internal/storage"
)

// Store persists conversations and their messages.
type Store struct {
	db     *storage.DB
	bus    *Bus
	cache  *UnreadCache
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

// WithUnreadCache enables the redis read-through cache for unread counts.
func WithUnreadCache(c *UnreadCache) Option {
	return func(s *Store) { s.cache = c }
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *storage.DB, bus *Bus, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		bus:    bus,
		now:    func() time.Time { return time.Now() },
		logger: logger.With("component", "messaging"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

const conversationColumns = `
	c.id, c.created_at, c.updated_at,
	b.id, b.username, b.role, b.created_at,
	f.id, f.username, f.role, f.created_at,
	p.id, p.farmer_id, p.name, p.description, p.price_cents, p.quantity_available, p.created_at
FROM conversations c
JOIN users b ON b.id = c.buyer_id
JOIN users f ON f.id = c.farmer_id
LEFT JOIN products p ON p.id = c.product_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv                    models.Conversation
		buyerRole, farmerRole   string
		productID, productOwner sql.NullInt64
		productName, productDes sql.NullString
		productPrice, productQt sql.NullInt64
		productCreated          sql.NullTime
	)
	err := row.Scan(
		&conv.ID, &conv.CreatedAt, &conv.UpdatedAt,
		&conv.Buyer.ID, &conv.Buyer.Username, &buyerRole, &conv.Buyer.CreatedAt,
		&conv.Farmer.ID, &conv.Farmer.Username, &farmerRole, &conv.Farmer.CreatedAt,
		&productID, &productOwner, &productName, &productDes, &productPrice, &productQt, &productCreated,
	)
	if err != nil {
		return nil, err
	}
	conv.Buyer.Role = models.Role(buyerRole)
	conv.Farmer.Role = models.Role(farmerRole)
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	if productID.Valid {
		conv.Product = &models.Product{
			ID:                productID.Int64,
			FarmerID:          productOwner.Int64,
			Name:              productName.String,
			Description:       productDes.String,
			PriceCents:        productPrice.Int64,
			QuantityAvailable: productQt.Int64,
			CreatedAt:         productCreated.Time.UTC(),
		}
	}
	return &conv, nil
}

// Get loads a conversation with its participants and product.
func (s *Store) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` WHERE c.id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundf("conversation %d not found", id)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) findByTriple(ctx context.Context, buyerID, farmerID, productKey int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` WHERE c.buyer_id = ? AND c.farmer_id = ? AND c.product_key = ?`,
		buyerID, farmerID, productKey,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundf("conversation not found")
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

// GetOrCreate returns the conversation for (buyer, farmer, product), creating
// it when missing. created reports whether this call inserted the row.
func (s *Store) GetOrCreate(ctx context.Context, buyer, farmer models.User, product *models.Product) (*models.Conversation, bool, error) {
	candidate := &models.Conversation{Buyer: buyer, Farmer: farmer, Product: product}
	productKey := candidate.ProductKey()
	var productID any
	if product != nil {
		productID = product.ID
	}

	conv, err := s.findByTriple(ctx, buyer.ID, farmer.ID, productKey)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if err := validatePairing(buyer, farmer, product); err != nil {
		return nil, false, err
	}

	now := s.timestamp()
	id, err := s.db.InsertID(ctx, s.db,
		`INSERT INTO conversations (buyer_id, farmer_id, product_id, product_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		buyer.ID, farmer.ID, productID, productKey, now, now,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			// lost the race; the winner's row is the conversation
			conv, err := s.findByTriple(ctx, buyer.ID, farmer.ID, productKey)
			if err != nil {
				return nil, false, err
			}
			return conv, false, nil
		}
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	s.logger.Info("conversation created", "conversation_id", id, "buyer_id", buyer.ID, "farmer_id", farmer.ID)
	candidate.ID = id
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	return candidate, true, nil
}

func validatePairing(buyer, farmer models.User, product *models.Product) error {
	if buyer.Role != models.RoleBuyer {
		return validationf("user %s is not a buyer", buyer.Username)
	}
	if farmer.Role != models.RoleFarmer {
		return validationf("user %s is not a farmer", farmer.Username)
	}
	if buyer.ID == farmer.ID {
		return validationf("You cannot message yourself.")
	}
	if product != nil && product.FarmerID != farmer.ID {
		return validationf("product %d does not belong to farmer %s", product.ID, farmer.Username)
	}
	return nil
}

// Touch records activity on the conversation.
func (s *Store) Touch(ctx context.Context, conv *models.Conversation) error {
	now := s.timestamp()
	if err := touch(ctx, s.db, conv.ID, now); err != nil {
		return err
	}
	conv.UpdatedAt = now
	return nil
}

func touch(ctx context.Context, q storage.Querier, conversationID int64, at time.Time) error {
	res, err := q.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFoundf("conversation %d not found", conversationID)
	}
	return nil
}

// ListForUser returns the user's conversations, most recently active first.
// Buyers see the conversations they started, farmers the ones addressed to them.
func (s *Store) ListForUser(ctx context.Context, user models.User, limit, offset int) ([]models.ConversationSummary, error) {
	var column string
	switch user.Role {
	case models.RoleBuyer:
		column = "c.buyer_id"
	case models.RoleFarmer:
		column = "c.farmer_id"
	default:
		return nil, validationf("unknown role %q", user.Role)
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` WHERE `+column+` = ? ORDER BY c.updated_at DESC, c.id DESC LIMIT ? OFFSET ?`,
		user.ID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		other, _ := conv.OtherParticipant(user.ID)
		last, err := s.LastMessage(ctx, conv)
		if err != nil {
			return nil, err
		}
		unread, err := s.UnreadCount(ctx, conv, user.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.ConversationSummary{
			Conversation:     *conv,
			OtherParticipant: other,
			LastMessage:      last,
			UnreadCount:      unread,
		})
	}
	return summaries, nil
}

// UnreadCount counts unread messages of the conversation not sent by userID.
// Automated replies count like any other message.
func (s *Store) UnreadCount(ctx context.Context, conv *models.Conversation, userID int64) (int, error) {
	if n, ok := s.cache.get(ctx, conv.ID, userID); ok {
		return n, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_id <> ? AND is_read = ?`,
		conv.ID, userID, false,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	s.cache.set(ctx, conv.ID, userID, n)
	return n, nil
}
