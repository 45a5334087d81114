package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"updown/internal/models"
	"updown/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- trades -----------------------------------------------------------------

func (s *Store) CreateTrade(ctx context.Context, item *models.Trade) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("trade id is required")
	}
	err := s.db.WithContext(ctx).Create(item).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateTrade
	}
	return err
}

func (s *Store) GetTradeByID(ctx context.Context, id string) (*models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrNotFound
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}
	var item models.Trade
	err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyTradeFilters(s.db.WithContext(ctx).Model(&models.Trade{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Trade
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	query := s.applyTradeFilters(s.db.WithContext(ctx).Model(&models.Trade{}), params)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) applyTradeFilters(query *gorm.DB, params repository.ListTradesParams) *gorm.DB {
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListExpiredPendingTrades(ctx context.Context, before time.Time, limit int) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Trade
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("status = ?", models.TradeStatusPending).
		Where("expires_at <= ?", before).
		Order("expires_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkTradeResolved is the mutual-exclusion point for settlement: the
// conditional update only matches a pending row, so of N concurrent workers
// exactly one observes RowsAffected == 1.
func (s *Store) MarkTradeResolved(ctx context.Context, id string, status string, exitPrice, payout decimal.Decimal, settledAt time.Time) error {
	if s == nil || s.db == nil {
		return repository.ErrNotFound
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return repository.ErrNotFound
	}
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.TradeStatusPending).
		Updates(map[string]any{
			"status":     status,
			"exit_price": exitPrice,
			"payout":     payout,
			"settled_at": &settledAt,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", id).Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrAlreadyResolved
}

func (s *Store) ListResolvedTradesMissingSettlement(ctx context.Context, settledBefore time.Time, limit int) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if settledBefore.IsZero() {
		settledBefore = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 200)
	settlementTypes := []string{
		models.TransactionTypeTradeWin,
		models.TransactionTypeTradeLoss,
		models.TransactionTypeTradeVoid,
	}
	var items []models.Trade
	err := s.db.WithContext(ctx).
		Table("trades AS t").
		Select("t.*").
		Joins("LEFT JOIN transactions AS x ON x.reference_id = t.id AND x.type IN ?", settlementTypes).
		Where("t.status IN ?", []string{
			models.TradeStatusResolvedWin,
			models.TradeStatusResolvedLose,
			models.TradeStatusResolvedVoid,
		}).
		Where("t.settled_at <= ?", settledBefore).
		Where("x.id IS NULL").
		Order("t.settled_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- ledger -----------------------------------------------------------------

// ApplyLedgerDelta runs the core correctness contract: transaction insert and
// balance adjustment commit together or not at all, and a balance row is
// never observable mid-delta. Idempotency comes from the transactions table's
// unique keys, not from caller discipline.
func (s *Store) ApplyLedgerDelta(ctx context.Context, txn *models.Transaction) error {
	if s == nil || s.db == nil || txn == nil {
		return nil
	}
	if strings.TrimSpace(txn.ID) == "" || strings.TrimSpace(txn.UserID) == "" || strings.TrimSpace(txn.Asset) == "" {
		return errors.New("transaction id, user id and asset are required")
	}
	if txn.Status == "" {
		txn.Status = models.TransactionStatusCompleted
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyDeltaTx(tx, txn)
	})
}

func applyDeltaTx(tx *gorm.DB, txn *models.Transaction) error {
	if err := tx.Create(txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrDuplicateTransaction
		}
		return err
	}

	// Ensure the balance row exists so the guarded increment below has a
	// target; DoNothing keeps concurrent first-writers race-free.
	seed := &models.Balance{
		UserID:    txn.UserID,
		Asset:     txn.Asset,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "asset"}},
		DoNothing: true,
	}).Create(seed).Error; err != nil {
		return err
	}

	res := tx.Model(&models.Balance{}).
		Where("user_id = ? AND asset = ?", txn.UserID, txn.Asset).
		Where("available + ? >= 0", txn.Amount).
		Updates(map[string]any{
			"available":  gorm.Expr("available + ?", txn.Amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) PlaceTrade(ctx context.Context, trade *models.Trade, stakeTxn *models.Transaction) error {
	if s == nil || s.db == nil || trade == nil || stakeTxn == nil {
		return nil
	}
	if stakeTxn.Status == "" {
		stakeTxn.Status = models.TransactionStatusCompleted
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return repository.ErrDuplicateTrade
			}
			return err
		}
		return applyDeltaTx(tx, stakeTxn)
	})
}

func (s *Store) GetBalance(ctx context.Context, userID, asset string) (*models.Balance, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrNotFound
	}
	var item models.Balance
	err := s.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("user_id = ? AND asset = ?", strings.TrimSpace(userID), strings.TrimSpace(asset)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBalances(ctx context.Context, userID string) ([]models.Balance, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Balance
	err := s.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("asset asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Transaction{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.TrimSpace(*params.Type))
	}
	if params.ReferenceID != nil && strings.TrimSpace(*params.ReferenceID) != "" {
		query = query.Where("reference_id = ?", strings.TrimSpace(*params.ReferenceID))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Transaction
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetSettlementTransaction(ctx context.Context, tradeID string) (*models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return nil, nil
	}
	var item models.Transaction
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("reference_id = ?", tradeID).
		Where("type IN ?", []string{
			models.TransactionTypeTradeWin,
			models.TransactionTypeTradeLoss,
			models.TransactionTypeTradeVoid,
		}).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- outcome overrides ------------------------------------------------------

func (s *Store) GetOutcomeOverride(ctx context.Context, userID string) (*models.OutcomeOverride, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	var item models.OutcomeOverride
	err := s.db.WithContext(ctx).Model(&models.OutcomeOverride{}).Where("user_id = ?", userID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertOutcomeOverride(ctx context.Context, item *models.OutcomeOverride) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UserID = strings.TrimSpace(item.UserID)
	if item.UserID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mode",
			"updated_by",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- price ticks ------------------------------------------------------------

func (s *Store) InsertPriceTick(ctx context.Context, item *models.PriceTick) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	if item.Ts.IsZero() {
		item.Ts = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetPriceTickAtOrAfter(ctx context.Context, symbol string, at time.Time) (*models.PriceTick, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, nil
	}
	var item models.PriceTick
	err := s.db.WithContext(ctx).
		Model(&models.PriceTick{}).
		Where("symbol = ?", symbol).
		Where("ts >= ?", at).
		Order("ts asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPriceTicks(ctx context.Context, params repository.ListPriceTicksParams) ([]models.PriceTick, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PriceTick{})
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("ts >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.PriceTick
	if err := query.Order("ts desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeletePriceTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("ts < ?", before).
		Delete(&models.PriceTick{})
	return res.RowsAffected, res.Error
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
