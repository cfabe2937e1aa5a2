package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalbet/internal/models"
	"signalbet/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("db not configured")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- messages & channels ----------------------------------------------------

func (s *Store) ListActiveChannelMessages(ctx context.Context, limit int) ([]models.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var items []models.Message
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN telegram_channels ON telegram_channels.id = telegram_messages.channel_id").
		Where("telegram_channels.active = ?", true).
		Where("telegram_messages.action_taken = ?", false).
		Order("telegram_messages.timestamp asc").
		Order("telegram_messages.id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND action_taken = ?", id, false).
		Update("action_taken", true).Error
}

func (s *Store) InsertMessagesIfAbsent(ctx context.Context, items []models.Message) (int64, error) {
	if s == nil || s.db == nil || len(items) == 0 {
		return 0, nil
	}
	for i := range items {
		items[i].Timestamp = items[i].Timestamp.UTC()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&items)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *Store) messageQuery(ctx context.Context, params repository.ListMessagesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Message{})
	if params.ChannelID != nil && strings.TrimSpace(*params.ChannelID) != "" {
		query = query.Where("channel_id = ?", strings.TrimSpace(*params.ChannelID))
	}
	if params.HasAction != nil {
		query = query.Where("has_action = ?", *params.HasAction)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("timestamp >= ?", params.Since.UTC())
	}
	return query
}

func (s *Store) ListMessages(ctx context.Context, params repository.ListMessagesParams) ([]models.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.messageQuery(ctx, params), params.OrderBy, params.Asc, "timestamp")
	var items []models.Message
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountMessages(ctx context.Context, params repository.ListMessagesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.messageQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// UpsertChannel refreshes descriptive fields but keeps the user's active flag.
func (s *Store) UpsertChannel(ctx context.Context, item *models.Channel) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "username", "type", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Channel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]models.Channel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Channel
	if err := s.db.WithContext(ctx).Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetChannelActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", strings.TrimSpace(id)).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) BumpChannelMessages(ctx context.Context, id string, n int64, at time.Time) error {
	if s == nil || s.db == nil || n <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Channel{}).
		Where("id = ?", strings.TrimSpace(id)).
		Updates(map[string]any{
			"messages_count":  gorm.Expr("messages_count + ?", n),
			"last_message_at": at.UTC(),
		}).Error
}

// --- rules ------------------------------------------------------------------

func (s *Store) ListRules(ctx context.Context, userID string) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Rule
	err := s.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("position asc").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetRule(ctx context.Context, id uint64) (*models.Rule, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Rule
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteRule(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&models.Rule{}, id).Error
}

// --- ledger -----------------------------------------------------------------

func (s *Store) AppendBetAttempt(ctx context.Context, item *models.BetAttempt) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Outcome == "" {
		item.Outcome = models.OutcomePending
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBetAttempt(ctx context.Context, id uint64) (*models.BetAttempt, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.BetAttempt
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateOutcome(ctx context.Context, id uint64, outcome models.Outcome, profit decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	if !outcome.Terminal() {
		return errors.New("outcome must be win or loss")
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.BetAttempt{}).
		Where("id = ? AND outcome = ?", id, models.OutcomePending).
		Updates(map[string]any{
			"outcome":     outcome,
			"profit":      profit,
			"resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrOutcomeFinal
	}
	return nil
}

func (s *Store) ListPendingBetAttempts(ctx context.Context, userID string) ([]models.BetAttempt, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.BetAttempt
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND outcome = ?", strings.TrimSpace(userID), models.OutcomePending).
		Order("created_at asc").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) HasBetForMessage(ctx context.Context, messageID string) (bool, error) {
	if s == nil || s.db == nil || strings.TrimSpace(messageID) == "" {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.BetAttempt{}).
		Where("message_id = ?", strings.TrimSpace(messageID)).
		Limit(1).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SumStakesSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var sum decimal.NullDecimal
	row := s.db.WithContext(ctx).Model(&models.BetAttempt{}).
		Select("SUM(amount)").
		Where("user_id = ? AND created_at >= ?", strings.TrimSpace(userID), since.UTC()).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (s *Store) FlagForReview(ctx context.Context, id uint64, reason string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.BetAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{"needs_review": true, "review_reason": reason}).Error
}

func (s *Store) FlagStalePending(ctx context.Context, before time.Time, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.BetAttempt{}).
		Where("outcome = ? AND needs_review = ? AND created_at < ?", models.OutcomePending, false, before.UTC()).
		Updates(map[string]any{"needs_review": true, "review_reason": reason})
	return res.RowsAffected, res.Error
}

func (s *Store) betQuery(ctx context.Context, params repository.ListBetAttemptsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.BetAttempt{})
	if strings.TrimSpace(params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(params.UserID))
	}
	if params.RuleID != nil {
		query = query.Where("rule_id = ?", *params.RuleID)
	}
	if params.Outcome != nil && *params.Outcome != "" {
		query = query.Where("outcome = ?", *params.Outcome)
	}
	if params.NeedsReview != nil {
		query = query.Where("needs_review = ?", *params.NeedsReview)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	return query
}

func (s *Store) ListBetAttempts(ctx context.Context, params repository.ListBetAttemptsParams) ([]models.BetAttempt, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.betQuery(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.BetAttempt
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountBetAttempts(ctx context.Context, params repository.ListBetAttemptsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.betQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

type outcomeRow struct {
	Outcome models.Outcome
	Count   int64
	Staked  decimal.NullDecimal
	Profit  decimal.NullDecimal
}

func (s *Store) BetStats(ctx context.Context, userID string, since *time.Time) (repository.BetStats, error) {
	out := repository.BetStats{Staked: decimal.Zero, Profit: decimal.Zero}
	if s == nil || s.db == nil {
		return out, nil
	}
	base := repository.ListBetAttemptsParams{UserID: userID, Since: since}
	var rows []outcomeRow
	err := s.betQuery(ctx, base).
		Select("outcome, COUNT(*) AS count, SUM(amount) AS staked, SUM(profit) AS profit").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return out, err
	}
	for _, r := range rows {
		out.Total += r.Count
		if r.Staked.Valid {
			out.Staked = out.Staked.Add(r.Staked.Decimal)
		}
		if r.Profit.Valid {
			out.Profit = out.Profit.Add(r.Profit.Decimal)
		}
		switch r.Outcome {
		case models.OutcomePending:
			out.Pending = r.Count
		case models.OutcomeWin:
			out.Wins = r.Count
		case models.OutcomeLoss:
			out.Losses = r.Count
		}
	}
	review := true
	base.NeedsReview = &review
	if err := s.betQuery(ctx, base).Count(&out.NeedsReview).Error; err != nil {
		return out, err
	}
	if settled := out.Wins + out.Losses; settled > 0 {
		out.WinRate = float64(out.Wins) / float64(settled)
	}
	return out, nil
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
	if err == gorm.ErrRecordNotFound {
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
		pattern := strings.TrimSpace(*params.Prefix) + "%"
		query = query.Where("key LIKE ?", pattern)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 500)
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

var _ repository.Repository = (*Store)(nil)
