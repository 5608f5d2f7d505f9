package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
	"github.com/motorcart-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PromotionContext 促销规则计算上下文
type PromotionContext struct {
	Subtotal decimal.Decimal
	Lines    []PriceLine
	At       time.Time
}

// PromotionRule 促销规则
type PromotionRule interface {
	Code() string
	AppliesTo(vehicleID uint) bool
	Discount(ctx PromotionContext) (decimal.Decimal, error)
}

// PromotionRuleBuilder 根据优惠码配置构建规则
type PromotionRuleBuilder func(code *models.PromotionalCode) (PromotionRule, error)

// PromotionRegistry 规则类型注册表
type PromotionRegistry struct {
	db       *gorm.DB
	repo     repository.PromotionalCodeRepository
	builders map[string]PromotionRuleBuilder
}

// NewPromotionRegistry 创建注册表并注册内置规则
func NewPromotionRegistry(db *gorm.DB, repo repository.PromotionalCodeRepository) *PromotionRegistry {
	r := &PromotionRegistry{
		db:       db,
		repo:     repo,
		builders: map[string]PromotionRuleBuilder{},
	}
	r.Register(constants.PromoRulePercentage, buildPercentageRule)
	r.Register(constants.PromoRuleFlat, buildFlatRule)
	return r
}

// Register 注册规则类型，重复注册覆盖
func (r *PromotionRegistry) Register(ruleType string, builder PromotionRuleBuilder) {
	key := strings.ToLower(strings.TrimSpace(ruleType))
	if key == "" || builder == nil {
		return
	}
	r.builders[key] = builder
}

// Build 由优惠码配置构建规则（不查库）
func (r *PromotionRegistry) Build(code *models.PromotionalCode) (PromotionRule, error) {
	if code == nil {
		return nil, fmt.Errorf("%w: unknown code", ErrInvalidPromotionalCode)
	}
	builder, ok := r.builders[strings.ToLower(strings.TrimSpace(code.RuleType))]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidPromotionalCode, ErrPromotionRuleUnknown, code.RuleType)
	}
	return builder(code)
}

// Resolve 加载优惠码并构建规则，校验启用状态与使用次数
func (r *PromotionRegistry) Resolve(ctx context.Context, code string) (PromotionRule, *models.PromotionalCode, error) {
	return r.resolveWith(r.repo.WithTx(r.db.WithContext(ctx)), code)
}

func (r *PromotionRegistry) resolveInTx(tx *gorm.DB, code string) (PromotionRule, *models.PromotionalCode, error) {
	return r.resolveWith(r.repo.WithTx(tx), code)
}

func (r *PromotionRegistry) resolveWith(repo repository.PromotionalCodeRepository, code string) (PromotionRule, *models.PromotionalCode, error) {
	normalized := models.NormalizePromoCode(code)
	if normalized == "" {
		return nil, nil, fmt.Errorf("%w: empty code", ErrInvalidPromotionalCode)
	}
	promo, err := repo.GetByCode(normalized)
	if err != nil {
		return nil, nil, err
	}
	if promo == nil {
		return nil, nil, fmt.Errorf("%w: unknown code %s", ErrInvalidPromotionalCode, normalized)
	}
	if !promo.IsActive {
		return nil, promo, fmt.Errorf("%w: code %s is inactive", ErrInvalidPromotionalCode, normalized)
	}
	if promo.UsageLimit > 0 && promo.UsedCount >= promo.UsageLimit {
		return nil, promo, fmt.Errorf("%w: code %s usage exhausted", ErrInvalidPromotionalCode, normalized)
	}
	rule, err := r.Build(promo)
	if err != nil {
		return nil, promo, err
	}
	return rule, promo, nil
}

// baseRule 公共约束：生效窗口、最低小计、车型范围、封顶
type baseRule struct {
	code        string
	minSubtotal decimal.Decimal
	maxDiscount *decimal.Decimal
	vehicleIDs  models.UintArray
	startsAt    *time.Time
	endsAt      *time.Time
}

func newBaseRule(code *models.PromotionalCode) baseRule {
	rule := baseRule{
		code:        code.Code,
		minSubtotal: code.MinSubtotal.Decimal,
		vehicleIDs:  code.VehicleIDs,
		startsAt:    code.StartsAt,
		endsAt:      code.EndsAt,
	}
	if code.MaxDiscount != nil && code.MaxDiscount.Decimal.IsPositive() {
		capped := code.MaxDiscount.Decimal
		rule.maxDiscount = &capped
	}
	return rule
}

func (b baseRule) Code() string { return b.code }

func (b baseRule) AppliesTo(vehicleID uint) bool {
	return len(b.vehicleIDs) == 0 || b.vehicleIDs.Contains(vehicleID)
}

// eligibleSubtotal 校验约束并返回适用行小计
func (b baseRule) eligibleSubtotal(ctx PromotionContext) (decimal.Decimal, error) {
	if b.startsAt != nil && ctx.At.Before(*b.startsAt) {
		return decimal.Zero, fmt.Errorf("%w: code %s not started", ErrInvalidPromotionalCode, b.code)
	}
	if b.endsAt != nil && ctx.At.After(*b.endsAt) {
		return decimal.Zero, fmt.Errorf("%w: code %s expired", ErrInvalidPromotionalCode, b.code)
	}
	eligible := decimal.Zero
	for _, line := range ctx.Lines {
		if !b.AppliesTo(line.VehicleID) {
			continue
		}
		eligible = eligible.Add(models.RoundMoney(models.RoundMoney(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity)))))
	}
	if eligible.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: code %s does not apply to these vehicles", ErrInvalidPromotionalCode, b.code)
	}
	if eligible.LessThan(b.minSubtotal) {
		return decimal.Zero, fmt.Errorf("%w: code %s requires subtotal of at least %s", ErrInvalidPromotionalCode, b.code, b.minSubtotal.StringFixed(2))
	}
	return eligible, nil
}

func (b baseRule) cap(discount, eligible decimal.Decimal) decimal.Decimal {
	if b.maxDiscount != nil && discount.GreaterThan(*b.maxDiscount) {
		discount = *b.maxDiscount
	}
	if discount.GreaterThan(eligible) {
		discount = eligible
	}
	return discount
}

// percentageRule 按比例折扣，value 为百分数
type percentageRule struct {
	baseRule
	percent decimal.Decimal
}

func buildPercentageRule(code *models.PromotionalCode) (PromotionRule, error) {
	percent := code.Value.Decimal
	if !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: code %s has invalid percentage", ErrInvalidPromotionalCode, code.Code)
	}
	return percentageRule{baseRule: newBaseRule(code), percent: percent}, nil
}

func (r percentageRule) Discount(ctx PromotionContext) (decimal.Decimal, error) {
	eligible, err := r.eligibleSubtotal(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	discount := models.RoundMoney(eligible.Mul(r.percent).Div(decimal.NewFromInt(100)))
	return r.cap(discount, eligible), nil
}

// flatRule 固定金额减免
type flatRule struct {
	baseRule
	amount decimal.Decimal
}

func buildFlatRule(code *models.PromotionalCode) (PromotionRule, error) {
	if !code.Value.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: code %s has invalid amount", ErrInvalidPromotionalCode, code.Code)
	}
	return flatRule{baseRule: newBaseRule(code), amount: code.Value.Decimal}, nil
}

func (r flatRule) Discount(ctx PromotionContext) (decimal.Decimal, error) {
	eligible, err := r.eligibleSubtotal(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return r.cap(r.amount, eligible), nil
}
