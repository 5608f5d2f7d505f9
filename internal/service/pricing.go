package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/models"

	"github.com/shopspring/decimal"
)

// PriceLine 参与定价的行
type PriceLine struct {
	Key       string
	VehicleID uint
	UnitPrice decimal.Decimal
	Quantity  int
}

// PricingInput 定价输入，At 为促销生效判断时间
type PricingInput struct {
	Lines    []PriceLine
	Promo    PromotionRule
	TaxRate  decimal.Decimal
	Currency string
	At       time.Time
}

// LineBreakdown 行级分摊结果
type LineBreakdown struct {
	Key       string       `json:"key"`
	VehicleID uint         `json:"vehicle_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
	Subtotal  models.Money `json:"subtotal"`
	Discount  models.Money `json:"discount"`
	Tax       models.Money `json:"tax"`
	Total     models.Money `json:"total"`
}

// PriceBreakdown 定价结果
type PriceBreakdown struct {
	Currency  string          `json:"currency"`
	Subtotal  models.Money    `json:"subtotal"`
	Discount  models.Money    `json:"discount"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Tax       models.Money    `json:"tax"`
	Total     models.Money    `json:"total"`
	PromoCode string          `json:"promo_code,omitempty"`
	Lines     []LineBreakdown `json:"lines"`
}

// PricingCalculator 纯函数定价器，购物车与下单共用
type PricingCalculator struct{}

// NewPricingCalculator 创建定价器
func NewPricingCalculator() *PricingCalculator {
	return &PricingCalculator{}
}

// Calculate 计算小计、优惠、税费与合计
// subtotal = Σ 单价×数量；tax = (subtotal − discount) × rate；total = subtotal − discount + tax
func (c *PricingCalculator) Calculate(input PricingInput) (PriceBreakdown, error) {
	if input.TaxRate.IsNegative() {
		return PriceBreakdown{}, fmt.Errorf("%w: negative tax rate", ErrOrderValidation)
	}
	lines := make([]LineBreakdown, len(input.Lines))
	subtotal := decimal.Zero
	for i, line := range input.Lines {
		if line.Quantity <= 0 || line.UnitPrice.IsNegative() {
			return PriceBreakdown{}, fmt.Errorf("%w: invalid price line %q", ErrOrderValidation, line.Key)
		}
		unit := models.RoundMoney(line.UnitPrice)
		lineSubtotal := models.RoundMoney(unit.Mul(decimal.NewFromInt(int64(line.Quantity))))
		lines[i] = LineBreakdown{
			Key:       line.Key,
			VehicleID: line.VehicleID,
			Quantity:  line.Quantity,
			UnitPrice: models.NewMoney(unit),
			Subtotal:  models.NewMoney(lineSubtotal),
		}
		subtotal = subtotal.Add(lineSubtotal)
	}

	discount := decimal.Zero
	promoCode := ""
	if input.Promo != nil {
		promoCode = input.Promo.Code()
		amount, err := input.Promo.Discount(PromotionContext{
			Subtotal: subtotal,
			Lines:    input.Lines,
			At:       input.At,
		})
		if err != nil {
			return PriceBreakdown{}, err
		}
		discount = models.RoundMoney(amount)
		if discount.IsNegative() {
			discount = decimal.Zero
		}
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
	}

	taxable := subtotal.Sub(discount)
	tax := models.RoundMoney(taxable.Mul(input.TaxRate))
	total := taxable.Add(tax)

	allocateDiscount(lines, input.Lines, input.Promo, discount)
	allocateTax(lines, input.TaxRate, tax)
	for i := range lines {
		lines[i].Total = models.NewMoney(lines[i].Subtotal.Decimal.Sub(lines[i].Discount.Decimal).Add(lines[i].Tax.Decimal))
	}

	return PriceBreakdown{
		Currency:  strings.ToUpper(strings.TrimSpace(input.Currency)),
		Subtotal:  models.NewMoney(subtotal),
		Discount:  models.NewMoney(discount),
		TaxRate:   input.TaxRate,
		Tax:       models.NewMoney(tax),
		Total:     models.NewMoney(total),
		PromoCode: promoCode,
		Lines:     lines,
	}, nil
}

// allocateDiscount 按行小计比例分摊优惠，尾差计入最后一个适用行
func allocateDiscount(lines []LineBreakdown, source []PriceLine, rule PromotionRule, discount decimal.Decimal) {
	eligible := make([]int, 0, len(lines))
	base := decimal.Zero
	for i := range lines {
		if rule != nil && !rule.AppliesTo(source[i].VehicleID) {
			continue
		}
		if lines[i].Subtotal.Decimal.IsZero() {
			continue
		}
		eligible = append(eligible, i)
		base = base.Add(lines[i].Subtotal.Decimal)
	}
	for i := range lines {
		lines[i].Discount = models.NewMoney(decimal.Zero)
	}
	if discount.IsZero() || len(eligible) == 0 || base.IsZero() {
		return
	}
	remaining := discount
	for n, idx := range eligible {
		if n == len(eligible)-1 {
			lines[idx].Discount = models.NewMoney(remaining)
			return
		}
		share := models.RoundMoney(discount.Mul(lines[idx].Subtotal.Decimal).Div(base))
		if share.GreaterThan(lines[idx].Subtotal.Decimal) {
			share = lines[idx].Subtotal.Decimal
		}
		lines[idx].Discount = models.NewMoney(share)
		remaining = remaining.Sub(share)
	}
}

// allocateTax 按行应税额分摊税费，尾差计入最后一个应税行
func allocateTax(lines []LineBreakdown, rate decimal.Decimal, tax decimal.Decimal) {
	last := -1
	for i := range lines {
		lines[i].Tax = models.NewMoney(decimal.Zero)
		if lines[i].Subtotal.Decimal.Sub(lines[i].Discount.Decimal).IsPositive() {
			last = i
		}
	}
	if tax.IsZero() || last < 0 {
		return
	}
	remaining := tax
	for i := range lines {
		taxable := lines[i].Subtotal.Decimal.Sub(lines[i].Discount.Decimal)
		if !taxable.IsPositive() {
			continue
		}
		if i == last {
			lines[i].Tax = models.NewMoney(remaining)
			return
		}
		share := models.RoundMoney(taxable.Mul(rate))
		lines[i].Tax = models.NewMoney(share)
		remaining = remaining.Sub(share)
	}
}

// TaxPolicy 税率策略：默认税率 + 按地区覆盖
type TaxPolicy struct {
	Default decimal.Decimal
	Regions map[string]decimal.Decimal
}

// RateFor 返回地区税率
func (p TaxPolicy) RateFor(region string) decimal.Decimal {
	key := strings.ToUpper(strings.TrimSpace(region))
	if key != "" {
		if rate, ok := p.Regions[key]; ok {
			return rate
		}
	}
	return p.Default
}

// NewTaxPolicy 从配置构建税率策略，非法地区税率被忽略
func NewTaxPolicy(defaultRate float64, regions map[string]float64) TaxPolicy {
	policy := TaxPolicy{
		Default: decimal.NewFromFloat(defaultRate),
		Regions: make(map[string]decimal.Decimal, len(regions)),
	}
	for region, rate := range regions {
		key := strings.ToUpper(strings.TrimSpace(region))
		if key == "" || rate < 0 {
			continue
		}
		policy.Regions[key] = decimal.NewFromFloat(rate)
	}
	return policy
}
