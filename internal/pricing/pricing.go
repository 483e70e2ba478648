// Пакет pricing - расчет цены продажи под целевую маржу.
// Расчет чистый и без состояния, запись рекомендаций и отправка цен
// на маркетплейс - задача автоматики (automation.go)
package pricing

import (
	"fmt"
	"math"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

type Action string

const (
	ActionNoChange          Action = "no_change"
	ActionAdjustPrice       Action = "adjust_price"
	ActionExitPromotion     Action = "exit_promotion"
	ActionMaintainPromotion Action = "maintain_promotion"
	ActionWarningLowMargin  Action = "warning_low_margin"
)

type PriceResult struct {
	ListedPrice           int64 // цена на витрине (до скидки акции)
	EffectivePrice        int64 // цена для покупателя после скидки
	PurchasePrice         int64
	LogisticsCost         int64
	RealizedMarginPercent float64 // фактическая маржа по эффективной цене
	RecommendedAction     Action
	DegradedEstimate      bool // закупочная цена оценена по доле от цены продажи
}

// InfeasibleError - комиссия, эквайринг и целевая маржа съедают всю
// цену, решение не существует. Настройки должен поправить их владелец
type InfeasibleError struct {
	Denominator float64
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("pricing infeasible: denominator %.4f", e.Denominator)
}

// отклонение цены, при котором обновление не отправляется
const defaultToleranceMinor = 100

// LogisticsCost считает стоимость логистики по объему: тариф за первый
// литр, за каждый следующий, коэффициент склада и фиксированная обработка
func LogisticsCost(p model.ProductSnapshot, s model.PricingSettings) int64 {
	volumeCM := p.WidthCM * p.HeightCM * p.LengthCM
	liters := float64(volumeCM) / 1000

	cost := float64(s.FirstLiterRate)
	if liters > 1 {
		cost += math.Ceil(liters-1) * float64(s.ExtraLiterRate)
	}

	coef := s.WarehouseCoef
	if coef <= 0 {
		coef = 1
	}
	return int64(math.Round(cost*coef)) + s.HandlingFee
}

// CalculateOptimalPrice решает уравнение цены: при фиксированных
// затратах F = закупка + логистика и процентных затратах c (комиссия),
// a (эквайринг), m (целевая маржа) цена P = F / (1 - c - a - m).
// Если товар в акции и включено сохранение маржи, цена на витрине
// завышается до P / (1 - скидка), чтобы после скидки осталось P.
// toleranceMinor - порог отклонения цены для рекомендации adjust_price,
// 0 означает порог по умолчанию
func CalculateOptimalPrice(p model.ProductSnapshot, s model.PricingSettings, toleranceMinor int64) (PriceResult, error) {
	if toleranceMinor <= 0 {
		toleranceMinor = defaultToleranceMinor
	}
	purchase := p.PurchasePrice
	degraded := false
	if purchase <= 0 {
		// закупочной цены нет в прайс-листе: оценка по доле от цены
		// продажи, зажатая в границы настроек
		ratio := s.FallbackCostRatio
		if ratio <= 0 {
			ratio = 0.7
		}
		purchase = int64(math.Round(float64(p.Price) * ratio))
		if s.MinPurchasePrice > 0 && purchase < s.MinPurchasePrice {
			purchase = s.MinPurchasePrice
		}
		if s.MaxPurchasePrice > 0 && purchase > s.MaxPurchasePrice {
			purchase = s.MaxPurchasePrice
		}
		degraded = true
	}

	logistics := LogisticsCost(p, s)

	c := p.CommissionPercent / 100
	a := s.AcquiringPercent / 100
	m := s.TargetMarginPercent / 100
	denom := 1 - c - a - m
	if denom <= 0.01 {
		return PriceResult{}, &InfeasibleError{Denominator: denom}
	}

	fixed := purchase + logistics
	base := int64(math.Round(float64(fixed) / denom))

	d := p.DiscountPercent / 100
	inPromo := p.InPromotion && d > 0 && d < 1

	listed := base
	if inPromo && s.MaintainMarginInPromotions {
		listed = int64(math.Round(float64(base) / (1 - d)))
	}
	effective := listed
	if inPromo {
		effective = int64(math.Round(float64(listed) * (1 - d)))
	}

	// нулевая эффективная цена дала бы NaN в марже
	realized := 0.0
	if effective > 0 {
		realized = (float64(effective)*(1-c-a) - float64(fixed)) / float64(effective) * 100
	}

	result := PriceResult{
		ListedPrice:           listed,
		EffectivePrice:        effective,
		PurchasePrice:         purchase,
		LogisticsCost:         logistics,
		RealizedMarginPercent: realized,
		DegradedEstimate:      degraded,
	}
	result.RecommendedAction = recommend(p, s, result, toleranceMinor)
	return result, nil
}

func recommend(p model.ProductSnapshot, s model.PricingSettings, r PriceResult, toleranceMinor int64) Action {
	lowMargin := r.RealizedMarginPercent < s.TargetMarginPercent/2

	if p.InPromotion {
		switch {
		case lowMargin && s.AutoExitPromotions:
			return ActionExitPromotion
		case lowMargin:
			return ActionWarningLowMargin
		default:
			return ActionMaintainPromotion
		}
	}

	switch {
	case lowMargin:
		return ActionWarningLowMargin
	case abs(r.ListedPrice-p.Price) > toleranceMinor:
		return ActionAdjustPrice
	default:
		return ActionNoChange
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
