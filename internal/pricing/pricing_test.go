package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

func baseSettings() model.PricingSettings {
	return model.PricingSettings{
		TargetMarginPercent: 15,
		AcquiringPercent:    2,
	}
}

// закупка 100.00, логистика 20.00, комиссия 5%, эквайринг 2%, маржа 15%:
// знаменатель 0.78, цена (100+20)/0.78 = 153.85
func TestCalculateOptimalPrice(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             200000,
		PurchasePrice:     10000,
		CommissionPercent: 5,
	}
	settings := baseSettings()
	settings.HandlingFee = 2000 // вся логистика фиксированной обработкой

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(15385), result.ListedPrice)
	assert.Equal(t, int64(15385), result.EffectivePrice)
	assert.Equal(t, int64(2000), result.LogisticsCost)
	assert.InDelta(t, 15.0, result.RealizedMarginPercent, 0.05)
	assert.False(t, result.DegradedEstimate)
}

// скидка 20% с сохранением маржи: витрина 153.85/0.8 = 192.31,
// эффективная цена возвращается к 153.85, маржа ~15%
func TestPromotionInflationRoundTrip(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             200000,
		PurchasePrice:     10000,
		CommissionPercent: 5,
		InPromotion:       true,
		DiscountPercent:   20,
	}
	settings := baseSettings()
	settings.HandlingFee = 2000
	settings.MaintainMarginInPromotions = true

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(19231), result.ListedPrice)
	assert.InDelta(t, 15385, float64(result.EffectivePrice), 1) // точность до копейки
	assert.InDelta(t, 15.0, result.RealizedMarginPercent, 0.05)
	assert.Equal(t, ActionMaintainPromotion, result.RecommendedAction)
}

// без сохранения маржи цена остается базовой и маржа проседает
func TestPromotionMarginErosion(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             15385,
		PurchasePrice:     10000,
		CommissionPercent: 5,
		InPromotion:       true,
		DiscountPercent:   20,
	}
	settings := baseSettings()
	settings.HandlingFee = 2000
	settings.AutoExitPromotions = true

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(15385), result.ListedPrice)
	assert.Equal(t, int64(12308), result.EffectivePrice)
	assert.Less(t, result.RealizedMarginPercent, 7.5)
	assert.Equal(t, ActionExitPromotion, result.RecommendedAction)
}

func TestInfeasibleSettings(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             15385,
		PurchasePrice:     10000,
		CommissionPercent: 50,
	}
	settings := model.PricingSettings{
		TargetMarginPercent: 40,
		AcquiringPercent:    15,
	}

	_, err := CalculateOptimalPrice(product, settings, 0)

	var infeasible *InfeasibleError
	require.ErrorAs(t, err, &infeasible)
	assert.InDelta(t, -0.05, infeasible.Denominator, 1e-9)
}

// без закупочной цены используется доля от цены продажи с границами
func TestFallbackPurchasePrice(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             100000,
		CommissionPercent: 5,
	}
	settings := baseSettings()
	settings.FallbackCostRatio = 0.7

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(70000), result.PurchasePrice)
	assert.True(t, result.DegradedEstimate)

	// нижняя граница
	settings.MinPurchasePrice = 80000
	result, err = CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), result.PurchasePrice)

	// верхняя граница
	settings.MinPurchasePrice = 0
	settings.MaxPurchasePrice = 60000
	result, err = CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), result.PurchasePrice)
}

func TestLogisticsCost(t *testing.T) {
	settings := model.PricingSettings{
		FirstLiterRate: 5000,
		ExtraLiterRate: 1000,
		WarehouseCoef:  1.2,
		HandlingFee:    3000,
	}

	// 20x15x10 см = 3 литра: 50 + 2*10 = 70, *1.2 = 84, +30 = 114
	product := model.ProductSnapshot{WidthCM: 20, HeightCM: 15, LengthCM: 10}
	assert.Equal(t, int64(11400), LogisticsCost(product, settings))

	// меньше литра - только первый литр
	small := model.ProductSnapshot{WidthCM: 5, HeightCM: 5, LengthCM: 5}
	assert.Equal(t, int64(9000), LogisticsCost(small, settings))
}

func TestRecommendAdjustPrice(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             10000, // на витрине 100.00, расчет даст 153.85
		PurchasePrice:     10000,
		CommissionPercent: 5,
	}
	settings := baseSettings()
	settings.HandlingFee = 2000

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionAdjustPrice, result.RecommendedAction)

	// цена уже на месте
	product.Price = result.ListedPrice
	result, err = CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, result.RecommendedAction)
}

// настроенный порог отклонения учитывается в рекомендации
func TestConfiguredTolerance(t *testing.T) {
	product := model.ProductSnapshot{
		Price:             15235, // на 1.50 ниже расчетных 153.85
		PurchasePrice:     10000,
		CommissionPercent: 5,
	}
	settings := baseSettings()
	settings.HandlingFee = 2000

	// порог по умолчанию (1.00) - отклонение 1.50 требует обновления
	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionAdjustPrice, result.RecommendedAction)

	// порог 2.00 - отклонение в допуске
	result, err = CalculateOptimalPrice(product, settings, 200)
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, result.RecommendedAction)
}

// нулевой снимок товара не дает NaN в марже
func TestZeroPriceSnapshot(t *testing.T) {
	product := model.ProductSnapshot{}
	settings := baseSettings()

	result, err := CalculateOptimalPrice(product, settings, 0)
	require.NoError(t, err)

	assert.False(t, math.IsNaN(result.RealizedMarginPercent))
	assert.Equal(t, 0.0, result.RealizedMarginPercent)
	assert.Equal(t, ActionWarningLowMargin, result.RecommendedAction)
}
