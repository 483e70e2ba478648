package config

import "time"

type Config struct {
	Interval          time.Duration // период цикла импорта
	ImportWindow      time.Duration // за какой период запрашивать заказы
	ClientConcurrency int           // сколько клиентов обрабатывать параллельно
	FallbackCostRatio float64       // доля от цены продажи, если закупочная цена не найдена
}
