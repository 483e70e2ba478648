package config

import "time"

type Config struct {
	Interval       time.Duration // период прохода автоматики цен
	ToleranceMinor int64         // отклонение цены, ниже которого обновление не отправляется
}
