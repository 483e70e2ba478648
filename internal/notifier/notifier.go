// Пакет notifier - уведомления пользователям. Ядро решает, о чем
// уведомить, доставка (почта, внутренние сообщения) - внешняя система
package notifier

import (
	"context"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, userID int64, title string, message string) error
}

// logNotifier пишет уведомления в журнал. Используется, пока внешняя
// доставка не подключена
type logNotifier struct {
	zaplog *zap.Logger
}

func NewLogNotifier(zaplog *zap.Logger) Notifier {
	return &logNotifier{zaplog: zaplog}
}

func (n *logNotifier) Notify(ctx context.Context, userID int64, title string, message string) error {
	n.zaplog.Info("уведомление",
		zap.Int64("user_id", userID),
		zap.String("title", title),
		zap.String("message", message))
	return nil
}
