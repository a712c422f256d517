package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// LogNotifier пишет уведомления в лог. Используется, когда брокер не настроен.
type LogNotifier struct {
	logger     *zap.Logger
	adminEmail string
}

// NewLogNotifier создаёт уведомитель, пишущий в logger.
func NewLogNotifier(logger *zap.Logger, adminEmail string) *LogNotifier {
	return &LogNotifier{logger: logger, adminEmail: adminEmail}
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, order *model.Order, tickets []model.Ticket) error {
	n.logger.Info("order confirmation",
		zap.String("order", order.Number),
		zap.String("to", order.CustomerEmail),
		zap.Int("tickets", len(tickets)),
	)
	return nil
}

func (n *LogNotifier) SendPaymentFailedNotice(ctx context.Context, order *model.Order) {
	n.logger.Info("payment failed notice", zap.String("order", order.Number), zap.String("to", order.CustomerEmail))
}

func (n *LogNotifier) SendAdminAlert(ctx context.Context, subject, body string) {
	n.logger.Warn("admin alert", zap.String("to", n.adminEmail), zap.String("subject", subject), zap.String("body", body))
}

func (n *LogNotifier) SendCriticalAdminAlert(ctx context.Context, subject, body string) {
	n.logger.Error("critical admin alert", zap.String("to", n.adminEmail), zap.String("subject", subject), zap.String("body", body))
}
