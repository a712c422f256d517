package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

const publishTimeout = 5 * time.Second

// ErrNoRecipient возвращается, если у заказа нет адреса покупателя.
var ErrNoRecipient = errors.New("order has no customer email")

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier публикует уведомления в topic exchange брокера RabbitMQ.
type AMQPNotifier struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	pub        publisher
	exchange   string
	adminEmail string
	logger     *zap.Logger
	now        func() time.Time
}

// DialAMQP подключается к брокеру и объявляет exchange для уведомлений.
func DialAMQP(url, exchange, adminEmail string, logger *zap.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange, adminEmail, logger)
	n.conn = conn
	n.ch = ch
	return n, nil
}

func newAMQPNotifier(pub publisher, exchange, adminEmail string, logger *zap.Logger) *AMQPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPNotifier{
		pub:        pub,
		exchange:   exchange,
		adminEmail: adminEmail,
		logger:     logger,
		now:        time.Now,
	}
}

// Close закрывает канал и соединение с брокером.
func (n *AMQPNotifier) Close() error {
	var errs []error
	if n.ch != nil {
		errs = append(errs, n.ch.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}

func (n *AMQPNotifier) publish(ctx context.Context, msg Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = n.now().UTC()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = n.pub.PublishWithContext(ctx, n.exchange, msg.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// SendOrderConfirmation публикует письмо с подтверждением заказа и билетами.
func (n *AMQPNotifier) SendOrderConfirmation(ctx context.Context, order *model.Order, tickets []model.Ticket) error {
	if order.CustomerEmail == "" {
		return fmt.Errorf("%w: %s", ErrNoRecipient, order.Number)
	}
	return n.publish(ctx, Message{
		Kind:    KindOrderConfirmation,
		To:      order.CustomerEmail,
		Subject: fmt.Sprintf("Order %s confirmed", order.Number),
		Order:   orderPayload(order),
		Tickets: ticketPayloads(tickets),
	})
}

// SendPaymentFailedNotice публикует письмо о неудачной оплате. Ошибки только логируются.
func (n *AMQPNotifier) SendPaymentFailedNotice(ctx context.Context, order *model.Order) {
	if order.CustomerEmail == "" {
		n.logger.Warn("payment failed notice skipped: no recipient", zap.String("order", order.Number))
		return
	}
	err := n.publish(ctx, Message{
		Kind:    KindPaymentFailed,
		To:      order.CustomerEmail,
		Subject: fmt.Sprintf("Payment for order %s failed", order.Number),
		Order:   orderPayload(order),
	})
	if err != nil {
		n.logger.Error("send payment failed notice", zap.Error(err), zap.String("order", order.Number))
	}
}

// SendAdminAlert публикует оповещение администратору. Ошибки только логируются.
func (n *AMQPNotifier) SendAdminAlert(ctx context.Context, subject, body string) {
	n.sendAlert(ctx, KindAdminAlert, subject, body)
}

// SendCriticalAdminAlert публикует критическое оповещение администратору. Ошибки только логируются.
func (n *AMQPNotifier) SendCriticalAdminAlert(ctx context.Context, subject, body string) {
	n.sendAlert(ctx, KindCriticalAlert, "[CRITICAL] "+subject, body)
}

func (n *AMQPNotifier) sendAlert(ctx context.Context, kind, subject, body string) {
	err := n.publish(ctx, Message{
		Kind:    kind,
		To:      n.adminEmail,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		n.logger.Error("send admin alert", zap.Error(err), zap.String("kind", kind), zap.String("subject", subject))
	}
}
