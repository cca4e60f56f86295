package delivery

import (
	"context"
	"time"
)

// Причины неудачной доставки. Значения стабильны: они попадают в
// last_delivery_reason и в метрики.
const (
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonRecipientBlocked = "recipient_blocked"
	ReasonChatNotFound     = "chat_not_found"
	ReasonCircuitOpen      = "circuit_open"
	ReasonTimeout          = "timeout"
	ReasonDeliveryPanic    = "delivery_panic"
	ReasonNotConfigured    = "not_configured"
	ReasonUnknown          = "unknown"
)

// Payload - содержимое напоминания. Генерация текста вне этой модели.
type Payload struct {
	Title     string
	Body      string
	RunID     string
	CreatedAt time.Time
}

// Result - результат одной попытки доставки через фасад.
type Result struct {
	Success bool
	// Reason заполнен только при неудаче.
	Reason string
	// Err - исходная ошибка канала, только для логов.
	Err error
}

// Delivered создаёт успешный результат.
func Delivered() Result { return Result{Success: true} }

// Failed создаёт неуспешный результат с причиной.
func Failed(reason string, err error) Result {
	if reason == "" {
		reason = ReasonUnknown
	}
	return Result{Reason: reason, Err: err}
}

// ReasonPtr возвращает причину для записи в журнал (nil для успеха).
func (r Result) ReasonPtr() *string {
	if r.Success {
		return nil
	}
	reason := r.Reason
	return &reason
}

// Facade - тонкий фасад канала доставки. Никогда не паникует намеренно
// и не возвращает ошибку: всё упаковывается в Result.
type Facade interface {
	AttemptDelivery(ctx context.Context, payload Payload) Result
}

// FacadeFunc позволяет использовать функцию как Facade.
type FacadeFunc func(ctx context.Context, payload Payload) Result

// AttemptDelivery реализует Facade.
func (f FacadeFunc) AttemptDelivery(ctx context.Context, payload Payload) Result {
	return f(ctx, payload)
}
