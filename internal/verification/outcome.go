package verification

// Outcome описывает результат проверки одного заказа.
type Outcome int

const (
	// OutcomeError обозначает ошибку или аномалию. Это нулевое значение типа.
	OutcomeError Outcome = iota
	OutcomeVerified
	OutcomeFailed
	OutcomeStillPending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeFailed:
		return "failed"
	case OutcomeStillPending:
		return "still_pending"
	default:
		return "errors"
	}
}

// CycleResult содержит итоги одного цикла проверки.
type CycleResult struct {
	Verified     int `json:"verified"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

// Record учитывает результат проверки заказа. Неизвестный результат считается ошибкой.
func (r *CycleResult) Record(o Outcome) {
	switch o {
	case OutcomeVerified:
		r.Verified++
	case OutcomeFailed:
		r.Failed++
	case OutcomeStillPending:
		r.StillPending++
	default:
		r.Errors++
	}
}

// Total возвращает число обработанных заказов.
func (r CycleResult) Total() int {
	return r.Verified + r.Failed + r.StillPending + r.Errors
}

// Empty сообщает, что в цикле не было заказов для проверки.
func (r CycleResult) Empty() bool {
	return r.Total() == 0
}
