// Package notifications — доменные модели очереди доставки. Здесь описаны
// единица работы очереди (Job), отложенные напоминания (ReminderJob) и
// сериализуемые состояния очереди. Также приведены безопасные функции
// клонирования, чтобы снапшоты, попавшие в персист, не зависели от
// дальнейших мутаций в рантайме.
package notifications

import "time"

// MessageType — ключ типа уведомления (статус заказа, напоминание,
// отклонённое предложение), стабильная строка, попадающая в персист и в ключи
// Duplicate Guard.
type MessageType string

// Job — единица работы очереди доставки: один отрендеренный текст одному
// номеру телефона. ID монотонно растёт.
type Job struct {
	ID        int64       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Urgent    bool        `json:"urgent"`
	OrderID   string      `json:"order_id"`
	Phone     string      `json:"phone"`
	Name      string      `json:"name"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
}

// ReminderJob — отложенное задание. Хранит только сырые поля, а не готовый
// Job: между планированием и наступлением FireAt статус заказа мог
// измениться, поэтому текст рендерится заново через ReminderResolver в
// момент firing, после повторной проверки условия (P3).
type ReminderJob struct {
	ID              int64       `json:"id"`
	OrderID         string      `json:"order_id"`
	RowIndex        int         `json:"row_index"`
	Phone           string      `json:"phone"`
	CustomerName    string      `json:"customer_name"`
	OrderStatus     string      `json:"order_status"` // статус, зафиксированный в момент планирования
	MessageType     MessageType `json:"message_type"`
	DiscountPercent int         `json:"discount_percent"`
	FireAt          time.Time   `json:"fire_at"`
}

// State — сериализуемый снимок очереди: бэклоги urgent/regular, отложенные
// задания, счётчик NextID и метки времени. Все времена хранятся в UTC.
type State struct {
	LastFlushAt        time.Time     `json:"last_flush_at"`
	LastRegularDrainAt time.Time     `json:"last_regular_drain_at"`
	NextID             int64         `json:"next_id"`
	Regular            []Job         `json:"regular"`
	Urgent             []Job         `json:"urgent"`
	Delayed            []ReminderJob `json:"delayed"`
}

// FailedRecord фиксирует окончательно провалившуюся доставку: полный снимок
// job и текст агрегированной ошибки.
type FailedRecord struct {
	Job      Job       `json:"job"`
	FailedAt time.Time `json:"failed_at"`
	Error    string    `json:"error"`
}

// DefaultState создаёт начальное состояние очереди: NextID=1, пустые
// бэклоги, нулевые метки времени.
func DefaultState() State {
	return State{
		NextID: 1,
	}
}

// Clone делает копию Job. Job — плоская структура без вложенных указателей,
// поэтому копии-значения достаточно; метод существует для симметрии с
// State.Clone и FailedRecord.Clone и на случай, если Job обрастёт полями со
// ссылочной семантикой.
func (j Job) Clone() Job {
	return j
}

// Clone создаёт глубокую копию State, включая срезы urgent/regular/delayed
// (с сохранением порядка).
func (s State) Clone() State {
	clone := s
	clone.Regular = cloneJobs(s.Regular)
	clone.Urgent = cloneJobs(s.Urgent)
	clone.Delayed = cloneReminders(s.Delayed)
	return clone
}

// Clone возвращает независимую копию записи о провале.
func (r FailedRecord) Clone() FailedRecord {
	clone := r
	clone.Job = r.Job.Clone()
	return clone
}

// cloneJobs заранее выделяет результат нужной длины и копирует элементы через Clone.
func cloneJobs(in []Job) []Job {
	if len(in) == 0 {
		return nil
	}
	out := make([]Job, len(in))
	for i, job := range in {
		out[i] = job.Clone()
	}
	return out
}

// cloneReminders копирует срез отложенных заданий. ReminderJob — плоская
// структура без ссылочных полей, поэтому достаточно копии среза.
func cloneReminders(in []ReminderJob) []ReminderJob {
	if len(in) == 0 {
		return nil
	}
	out := make([]ReminderJob, len(in))
	copy(out, in)
	return out
}
