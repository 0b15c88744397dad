// Package external содержит заглушки внешних коллабораторов — источника
// таблицы заказов, сессии чат-транспорта и канонизатора телефонов. Их
// реальные реализации (SDK таблиц, браузерная сессия чат-транспорта,
// правила нормализации египетских номеров) не входят в область действия
// этого сервиса: здесь только контракт и явный отказ вместо тихой заглушки,
// чтобы бинарник стартовал и сразу было видно, какой коллаборатор не подключён.
package external

import (
	"context"
	"errors"

	"order-messaging-automation/internal/domain/sheet"
)

// ErrNotConfigured возвращается заглушками внешних коллабораторов: сервис
// поднялся, но реальная интеграция ещё не подключена.
var ErrNotConfigured = errors.New("external collaborator is not configured")

// UnconfiguredSheetSource — заглушка sheet.SheetSource. Подставляется, пока
// реальный клиент таблицы заказов не подключён.
type UnconfiguredSheetSource struct{}

func (UnconfiguredSheetSource) FetchRows(context.Context) ([]sheet.OrderRow, error) {
	return nil, ErrNotConfigured
}

// UnconfiguredTransport — заглушка transport.ChatTransport. Всегда offline,
// поэтому Automation Engine пропускает каждую итерацию целиком: без
// классификации, обновления истории и планирования напоминаний (цикл при этом не падает).
type UnconfiguredTransport struct{}

func (UnconfiguredTransport) Send(context.Context, string, string) error {
	return ErrNotConfigured
}

func (UnconfiguredTransport) IsOnline() bool { return false }

// UnconfiguredCanonicalizer — заглушка phone.Canonicalizer. Отклоняет любой
// номер, пока не подключён реальный канонизатор египетских номеров.
type UnconfiguredCanonicalizer struct{}

func (UnconfiguredCanonicalizer) Canonicalize(string) (string, bool) {
	return "", false
}
