// Package notifications — подготовка текстов уведомлений. В этом файле
// собраны загрузка набора шаблонов из JSON-файла и подстановка плейсхолдеров
// заказа в шаблон, выбранный по типу сообщения.
package notifications

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// TemplateSet — набор шаблонов, один текст на MessageType, загруженный из
// JSON-файла (mirrors тот же стиль загрузки конфигурации фильтров, что и у
// внешнего коллаборатора редактора шаблонов — сам редактор вне области
// действия этого сервиса, см. Non-goals).
type TemplateSet map[MessageType]string

// LoadTemplateSet читает и декодирует набор шаблонов из path.
func LoadTemplateSet(path string) (TemplateSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template set: %w", err)
	}
	var set TemplateSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode template set: %w", err)
	}
	return set, nil
}

// TemplateData — значения доступные для подстановки в шаблон одного заказа.
type TemplateData struct {
	Name             string
	OrderID          string
	Amount           decimal.Decimal
	ProductName      string
	TrackingNumber   string
	DiscountedAmount decimal.Decimal
	SavedAmount      decimal.Decimal
	CompanyName      string
}

// RenderTemplate заполняет плоский текстовый шаблон данными заказа через
// strings.ReplaceAll, без шаблонизатора и без экранирования: ожидается, что
// текст уже безопасен для выбранного транспорта. Незаполненные денежные
// плейсхолдеры ({discountedAmount}, {savedAmount}) не применимы ко всем
// типам сообщений и подставляются только если data содержит ненулевое значение.
func RenderTemplate(tmpl string, data TemplateData) string {
	result := tmpl
	result = strings.ReplaceAll(result, "{name}", data.Name)
	result = strings.ReplaceAll(result, "{orderId}", data.OrderID)
	result = strings.ReplaceAll(result, "{amount}", data.Amount.StringFixed(2))
	result = strings.ReplaceAll(result, "{productName}", data.ProductName)
	result = strings.ReplaceAll(result, "{trackingNumber}", data.TrackingNumber)
	result = strings.ReplaceAll(result, "{companyName}", data.CompanyName)

	if !data.DiscountedAmount.IsZero() {
		result = strings.ReplaceAll(result, "{discountedAmount}", data.DiscountedAmount.StringFixed(2))
	}
	if !data.SavedAmount.IsZero() {
		result = strings.ReplaceAll(result, "{savedAmount}", data.SavedAmount.StringFixed(2))
	}

	return strings.TrimSpace(result)
}
