package bot

import "fmt"

// Messages содержит шаблоны сообщений бота
type Messages struct{}

// NewMessages создает новый набор шаблонов
func NewMessages() *Messages {
	return &Messages{}
}

// Welcome приветствие для органического пользователя
func (m *Messages) Welcome(name string) string {
	return fmt.Sprintf("Привет, %s! 👋\n\n"+
		"Доступные команды:\n"+
		"/buy <сумма> — симулировать покупку\n"+
		"/link — ваша реферальная ссылка\n"+
		"/stats — ваша статистика\n"+
		"/help — справка\n\n"+
		"Делитесь реферальной ссылкой с друзьями и получайте вознаграждения!", name)
}

// WelcomeReferred приветствие для пользователя, пришедшего по реферальной ссылке
func (m *Messages) WelcomeReferred(name string) string {
	return fmt.Sprintf("Привет, %s! 🎁\n\n"+
		"Вы пришли по реферальной ссылке.\n\n"+
		"Доступные команды:\n"+
		"/buy <сумма> — симулировать покупку\n"+
		"/link — ваша реферальная ссылка\n"+
		"/stats — ваша статистика\n"+
		"/help — справка", name)
}

// Help справка по командам
func (m *Messages) Help() string {
	return "Команды бота:\n\n" +
		"/start — начать работу\n" +
		"/buy <сумма> — симулировать покупку (например, /buy 10.50)\n" +
		"/link — получить реферальную ссылку\n" +
		"/stats — статистика ваших рефералов\n" +
		"/help — эта справка\n\n" +
		"Вознаграждения:\n" +
		"• за каждого нового пользователя по вашей ссылке\n" +
		"• за каждую покупку приглашенного пользователя"
}

// InvalidAmount сообщение о некорректной сумме
func (m *Messages) InvalidAmount() string {
	return "❌ Некорректная сумма. Используйте: /buy <сумма>\nНапример: /buy 10.50"
}

// PurchaseAccepted подтверждение покупки
func (m *Messages) PurchaseAccepted(amount string) string {
	return fmt.Sprintf("✅ Покупка на %s подтверждена!\n\nПроверьте статистику командой /stats", amount)
}

// PurchaseDuplicate повтор уже учтенной покупки
func (m *Messages) PurchaseDuplicate() string {
	return "✅ Эта покупка уже была учтена ранее."
}

// PurchaseFailed отказ в обработке покупки
func (m *Messages) PurchaseFailed(reason string) string {
	return fmt.Sprintf("❌ Ошибка обработки покупки: %s", reason)
}

// RetryLater общее сообщение при временном сбое
func (m *Messages) RetryLater() string {
	return "❌ Не удалось обработать запрос. Попробуйте позже."
}

// ReferralLink сообщение с реферальной ссылкой
func (m *Messages) ReferralLink(link string) string {
	return fmt.Sprintf("🔗 Ваша реферальная ссылка:\n%s\n\nОтправьте ее друзьям и получайте вознаграждения.", link)
}

// Stats статистика реферера
func (m *Messages) Stats(referred, purchases int, balance string) string {
	return fmt.Sprintf("📊 Ваша статистика:\n\n"+
		"Приглашено пользователей: %d\n"+
		"Покупок приглашенных: %d\n"+
		"Баланс вознаграждений: %s", referred, purchases, balance)
}

// RateLimited предупреждение о превышении лимита запросов
func (m *Messages) RateLimited() string {
	return "⚠️ Слишком много запросов. Подождите минуту."
}

// UnknownCommand сообщение о неизвестной команде
func (m *Messages) UnknownCommand() string {
	return "Неизвестная команда. Используйте /help для списка команд."
}
