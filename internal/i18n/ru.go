package i18n

// RuMessages Russian message catalog
var RuMessages = map[string]string{
	"menu.main":      "Выберите действие:",
	"menu.add":       "➕ Добавить задачу",
	"menu.list":      "📋 Показать задачи",
	"menu.completed": "✅ Выполненные задачи",
	"menu.help":      "❓ Помощь",

	"start.welcome":      "Привет! Я бот для управления задачами. Выберите действие из меню:",
	"start.welcome_back": "С возвращением! Ваш список задач готов.",
	"help.text": "Команды:\n" +
		"/start - создать или открыть список задач\n" +
		"/add - добавить задачу\n" +
		"/list - показать активные задачи\n" +
		"/done - показать выполненные задачи\n" +
		"/skip - оставить описание пустым\n" +
		"/cancel - отменить текущий шаг\n" +
		"/reset - сбросить незавершённый ввод",

	"add.ask_title":       "Введите название задачи:",
	"add.ask_description": "Теперь введите описание задачи (или нажмите /skip чтобы пропустить):",
	"add.done":            "✅ Задача добавлена: %s",

	"list.empty":            "📭 Список задач пуст. Добавьте новую задачу.",
	"list.item":             "📌 %d. %s\nСтатус: %s\n🕒 %s",
	"list.item_description": "\nОписание: %s",
	"list.item_reminder":    "\n⏰ Напоминание: %s",
	"completed.empty":       "📭 Нет выполненных задач.",
	"completed.item":        "✅ %d. %s\n🕒 Завершено: %s",

	"task.edit":      "✏ Редактировать",
	"task.edit_desc": "📝 Изменить описание",
	"task.remind":    "⏰ Установить напоминание",
	"task.status":    "🔄 Изменить статус",
	"task.complete":  "✅ Завершить",
	"task.delete":    "❌ Удалить",

	"edit.ask_title":       "Введите новый текст задачи:",
	"edit.ask_description": "Введите новое описание (или /skip чтобы очистить):",
	"edit.done":            "✅ Задача обновлена.",

	"remind.ask":        "Введите время для напоминания в формате DD-MM-YYYY HH:MM:",
	"remind.bad_format": "❌ Некорректный формат времени. Попробуйте снова:",
	"remind.past":       "❌ Время напоминания должно быть в будущем. Попробуйте снова:",
	"remind.done":       "✅ Напоминание для задачи \"%s\" установлено на %s.",
	"reminder.notify":   "⏰ Напоминание: %s",

	"status.ask":         "Выберите новый статус задачи:",
	"status.done":        "📌 %s\nСтатус: %s",
	"status.not_started": "Не начата",
	"status.in_progress": "В процессе",
	"status.completed":   "Выполнена",

	"confirm.yes":       "✅ Да",
	"confirm.no":        "❌ Нет",
	"confirm.yes_words": "да,д,yes,y",
	"confirm.no_words":  "нет,н,no,n",
	"confirm.hint":      "Ответьте да или нет.",
	"complete.ask":      "Вы уверены, что хотите завершить задачу \"%s\"?",
	"complete.done":     "✅ Задача завершена: %s",
	"complete.declined": "Завершение задачи отменено.",
	"delete.ask":        "Вы уверены, что хотите удалить задачу \"%s\"?",
	"delete.done":       "❌ Задача удалена: %s",
	"delete.declined":   "Удаление отменено.",

	"flow.discarded":       "ℹ️ Предыдущий ввод отменён.",
	"flow.expired":         "ℹ️ Предыдущий ввод устарел и был отменён.",
	"flow.cancelled":       "Отменено.",
	"flow.nothing":         "Нечего отменять.",
	"flow.nothing_to_skip": "Сейчас нечего пропускать.",
	"reset.done":           "Состояние сброшено.",

	"error.not_found":      "❌ Задача не найдена.",
	"error.list_not_found": "❌ Ваш список задач не найден. Перезапустите бота командой /start.",
	"error.internal":       "⚠️ Что-то пошло не так. Попробуйте снова.",
	"error.title_empty":    "❌ Название не может быть пустым. Попробуйте снова:",
	"error.stale":          "❌ Эта кнопка больше не активна. Начните заново из меню.",
	"error.unknown":        "Не понял. Выберите действие из меню или отправьте /help.",

	"ui.welcome":         "Введите /help для списка команд. Выбор пункта меню: #N.",
	"ui.bad_choice":      "В последнем меню нет пункта %s.",
	"ui.goodbye":         "Пока.",
	"panel.chat":         "Чат",
	"panel.reminders":    "Напоминания",
	"sidebar.active":     "Активные",
	"sidebar.completed":  "Выполненные",
	"sidebar.user":       "Пользователь",
	"input.placeholder":  "Введите сообщение или #N для выбора...",
	"keys.send":          "отправить",
	"keys.panel":         "панель",
	"keys.quit":          "выход",
	"keys.clear":         "очистить",
	"keys.scroll":        "прокрутка",
	"status.ready":       "Готово",
	"status.delivered":   "Напоминание доставлено",
	"status.interrupted": "Прервано",
}
