package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// Main menu
	"menu.main":      "Choose an action:",
	"menu.add":       "➕ Add task",
	"menu.list":      "📋 Show tasks",
	"menu.completed": "✅ Completed tasks",
	"menu.help":      "❓ Help",

	// Start / help
	"start.welcome":      "Hi! I am a task manager bot. Choose an action from the menu:",
	"start.welcome_back": "Welcome back! Your task list is ready.",
	"help.text": "Commands:\n" +
		"/start - create or open your task list\n" +
		"/add - add a task\n" +
		"/list - show active tasks\n" +
		"/done - show completed tasks\n" +
		"/skip - leave the description empty\n" +
		"/cancel - abandon the current step\n" +
		"/reset - clear any pending input",

	// Add flow
	"add.ask_title":       "Enter the task title:",
	"add.ask_description": "Now enter a description (or /skip to leave it empty):",
	"add.done":            "✅ Task added: %s",

	// Listing
	"list.empty":            "📭 The task list is empty. Add a new task.",
	"list.item":             "📌 %d. %s\nStatus: %s\n🕒 %s",
	"list.item_description": "\nDescription: %s",
	"list.item_reminder":    "\n⏰ Reminder: %s",
	"list.item_reminded":    " ✅",
	"completed.empty":       "📭 No completed tasks.",
	"completed.item":        "✅ %d. %s\n🕒 Completed: %s",

	// Per-task actions
	"task.edit":      "✏ Edit title",
	"task.edit_desc": "📝 Edit description",
	"task.remind":    "⏰ Set reminder",
	"task.status":    "🔄 Change status",
	"task.complete":  "✅ Complete",
	"task.delete":    "❌ Delete",

	// Edit flows
	"edit.ask_title":       "Enter the new task title:",
	"edit.ask_description": "Enter the new description (or /skip to clear it):",
	"edit.done":            "✅ Task updated.",

	// Reminder flow
	"remind.ask":        "Enter the reminder time as DD-MM-YYYY HH:MM:",
	"remind.bad_format": "❌ Invalid time format. Try again:",
	"remind.past":       "❌ The reminder time must be in the future. Try again:",
	"remind.done":       "✅ Reminder for \"%s\" set to %s.",
	"reminder.notify":   "⏰ Reminder: %s",

	// Status flow
	"status.ask":         "Choose the new task status:",
	"status.done":        "📌 %s\nStatus: %s",
	"status.not_started": "Not started",
	"status.in_progress": "In progress",
	"status.completed":   "Completed",

	// Confirmations
	"confirm.yes":       "✅ Yes",
	"confirm.no":        "❌ No",
	"confirm.yes_words": "yes,y",
	"confirm.no_words":  "no,n",
	"confirm.hint":      "Please answer yes or no.",
	"complete.ask":      "Are you sure you want to complete \"%s\"?",
	"complete.done":     "✅ Task completed: %s",
	"complete.declined": "Completion cancelled.",
	"delete.ask":        "Are you sure you want to delete \"%s\"?",
	"delete.done":       "❌ Task deleted: %s",
	"delete.declined":   "Deletion cancelled.",

	// Flow control
	"flow.discarded":       "ℹ️ Previous input discarded.",
	"flow.expired":         "ℹ️ Your previous input timed out and was discarded.",
	"flow.cancelled":       "Cancelled.",
	"flow.nothing":         "Nothing to cancel.",
	"flow.nothing_to_skip": "Nothing to skip right now.",
	"reset.done":           "State reset.",

	// Errors
	"error.not_found":      "❌ Task not found.",
	"error.list_not_found": "❌ Your task list was not found. Restart the bot with /start.",
	"error.internal":       "⚠️ Something went wrong. Please try again.",
	"error.title_empty":    "❌ The title cannot be empty. Try again:",
	"error.stale":          "❌ That button is no longer active. Start again from the menu.",
	"error.unknown":        "I did not understand that. Choose an action from the menu or send /help.",

	// Console / TUI
	"ui.title":           "Taskbot",
	"ui.welcome":         "Type /help for commands. Pick menu options with #N.",
	"ui.bad_choice":      "No option %s in the last menu.",
	"ui.goodbye":         "Bye.",
	"panel.chat":         "Chat",
	"panel.reminders":    "Reminders",
	"sidebar.active":     "Active",
	"sidebar.completed":  "Completed",
	"sidebar.user":       "User",
	"input.placeholder":  "Type a message or #N to pick an option...",
	"keys.send":          "send",
	"keys.panel":         "panel",
	"keys.quit":          "quit",
	"keys.clear":         "clear",
	"keys.scroll":        "scroll",
	"status.ready":       "Ready",
	"status.delivered":   "Reminder delivered",
	"status.interrupted": "Interrupted",
}
