package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
	"github.com/Rudii-25/WhatsBotX/internal/scheduler"
)

func (r *Router) registerBuiltins() {
	p := r.opts.Prefix
	for _, c := range []*Command{
		{Name: "help", Description: "Show all commands", Handler: r.handleHelp},
		{Name: "ping", Description: "Check that the bot is alive", Handler: r.handlePing},
		{Name: "status", Description: "Bot and session status", Handler: r.handleStatus},
		{Name: "about", Description: "About this bot", Handler: r.handleAbout},
		{
			Name: "todo", Description: "Manage your todo list", Handler: r.handleTodo,
			Usage: fmt.Sprintf("📋 *Todo Commands:*\n\n• %[1]stodo add <task> - Add new todo\n• %[1]stodo list - Show open todos\n• %[1]stodo done <id> - Mark todo as done\n• %[1]stodo delete <id> - Remove a todo", p),
		},
		{
			Name: "remind", Description: "Set a one-time reminder", Handler: r.handleRemind,
			Usage: fmt.Sprintf("⏰ Usage: %[1]sremind <time> <message>\nExamples:\n• %[1]sremind 30m Stretch\n• %[1]sremind 7pm Gym time\n• %[1]sremind 15:30 Meeting with client\n• %[1]sremind tomorrow Call mom", p),
		},
		{Name: "reminders", Description: "List pending reminders", Handler: r.handleReminders},
		{
			Name: "cancel", Description: "Cancel a reminder", Handler: r.handleCancel,
			Usage: fmt.Sprintf("❌ Usage: %scancel <reminder id>", p),
		},
		{
			Name: "autoreply", Description: "Auto-reply on/off/status", Handler: r.handleAutoReply,
			Usage: fmt.Sprintf("🔄 *Auto-Reply Settings:*\n\n• %[1]sautoreply on - Enable auto-reply\n• %[1]sautoreply off - Disable auto-reply\n• %[1]sautoreply status - Check current status", p),
		},
		{Name: "busy", Description: "Enable busy mode with an optional message", Handler: r.handleBusy},
		{
			Name: "language", Aliases: []string{"lang"}, Description: "Change language (en/hi)", Handler: r.handleLanguage,
			Usage: fmt.Sprintf("🌐 *Language Settings:*\n\n• %[1]slanguage hindi - हिंदी में बदलें\n• %[1]slanguage english - Change to English\n• %[1]slanguage status - Check current language", p),
		},
		{
			Name: "timezone", Aliases: []string{"tz"}, Description: "Show or set your timezone", Handler: r.handleTimezone,
			Usage: fmt.Sprintf("🌍 Usage: %[1]stimezone <Region/City>\nExample: %[1]stimezone Asia/Kolkata", p),
		},
		{Name: "time", Description: "Current time in your timezone", Handler: r.handleTime},
		{Name: "joke", Description: "Random joke", Handler: pickFrom("😄 *Random Joke:*\n\n", jokes)},
		{Name: "quote", Description: "Inspirational quote", Handler: pickFrom("✨ *Inspirational Quote:*\n\n", quotes)},
		{Name: "fact", Description: "Interesting random fact", Handler: pickFrom("🤓 *Did you know?*\n\n", facts)},
	} {
		r.Register(c)
	}
}

// --- Core commands ---

func (r *Router) handleHelp(_ context.Context, req Request) (string, error) {
	tx := textsFor(req.User.Language)
	var b strings.Builder
	b.WriteString(tx.helpTitle + "\n\n" + tx.availableCmds + "\n\n")
	for _, c := range r.Commands() {
		fmt.Fprintf(&b, "%s%s - %s\n", r.opts.Prefix, c.Name, c.Description)
	}
	b.WriteString("\n" + tx.examples + "\n")
	fmt.Fprintf(&b, "• %stodo add Buy groceries\n", r.opts.Prefix)
	fmt.Fprintf(&b, "• %sremind 30m Take a break\n", r.opts.Prefix)
	fmt.Fprintf(&b, "• %slanguage hi\n", r.opts.Prefix)
	return b.String(), nil
}

func (r *Router) handlePing(_ context.Context, _ Request) (string, error) {
	return "🏓 *Pong!*\n\n✅ Bot is responsive and working correctly.", nil
}

func (r *Router) handleStatus(_ context.Context, _ Request) (string, error) {
	uptime := r.now().Sub(r.started).Truncate(time.Second)
	var b strings.Builder
	b.WriteString("🤖 *WhatsBotX Status*\n\n")
	if r.status != nil {
		snap := r.status.Snapshot()
		fmt.Fprintf(&b, "📶 Session: %s\n", snap.State)
		if snap.Identity != "" {
			fmt.Fprintf(&b, "👤 Account: %s\n", snap.Identity)
		}
	}
	fmt.Fprintf(&b, "⏱️ Uptime: %s\n📱 Version: %s", uptime, r.opts.Version)
	return b.String(), nil
}

func (r *Router) handleAbout(_ context.Context, _ Request) (string, error) {
	return "🤖 *About WhatsBotX*\n\n" +
		"WhatsBotX is your personal assistant for WhatsApp.\n\n" +
		"✨ *Features:*\n" +
		"• Todo list management\n" +
		"• Reminders in your own timezone\n" +
		"• Auto-reply and busy mode\n" +
		"• English and Hindi\n\n" +
		fmt.Sprintf("📱 Version: %s\n\nType %shelp for available commands.", r.opts.Version, r.opts.Prefix), nil
}

// --- Todos ---

func (r *Router) handleTodo(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "", domain.ErrBadArguments
	}
	tx := textsFor(req.User.Language)
	uid := req.User.ID

	switch strings.ToLower(req.Args[0]) {
	case "add":
		task := strings.Join(req.Args[1:], " ")
		if task == "" {
			return "", domain.Usage(fmt.Sprintf("❌ Please provide a task to add.\nExample: %stodo add Buy milk", r.opts.Prefix))
		}
		if _, err := r.store.CreateTodo(ctx, uid, task); err != nil {
			return "", err
		}
		return fmt.Sprintf(tx.taskAdded, task), nil

	case "list":
		todos, err := r.store.ListTodos(ctx, uid, false)
		if err != nil {
			return "", err
		}
		if len(todos) == 0 {
			return tx.noTasks, nil
		}
		var b strings.Builder
		b.WriteString("📋 *Your Todos:*\n\n")
		for _, t := range todos {
			fmt.Fprintf(&b, "#%d %s\n", t.ID, t.Task)
		}
		return b.String(), nil

	case "done", "complete":
		id, err := argID(req.Args, fmt.Sprintf("❌ Please provide todo ID.\nExample: %stodo done 1", r.opts.Prefix))
		if err != nil {
			return "", err
		}
		ok, err := r.store.CompleteTodo(ctx, uid, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("todo %d: %w", id, domain.ErrNotFound)
		}
		return "✅ Todo marked as completed!", nil

	case "delete", "remove":
		id, err := argID(req.Args, fmt.Sprintf("❌ Please provide todo ID.\nExample: %stodo delete 1", r.opts.Prefix))
		if err != nil {
			return "", err
		}
		ok, err := r.store.DeleteTodo(ctx, uid, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("todo %d: %w", id, domain.ErrNotFound)
		}
		return "🗑️ Todo deleted.", nil

	default:
		return "", domain.ErrBadArguments
	}
}

// argID parses args[1] as a positive id.
func argID(args []string, usage string) (int64, error) {
	if len(args) < 2 {
		return 0, domain.Usage(usage)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Usage(usage)
	}
	return id, nil
}

// --- Reminders ---

func (r *Router) handleRemind(ctx context.Context, req Request) (string, error) {
	if len(req.Args) < 2 {
		return "", domain.ErrBadArguments
	}
	loc := req.User.Location()
	dueAt, err := domain.ResolveRemindAt(r.now(), req.Args[0], loc)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTooSmall):
			return "", domain.Usage("❌ Reminders must be at least 1 minute away.")
		case errors.Is(err, domain.ErrTooLarge):
			return "", domain.Usage("❌ Reminders can be at most 30 days away.")
		default:
			return "", domain.Usage("❌ Invalid time format. Use formats like: 30m, 1h30m, 7pm, 15:30, tomorrow.")
		}
	}

	text := strings.Join(req.Args[1:], " ")
	rem, err := r.reminders.Schedule(ctx, req.User.ID, text, dueAt)
	if err != nil {
		return "", err
	}
	when, _ := domain.LocalizeTime(rem.DueAt, loc.String())
	return fmt.Sprintf(textsFor(req.User.Language).reminderSet, when, rem.Message, rem.ID), nil
}

func (r *Router) handleReminders(ctx context.Context, req Request) (string, error) {
	list, err := r.reminders.List(ctx, req.User.ID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "⏰ You have no pending reminders.", nil
	}
	tz := req.User.Location().String()
	var b strings.Builder
	b.WriteString("⏰ *Pending Reminders:*\n\n")
	for _, rem := range list {
		when, _ := domain.LocalizeTime(rem.DueAt, tz)
		fmt.Fprintf(&b, "#%d %s - %s\n", rem.ID, when, rem.Message)
	}
	fmt.Fprintf(&b, "\nCancel with %scancel <id>", r.opts.Prefix)
	return b.String(), nil
}

func (r *Router) handleCancel(ctx context.Context, req Request) (string, error) {
	id, err := argID(append([]string{"cancel"}, req.Args...), fmt.Sprintf("❌ Usage: %scancel <reminder id>", r.opts.Prefix))
	if err != nil {
		return "", err
	}
	err = r.reminders.Cancel(ctx, req.User.ID, id)
	if errors.Is(err, scheduler.ErrReminderClosed) {
		return fmt.Sprintf("ℹ️ Reminder #%d was already sent or canceled.", id), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑️ Reminder #%d canceled.", id), nil
}

// --- Auto-reply ---

func (r *Router) handleAutoReply(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "", domain.ErrBadArguments
	}
	tx := textsFor(req.User.Language)
	uid := req.User.ID

	switch strings.ToLower(req.Args[0]) {
	case "on", "enable":
		if err := r.store.SetSetting(ctx, uid, settingAutoReply, "on"); err != nil {
			return "", err
		}
		return tx.autoReplyOn, nil
	case "off", "disable":
		if err := r.store.SetSetting(ctx, uid, settingAutoReply, "off"); err != nil {
			return "", err
		}
		return tx.autoReplyOff, nil
	case "status":
		v, _, err := r.store.GetSetting(ctx, uid, settingAutoReply)
		if err != nil {
			return "", err
		}
		state := "❌ Disabled"
		if v == "on" {
			state = "✅ Enabled"
		}
		return "🔄 Auto-reply is currently: " + state, nil
	default:
		return "", domain.ErrBadArguments
	}
}

func (r *Router) handleBusy(ctx context.Context, req Request) (string, error) {
	tx := textsFor(req.User.Language)
	msg := tx.defaultBusy
	custom := strings.Join(req.Args, " ")
	if custom != "" {
		msg = "🔕 " + custom
	}
	if err := r.store.SetSetting(ctx, req.User.ID, settingAutoReplyText, msg); err != nil {
		return "", err
	}
	if err := r.store.SetSetting(ctx, req.User.ID, settingAutoReply, "on"); err != nil {
		return "", err
	}
	if custom == "" {
		return "🔕 Busy mode activated with default message!", nil
	}
	return fmt.Sprintf("🔕 Busy mode activated with custom message: \"%s\"", custom), nil
}

// --- Preferences ---

func (r *Router) handleLanguage(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "", domain.ErrBadArguments
	}
	var lang string
	switch strings.ToLower(req.Args[0]) {
	case "hi", "hindi":
		lang = "hi"
	case "en", "english":
		lang = "en"
	case "status":
		if req.User.Language == "hi" {
			return "🌐 Current language: Hindi (हिंदी)", nil
		}
		return "🌐 Current language: English", nil
	default:
		return "", domain.ErrBadArguments
	}
	if err := r.store.UpdateUserLanguage(ctx, req.User.ID, lang); err != nil {
		return "", err
	}
	req.User.Language = lang
	return textsFor(lang).languageSet, nil
}

func (r *Router) handleTimezone(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "🌍 Your timezone: " + req.User.Location().String(), nil
	}
	tz, err := domain.ValidateTZ(req.Args[0])
	if err != nil {
		return "", domain.Usage("❌ Invalid timezone. Example: Asia/Kolkata")
	}
	if err := r.store.UpdateUserTimezone(ctx, req.User.ID, tz); err != nil {
		return "", err
	}
	req.User.TZ = tz
	return "🌍 Timezone updated: " + tz, nil
}

func (r *Router) handleTime(_ context.Context, req Request) (string, error) {
	now := r.now().In(req.User.Location())
	return fmt.Sprintf("🕐 *Current Time:*\n\n⏰ %s\n📅 %s\n📆 %s\n🌍 %s",
		now.Format("15:04:05"), now.Format("02 Jan 2006"), now.Format("Monday"), req.User.Location()), nil
}

// --- Fun ---

func pickFrom(title string, pool []string) HandlerFunc {
	return func(context.Context, Request) (string, error) {
		return title + pool[rand.IntN(len(pool))], nil
	}
}
