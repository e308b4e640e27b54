package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"beautybot/internal/booking"
	"beautybot/internal/db"
	"beautybot/internal/export"
	"beautybot/internal/llm"
	"beautybot/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type access int

const (
	accessAll access = iota
	accessStaff
	accessAdmin
)

// commandFunc returns the text to answer with. An empty text means the handler
// has already replied.
type commandFunc func(ctx context.Context, msg *tgbotapi.Message, args []string) (string, error)

type command struct {
	access      access
	description string
	run         commandFunc
}

const (
	startText = "Привет! Я бот для записи в салон красоты.\n" +
		"Напишите «Записаться», чтобы начать, или задайте любой вопрос!"

	userHelp = "Доступные команды:\n" +
		"/start - начать работу с ботом\n" +
		"/help - показать это сообщение\n" +
		"/book - записаться на услугу\n" +
		"/service_list - список услуг\n" +
		"/spec_list - список специалистов\n" +
		"/my_bookings - мои записи\n" +
		"/cancel - прервать запись\n\n" +
		"Чтобы записаться, напишите «Записаться» или название услуги.\n" +
		"Для отмены записи напишите «Отменить запись»."

	managerHelp = "\n\nКоманды менеджера:\n" +
		"/register_manager - получать уведомления о записях\n" +
		"/stop_notifications - отключить уведомления\n" +
		"/notifications <new_booking|cancellation|reschedule> <on|off>"

	staffHelp = "\n\nКоманды персонала:\n" +
		"/spec_free_time <id_специалиста>\n" +
		"/spec_appointments <id_специалиста>\n" +
		"/spec_cancel_booking <id_записи>\n" +
		"/spec_add_service <id_специалиста> <id_услуги>\n" +
		"/add_freetime <id_специалиста> <id_услуги> <ГГГГ-ММ-ДД ЧЧ:ММ | описание>\n" +
		"/remove_freetime <id_специалиста> <id_услуги> <ГГГГ-ММ-ДД ЧЧ:ММ>\n" +
		"/bookings - все активные записи\n" +
		"/stats - статистика\n" +
		"/export_bookings - выгрузка в Excel"

	adminHelp = "\n\nКоманды администратора:\n" +
		"/add_service <название> <цена>\n" +
		"/add_specialist <имя> [ЧЧ:ММ-ЧЧ:ММ]\n" +
		"/add_manager <chat_id> [username]\n" +
		"/set_service_duration <id_услуги> <минуты>"

	msgNotManager = "Вы не зарегистрированы как менеджер. Используйте /register_manager."
)

func (b *Bot) commandTable() map[string]command {
	return map[string]command{
		"start":        {accessAll, "Начать работу с ботом", b.cmdStart},
		"help":         {accessAll, "Список команд", b.cmdHelp},
		"book":         {accessAll, "Записаться на услугу", b.cmdBook},
		"cancel":       {accessAll, "Прервать запись", b.cmdCancel},
		"service_list": {accessAll, "Список услуг", b.cmdServiceList},
		"spec_list":    {accessAll, "Список специалистов", b.cmdSpecList},
		"my_bookings":  {accessAll, "Мои записи", b.cmdMyBookings},

		"register_manager":   {accessAll, "", b.cmdRegisterManager},
		"stop_notifications": {accessAll, "", b.cmdStopNotifications},
		"notifications":      {accessAll, "", b.cmdNotifications},

		"add_service":          {accessAdmin, "", b.cmdAddService},
		"add_specialist":       {accessAdmin, "", b.cmdAddSpecialist},
		"add_manager":          {accessAdmin, "", b.cmdAddManager},
		"set_service_duration": {accessAdmin, "", b.cmdSetServiceDuration},

		"spec_free_time":      {accessStaff, "", b.cmdSpecFreeTime},
		"spec_appointments":   {accessStaff, "", b.cmdSpecAppointments},
		"spec_cancel_booking": {accessStaff, "", b.cmdSpecCancelBooking},
		"spec_add_service":    {accessStaff, "", b.cmdSpecAddService},
		"add_freetime":        {accessStaff, "", b.cmdAddFreetime},
		"remove_freetime":     {accessStaff, "", b.cmdRemoveFreetime},
		"bookings":            {accessStaff, "", b.cmdBookings},
		"stats":               {accessStaff, "", b.cmdStats},
		"export_bookings":     {accessStaff, "", b.cmdExportBookings},
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.Command()
	cmd, ok := b.commands[name]
	if !ok {
		b.reply(ctx, msg.Chat.ID, "Неизвестная команда. Список команд: /help")
		return
	}
	if !b.permitted(ctx, cmd.access, msg.From.ID) {
		zerolog.Ctx(ctx).Info().Str("command", name).Msg("command denied")
		b.reply(ctx, msg.Chat.ID, msgForbidden)
		return
	}

	text, err := cmd.run(ctx, msg, strings.Fields(msg.CommandArguments()))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("command", name).Msg("command failed")
		b.reply(ctx, msg.Chat.ID, booking.MsgApology)
		return
	}
	if text != "" {
		b.reply(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) permitted(ctx context.Context, a access, userID int64) bool {
	switch a {
	case accessAdmin:
		return b.isAdmin(userID)
	case accessStaff:
		return b.isStaff(ctx, userID)
	default:
		return true
	}
}

func (b *Bot) cmdStart(_ context.Context, _ *tgbotapi.Message, _ []string) (string, error) {
	return startText, nil
}

func (b *Bot) cmdHelp(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	text := userHelp + managerHelp
	if b.isStaff(ctx, msg.From.ID) {
		text += staffHelp
	}
	if b.isAdmin(msg.From.ID) {
		text += adminHelp
	}
	return text, nil
}

func (b *Bot) cmdBook(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	reply, err := b.engine.Start(ctx, msg.From.ID)
	if err != nil {
		return "", err
	}
	b.sendReply(ctx, msg.Chat.ID, reply)
	return "", nil
}

func (b *Bot) cmdCancel(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	reply, err := b.engine.Reset(ctx, msg.From.ID)
	if err != nil {
		return "", err
	}
	b.sendReply(ctx, msg.Chat.ID, reply)
	return "", nil
}

func (b *Bot) cmdServiceList(ctx context.Context, _ *tgbotapi.Message, _ []string) (string, error) {
	services, err := b.db.ListServices(ctx)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	return booking.FormatServiceList(services), nil
}

func (b *Bot) cmdSpecList(ctx context.Context, _ *tgbotapi.Message, _ []string) (string, error) {
	specs, err := b.db.ListSpecialists(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("list specialists: %w", err)
	}
	return booking.FormatSpecialistList(specs), nil
}

func (b *Bot) cmdMyBookings(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	views, err := b.db.ListUserActiveBookings(ctx, msg.From.ID, b.now())
	if err != nil {
		return "", fmt.Errorf("list user bookings: %w", err)
	}
	if len(views) == 0 {
		return "У вас нет активных записей.", nil
	}
	return "Ваши записи:\n" + booking.FormatBookings(views, b.loc) +
		"\n\nЧтобы отменить ближайшую запись, напишите «Отменить запись».", nil
}

func (b *Bot) cmdRegisterManager(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	err := b.db.RegisterManager(ctx, msg.Chat.ID, msg.From.UserName)
	if errors.Is(err, db.ErrManagerExists) {
		return "Вы уже зарегистрированы как менеджер.", nil
	}
	if err != nil {
		return "", err
	}
	return "Вы зарегистрированы как менеджер. Уведомления о записях включены.", nil
}

func (b *Bot) cmdStopNotifications(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	err := b.db.DeactivateManager(ctx, msg.Chat.ID)
	if errors.Is(err, db.ErrNotFound) {
		return msgNotManager, nil
	}
	if err != nil {
		return "", err
	}
	return "Уведомления отключены. Чтобы включить снова, используйте /register_manager.", nil
}

func (b *Bot) cmdNotifications(ctx context.Context, msg *tgbotapi.Message, args []string) (string, error) {
	const usage = "Использование: /notifications <new_booking|cancellation|reschedule> <on|off>"
	if len(args) != 2 {
		return usage, nil
	}
	kind, err := model.ParseNotificationType(strings.ToLower(args[0]))
	if err != nil {
		return usage, nil
	}
	var on bool
	switch strings.ToLower(args[1]) {
	case "on":
		on = true
	case "off":
	default:
		return usage, nil
	}

	err = b.db.SetNotificationToggle(ctx, msg.Chat.ID, kind, on)
	if errors.Is(err, db.ErrNotFound) {
		return msgNotManager, nil
	}
	if err != nil {
		return "", err
	}
	state := "выключены"
	if on {
		state = "включены"
	}
	return fmt.Sprintf("Уведомления %s %s.", kind, state), nil
}

func (b *Bot) cmdAddService(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	if len(args) < 2 {
		return "Использование: /add_service <название_услуги> <цена>\nПример: /add_service Массаж ног 500", nil
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(args[len(args)-1], ",", "."), 64)
	if err != nil || price < 0 {
		return "Цена должна быть числом (например, 500 или 499.99).", nil
	}
	title := strings.Join(args[:len(args)-1], " ")

	svc, created, err := b.db.CreateService(ctx, title, price)
	if err != nil {
		return "", err
	}
	if !created {
		return fmt.Sprintf("Услуга '%s' уже существует (id=%d).", svc.Title, svc.ID), nil
	}
	return fmt.Sprintf("Услуга '%s' успешно добавлена (id=%d, цена = %s).", svc.Title, svc.ID, svc.PriceLabel()), nil
}

func (b *Bot) cmdAddSpecialist(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	const usage = "Использование: /add_specialist <имя_специалиста> [ЧЧ:ММ-ЧЧ:ММ]\nПример: /add_specialist Анна Иванова 10:00-19:00"
	if len(args) < 1 {
		return usage, nil
	}
	var sp model.Specialist
	if start, end, ok := parseWorkHours(args[len(args)-1]); ok {
		sp.WorkStart, sp.WorkEnd = start, end
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return usage, nil
	}
	sp.Name = strings.Join(args, " ")

	out, created, err := b.db.CreateSpecialist(ctx, sp)
	if err != nil {
		return "", err
	}
	if !created {
		return fmt.Sprintf("Специалист '%s' уже существует (id=%d).", out.Name, out.ID), nil
	}
	return fmt.Sprintf("Специалист '%s' успешно добавлен (id=%d).", out.Name, out.ID), nil
}

func (b *Bot) cmdAddManager(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	if len(args) < 1 {
		return "Использование: /add_manager <chat_id> [username]", nil
	}
	chatID, ok := parseID(args[0])
	if !ok {
		return "chat_id должен быть числом.", nil
	}
	var username string
	if len(args) > 1 {
		username = strings.TrimPrefix(args[1], "@")
	}

	err := b.db.RegisterManager(ctx, chatID, username)
	if errors.Is(err, db.ErrManagerExists) {
		return fmt.Sprintf("Менеджер chat_id=%d уже зарегистрирован.", chatID), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Менеджер (chat_id=%d, user=%s) успешно добавлен.", chatID, username), nil
}

func (b *Bot) cmdSetServiceDuration(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	if len(args) != 2 {
		return "Использование: /set_service_duration <id_услуги> <минуты>", nil
	}
	id, ok := parseID(args[0])
	minutes, err := strconv.Atoi(args[1])
	if !ok || err != nil || minutes <= 0 {
		return "Нужно ввести числа: /set_service_duration 2 60", nil
	}

	err = b.db.SetServiceDuration(ctx, id, minutes)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Sprintf("Услуга с id=%d не найдена.", id), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Длительность услуги (id=%d) установлена на %d мин.", id, minutes), nil
}

func (b *Bot) cmdSpecFreeTime(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	sp, text, err := b.specialistArg(ctx, args, "/spec_free_time 3")
	if sp == nil {
		return text, err
	}
	slots, err := b.db.ListSpecialistFreeSlots(ctx, sp.ID, b.now())
	if err != nil {
		return "", fmt.Errorf("list free slots: %w", err)
	}
	if len(slots) == 0 {
		return fmt.Sprintf("У специалиста %s (id=%d) нет свободного времени.", sp.Name, sp.ID), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Свободные слоты для %s (id=%d):\n", sp.Name, sp.ID)
	for _, s := range slots {
		fmt.Fprintf(&sb, "\n🕐 %s — %s", s.Label(b.loc), s.ServiceTitle)
	}
	return sb.String(), nil
}

func (b *Bot) cmdSpecAppointments(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	sp, text, err := b.specialistArg(ctx, args, "/spec_appointments 3")
	if sp == nil {
		return text, err
	}
	views, err := b.db.ListSpecialistBookings(ctx, sp.ID, b.now())
	if err != nil {
		return "", fmt.Errorf("list specialist bookings: %w", err)
	}
	if len(views) == 0 {
		return fmt.Sprintf("У %s (id=%d) нет активных записей.", sp.Name, sp.ID), nil
	}
	return fmt.Sprintf("Активные записи для %s (id=%d):\n\n%s", sp.Name, sp.ID, b.formatStaffBookings(views)), nil
}

// specialistArg loads the specialist named by the first argument. A nil specialist
// comes with the text to answer.
func (b *Bot) specialistArg(ctx context.Context, args []string, example string) (*model.Specialist, string, error) {
	if len(args) < 1 {
		return nil, "Укажите ID специалиста. Пример: " + example, nil
	}
	id, ok := parseID(args[0])
	if !ok {
		return nil, "Укажите корректный ID специалиста (число). Пример: " + example, nil
	}
	sp, err := b.db.GetSpecialist(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Sprintf("Специалист с id=%d не найден.", id), nil
	}
	if err != nil {
		return nil, "", err
	}
	return sp, "", nil
}

func (b *Bot) cmdSpecCancelBooking(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	if len(args) < 1 {
		return "Укажите ID брони для отмены. Пример: /spec_cancel_booking 42", nil
	}
	id, ok := parseID(args[0])
	if !ok {
		return "Укажите корректный ID брони (число). Пример: /spec_cancel_booking 42", nil
	}

	view, err := b.engine.CancelBooking(ctx, id, "staff")
	switch {
	case errors.Is(err, db.ErrNotFound):
		return fmt.Sprintf("Запись #%d не найдена.", id), nil
	case errors.Is(err, db.ErrBookingNotActive):
		return fmt.Sprintf("Запись #%d уже отменена.", id), nil
	case err != nil:
		return "", err
	}

	b.tellClient(ctx, view.UserID, fmt.Sprintf("Ваша запись отменена салоном: %s.\nЧтобы выбрать другое время, напишите «Записаться».",
		booking.FormatBookingLine(*view, b.loc)))
	return fmt.Sprintf("Запись #%d отменена, слот снова свободен.", id), nil
}

func (b *Bot) cmdSpecAddService(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	if len(args) != 2 {
		return "Укажите ID специалиста и ID услуги. Пример: /spec_add_service 3 2", nil
	}
	specID, ok1 := parseID(args[0])
	servID, ok2 := parseID(args[1])
	if !ok1 || !ok2 {
		return "Ожидались числовые ID. Пример: /spec_add_service 3 2", nil
	}

	linked, err := b.db.LinkSpecialistService(ctx, specID, servID)
	if errors.Is(err, db.ErrNotFound) {
		return "Специалист или услуга не найдены.", nil
	}
	if err != nil {
		return "", err
	}
	if !linked {
		return fmt.Sprintf("Услуга id=%d уже привязана к специалисту id=%d.", servID, specID), nil
	}
	return fmt.Sprintf("Услуга id=%d привязана к специалисту id=%d.", servID, specID), nil
}

func (b *Bot) cmdAddFreetime(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	const usage = "Использование: /add_freetime <id_специалиста> <id_услуги> <ГГГГ-ММ-ДД ЧЧ:ММ | описание>\n" +
		"Например: /add_freetime 3 2 завтра с 10 до 14"
	if len(args) < 3 {
		return usage, nil
	}
	specID, ok1 := parseID(args[0])
	servID, ok2 := parseID(args[1])
	if !ok1 || !ok2 {
		return usage, nil
	}
	svc, err := b.db.GetService(ctx, servID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Sprintf("Услуга с id=%d не найдена.", servID), nil
	}
	if err != nil {
		return "", err
	}

	text := strings.Join(args[2:], " ")
	now := b.now()
	var times []time.Time
	if at, err := time.ParseInLocation(model.SlotLayout, text, b.loc); err == nil {
		if !at.After(now) {
			return "Это время уже прошло.", nil
		}
		times = []time.Time{at}
	} else {
		if b.freeTime == nil {
			return "Укажите время в формате ГГГГ-ММ-ДД ЧЧ:ММ.", nil
		}
		times, err = b.freeTime.ResolveFreeTime(ctx, text, svc.Duration(), now)
		if llm.IsReplyError(err) {
			return "Не удалось распознать время. Укажите его в формате ГГГГ-ММ-ДД ЧЧ:ММ.", nil
		}
		if err != nil {
			return "", err
		}
	}

	var added, existed []string
	for _, at := range times {
		ok, err := b.db.AddSlot(ctx, specID, servID, at)
		if errors.Is(err, db.ErrNotLinked) {
			return fmt.Sprintf("Специалист id=%d не оказывает услугу id=%d. Привяжите её: /spec_add_service %d %d",
				specID, servID, specID, servID), nil
		}
		if err != nil {
			return "", err
		}
		label := at.In(b.loc).Format(model.SlotLayout)
		if ok {
			added = append(added, label)
		} else {
			existed = append(existed, label)
		}
	}

	var sb strings.Builder
	if len(added) > 0 {
		sb.WriteString("Добавлены свободные слоты: " + strings.Join(added, ", "))
	}
	if len(existed) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Уже были опубликованы: " + strings.Join(existed, ", "))
	}
	return sb.String(), nil
}

func (b *Bot) cmdRemoveFreetime(ctx context.Context, _ *tgbotapi.Message, args []string) (string, error) {
	const usage = "Использование: /remove_freetime <id_специалиста> <id_услуги> <ГГГГ-ММ-ДД ЧЧ:ММ>"
	if len(args) != 4 {
		return usage, nil
	}
	specID, ok1 := parseID(args[0])
	servID, ok2 := parseID(args[1])
	at, err := time.ParseInLocation(model.SlotLayout, args[2]+" "+args[3], b.loc)
	if !ok1 || !ok2 || err != nil {
		return usage, nil
	}

	err = b.db.RemoveSlot(ctx, specID, servID, at)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return "Такого свободного слота нет.", nil
	case errors.Is(err, db.ErrSlotNotAvailable):
		return "Этот слот уже забронирован. Сначала отмените запись: /spec_cancel_booking", nil
	case err != nil:
		return "", err
	}
	return "Удалён свободный слот: " + at.Format(model.SlotLayout), nil
}

func (b *Bot) cmdBookings(ctx context.Context, _ *tgbotapi.Message, _ []string) (string, error) {
	views, err := b.db.ListActiveBookings(ctx, b.now())
	if err != nil {
		return "", fmt.Errorf("list active bookings: %w", err)
	}
	if len(views) == 0 {
		return "Нет активных записей.", nil
	}
	return "Активные записи:\n\n" + b.formatStaffBookings(views), nil
}

func (b *Bot) cmdStats(ctx context.Context, _ *tgbotapi.Message, _ []string) (string, error) {
	start, end := b.today()
	st, err := b.db.Stats(ctx, start, end)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📊 Статистика записей:\n\nВсего записей: %d\nАктивных: %d\nОтменённых: %d\nНа сегодня: %d",
		st.Total, st.Active, st.Cancelled, st.Today), nil
}

func (b *Bot) cmdExportBookings(ctx context.Context, msg *tgbotapi.Message, _ []string) (string, error) {
	start, end := b.today()
	views, err := b.db.ListActiveBookings(ctx, start)
	if err != nil {
		return "", fmt.Errorf("list active bookings: %w", err)
	}
	st, err := b.db.Stats(ctx, start, end)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, views, st, b.loc); err != nil {
		return "", fmt.Errorf("export bookings: %w", err)
	}
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  export.FileName(b.now().In(b.loc)),
		Bytes: buf.Bytes(),
	})
	doc.Caption = fmt.Sprintf("Активные записи: %d", len(views))
	if _, err := b.tg.Send(doc); err != nil {
		return "", fmt.Errorf("send export: %w", err)
	}
	return "", nil
}

func (b *Bot) formatStaffBookings(views []model.BookingView) string {
	blocks := make([]string, 0, len(views))
	for _, v := range views {
		client := v.UserName
		if client == "" {
			client = "без имени"
		}
		blocks = append(blocks, fmt.Sprintf("📅 %s\n   Клиент: %s (id %d)", booking.FormatBookingLine(v, b.loc), client, v.UserID))
	}
	return strings.Join(blocks, "\n\n")
}

// tellClient messages a client directly. Failures only get logged.
func (b *Bot) tellClient(ctx context.Context, userID int64, text string) {
	if err := b.direct(ctx, userID, text); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("client_id", userID).Msg("notify client")
	}
}

// today returns the bounds of the current salon day.
func (b *Bot) today() (time.Time, time.Time) {
	now := b.now().In(b.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc)
	return start, start.AddDate(0, 0, 1)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	return id, err == nil && id > 0
}

// parseWorkHours accepts "HH:MM-HH:MM" with the start before the end.
func parseWorkHours(s string) (string, string, bool) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return "", "", false
	}
	start, err1 := time.Parse("15:04", from)
	end, err2 := time.Parse("15:04", to)
	if err1 != nil || err2 != nil || !start.Before(end) {
		return "", "", false
	}
	return start.Format("15:04"), end.Format("15:04"), true
}
