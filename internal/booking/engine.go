package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beautybot/internal/db"
	"beautybot/internal/llm"
	"beautybot/internal/metrics"
	"beautybot/internal/model"

	"github.com/rs/zerolog"
)

const (
	MsgApology = "Извините, произошла ошибка. Попробуйте позже."
	MsgRetry   = "Извините, я не понял. Попробуйте сформулировать иначе."

	msgAskYesNo          = "Пожалуйста, ответьте 'да' или 'нет'."
	msgDialogueCancelled = "Запись отменена. Чтобы начать заново, напишите «записаться»."
	msgKeepBookings      = "Хорошо, ваши текущие записи сохранены."
	msgNoServices        = "Пока нет доступных услуг."
	msgNoBookings        = "У вас нет активных записей."
	msgStaleSelection    = "Выбранная услуга или специалист больше недоступны. Начните запись заново."
	msgIdleHelp          = "Чтобы записаться, напишите «записаться» или название услуги. Список услуг: /service_list"
)

// Store is the persistence the dialogue needs.
type Store interface {
	ListServices(ctx context.Context) ([]model.Service, error)
	GetService(ctx context.Context, id int64) (*model.Service, error)
	ListSpecialists(ctx context.Context, serviceID int64) ([]model.Specialist, error)
	GetSpecialist(ctx context.Context, id int64) (*model.Specialist, error)
	ListFreeSlots(ctx context.Context, specialistID, serviceID int64, from time.Time) ([]model.TimeSlot, error)
	FindAlternativeSpecialist(ctx context.Context, serviceID, excludeID int64, from time.Time) (*model.Specialist, error)
	BookSlot(ctx context.Context, userID, slotID int64) (*model.BookingView, error)
	CancelBooking(ctx context.Context, bookingID int64) (*model.BookingView, error)
	ListUserActiveBookings(ctx context.Context, userID int64, from time.Time) ([]model.BookingView, error)
	GetDialogueState(ctx context.Context, userID int64) (*model.DialogueState, error)
	SaveDialogueState(ctx context.Context, st *model.DialogueState) error
	DeleteDialogueState(ctx context.Context, userID int64) error
}

// Notifier fans a message out to subscribed managers.
type Notifier interface {
	Notify(ctx context.Context, kind model.NotificationType, text string) int
}

// Assistant interprets text the literal matchers could not handle.
type Assistant interface {
	Interpret(ctx context.Context, dc llm.DialogueContext, text string) (*llm.Interpretation, error)
	DetermineIntent(ctx context.Context, text string) (*llm.IntentResult, error)
}

// Reply is the answer to one user message. Options are offered as keyboard buttons.
type Reply struct {
	Text    string
	Options []string
}

type Config struct {
	Store Store
	// Assistant, Fallback and Notifier are optional.
	Assistant Assistant
	Fallback  FallbackResolver
	Notifier  Notifier
	Location  *time.Location
	Now       func() time.Time
}

type actionFunc func(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error)

// Engine runs the booking dialogue for one message at a time. All dialogue state
// lives in the store, so one Engine serves every user concurrently.
type Engine struct {
	store     Store
	assistant Assistant
	notifier  Notifier
	resolver  *Resolver
	fsm       *FSM
	loc       *time.Location
	now       func() time.Time
	actions   map[llm.Action]actionFunc
}

func NewEngine(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		store:     cfg.Store,
		assistant: cfg.Assistant,
		notifier:  cfg.Notifier,
		resolver:  NewResolver(cfg.Fallback),
		fsm:       NewFSM(),
		loc:       cfg.Location,
		now:       cfg.Now,
	}
	e.actions = map[llm.Action]actionFunc{
		llm.ActionListServices:     e.actListServices,
		llm.ActionSelectService:    e.actSelectService,
		llm.ActionSelectSpecialist: e.actSelectSpecialist,
		llm.ActionSelectTime:       e.actSelectTime,
		llm.ActionConfirmBooking:   e.actConfirmBooking,
		llm.ActionCancelBooking:    e.actCancelBooking,
		llm.ActionAnswerQuestion:   e.actAnswerQuestion,
	}
	return e
}

// Location is the salon time zone used for every label the engine renders.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Handle advances the user's dialogue with text. Returned errors are infrastructure
// failures; everything the user got wrong is answered with a re-prompt.
func (e *Engine) Handle(ctx context.Context, userID int64, text string) (Reply, error) {
	text = strings.TrimSpace(text)

	st, err := e.store.GetDialogueState(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("load dialogue state: %w", err)
	}
	if st == nil {
		return e.handleIdle(ctx, &model.DialogueState{UserID: userID}, text)
	}

	state, err := ParseState(st.Step)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("resetting dialogue")
		if err := e.store.DeleteDialogueState(ctx, userID); err != nil {
			return Reply{}, fmt.Errorf("reset dialogue: %w", err)
		}
		return e.handleIdle(ctx, &model.DialogueState{UserID: userID}, text)
	}

	if isCancelWord(text) {
		return e.Reset(ctx, userID)
	}

	switch state {
	case StateSelectService:
		return e.onSelectService(ctx, st, text)
	case StateSelectSpecialist:
		return e.onSelectSpecialist(ctx, st, text)
	case StateSelectTime:
		return e.onSelectTime(ctx, st, text)
	case StateConfirm:
		return e.onConfirm(ctx, st, text)
	default:
		return e.onConfirmAdditional(ctx, st, text)
	}
}

// Reset drops the user's dialogue.
func (e *Engine) Reset(ctx context.Context, userID int64) (Reply, error) {
	if err := e.store.DeleteDialogueState(ctx, userID); err != nil {
		return Reply{}, fmt.Errorf("delete dialogue state: %w", err)
	}
	metrics.IncTransition("cancelled")
	return Reply{Text: msgDialogueCancelled}, nil
}

// Start opens a dialogue as if the user asked to book.
func (e *Engine) Start(ctx context.Context, userID int64) (Reply, error) {
	st, err := e.store.GetDialogueState(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("load dialogue state: %w", err)
	}
	if st != nil {
		return e.reprompt(ctx, st, "")
	}
	return e.enter(ctx, &model.DialogueState{UserID: userID}, nil)
}

// CancelBooking cancels a booking, frees its slot and tells the managers.
func (e *Engine) CancelBooking(ctx context.Context, bookingID int64, by string) (*model.BookingView, error) {
	view, err := e.store.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	metrics.IncBookingCancelled(by)
	e.notify(ctx, model.NotifyCancellation, cancellationNotice(view, e.loc))
	return view, nil
}

func (e *Engine) handleIdle(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	// A bare cancel word only leaves the dialogue; bookings need an explicit request.
	if isCancelWord(text) {
		return e.Reset(ctx, st.UserID)
	}
	if wantsCancellation(text) {
		return e.cancelNearest(ctx, st.UserID)
	}

	services, err := e.store.ListServices(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list services: %w", err)
	}
	for i := range services {
		if strings.EqualFold(services[i].Title, text) {
			return e.enter(ctx, st, &services[i])
		}
	}
	if hasBookingKeyword(text) {
		svc := findService(services, text)
		return e.enter(ctx, st, svc)
	}

	if e.assistant == nil {
		return Reply{Text: msgIdleHelp}, nil
	}
	intent, err := e.assistant.DetermineIntent(ctx, text)
	if err != nil {
		return Reply{}, err
	}
	switch intent.Intent {
	case llm.IntentBooking:
		return e.enter(ctx, st, findService(services, intent.Service))
	case llm.IntentCancel:
		return e.cancelNearest(ctx, st.UserID)
	case llm.IntentPriceQuestion:
		return Reply{Text: FormatServiceList(services)}, nil
	case llm.IntentSpecialistQuestion:
		specs, err := e.store.ListSpecialists(ctx, 0)
		if err != nil {
			return Reply{}, fmt.Errorf("list specialists: %w", err)
		}
		return Reply{Text: FormatSpecialistList(specs)}, nil
	}
	return e.interpret(ctx, st, text)
}

// enter starts a dialogue, asking first when the user already has bookings.
func (e *Engine) enter(ctx context.Context, st *model.DialogueState, svc *model.Service) (Reply, error) {
	active, err := e.store.ListUserActiveBookings(ctx, st.UserID, e.now())
	if err != nil {
		return Reply{}, fmt.Errorf("list user bookings: %w", err)
	}
	if len(active) > 0 {
		if svc != nil {
			st.ServiceID = svc.ID
		}
		if err := e.moveTo(ctx, st, StateConfirmAdditional); err != nil {
			return Reply{}, err
		}
		text := StatePrompts[StateConfirmAdditional] + "\n\nВаши записи:\n" + FormatBookings(active, e.loc)
		return Reply{Text: text, Options: yesNo}, nil
	}
	if svc != nil {
		return e.toSpecialistStep(ctx, st, svc, "")
	}
	return e.toServiceStep(ctx, st, "")
}

func (e *Engine) toServiceStep(ctx context.Context, st *model.DialogueState, prefix string) (Reply, error) {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list services: %w", err)
	}
	if len(services) == 0 {
		if err := e.finish(ctx, st, "no_services"); err != nil {
			return Reply{}, err
		}
		return Reply{Text: withPrefix(prefix, msgNoServices)}, nil
	}
	st.ServiceID, st.SpecialistID, st.SlotID, st.ChosenTime = 0, 0, 0, nil
	if err := e.moveTo(ctx, st, StateSelectService); err != nil {
		return Reply{}, err
	}
	return servicePrompt(services, prefix), nil
}

func (e *Engine) onSelectService(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list services: %w", err)
	}
	svc := findService(services, text)
	if svc == nil {
		return e.interpretOr(ctx, st, text, "Не удалось найти такую услугу.")
	}
	return e.toSpecialistStep(ctx, st, svc, "")
}

func (e *Engine) toSpecialistStep(ctx context.Context, st *model.DialogueState, svc *model.Service, prefix string) (Reply, error) {
	specs, err := e.store.ListSpecialists(ctx, svc.ID)
	if err != nil {
		return Reply{}, fmt.Errorf("list specialists: %w", err)
	}
	if len(specs) == 0 {
		return e.toServiceStep(ctx, st, withPrefix(prefix, fmt.Sprintf("Для услуги «%s» пока нет специалистов.", svc.Title)))
	}

	st.ServiceID, st.SpecialistID, st.SlotID, st.ChosenTime = svc.ID, 0, 0, nil
	if err := e.moveTo(ctx, st, StateSelectSpecialist); err != nil {
		return Reply{}, err
	}
	return e.specialistPrompt(ctx, svc, specs, prefix)
}

func (e *Engine) specialistPrompt(ctx context.Context, svc *model.Service, specs []model.Specialist, prefix string) (Reply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Услуга «%s». %s", svc.Title, StatePrompts[StateSelectSpecialist])
	options := make([]string, 0, len(specs))
	now := e.now()
	for _, sp := range specs {
		slots, err := e.store.ListFreeSlots(ctx, sp.ID, svc.ID, now)
		if err != nil {
			return Reply{}, fmt.Errorf("list free slots: %w", err)
		}
		options = append(options, sp.Name)
		fmt.Fprintf(&b, "\n\n%s:", sp.Name)
		if len(slots) == 0 {
			b.WriteString("\n  нет свободного времени")
			continue
		}
		for i, s := range slots {
			if i == maxListedSlots {
				fmt.Fprintf(&b, "\n  ... и ещё %d", len(slots)-i)
				break
			}
			fmt.Fprintf(&b, "\n  %s", s.Label(e.loc))
		}
	}
	return Reply{Text: withPrefix(prefix, b.String()), Options: options}, nil
}

func (e *Engine) onSelectSpecialist(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	svc, _, err := e.loadSelection(ctx, st)
	if errors.Is(err, db.ErrNotFound) {
		return e.stale(ctx, st)
	}
	if err != nil {
		return Reply{}, err
	}
	specs, err := e.store.ListSpecialists(ctx, svc.ID)
	if err != nil {
		return Reply{}, fmt.Errorf("list specialists: %w", err)
	}

	c, ok, err := e.resolver.Resolve(ctx, text, specialistCandidates(specs))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("specialist fallback resolver failed")
	}
	if !ok {
		return e.interpretOr(ctx, st, text, "Не удалось найти такого специалиста.")
	}
	return e.toTimeStep(ctx, st, svc, specialistByID(specs, c.ID), "")
}

// toTimeStep lists the specialist's live free slots. With none left it stays on
// the specialist step and points at a colleague who has time.
func (e *Engine) toTimeStep(ctx context.Context, st *model.DialogueState, svc *model.Service, sp *model.Specialist, prefix string) (Reply, error) {
	now := e.now()
	slots, err := e.store.ListFreeSlots(ctx, sp.ID, svc.ID, now)
	if err != nil {
		return Reply{}, fmt.Errorf("list free slots: %w", err)
	}

	if len(slots) == 0 {
		msg := fmt.Sprintf("У специалиста %s нет свободного времени на «%s».", sp.Name, svc.Title)
		alt, err := e.store.FindAlternativeSpecialist(ctx, svc.ID, sp.ID, now)
		switch {
		case err == nil:
			msg += fmt.Sprintf(" Свободное время есть у специалиста %s.", alt.Name)
		case !errors.Is(err, db.ErrNotFound):
			return Reply{}, fmt.Errorf("find alternative specialist: %w", err)
		}
		return e.toSpecialistStep(ctx, st, svc, withPrefix(prefix, msg))
	}

	st.SpecialistID, st.SlotID, st.ChosenTime = sp.ID, 0, nil
	if err := e.moveTo(ctx, st, StateSelectTime); err != nil {
		return Reply{}, err
	}
	return timePrompt(sp, slots, e.loc, prefix), nil
}

func (e *Engine) onSelectTime(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	svc, sp, err := e.loadSelection(ctx, st)
	if errors.Is(err, db.ErrNotFound) || (err == nil && sp == nil) {
		return e.stale(ctx, st)
	}
	if err != nil {
		return Reply{}, err
	}

	slots, err := e.store.ListFreeSlots(ctx, sp.ID, svc.ID, e.now())
	if err != nil {
		return Reply{}, fmt.Errorf("list free slots: %w", err)
	}
	if len(slots) == 0 {
		return e.toTimeStep(ctx, st, svc, sp, "")
	}

	slot, ok := ParseTimeInput(text, slots, e.loc)
	if !ok {
		miss := "Не удалось распознать время."
		if !singleDate(slots, e.loc) {
			miss = "Укажите дату и время полностью, например " + slots[0].Label(e.loc) + "."
		}
		return e.interpretOr(ctx, st, text, miss)
	}
	return e.toConfirmStep(ctx, st, svc, sp, slot)
}

func (e *Engine) toConfirmStep(ctx context.Context, st *model.DialogueState, svc *model.Service, sp *model.Specialist, slot model.TimeSlot) (Reply, error) {
	at := slot.SlotTime
	st.SlotID, st.ChosenTime = slot.ID, &at
	if err := e.moveTo(ctx, st, StateConfirm); err != nil {
		return Reply{}, err
	}
	return confirmPrompt(svc, sp, at, e.loc, ""), nil
}

func (e *Engine) onConfirm(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	switch {
	case IsAffirmative(text):
		return e.book(ctx, st)
	case IsNegative(text):
		if err := e.finish(ctx, st, "declined"); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgDialogueCancelled}, nil
	}
	return Reply{Text: msgAskYesNo, Options: yesNo}, nil
}

func (e *Engine) book(ctx context.Context, st *model.DialogueState) (Reply, error) {
	view, err := e.store.BookSlot(ctx, st.UserID, st.SlotID)
	if errors.Is(err, db.ErrSlotNotAvailable) {
		metrics.IncBookingCreated("slot_taken")
		svc, sp, err := e.loadSelection(ctx, st)
		if errors.Is(err, db.ErrNotFound) || (err == nil && sp == nil) {
			return e.stale(ctx, st)
		}
		if err != nil {
			return Reply{}, err
		}
		return e.toTimeStep(ctx, st, svc, sp, "К сожалению, это время уже занято.")
	}
	if err != nil {
		metrics.IncBookingCreated("error")
		return Reply{}, fmt.Errorf("book slot %d: %w", st.SlotID, err)
	}
	metrics.IncBookingCreated("ok")

	if err := e.finish(ctx, st, "booked"); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("booking_id", view.ID).Msg("clear dialogue after booking")
	}
	e.notify(ctx, model.NotifyNewBooking, newBookingNotice(view, e.loc))

	return Reply{Text: fmt.Sprintf("✅ Вы успешно записаны!\nУслуга: %s\nСпециалист: %s\nВремя: %s",
		view.ServiceTitle, view.SpecialistName, view.DateTime.In(e.loc).Format(model.SlotLayout))}, nil
}

func (e *Engine) onConfirmAdditional(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	switch {
	case IsAffirmative(text):
		if st.ServiceID != 0 {
			svc, err := e.store.GetService(ctx, st.ServiceID)
			if err == nil {
				return e.toSpecialistStep(ctx, st, svc, "")
			}
			if !errors.Is(err, db.ErrNotFound) {
				return Reply{}, fmt.Errorf("get service: %w", err)
			}
		}
		return e.toServiceStep(ctx, st, "")
	case IsNegative(text):
		if err := e.finish(ctx, st, "declined"); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgKeepBookings}, nil
	}
	return Reply{Text: msgAskYesNo, Options: yesNo}, nil
}

func (e *Engine) cancelNearest(ctx context.Context, userID int64) (Reply, error) {
	active, err := e.store.ListUserActiveBookings(ctx, userID, e.now())
	if err != nil {
		return Reply{}, fmt.Errorf("list user bookings: %w", err)
	}
	if len(active) == 0 {
		return Reply{Text: msgNoBookings}, nil
	}
	view, err := e.CancelBooking(ctx, active[0].ID, "user")
	if err != nil {
		return Reply{}, fmt.Errorf("cancel booking %d: %w", active[0].ID, err)
	}
	return Reply{Text: "Ваша запись отменена:\n" + FormatBookingLine(*view, e.loc)}, nil
}

// reprompt repeats the current step without changing it.
func (e *Engine) reprompt(ctx context.Context, st *model.DialogueState, prefix string) (Reply, error) {
	switch State(st.Step) {
	case StateIdle:
		return Reply{Text: withPrefix(prefix, msgIdleHelp)}, nil
	case StateConfirmAdditional:
		return Reply{Text: withPrefix(prefix, StatePrompts[StateConfirmAdditional]), Options: yesNo}, nil
	case StateSelectService:
		services, err := e.store.ListServices(ctx)
		if err != nil {
			return Reply{}, fmt.Errorf("list services: %w", err)
		}
		return servicePrompt(services, prefix), nil
	}

	svc, sp, err := e.loadSelection(ctx, st)
	if errors.Is(err, db.ErrNotFound) {
		return e.stale(ctx, st)
	}
	if err != nil {
		return Reply{}, err
	}

	switch State(st.Step) {
	case StateSelectSpecialist:
		specs, err := e.store.ListSpecialists(ctx, svc.ID)
		if err != nil {
			return Reply{}, fmt.Errorf("list specialists: %w", err)
		}
		return e.specialistPrompt(ctx, svc, specs, prefix)
	case StateSelectTime:
		if sp == nil {
			return e.stale(ctx, st)
		}
		slots, err := e.store.ListFreeSlots(ctx, sp.ID, svc.ID, e.now())
		if err != nil {
			return Reply{}, fmt.Errorf("list free slots: %w", err)
		}
		if len(slots) == 0 {
			return e.toTimeStep(ctx, st, svc, sp, prefix)
		}
		return timePrompt(sp, slots, e.loc, prefix), nil
	default:
		if sp == nil || st.ChosenTime == nil {
			return e.stale(ctx, st)
		}
		return confirmPrompt(svc, sp, *st.ChosenTime, e.loc, prefix), nil
	}
}

func (e *Engine) interpretOr(ctx context.Context, st *model.DialogueState, text, miss string) (Reply, error) {
	if e.assistant == nil {
		return e.reprompt(ctx, st, miss)
	}
	return e.interpret(ctx, st, text)
}

// interpret asks the assistant and runs the action it picked.
func (e *Engine) interpret(ctx context.Context, st *model.DialogueState, text string) (Reply, error) {
	dc, err := e.dialogueContext(ctx, st)
	if err != nil {
		return Reply{}, err
	}
	in, err := e.assistant.Interpret(ctx, dc, text)
	if llm.IsReplyError(err) {
		return Reply{Text: MsgRetry}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	act, ok := e.actions[in.Action]
	if !ok {
		return Reply{Text: MsgRetry}, nil
	}
	return act(ctx, st, in)
}

func (e *Engine) dialogueContext(ctx context.Context, st *model.DialogueState) (llm.DialogueContext, error) {
	dc := llm.DialogueContext{UserID: st.UserID, Step: st.Step}

	var svc *model.Service
	if st.ServiceID != 0 {
		s, err := e.store.GetService(ctx, st.ServiceID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return dc, fmt.Errorf("get service: %w", err)
		}
		if s != nil {
			svc = s
			dc.Service = s.Title
		}
	}
	if st.SpecialistID != 0 {
		sp, err := e.store.GetSpecialist(ctx, st.SpecialistID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return dc, fmt.Errorf("get specialist: %w", err)
		}
		if sp != nil {
			dc.Specialist = sp.Name
		}
	}
	if st.ChosenTime != nil {
		dc.Time = st.ChosenTime.In(e.loc).Format(model.SlotLayout)
	}

	switch {
	case State(st.Step) == StateSelectTime && svc != nil && st.SpecialistID != 0:
		slots, err := e.store.ListFreeSlots(ctx, st.SpecialistID, svc.ID, e.now())
		if err != nil {
			return dc, fmt.Errorf("list free slots: %w", err)
		}
		for _, s := range slots {
			dc.Options = append(dc.Options, s.Label(e.loc))
		}
	case State(st.Step) == StateSelectSpecialist && svc != nil:
		specs, err := e.store.ListSpecialists(ctx, svc.ID)
		if err != nil {
			return dc, fmt.Errorf("list specialists: %w", err)
		}
		for _, sp := range specs {
			dc.Options = append(dc.Options, sp.Name)
		}
	default:
		services, err := e.store.ListServices(ctx)
		if err != nil {
			return dc, fmt.Errorf("list services: %w", err)
		}
		for _, s := range services {
			dc.Options = append(dc.Options, fmt.Sprintf("%s (%s)", s.Title, s.PriceLabel()))
		}
	}
	return dc, nil
}

func (e *Engine) actListServices(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list services: %w", err)
	}
	if State(st.Step) == StateSelectService {
		return servicePrompt(services, in.Response), nil
	}
	return Reply{Text: withPrefix(in.Response, FormatServiceList(services))}, nil
}

func (e *Engine) actSelectService(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list services: %w", err)
	}
	svc := findService(services, in.Extracted.Service)
	if svc == nil {
		return e.answer(ctx, st, in, "Не удалось найти такую услугу.")
	}
	if State(st.Step) == StateIdle {
		return e.enter(ctx, st, svc)
	}
	return e.toSpecialistStep(ctx, st, svc, "")
}

func (e *Engine) actSelectSpecialist(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	switch State(st.Step) {
	case StateSelectSpecialist, StateSelectTime, StateConfirm:
	default:
		return e.answer(ctx, st, in, "")
	}
	svc, _, err := e.loadSelection(ctx, st)
	if errors.Is(err, db.ErrNotFound) {
		return e.stale(ctx, st)
	}
	if err != nil {
		return Reply{}, err
	}
	specs, err := e.store.ListSpecialists(ctx, svc.ID)
	if err != nil {
		return Reply{}, fmt.Errorf("list specialists: %w", err)
	}
	c, ok := Match(in.Extracted.Specialist, specialistCandidates(specs))
	if !ok {
		return e.answer(ctx, st, in, "Не удалось найти такого специалиста.")
	}
	return e.toTimeStep(ctx, st, svc, specialistByID(specs, c.ID), "")
}

func (e *Engine) actSelectTime(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	switch State(st.Step) {
	case StateSelectTime, StateConfirm:
	default:
		return e.answer(ctx, st, in, "")
	}
	svc, sp, err := e.loadSelection(ctx, st)
	if errors.Is(err, db.ErrNotFound) || (err == nil && sp == nil) {
		return e.stale(ctx, st)
	}
	if err != nil {
		return Reply{}, err
	}
	slots, err := e.store.ListFreeSlots(ctx, sp.ID, svc.ID, e.now())
	if err != nil {
		return Reply{}, fmt.Errorf("list free slots: %w", err)
	}
	slot, ok := ParseTimeInput(in.Extracted.Time, slots, e.loc)
	if !ok {
		return e.answer(ctx, st, in, "Не удалось распознать время.")
	}
	return e.toConfirmStep(ctx, st, svc, sp, slot)
}

func (e *Engine) actConfirmBooking(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	if State(st.Step) != StateConfirm {
		return e.answer(ctx, st, in, "")
	}
	return e.book(ctx, st)
}

func (e *Engine) actCancelBooking(ctx context.Context, st *model.DialogueState, _ *llm.Interpretation) (Reply, error) {
	if State(st.Step) != StateIdle {
		return e.Reset(ctx, st.UserID)
	}
	return e.cancelNearest(ctx, st.UserID)
}

func (e *Engine) actAnswerQuestion(ctx context.Context, st *model.DialogueState, in *llm.Interpretation) (Reply, error) {
	return e.answer(ctx, st, in, "")
}

// answer shows the assistant's text and repeats the current step.
func (e *Engine) answer(ctx context.Context, st *model.DialogueState, in *llm.Interpretation, miss string) (Reply, error) {
	if State(st.Step) == StateIdle {
		if in.Response == "" {
			return Reply{Text: MsgRetry}, nil
		}
		return Reply{Text: in.Response}, nil
	}
	prefix := in.Response
	if prefix == "" {
		prefix = miss
	}
	return e.reprompt(ctx, st, prefix)
}

// loadSelection returns the chosen service and, when set, the chosen specialist.
func (e *Engine) loadSelection(ctx context.Context, st *model.DialogueState) (*model.Service, *model.Specialist, error) {
	if st.ServiceID == 0 {
		return nil, nil, db.ErrNotFound
	}
	svc, err := e.store.GetService(ctx, st.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	if st.SpecialistID == 0 {
		return svc, nil, nil
	}
	sp, err := e.store.GetSpecialist(ctx, st.SpecialistID)
	if err != nil {
		return nil, nil, err
	}
	return svc, sp, nil
}

func (e *Engine) stale(ctx context.Context, st *model.DialogueState) (Reply, error) {
	if err := e.finish(ctx, st, "stale"); err != nil {
		return Reply{}, err
	}
	return Reply{Text: msgStaleSelection}, nil
}

func (e *Engine) moveTo(ctx context.Context, st *model.DialogueState, to State) error {
	from := State(st.Step)
	if !e.fsm.CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	st.Step = string(to)
	st.UpdatedAt = e.now()
	if err := e.store.SaveDialogueState(ctx, st); err != nil {
		return fmt.Errorf("save dialogue state: %w", err)
	}
	if from != to {
		metrics.IncTransition(string(to))
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, st *model.DialogueState, outcome string) error {
	if State(st.Step) == StateIdle {
		return nil
	}
	if err := e.store.DeleteDialogueState(ctx, st.UserID); err != nil {
		return fmt.Errorf("delete dialogue state: %w", err)
	}
	st.Step = string(StateIdle)
	metrics.IncTransition(outcome)
	return nil
}

func (e *Engine) notify(ctx context.Context, kind model.NotificationType, text string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, kind, text)
}

func findService(services []model.Service, text string) *model.Service {
	cands := make([]Candidate, len(services))
	for i, s := range services {
		cands[i] = Candidate{ID: s.ID, Name: s.Title}
	}
	c, ok := Match(text, cands)
	if !ok {
		return nil
	}
	for i := range services {
		if services[i].ID == c.ID {
			return &services[i]
		}
	}
	return nil
}

func specialistCandidates(specs []model.Specialist) []Candidate {
	out := make([]Candidate, len(specs))
	for i, sp := range specs {
		out[i] = Candidate{ID: sp.ID, Name: sp.Name}
	}
	return out
}

func specialistByID(specs []model.Specialist, id int64) *model.Specialist {
	for i := range specs {
		if specs[i].ID == id {
			return &specs[i]
		}
	}
	return nil
}
