package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "alarmd/pkg/logx"
)

type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

// Callbacks route alert-action taps back into the engine. These arrive with
// no foreground context present, which is exactly the path the background
// monitor exists for.
type Callbacks struct {
	// OnSnooze requests a snooze; it returns an error when the limit is hit.
	OnSnooze func(ctx context.Context) error
	// OnOpen acknowledges that the user opened the ring surface.
	OnOpen func(ctx context.Context)
}

// Telegram delivers alerts to a private chat and feeds "Open"/"Snooze"
// button taps back through Callbacks.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	cb  Callbacks

	bot       *tele.Bot
	menu      *tele.ReplyMarkup
	btnOpen   tele.Btn
	btnSnooze tele.Btn
}

func NewTelegram(cfg TelegramConfig, cb Callbacks, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram: token and chat_id are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	t := &Telegram{cfg: cfg, log: log, cb: cb, bot: bot}
	t.menu = &tele.ReplyMarkup{}
	t.btnOpen = t.menu.Data("Open", "alarm_open")
	t.btnSnooze = t.menu.Data("Snooze", "alarm_snooze")
	t.menu.Inline(t.menu.Row(t.btnOpen, t.btnSnooze))
	t.registerHandlers()
	return t, nil
}

func (t *Telegram) registerHandlers() {
	t.bot.Handle(&t.btnOpen, func(c tele.Context) error {
		t.log.Info("telegram: open tapped")
		if t.cb.OnOpen != nil {
			t.cb.OnOpen(context.Background())
		}
		return c.Respond(&tele.CallbackResponse{Text: "Opening the alarm…"})
	})
	t.bot.Handle(&t.btnSnooze, func(c tele.Context) error {
		if t.cb.OnSnooze == nil {
			return c.Respond(&tele.CallbackResponse{Text: "Snooze is not available."})
		}
		if err := t.cb.OnSnooze(context.Background()); err != nil {
			t.log.Info("telegram: snooze rejected", logx.Err(err))
			return c.Respond(&tele.CallbackResponse{Text: "No snoozes left — time to get up!", ShowAlert: true})
		}
		return c.Respond(&tele.CallbackResponse{Text: "Snoozed."})
	})
}

// Start runs the long-polling loop until ctx is canceled. Run it under the
// supervisor; a dead poller only disables button taps, alerts still go out.
func (t *Telegram) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	t.bot.Start()
	return nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(_ context.Context, a Alert) error {
	text := fmt.Sprintf("*%s*\n%s", escapeMD(a.Title), escapeMD(a.Body))
	_, err := t.bot.Send(tele.ChatID(t.cfg.ChatID), text, t.menu, tele.ModeMarkdown)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func escapeMD(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(s)
}
