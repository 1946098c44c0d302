// Package control exposes the engine's operational surface over a Telegram
// bot: status, recent records, forced ticks, resume, replay, and stop. Only
// the
// configured admin chats may drive it.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/otpwatch/internal/engine"
	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/roasbeef/otpwatch/internal/store"
)

const defaultRecentLimit = 5

// reply is one outgoing message produced by a command.
type reply struct {
	text     string
	markdown bool
}

// Controller runs the Telegram command loop against an engine.
type Controller struct {
	bot      *tgbotapi.BotAPI
	engine   *engine.Engine
	adminIDs map[int64]struct{}
	log      *slog.Logger
}

// NewController builds the command controller. Updates from senders outside
// adminIDs are dropped without a response.
func NewController(bot *tgbotapi.BotAPI, eng *engine.Engine,
	adminIDs []int64, log *slog.Logger) *Controller {

	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &Controller{
		bot:      bot,
		engine:   eng,
		adminIDs: admins,
		log:      log,
	}
}

// Run consumes bot updates until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30

	updates := c.bot.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil ||
				!update.Message.IsCommand() {

				continue
			}

			c.handle(ctx, update.Message)
		}
	}
}

// handle gates, dispatches, and answers one command message.
func (c *Controller) handle(ctx context.Context, msg *tgbotapi.Message) {
	fromID := msg.From.ID
	if _, ok := c.adminIDs[fromID]; !ok {
		c.log.WarnContext(ctx, "Ignoring command from non-admin",
			"from_id", fromID,
			"command", msg.Command(),
		)

		return
	}

	for _, r := range c.dispatch(ctx, msg.Command(), msg.CommandArguments()) {
		out := tgbotapi.NewMessage(msg.Chat.ID, r.text)
		if r.markdown {
			out.ParseMode = tgbotapi.ModeMarkdownV2
		}

		if _, err := c.bot.Send(out); err != nil {
			c.log.ErrorContext(ctx, "Unable to answer command",
				"command", msg.Command(),
				"err", err,
			)
		}
	}
}

// dispatch maps one command to engine calls and renders the replies.
func (c *Controller) dispatch(ctx context.Context, command,
	args string) []reply {

	switch command {
	case "start", "help":
		return []reply{{text: helpText()}}

	case "status":
		return []reply{{text: formatStatus(c.engine.Status())}}

	case "recent":
		return c.recent(ctx, args)

	case "last":
		rec, err := c.engine.GetLatest(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return []reply{{text: "No records observed yet."}}
		}
		if err != nil {
			return errorReply(err)
		}

		return []reply{recordReply(rec)}

	case "tick":
		err := c.engine.ForceTick(ctx)
		switch {
		case errors.Is(err, engine.ErrBusy):
			return []reply{{text: "A tick is already running, " +
				"try again in a moment."}}

		case errors.Is(err, engine.ErrHalted):
			return []reply{{text: "Engine is halted; /resume " +
				"it first."}}

		case err != nil:
			return errorReply(err)
		}

		return []reply{{text: "Tick completed."}}

	case "stop":
		err := c.engine.Stop(ctx)
		if errors.Is(err, engine.ErrNotStarted) {
			return []reply{{text: "Engine is not running."}}
		}
		if err != nil {
			return errorReply(err)
		}

		return []reply{{text: "Engine stopped. Restart the " +
			"process to monitor again."}}

	case "resume":
		err := c.engine.Resume(ctx)
		if errors.Is(err, engine.ErrNotHalted) {
			return []reply{{text: "Engine is not halted."}}
		}
		if err != nil {
			return errorReply(err)
		}

		return []reply{{text: "Engine resumed."}}

	case "replay":
		rec, err := c.engine.Replay(ctx, strings.TrimSpace(args))
		if errors.Is(err, store.ErrRecordNotFound) {
			return []reply{{text: "No such record."}}
		}
		if err != nil {
			return errorReply(err)
		}

		return []reply{{text: fmt.Sprintf(
			"Replayed record %s.", rec.Fingerprint[:12],
		)}}

	default:
		return []reply{{text: fmt.Sprintf(
			"Unknown command /%s.\n\n%s", command, helpText(),
		)}}
	}
}

// recent renders the /recent reply, honoring an optional count argument.
func (c *Controller) recent(ctx context.Context, args string) []reply {
	limit := defaultRecentLimit
	if args = strings.TrimSpace(args); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 || n > 25 {
			return []reply{{
				text: "Usage: /recent [1-25]",
			}}
		}
		limit = n
	}

	records, err := c.engine.ListRecent(ctx, limit)
	if err != nil {
		return errorReply(err)
	}
	if len(records) == 0 {
		return []reply{{text: "No records observed yet."}}
	}

	replies := make([]reply, 0, len(records))
	for _, rec := range records {
		replies = append(replies, recordReply(rec))
	}

	return replies
}

func recordReply(rec record.Record) reply {
	msg := notify.FormatRecord(rec)

	return reply{text: msg.Text, markdown: msg.Markdown}
}

func errorReply(err error) []reply {
	return []reply{{text: "Command failed: " + err.Error()}}
}

func helpText() string {
	return strings.TrimSpace(`
otpwatch commands:
/status - engine and session state
/recent [n] - last n observed records
/last - most recent record
/tick - poll upstream right now
/resume - clear a halt and continue polling
/stop - shut the poll loop down
/replay [fingerprint] - re-send a stored record
`)
}

// formatStatus renders the status snapshot as plain text.
func formatStatus(status engine.Status) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Engine: %s\n", status.EngineID)
	fmt.Fprintf(&b, "State: %s\n", status.RunState)
	fmt.Fprintf(&b, "Session: %s\n", status.SessionState)

	status.HaltReason.WhenSome(func(reason string) {
		fmt.Fprintf(&b, "Halt reason: %s\n", reason)
	})
	status.StartedAt.WhenSome(func(at time.Time) {
		fmt.Fprintf(&b, "Uptime: %s\n",
			time.Since(at).Round(time.Second))
	})

	fmt.Fprintf(&b, "Last tick: %s\n", formatTime(status.LastTickAt))
	fmt.Fprintf(&b, "Last success: %s\n", formatTime(status.LastSuccessAt))

	if status.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "Consecutive failures: %d\n",
			status.ConsecutiveFailures)
	}
	status.LastError.WhenSome(func(errText string) {
		fmt.Fprintf(&b, "Last error: %s\n", errText)
	})

	fmt.Fprintf(&b, "Observed: %d\n", status.ObservedTotal)
	fmt.Fprintf(&b, "Delivered: %d\n", status.DeliveredTotal)
	fmt.Fprintf(&b, "Failed: %d", status.FailedTotal)

	return b.String()
}

func formatTime(opt fn.Option[time.Time]) string {
	out := "never"
	opt.WhenSome(func(at time.Time) {
		out = at.UTC().Format(time.RFC3339)
	})

	return out
}
