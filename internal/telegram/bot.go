package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/karwadev/bannerbot/internal/config"
	"github.com/karwadev/bannerbot/internal/models"
	"github.com/karwadev/bannerbot/internal/service"
)

// LedgerReader is the read-only slice of the ledger the bot needs for the
// status surfaces (/start, /commands, /manage stats).
type LedgerReader interface {
	Counter(ctx context.Context, userID int64) (*models.UsageCounter, error)
	Stats(ctx context.Context, now time.Time) (*models.UsageStats, error)
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	access     *service.AccessService
	generation *service.GenerationService
	ledger     LedgerReader
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, access *service.AccessService, generation *service.GenerationService, ledger LedgerReader) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		users:      users,
		access:     access,
		generation: generation,
		ledger:     ledger,
		state:      NewStateManager(cfg.SessionTTL),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if err := b.users.Touch(ctx, msg.From.ID, msg.From.UserName); err != nil {
		b.log.Error("touch user", "err", err)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch {
	case session.Step == StepAwaitingText && msg.Text != "":
		b.runGeneration(ctx, msg, session, nil, msg.Text)
	case session.Step == StepAwaitingImage && len(msg.Photo) > 0:
		image, err := b.downloadPhoto(ctx, msg.Photo[len(msg.Photo)-1])
		if err != nil {
			b.log.Error("download photo", "err", err)
			b.sendText(msg.Chat.ID, "Could not download that image, please send it again.")
			return
		}
		b.runGeneration(ctx, msg, session, image, msg.Caption)
	case session.Step == StepAwaitingImage:
		b.sendText(msg.Chat.ID, "Please send a photo (optionally with an instruction as its caption).")
	default:
		b.sendText(msg.Chat.ID, "Pick a command to get started: /ascii, /image or /generate.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "ascii":
		b.promptFormat(msg.Chat.ID, models.ModeASCII, "ASCII Art Generator")
	case "image":
		b.promptFormat(msg.Chat.ID, models.ModeEnhance, "Image Enhancement")
	case "generate":
		b.promptFormat(msg.Chat.ID, models.ModeGenerate, "Image Generator")
	case "commands":
		b.handleCommands(ctx, msg)
	case "help":
		b.sendText(msg.Chat.ID, helpText)
	case "manage":
		b.handleManage(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Unknown command. See /commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.users.Get(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("get user", "err", err)
		return
	}
	name := displayName(msg.From)

	if !b.access.IsOwner(msg.From.ID) && (user == nil || !user.Authorized) {
		contact := "the owner"
		if b.cfg.OwnerUsername != "" {
			contact = "@" + b.cfg.OwnerUsername
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf(
			"Access restricted.\n\nHey %s! This bot is private and requires owner approval.\nTo request access, contact %s.", name, contact))
		return
	}

	text := fmt.Sprintf(
		"Welcome, %s!\n\nCreate banners (3:1) and profile pictures (1:1) with AI.\n\nCommands:\n/ascii — text to ASCII art\n/image — enhance or extend an image\n/generate — image from a description\n/commands — status and full list\n/help — usage guide",
		name)
	if !b.access.IsOwner(msg.From.ID) {
		if quota := b.quotaLine(ctx, msg.From.ID); quota != "" {
			text += "\n\n" + quota
		}
	}
	b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleCommands(ctx context.Context, msg *tgbotapi.Message) {
	text := "Commands:\n/ascii — text to ASCII art\n/image — enhance or extend an image\n/generate — image from a description\n/help — usage guide"
	if b.access.IsOwner(msg.From.ID) {
		text += "\n\nOwner:\n/manage add <id> [username]\n/manage remove <id>\n/manage list\n/manage stats"
	} else if quota := b.quotaLine(ctx, msg.From.ID); quota != "" {
		text += "\n\n" + quota
	}
	b.sendText(msg.Chat.ID, text)
}

// quotaLine renders the once-per-window limit status for regular users.
func (b *Bot) quotaLine(ctx context.Context, userID int64) string {
	counter, err := b.ledger.Counter(ctx, userID)
	if err != nil {
		b.log.Error("read counter", "err", err)
		return ""
	}
	if counter == nil || counter.LastGenerationAt == nil {
		return "Limit: 1 generation per 24h. You have one available."
	}
	elapsed := time.Since(*counter.LastGenerationAt)
	if elapsed >= b.cfg.RateLimitWindow {
		return "Limit: 1 generation per 24h. You have one available."
	}
	return fmt.Sprintf("Limit: 1 generation per 24h. Next available in %s.", humanDuration(b.cfg.RateLimitWindow-elapsed))
}

func (b *Bot) handleManage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.access.IsOwner(msg.From.ID) {
		b.sendText(msg.Chat.ID, "This command is restricted to the bot owner.")
		return
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		b.sendText(msg.Chat.ID, "Usage: /manage add <id> [username] | remove <id> | list | stats")
		return
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			b.sendText(msg.Chat.ID, "Usage: /manage add <id> [username]")
			return
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.sendText(msg.Chat.ID, "User id must be numeric.")
			return
		}
		username := ""
		if len(args) > 2 {
			username = strings.TrimPrefix(args[2], "@")
		}
		if err := b.access.Allow(ctx, id, username, msg.From.ID, time.Now().UTC()); err != nil {
			b.log.Error("allow user", "err", err)
			b.sendText(msg.Chat.ID, "Failed to add user.")
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("User %d authorized.", id))
	case "remove":
		if len(args) < 2 {
			b.sendText(msg.Chat.ID, "Usage: /manage remove <id>")
			return
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.sendText(msg.Chat.ID, "User id must be numeric.")
			return
		}
		if err := b.access.Revoke(ctx, id); err != nil {
			if errors.Is(err, service.ErrCannotRevokeOwner) {
				b.sendText(msg.Chat.ID, "The owner cannot be removed.")
				return
			}
			b.log.Error("revoke user", "err", err)
			b.sendText(msg.Chat.ID, "Failed to remove user.")
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("User %d deauthorized.", id))
	case "list":
		users, err := b.users.List(ctx)
		if err != nil {
			b.log.Error("list users", "err", err)
			b.sendText(msg.Chat.ID, "Failed to list users.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Users:\n")
		for _, u := range users {
			flag := "revoked"
			if u.Authorized {
				flag = "allowed"
			}
			if u.IsOwner {
				flag = "owner"
			}
			name := u.Username
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(&sb, "%d  @%s  %s\n", u.ID, name, flag)
		}
		b.sendText(msg.Chat.ID, sb.String())
	case "stats":
		stats, err := b.ledger.Stats(ctx, time.Now().UTC())
		if err != nil {
			b.log.Error("usage stats", "err", err)
			b.sendText(msg.Chat.ID, "Failed to load stats.")
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf(
			"Today: %d generations by %d users (top: %s, %d)\nAll time: %d generations by %d users (top: %s, %d)",
			stats.TotalToday, stats.ActiveToday, orDash(stats.TopUserToday), stats.TopUserTodayN,
			stats.TotalAllTime, stats.UsersAllTime, orDash(stats.TopUserAllTime), stats.TopUserAllTimeN))
	default:
		b.sendText(msg.Chat.ID, "Usage: /manage add <id> [username] | remove <id> | list | stats")
	}
}

func (b *Bot) promptFormat(chatID int64, mode models.Mode, title string) {
	b.state.Set(chatID, &Session{Mode: mode, Step: StepAwaitingFormat})
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("3:1 Banner", string(mode)+"|"+string(models.TargetBanner)),
			tgbotapi.NewInlineKeyboardButtonData("1:1 Profile", string(mode)+"|"+string(models.TargetProfile)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "cancel"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, title+"\n\nChoose your output format:")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if cb.Data == "cancel" {
		b.state.Reset(chatID)
		b.ack(cb, "Cancelled")
		b.sendText(chatID, "Cancelled. Pick a command when you are ready.")
		return
	}

	modeStr, targetStr, ok := strings.Cut(cb.Data, "|")
	mode, target := models.Mode(modeStr), models.AspectTarget(targetStr)
	if !ok || !mode.Valid() || !target.Valid() {
		b.ack(cb, "Unknown selection")
		return
	}

	session := &Session{Mode: mode, Target: target}
	if mode == models.ModeEnhance {
		session.Step = StepAwaitingImage
		b.state.Set(chatID, session)
		b.ack(cb, "Format selected")
		b.sendText(chatID, fmt.Sprintf("Format: %s\n\nNow send the image you want to transform. Add an instruction as the photo caption if you want one.", target))
		return
	}
	session.Step = StepAwaitingText
	b.state.Set(chatID, session)
	b.ack(cb, "Format selected")
	if mode == models.ModeASCII {
		b.sendText(chatID, fmt.Sprintf("Format: %s\n\nNow send the text to turn into ASCII art.", target))
	} else {
		b.sendText(chatID, fmt.Sprintf("Format: %s\n\nNow describe the image you want.", target))
	}
}

// runGeneration hands one validated request to the orchestrator and renders
// the verdict back into the chat.
func (b *Bot) runGeneration(ctx context.Context, msg *tgbotapi.Message, session *Session, image []byte, prompt string) {
	b.state.Reset(msg.Chat.ID)
	b.sendText(msg.Chat.ID, "Working on it...")

	resp, err := b.generation.Handle(ctx, service.Request{
		UserID:   msg.From.ID,
		Username: msg.From.UserName,
		Mode:     session.Mode,
		Prompt:   prompt,
		Image:    image,
		Target:   session.Target,
	})
	if err != nil {
		b.log.Error("generation failed", "user", msg.From.ID, "mode", session.Mode, "err", err)
		switch {
		case errors.Is(err, service.ErrModelFailure):
			b.sendText(msg.Chat.ID, "Generation failed on the provider side. Your daily limit was not used — please try again.")
		case errors.Is(err, service.ErrGeometryFailure):
			b.sendText(msg.Chat.ID, "Generation produced unusable output. Your daily limit was not used — please try again.")
		default:
			b.sendText(msg.Chat.ID, "Something went wrong, please try again later.")
		}
		return
	}

	if !resp.Allowed {
		switch resp.Reason {
		case models.OutcomeUnauthorized:
			b.sendText(msg.Chat.ID, "You are not authorized to use this bot. Contact the owner for access.")
		case models.OutcomeRateLimited:
			b.sendText(msg.Chat.ID, fmt.Sprintf("Daily limit reached. Try again in %s.", humanDuration(resp.RetryAfter)))
		default:
			b.sendText(msg.Chat.ID, "Request denied.")
		}
		return
	}

	photo := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("%s_%s.png", session.Mode, strings.ReplaceAll(string(session.Target), ":", "x")),
		Bytes: resp.Image,
	})
	photo.Caption = fmt.Sprintf("Done! Format: %s", session.Target)
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send photo", "err", err)
		b.sendText(msg.Chat.ID, "Generated, but sending the image failed. Please try again.")
	}
}

func (b *Bot) downloadPhoto(ctx context.Context, photo tgbotapi.PhotoSize) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: photo.FileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download file: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "err", err)
	}
}

func displayName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.UserName != "" {
		return u.UserName
	}
	return "there"
}

func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "under a minute"
	}
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

const helpText = `Usage guide

/ascii — pick a format, then send text; you get it rendered as ASCII art.
/image — pick a format, then send a photo; the bot extends it to the exact ratio. Add a caption to steer the result.
/generate — pick a format, then describe the image you want.

Formats: 3:1 banner (1500x500) and 1:1 profile picture (1000x1000).
Every output is delivered at the exact ratio, no stretching.

Limit: 1 generation per 24 hours. Failed generations do not count.`
