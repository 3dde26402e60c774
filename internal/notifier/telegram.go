package notifier

import (
	"context"
	"log"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramBot pushes messages to one chat and dispatches slash commands to a
// registered handler.
type TelegramBot struct {
	bot     *telego.Bot
	chatID  telego.ChatID
	handler CommandHandler
}

// NewTelegramBot connects the bot and registers the command menu.
func NewTelegramBot(ctx context.Context, token string, chatID int64) (*TelegramBot, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, err
	}

	t := &TelegramBot{bot: bot, chatID: tu.ID(chatID)}

	err = bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: CommandPing, Description: "Checks if the bot is alive"},
			{Command: CommandOpenPositions, Description: "Lists the open positions"},
			{Command: CommandPositionInfos, Description: "Lists details of open positions"},
		},
	})
	if err != nil {
		log.Printf("telegram: set commands failed: %v", err)
	}

	return t, nil
}

// SetCommandHandler registers the handler answering operator commands.
// It must be called before Start.
func (t *TelegramBot) SetCommandHandler(fn CommandHandler) {
	t.handler = fn
}

// Start begins long polling for operator commands until ctx is done.
func (t *TelegramBot) Start(ctx context.Context) error {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return err
	}

	go func() {
		for update := range updates {
			t.handleUpdate(ctx, update)
		}
	}()
	return nil
}

// Send pushes one message to the operator chat. Failures are logged only.
func (t *TelegramBot) Send(ctx context.Context, text string) {
	if _, err := t.bot.SendMessage(ctx, tu.Message(t.chatID, text)); err != nil {
		log.Printf("telegram: send failed: %v", err)
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update telego.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("telegram: command handler panic: %v", r)
		}
	}()

	if update.Message == nil || update.Message.Text == "" {
		return
	}
	if reply, ok := t.commandReply(ctx, update.Message.Text); ok && reply != "" {
		t.Send(ctx, reply)
	}
}

// commandReply resolves one chat message to its reply. Plain chatter without
// a leading slash is ignored; only unknown slash commands get a reply.
func (t *TelegramBot) commandReply(ctx context.Context, text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	command := strings.TrimPrefix(text, "/")
	switch command {
	case CommandPing:
		return "pong", true
	case CommandOpenPositions, CommandPositionInfos:
		if t.handler == nil {
			return "", false
		}
		return t.handler(ctx, command), true
	default:
		return "Unknown command " + text, true
	}
}
