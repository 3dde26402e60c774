package notifier

import (
	"context"
	"testing"
)

func TestCommandReplyIgnoresPlainChatter(t *testing.T) {
	bot := &TelegramBot{}
	if reply, ok := bot.commandReply(context.Background(), "how are the positions?"); ok {
		t.Fatalf("plain chatter answered: %q", reply)
	}
}

func TestCommandReplyRoutesCommands(t *testing.T) {
	bot := &TelegramBot{}
	bot.SetCommandHandler(func(_ context.Context, command string) string {
		return "handled " + command
	})

	reply, ok := bot.commandReply(context.Background(), "/ping")
	if !ok || reply != "pong" {
		t.Fatalf("ping reply: %q ok=%v", reply, ok)
	}

	reply, ok = bot.commandReply(context.Background(), "/"+CommandOpenPositions)
	if !ok || reply != "handled "+CommandOpenPositions {
		t.Fatalf("openpositions reply: %q ok=%v", reply, ok)
	}

	reply, ok = bot.commandReply(context.Background(), "/selfdestruct")
	if !ok || reply != "Unknown command /selfdestruct" {
		t.Fatalf("unknown command reply: %q ok=%v", reply, ok)
	}
}
