package websocket

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const commandTimeout = 30 * time.Second

// CommandFunc executes one operator text command and returns the reply
type CommandFunc func(ctx context.Context, line string) string

// CommandHandler routes "command" messages to exec and replies to the sender
type CommandHandler struct {
	exec CommandFunc
}

func NewCommandHandler(exec CommandFunc) *CommandHandler {
	return &CommandHandler{exec: exec}
}

// HandleMessage implements MessageHandler
func (h *CommandHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	if messageType != MessageTypeCommand {
		return fmt.Errorf("unsupported message type %q", messageType)
	}
	line, _ := data["command"].(string)
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("missing command")
	}

	// Commands such as move block for a while; keep the read loop free
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply := h.exec(ctx, line)
		client.SendMessage(&Message{
			Type: MessageTypeCommandResult,
			Data: map[string]any{"command": line, "reply": reply},
		})
	}()
	return nil
}
