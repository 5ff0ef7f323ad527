package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/Zhima-Mochi/diner/internal/application"
	"github.com/Zhima-Mochi/diner/internal/domain/chat"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	assistantService = "assistant-service"
	useCaseChat      = "assistant.chat"
	menuPreamble     = "Here is our menu:\n"

	DefaultMaxHistory = 50
)

type Completer interface {
	Complete(ctx context.Context, messages []chat.Message) (string, error)
}

// MenuSource resolves the catalog a session is currently browsing.
type MenuSource interface {
	ActiveCatalog(ctx context.Context, sessionID string) (*menu.Catalog, error)
}

type ChatInput struct {
	SessionID string
	Message   string
}

type ChatResult struct {
	Reply string
}

var _ application.UseCase[ChatInput, *ChatResult] = (*ChatUseCase)(nil)

// ChatUseCase keeps one conversation per session, seeded with the session's menu.
type ChatUseCase struct {
	sessions   session.Repository
	menus      MenuSource
	completer  Completer
	maxHistory int
	inst       application.Instrumentation
}

func NewChatUseCase(sessions session.Repository, menus MenuSource, completer Completer, maxHistory int, tel observability.Observability) *ChatUseCase {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &ChatUseCase{
		sessions:   sessions,
		menus:      menus,
		completer:  completer,
		maxHistory: maxHistory,
		inst:       application.NewInstrumentation(assistantService, tel),
	}
}

func (uc *ChatUseCase) Execute(ctx context.Context, cmd ChatInput) (_ *ChatResult, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseChat, "Chat",
		attribute.Int("chat.message_length", len(cmd.Message)),
	)
	defer func() { run.End(err) }()

	text := strings.TrimSpace(cmd.Message)
	if text == "" {
		run.Fail("MESSAGE_EMPTY")
		return nil, chat.ErrEmptyMessage
	}

	var history []chat.Message
	sess, err := uc.sessions.Get(ctx, cmd.SessionID)
	switch {
	case err == nil:
		history = sess.History
	case errors.Is(err, session.ErrNotFound):
		err = nil
	default:
		run.Fail("SESSION_LOAD_FAILED")
		return nil, err
	}

	seed, err := uc.seed(ctx, cmd.SessionID)
	if err != nil {
		run.Fail("CATALOG_LOAD_FAILED")
		return nil, err
	}
	user := chat.Message{Role: chat.RoleUser, Content: text}
	prompt := append(withSeed(history, seed), user)

	reply, err := uc.completer.Complete(ctx, chat.Trim(prompt, uc.maxHistory))
	if err != nil {
		run.Fail("COMPLETION_FAILED")
		return nil, err
	}
	answer := chat.Message{Role: chat.RoleAssistant, Content: reply}

	_, err = uc.sessions.Update(ctx, cmd.SessionID, func(s *session.Session) error {
		s.History = chat.Trim(append(withSeed(s.History, seed), user, answer), uc.maxHistory)
		return nil
	})
	if err != nil {
		run.Fail("HISTORY_SAVE_FAILED")
		return nil, err
	}
	run.With(observability.F("history_len", len(prompt)+1))
	return &ChatResult{Reply: reply}, nil
}

func (uc *ChatUseCase) seed(ctx context.Context, sessionID string) (chat.Message, error) {
	catalog, err := uc.menus.ActiveCatalog(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{Role: chat.RoleSystem, Content: menuPreamble + catalog.FormattedText()}, nil
}

// withSeed returns a copy of history that starts with the system message.
func withSeed(history []chat.Message, seed chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(history)+3)
	if len(history) == 0 || history[0].Role != chat.RoleSystem {
		out = append(out, seed)
	}
	return append(out, history...)
}
