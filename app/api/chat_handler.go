package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mercurial/model"
	"mercurial/rag"
	"mercurial/types"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type ChatHandler struct {
	engine       *rag.Engine
	assembler    *rag.Assembler
	conversation *rag.Conversation
	completer    model.Completer
	minScore     float64
	codesDir     string
}

func NewChatHandler(engine *rag.Engine, assembler *rag.Assembler, conversation *rag.Conversation, completer model.Completer, minScore float64, codesDir string) *ChatHandler {
	return &ChatHandler{
		engine:       engine,
		assembler:    assembler,
		conversation: conversation,
		completer:    completer,
		minScore:     minScore,
		codesDir:     codesDir,
	}
}

// HandleChat runs one conversation turn and streams the answer as
// server-sent events: data:{"content"} token events, then one final
// data:{"done":true,...} meta event. On generation failure an error event is
// emitted and the turn is not committed to history, so a failed stream
// leaves the conversation exactly as it was.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}
	params.Normalize()

	ctx := c.Context()
	strict := params.RAGStrict || rag.IsStrictQuery(params.Message)

	var usedLines []string
	var used, retrieved []types.Citation
	if *params.UseRAG {
		var err error
		usedLines, used, retrieved, err = h.engine.Retrieve(ctx, params.Message, params.TopK)
		if err != nil {
			return err
		}
	}

	system, err := h.assembler.SystemPrompt(ctx)
	if err != nil {
		return err
	}
	augmented := rag.AugmentUserMessage(params.Message, params.Mode, usedLines, strict)
	messages := h.conversation.PromptMessages(system, augmented)

	if n, err := model.CountTokens(system, augmented); err == nil {
		log.Printf("[CHAT] prompt size: %d tokens, %d context chunks used", n, len(used))
	}

	meta := fiber.Map{
		"done":      true,
		"citations": used,
		"retrieved": retrieved,
		"rag": fiber.Map{
			"enabled":        *params.UseRAG,
			"strict":         strict,
			"min_score":      h.minScore,
			"hits_used":      len(used),
			"hits_retrieved": len(retrieved),
			"index_total":    h.engine.VectorCount(),
		},
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	mode := params.Mode
	userText := params.Message
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		answer, err := h.completer.Stream(streamCtx, messages, func(token string) error {
			if err := writeEvent(w, fiber.Map{"content": token}); err != nil {
				// Client went away; abort the upstream generation.
				cancel()
				return err
			}
			return nil
		})
		if err != nil {
			log.Printf("[CHAT] generation failed, turn discarded: %v", err)
			writeEvent(w, fiber.Map{"error": err.Error()})
			return
		}

		h.conversation.CommitTurn(system, augmented, answer)

		files := []string{}
		if rag.ShouldSaveCode(mode, userText) {
			if saved, err := rag.SaveCodeBlocks(answer, h.codesDir); err != nil {
				log.Printf("[CHAT] saving code blocks: %v", err)
			} else if saved != nil {
				files = saved
			}
		}
		meta["files"] = files

		writeEvent(w, meta)
	}))

	return nil
}

func (h *ChatHandler) HandleClear(c *fiber.Ctx) error {
	system, err := h.assembler.SystemPrompt(c.Context())
	if err != nil {
		return err
	}
	h.conversation.Clear(system)
	return c.JSON(fiber.Map{"status": "success", "message": "conversation history cleared"})
}

func writeEvent(w *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
