package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/docuchat/docuchat-core/internal/domain"
	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/retriever"
)

// LLM is the slice of the OpenAI client the chain needs.
type LLM interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
	StreamText(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error)
}

type Result struct {
	Answer string
	// Standalone is the history-free restatement of the question that was
	// actually used for retrieval.
	Standalone string
	Sources    []domain.RetrievedChunk
}

// Chain answers questions over a user's documents: condense the question
// against the chat history, retrieve matching chunks through the cached
// retriever, then generate a grounded answer.
type Chain struct {
	log   *logger.Logger
	llm   LLM
	cache *retriever.Cache
	topK  int
}

func NewChain(log *logger.Logger, llm LLM, cache *retriever.Cache, topK int) (*Chain, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil || cache == nil {
		return nil, fmt.Errorf("chain dependencies missing")
	}
	if topK <= 0 {
		topK = retriever.DefaultTopK
	}
	return &Chain{
		log:   log.With("service", "ChatChain"),
		llm:   llm,
		cache: cache,
		topK:  topK,
	}, nil
}

// turnPrompt is everything prepare derives for one turn: the standalone
// query used for retrieval, and the system/user pair for generation.
type turnPrompt struct {
	standalone string
	system     string
	user       string
	sources    []domain.RetrievedChunk
}

// prepare runs the condense and retrieve steps shared by Answer and Stream.
// Retrieval uses the condensed standalone query; the generation prompt keeps
// the conversation history and the verbatim question.
func (c *Chain) prepare(ctx context.Context, namespace, question string, history []domain.ChatTurn) (turnPrompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return turnPrompt{}, fmt.Errorf("%w: empty question", domain.ErrInvalidArgument)
	}

	standalone := question
	userMsg := question
	if len(history) > 0 {
		userMsg = renderHistory(history) + "\nHuman: " + question
		rewritten, cerr := c.llm.GenerateText(ctx, condenseSystemPrompt, userMsg)
		if cerr != nil {
			return turnPrompt{}, fmt.Errorf("condense question: %w", cerr)
		}
		if s := strings.TrimSpace(rewritten); s != "" {
			standalone = s
		}
	}

	r, err := c.cache.Get(namespace)
	if err != nil {
		return turnPrompt{}, fmt.Errorf("retriever for %q: %w", namespace, err)
	}
	sources, err := r.TopDocuments(ctx, standalone, c.topK)
	if err != nil {
		return turnPrompt{}, fmt.Errorf("retrieve: %w", err)
	}

	return turnPrompt{
		standalone: standalone,
		system:     fmt.Sprintf(answerSystemPrompt, renderContext(sources)),
		user:       userMsg,
		sources:    sources,
	}, nil
}

func (c *Chain) Answer(ctx context.Context, namespace, question string, history []domain.ChatTurn) (Result, error) {
	p, err := c.prepare(ctx, namespace, question, history)
	if err != nil {
		return Result{}, err
	}

	answer, err := c.llm.GenerateText(ctx, p.system, p.user)
	if err != nil {
		return Result{}, fmt.Errorf("generate answer: %w", err)
	}

	return Result{Answer: answer, Standalone: p.standalone, Sources: p.sources}, nil
}

// Stream is Answer with incremental delivery. Condensing and retrieval run
// before it returns, so a non-nil Stream always has its sources populated.
func (c *Chain) Stream(ctx context.Context, namespace, question string, history []domain.ChatTurn) (*Stream, error) {
	p, err := c.prepare(ctx, namespace, question, history)
	if err != nil {
		return nil, err
	}

	s := newStream(p.sources)
	go func() {
		full, gerr := c.llm.StreamText(ctx, p.system, p.user, s.emit)
		s.finish(full, gerr)
	}()
	return s, nil
}
