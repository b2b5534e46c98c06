package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PabloGalante/parrot-api/internal/app/history"
	"github.com/PabloGalante/parrot-api/internal/app/prompt"
	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

var tracer = otel.Tracer("github.com/PabloGalante/parrot-api/internal/app/conversation")

var errEmptyReply = errors.New("model returned no content")

// Settings are the process-wide knobs of the pipeline.
type Settings struct {
	MaxTokens    int
	SystemPrompt string
	ModelTimeout time.Duration          // zero means no limit
	Metrics      *observability.Metrics // optional
}

// Service runs one prompt through trim, assemble and invoke for a thread.
type Service struct {
	llm       domain.LLMClient
	store     domain.ThreadStore
	trimmer   *history.Trimmer
	assembler *prompt.Assembler
	maxTokens int
	timeout   time.Duration
	metrics   *observability.Metrics
	locks     *threadLocks
	now       func() time.Time
}

func NewService(
	llm domain.LLMClient,
	counter domain.TokenCounter,
	store domain.ThreadStore,
	settings Settings,
) *Service {
	return &Service{
		llm:       llm,
		store:     store,
		trimmer:   history.NewTrimmer(counter),
		assembler: prompt.NewAssembler(settings.SystemPrompt),
		maxTokens: settings.MaxTokens,
		timeout:   settings.ModelTimeout,
		metrics:   settings.Metrics,
		locks:     newThreadLocks(),
		now:       time.Now,
	}
}

type PromptInput struct {
	ThreadID domain.ThreadID
	Prompt   string
}

func (in PromptInput) validate() error {
	if in.ThreadID == "" {
		return domain.ErrMissingThreadID
	}
	if in.Prompt == "" {
		return domain.ErrMissingPrompt
	}
	return nil
}

type ProcessOutput struct {
	HumanMessage *domain.Message
	AIMessage    *domain.Message
}

// turn is a prepared request: the pending human message and the prompt
// that carries it.
type turn struct {
	human  *domain.Message
	prompt domain.Prompt
	trim   history.Result
}

// ProcessPrompt sends the prompt with the thread's trimmed history and
// returns the complete reply. The exchange is stored only on success.
func (s *Service) ProcessPrompt(ctx context.Context, in PromptInput) (*ProcessOutput, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "conversation.process",
		trace.WithAttributes(attribute.String("thread.id", string(in.ThreadID))))
	defer span.End()

	log := observability.LoggerFromContext(ctx).With().
		Str("thread_id", string(in.ThreadID)).
		Logger()

	unlock, err := s.locks.Lock(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("waiting for thread %s: %w", in.ThreadID, err)
	}
	defer unlock()

	// One deadline covers remote token counting and the model call.
	modelCtx, cancel := s.modelContext(ctx)
	defer cancel()

	t, err := s.prepare(modelCtx, in)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	start := time.Now()
	reply, err := s.llm.Generate(modelCtx, t.prompt)
	if err == nil && (reply == nil || strings.TrimSpace(reply.Content) == "") {
		err = errEmptyReply
	}
	s.recordInvocation("blocking", err, time.Since(start))
	if err != nil {
		err = domain.Invocation("generate", err)
		log.Error().Err(err).Msg("model invocation failed")
		fail(span, err)
		return nil, err
	}

	ai := s.newMessage(in.ThreadID, domain.RoleAI, reply.Content)
	if err := s.commit(ctx, in.ThreadID, t.human, ai); err != nil {
		log.Error().Err(err).Msg("failed to store exchange")
		fail(span, err)
		return nil, err
	}

	log.Info().
		Int("history_tokens", t.trim.Tokens).
		Int("dropped", t.trim.Dropped).
		Dur("elapsed", time.Since(start)).
		Msg("prompt processed")

	return &ProcessOutput{HumanMessage: t.human, AIMessage: ai}, nil
}

// StreamPrompt validates the input and returns a lazy sequence of AI text
// fragments. Nothing happens until the sequence is ranged over; the
// thread stays locked until it finishes or the caller stops early.
// Failures are yielded as a final ("", err) pair. The exchange is stored
// only when the backend completes the stream.
func (s *Service) StreamPrompt(ctx context.Context, in PromptInput) (iter.Seq2[string, error], error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "conversation.stream",
			trace.WithAttributes(attribute.String("thread.id", string(in.ThreadID))))
		defer span.End()

		log := observability.LoggerFromContext(ctx).With().
			Str("thread_id", string(in.ThreadID)).
			Logger()

		unlock, err := s.locks.Lock(ctx, in.ThreadID)
		if err != nil {
			yield("", fmt.Errorf("waiting for thread %s: %w", in.ThreadID, err))
			return
		}
		defer unlock()

		modelCtx, cancel := s.modelContext(ctx)
		defer cancel()

		t, err := s.prepare(modelCtx, in)
		if err != nil {
			fail(span, err)
			yield("", err)
			return
		}

		var (
			reply  strings.Builder
			chunks int
			start  = time.Now()
		)

		for chunk, err := range s.llm.Stream(modelCtx, t.prompt) {
			if err != nil && ctx.Err() != nil {
				s.recordInvocation("streaming", ctx.Err(), time.Since(start))
				log.Info().Int("chunks", chunks).Msg("stream cancelled")
				return
			}
			if err != nil {
				err = domain.Invocation("stream", err)
				s.recordInvocation("streaming", err, time.Since(start))
				log.Error().Err(err).Int("chunks", chunks).Msg("model stream failed")
				fail(span, err)
				yield("", err)
				return
			}
			// Tool calls, thoughts and metadata never reach the client.
			if chunk.Kind != domain.ChunkAI || chunk.Text == "" {
				continue
			}

			reply.WriteString(chunk.Text)
			chunks++
			if s.metrics != nil {
				s.metrics.StreamChunksTotal.Inc()
			}
			if !yield(chunk.Text, nil) {
				s.recordInvocation("streaming", context.Canceled, time.Since(start))
				log.Info().Int("chunks", chunks).Msg("stream abandoned by client")
				return
			}
		}

		if err := ctx.Err(); err != nil {
			s.recordInvocation("streaming", err, time.Since(start))
			log.Info().Int("chunks", chunks).Msg("stream cancelled")
			return
		}
		if strings.TrimSpace(reply.String()) == "" {
			err := domain.Invocation("stream", errEmptyReply)
			s.recordInvocation("streaming", err, time.Since(start))
			fail(span, err)
			yield("", err)
			return
		}
		s.recordInvocation("streaming", nil, time.Since(start))
		span.SetAttributes(attribute.Int("stream.chunks", chunks))

		ai := s.newMessage(in.ThreadID, domain.RoleAI, reply.String())
		if err := s.commit(ctx, in.ThreadID, t.human, ai); err != nil {
			log.Error().Err(err).Msg("failed to store exchange")
			fail(span, err)
			yield("", err)
			return
		}

		log.Info().
			Int("chunks", chunks).
			Int("history_tokens", t.trim.Tokens).
			Int("dropped", t.trim.Dropped).
			Dur("elapsed", time.Since(start)).
			Msg("prompt streamed")
	}, nil
}

// GetThread returns the stored history of a thread, empty if unknown.
func (s *Service) GetThread(ctx context.Context, id domain.ThreadID) ([]*domain.Message, error) {
	if id == "" {
		return nil, domain.ErrMissingThreadID
	}

	msgs, err := s.store.GetHistory(ctx, id)
	if err != nil {
		observability.LoggerFromContext(ctx).Error().
			Err(err).
			Str("thread_id", string(id)).
			Msg("failed to get history")
		return nil, err
	}
	return msgs, nil
}

// prepare loads the history, adds the pending human message, trims and
// assembles. Must be called with the thread locked and a context bounded
// by the model timeout, since trimming may count tokens remotely.
func (s *Service) prepare(ctx context.Context, in PromptInput) (*turn, error) {
	stored, err := s.store.GetHistory(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	human := s.newMessage(in.ThreadID, domain.RoleHuman, in.Prompt)
	candidate := append(stored, human)

	res, err := s.trimmer.Trim(ctx, candidate, s.maxTokens)
	if err != nil {
		return nil, domain.Invocation("count tokens", err)
	}
	if len(res.Messages) == 0 || res.Messages[len(res.Messages)-1] != human {
		return nil, domain.ErrPromptTooLong
	}
	if s.metrics != nil {
		s.metrics.TrimmedMessagesTotal.Add(float64(res.Dropped))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("history.stored", len(stored)),
		attribute.Int("history.kept", len(res.Messages)),
		attribute.Int("history.tokens", res.Tokens),
	)

	return &turn{
		human:  human,
		prompt: s.assembler.Assemble(res.Messages),
		trim:   res,
	}, nil
}

func (s *Service) commit(ctx context.Context, id domain.ThreadID, msgs ...*domain.Message) error {
	if err := s.store.Append(ctx, id, msgs...); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	if s.metrics != nil {
		if n, err := s.store.CountThreads(ctx); err == nil {
			s.metrics.Threads.Set(float64(n))
		}
	}
	return nil
}

func (s *Service) newMessage(id domain.ThreadID, role domain.Role, content string) *domain.Message {
	return &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		ThreadID:  id,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
}

// modelContext bounds one request's model work by the configured timeout.
func (s *Service) modelContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) recordInvocation(mode string, err error, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordModelInvocation(mode, err, d)
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
