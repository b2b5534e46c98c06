package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

// Store keeps threads in Firestore:
//
//	threads/{thread_id}                      thread document with a message counter
//	threads/{thread_id}/messages/{message_id} one document per message
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Helpers

func (s *Store) threadsCol() *firestore.CollectionRef {
	return s.client.Collection("threads")
}

func (s *Store) threadDoc(id domain.ThreadID) *firestore.DocumentRef {
	return s.threadsCol().Doc(string(id))
}

func (s *Store) messagesCol(id domain.ThreadID) *firestore.CollectionRef {
	return s.threadDoc(id).Collection("messages")
}

// Firestore Types

type threadDoc struct {
	MessageCount int64     `firestore:"message_count"`
	CreatedAt    time.Time `firestore:"created_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

type messageDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"created_at"`
	// Seq is the 1-based position of the message in its thread.
	Seq int64 `firestore:"seq"`
}

func toMessageDoc(m *domain.Message, seq int64) messageDoc {
	return messageDoc{
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Seq:       seq,
	}
}

func (d messageDoc) toMessage(thread domain.ThreadID, id string) *domain.Message {
	return &domain.Message{
		ID:        domain.MessageID(id),
		ThreadID:  thread,
		Role:      domain.Role(d.Role),
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
}

// ThreadStore implementation

// Append writes the messages and bumps the thread counter in one
// transaction, creating the thread on first use.
func (s *Store) Append(ctx context.Context, id domain.ThreadID, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var thread threadDoc
		snap, err := tx.Get(s.threadDoc(id))
		switch {
		case status.Code(err) == codes.NotFound:
			thread.CreatedAt = msgs[0].CreatedAt
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&thread); err != nil {
				return fmt.Errorf("decode threadDoc: %w", err)
			}
		}

		for _, m := range msgs {
			thread.MessageCount++
			ref := s.messagesCol(id).Doc(string(m.ID))
			if err := tx.Create(ref, toMessageDoc(m, thread.MessageCount)); err != nil {
				return err
			}
		}
		thread.UpdatedAt = msgs[len(msgs)-1].CreatedAt

		return tx.Set(s.threadDoc(id), thread)
	})
	if err != nil {
		return fmt.Errorf("firestore Append: %w", err)
	}
	return nil
}

func (s *Store) GetHistory(ctx context.Context, id domain.ThreadID) ([]*domain.Message, error) {
	// seq is a per-thread counter, so it alone orders the thread and needs
	// no composite index.
	q := s.messagesCol(id).OrderBy("seq", firestore.Asc)

	it := q.Documents(ctx)
	defer it.Stop()

	out := []*domain.Message{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore GetHistory: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}
		out = append(out, doc.toMessage(id, snap.Ref.ID))
	}
	return out, nil
}

func (s *Store) CountThreads(ctx context.Context) (int, error) {
	res, err := s.threadsCol().NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore CountThreads: %w", err)
	}

	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("firestore CountThreads: unexpected result %T", res["all"])
	}
	return int(v.GetIntegerValue()), nil
}
