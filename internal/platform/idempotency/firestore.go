package idempotency

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps reservations in a Firestore collection. Expiry relies on a TTL policy over
// expires_at; stale documents are also treated as absent.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore constructs the store. An empty collection uses idempotency_keys.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

type firestoreRecord struct {
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Headers     map[string][]string `firestore:"headers"`
	Body        []byte              `firestore:"body"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Fingerprint: r.Fingerprint,
		Completed:   r.Completed,
		Status:      r.Status,
		Headers:     r.Headers,
		Body:        r.Body,
		ExpiresAt:   r.ExpiresAt,
	}
}

// Reserve implements Store inside a transaction so concurrent callers see a single owner.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (State, Record, error) {
	ref := s.client.Collection(s.collection).Doc(documentID(key))
	var (
		state  State
		record Record
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var doc firestoreRecord
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.ExpiresAt.After(now) {
				record = doc.toRecord()
				state, err = stateOf(record, fingerprint)
				return err
			}
		}
		doc := firestoreRecord{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		state, record = StateNew, doc.toRecord()
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, Record{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	return state, record, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	ref := s.client.Collection(s.collection).Doc(documentID(key))
	_, err := ref.Set(ctx, firestoreRecord{
		Fingerprint: record.Fingerprint,
		Completed:   true,
		Status:      record.Status,
		Headers:     record.Headers,
		Body:        record.Body,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(documentID(key)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}
