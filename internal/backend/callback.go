package backend

import (
	"context"
	"fmt"

	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/errors"
)

// Callbacks carries the caller-registered handlers of a cross-process or
// cross-language table. Requests and responses cross the boundary fully
// serialized (varint-counted token and row sets), independent of the
// concrete transport. A nil handler means the operation is not available.
type Callbacks struct {
	Fetch      func(ctx context.Context, request []byte) ([]byte, error)
	Upsert     func(ctx context.Context, request []byte) ([]byte, error)
	Insert     func(ctx context.Context, request []byte) error
	Delete     func(ctx context.Context, request []byte) error
	DumpTokens func(ctx context.Context) ([]byte, error)
}

// CallbackStore adapts Callbacks to the Store contract. A missing handler
// fails before anything crosses the boundary.
type CallbackStore struct {
	table Table
	cb    Callbacks
}

// NewCallbackStore wraps the registered handlers for one table.
func NewCallbackStore(table Table, cb Callbacks) *CallbackStore {
	return &CallbackStore{table: table, cb: cb}
}

func (s *CallbackStore) DumpTokens(ctx context.Context) ([]model.Token, error) {
	if s.cb.DumpTokens == nil {
		return nil, s.missing("dump_tokens")
	}
	response, err := s.cb.DumpTokens(ctx)
	if err != nil {
		return nil, errors.Backendf("%s dump_tokens callback: %v", s.table, err)
	}
	return model.DeserializeTokens(response)
}

func (s *CallbackStore) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	if s.cb.Fetch == nil {
		return nil, s.missing("fetch")
	}
	if len(tokens) == 0 {
		return map[model.Token][]byte{}, nil
	}
	response, err := s.cb.Fetch(ctx, model.SerializeTokens(tokens))
	if err != nil {
		return nil, errors.Backendf("%s fetch callback: %v", s.table, err)
	}
	return model.DeserializeRows(response)
}

func (s *CallbackStore) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	if s.cb.Upsert == nil {
		return nil, s.missing("upsert")
	}
	response, err := s.cb.Upsert(ctx, model.SerializeUpsert(oldValues, newValues))
	if err != nil {
		return nil, errors.Backendf("%s upsert callback: %v", s.table, err)
	}
	return model.DeserializeRows(response)
}

func (s *CallbackStore) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	if s.cb.Insert == nil {
		return s.missing("insert")
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.cb.Insert(ctx, model.SerializeRows(rows)); err != nil {
		return errors.Backendf("%s insert callback: %v", s.table, err)
	}
	return nil
}

func (s *CallbackStore) Delete(ctx context.Context, tokens []model.Token) error {
	if s.cb.Delete == nil {
		return s.missing("delete")
	}
	if len(tokens) == 0 {
		return nil
	}
	if err := s.cb.Delete(ctx, model.SerializeTokens(tokens)); err != nil {
		return errors.Backendf("%s delete callback: %v", s.table, err)
	}
	return nil
}

func (s *CallbackStore) missing(op string) error {
	return fmt.Errorf("%w: %s %s", errors.ErrMissingCallback, s.table, op)
}

// WrapStore exposes a Store as Callbacks, serializing at the boundary. It
// is the server half of the callback transport and lets tests exercise the
// full wire format against any concrete store.
func WrapStore(store Store) Callbacks {
	return Callbacks{
		Fetch: func(ctx context.Context, request []byte) ([]byte, error) {
			tokens, err := model.DeserializeTokens(request)
			if err != nil {
				return nil, err
			}
			rows, err := store.Fetch(ctx, tokens)
			if err != nil {
				return nil, err
			}
			return model.SerializeRows(rows), nil
		},
		Upsert: func(ctx context.Context, request []byte) ([]byte, error) {
			oldValues, newValues, err := model.DeserializeUpsert(request)
			if err != nil {
				return nil, err
			}
			rejected, err := store.Upsert(ctx, oldValues, newValues)
			if err != nil {
				return nil, err
			}
			return model.SerializeRows(rejected), nil
		},
		Insert: func(ctx context.Context, request []byte) error {
			rows, err := model.DeserializeRows(request)
			if err != nil {
				return err
			}
			return store.Insert(ctx, rows)
		},
		Delete: func(ctx context.Context, request []byte) error {
			tokens, err := model.DeserializeTokens(request)
			if err != nil {
				return err
			}
			return store.Delete(ctx, tokens)
		},
		DumpTokens: func(ctx context.Context) ([]byte, error) {
			tokens, err := store.DumpTokens(ctx)
			if err != nil {
				return nil, err
			}
			return model.SerializeTokens(tokens), nil
		},
	}
}
