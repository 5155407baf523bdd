// Package reststore implements the index backend contract against an HTTP
// service speaking the serialized wire format. Each request is signed with
// the per-operation key derived from the authorization token; a missing
// seed fails before any network call is issued.
package reststore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/encsearch/findex/internal/backend"
	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/auth"
	"github.com/encsearch/findex/pkg/config"
	"github.com/encsearch/findex/pkg/errors"
	"github.com/encsearch/findex/pkg/logger"
)

// Signature header carried by every request.
const signatureHeader = "X-Findex-Signature"

// Store implements backend.Store for one table behind an HTTP service.
type Store struct {
	client  *http.Client
	baseURL string
	token   *auth.Token
	table   backend.Table
	logger  *slog.Logger
}

// New builds a store for the given table. The token authorizes operations;
// requests it cannot sign are refused locally.
func New(cfg config.RESTConfig, token *auth.Token, table backend.Table) *Store {
	return &Store{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		token:   token,
		table:   table,
		logger:  logger.WithComponent("rest-" + string(table)),
	}
}

// operation maps a generic store call onto the table-specific operation the
// token authorizes.
func (s *Store) operation(kind string) auth.Operation {
	entry := s.table == backend.EntryTable
	switch kind {
	case "fetch":
		if entry {
			return auth.OpFetchEntry
		}
		return auth.OpFetchChain
	case "delete":
		if entry {
			return auth.OpDeleteEntry
		}
		return auth.OpDeleteChain
	case "insert":
		return auth.OpInsert
	case "upsert":
		return auth.OpUpsert
	default:
		return auth.OpDumpTokens
	}
}

func (s *Store) post(ctx context.Context, op auth.Operation, body []byte) ([]byte, error) {
	key := s.token.GetKey(op)
	if key == nil {
		return nil, fmt.Errorf("%w: no seed for %s", errors.ErrUnauthorized, op)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)

	url := fmt.Sprintf("%s/indexes/%s/%s", s.baseURL, s.token.IndexID(), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Backendf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(signatureHeader, hex.EncodeToString(mac.Sum(nil)))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Backendf("posting %s: %v", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Backendf("reading %s response: %v", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Backendf("%s returned status %d: %s", op, resp.StatusCode, payload)
	}
	return payload, nil
}

func (s *Store) DumpTokens(ctx context.Context) ([]model.Token, error) {
	response, err := s.post(ctx, s.operation("dump_tokens"), nil)
	if err != nil {
		return nil, err
	}
	return model.DeserializeTokens(response)
}

func (s *Store) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	if len(tokens) == 0 {
		return map[model.Token][]byte{}, nil
	}
	response, err := s.post(ctx, s.operation("fetch"), model.SerializeTokens(tokens))
	if err != nil {
		return nil, err
	}
	return model.DeserializeRows(response)
}

func (s *Store) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	response, err := s.post(ctx, s.operation("upsert"), model.SerializeUpsert(oldValues, newValues))
	if err != nil {
		return nil, err
	}
	return model.DeserializeRows(response)
}

func (s *Store) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.post(ctx, s.operation("insert"), model.SerializeRows(rows))
	return err
}

func (s *Store) Delete(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.post(ctx, s.operation("delete"), model.SerializeTokens(tokens))
	return err
}
