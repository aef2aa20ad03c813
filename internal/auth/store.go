package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrOperatorNotFound = errors.New("operator not found")

type OperatorStore interface {
	GetOperator(ctx context.Context, username string) (*Operator, error)
}

// StaticOperatorStore serves operators loaded from configuration.
type StaticOperatorStore struct {
	operators map[string]Operator
}

func NewStaticOperatorStore(operators []Operator) (*StaticOperatorStore, error) {
	s := &StaticOperatorStore{operators: make(map[string]Operator, len(operators))}
	for _, op := range operators {
		key := strings.ToLower(op.Username)
		if key == "" {
			return nil, errors.New("operator username is required")
		}
		if !strings.HasPrefix(op.PasswordHash, "$2") {
			return nil, fmt.Errorf("operator %s: password_hash must be a bcrypt hash", op.Username)
		}
		if _, dup := s.operators[key]; dup {
			return nil, fmt.Errorf("operator %s: duplicate username", op.Username)
		}
		s.operators[key] = op
	}
	return s, nil
}

func (s *StaticOperatorStore) GetOperator(ctx context.Context, username string) (*Operator, error) {
	op, ok := s.operators[strings.ToLower(username)]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return &op, nil
}

func (s *StaticOperatorStore) Len() int {
	return len(s.operators)
}
