package provisioning

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

var (
	ErrNotFound         = errors.New("room not found")
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	// CodeLength is the length of a shareable room code. It deliberately
	// differs from a uuid's length (36) so a Get can tell the two apart
	// without a lookup.
	CodeLength = 6

	// codeAlphabet drops 0/O and 1/I, which are easy to transcribe wrong.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultTTL = 24 * time.Hour

	DefaultMaxClients = 8
)

// Record describes a room that may exist before any client connects to it.
type Record struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	CreatorID  string    `json:"creatorID"`
	CreatedAt  time.Time `json:"createdAt"`
	MaxClients int       `json:"maxClients"`
}

// Store is the provisioning directory. It is consulted by the REST handlers
// and, once per connection at most, by admission; it is never reached from
// the per-frame dispatch path.
type Store interface {
	Create(ctx context.Context, creatorID string, maxClients int) (*Record, error)
	Get(ctx context.Context, idOrCode string) (*Record, error)
	Delete(ctx context.Context, idOrCode, requesterID string) error
}

func generateCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
