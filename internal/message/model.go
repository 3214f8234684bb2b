package message

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
	KindImage  Kind = "image"
)

func (k Kind) Valid() bool {
	return k == KindText || k == KindSystem || k == KindImage
}

const maxContentLength = 2000

type Message struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"tradeId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newID returns a ULID; ids minted within the same millisecond keep increasing.
func newID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
