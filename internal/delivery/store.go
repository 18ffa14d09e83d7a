// Package delivery tracks who requested each delivered embed so retraction
// can be authorized later. Records live only in process memory.
package delivery

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Record associates a delivered embed message with the user and context that
// requested it.
type Record struct {
	MessageID string
	UserID    string
	GuildID   string
	ChannelID string
	SourceURL string
	CreatedAt time.Time
}

// Store is a bounded in-memory record map keyed by message ID. Retention is
// both count-bound and age-bound; evicted records simply stop being
// deletable.
type Store struct {
	logger  *slog.Logger
	records *expirable.LRU[string, Record]
}

func NewStore(log *slog.Logger, maxRecords int, ttl time.Duration) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		logger: log.With(slog.String("service", "delivery")),
	}
	s.records = expirable.NewLRU[string, Record](maxRecords, s.onEvict, ttl)
	return s
}

func (s *Store) onEvict(messageID string, _ Record) {
	s.logger.Debug("delivery record evicted", slog.String("message_id", messageID))
}

// Put tracks a newly delivered embed. At most one record exists per message
// ID; a second Put for the same ID replaces the first.
func (s *Store) Put(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records.Add(rec.MessageID, rec)
}

func (s *Store) Get(messageID string) (Record, bool) {
	return s.records.Get(messageID)
}

// Remove drops the record for messageID, reporting whether one existed.
func (s *Store) Remove(messageID string) bool {
	return s.records.Remove(messageID)
}

func (s *Store) Len() int {
	return s.records.Len()
}
