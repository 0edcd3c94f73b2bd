package memory

import (
	"ai-research-be/pkg/research"

	"github.com/patrickmn/go-cache"
)

type sessionRecord struct {
	owner string
	log   *research.OutputLog
}

// SessionRepository indexes the output logs of live sessions by session id.
// Entries never expire: a session stays reachable for as long as its owning
// connection keeps it, however long a continuous session runs, and is removed
// when the connection discards or replaces it.
type SessionRepository struct {
	cache *cache.Cache
}

var _ research.SessionRegistry = &SessionRepository{}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *SessionRepository) Save(sessionID, owner string, log *research.OutputLog) {
	r.cache.Set(sessionID, sessionRecord{owner: owner, log: log}, cache.NoExpiration)
}

// Get returns the log and owner of a live session.
func (r *SessionRepository) Get(sessionID string) (*research.OutputLog, string, bool) {
	x, found := r.cache.Get(sessionID)
	if !found {
		return nil, "", false
	}
	rec := x.(sessionRecord)
	return rec.log, rec.owner, true
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
