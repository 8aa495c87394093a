package replicated

import (
	"context"
	"io"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	flog "github.com/flowbus/flowbus/log"
	"github.com/flowbus/flowbus/record"
	"github.com/flowbus/flowbus/store"
)

// Follower wraps a local log.Log to serve the /internal/replicate endpoint
// (spec §4.8 "Follower side"): append_follower bypasses the leadership
// check entirely. Idempotency against redelivery from a retried leader
// fan-out is provided by consulting dedup on the record ID before
// appending, since the follower's local log assigns its own offset rather
// than trusting one assigned upstream.
type Follower struct {
	local  flog.Log
	dedup  store.DedupStore
	group  string
	logger log.Logger
}

// NewFollower builds a Follower. group namespaces the dedup check; it
// should be distinct from any consumer-group namespace so follower-ingest
// dedup doesn't collide with executor dedup.
func NewFollower(local flog.Log, dedup store.DedupStore, group string, logger log.Logger) *Follower {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Follower{local: local, dedup: dedup, group: group, logger: logger}
}

// Router returns a gorilla/mux router exposing POST /internal/replicate.
func (f *Follower) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/internal/replicate", f.handleReplicate).Methods(http.MethodPost)
	return r
}

func (f *Follower) handleReplicate(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	rec, err := record.Unmarshal(body)
	if err != nil {
		level.Warn(f.logger).Log("msg", "rejecting unparseable replicate payload", "err", err)
		http.Error(w, "malformed record", http.StatusBadRequest)
		return
	}

	if err := f.AppendFollower(req.Context(), rec); err != nil {
		level.Error(f.logger).Log("msg", "follower append failed", "err", err)
		http.Error(w, "append failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AppendFollower applies r to the local log without any leadership check.
func (f *Follower) AppendFollower(ctx context.Context, r *record.Record) error {
	id := r.ID.String()
	seen, err := f.dedup.HasProcessed(ctx, f.group, id)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	if err := f.local.Append(ctx, r); err != nil {
		return err
	}
	return f.dedup.MarkProcessed(ctx, f.group, id, followerDedupTTLSeconds)
}

const followerDedupTTLSeconds = 24 * 60 * 60
