package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/pkg/models"
)

const recordTimeout = 5 * time.Second
const maxBufferedBody = 64 << 10

// Recorder persists one audit row per recorded API call. Rows are written in
// a detached goroutine after the response has been sent; a write failure is
// logged and forgotten, it never reaches the caller.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a call recorder.
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s}
}

// Entry is the request/response metadata captured for one call.
type Entry struct {
	ApiKeyID   int64
	Endpoint   string
	Method     string
	StatusCode int
	GroupID    string
	UserID     string
	Ticket     string
	Code       string
	IP         string
	UserAgent  string
	Duration   time.Duration
}

// Record persists the entry asynchronously with its own deadline. When the
// request carried only a ticket token, the correlation pair is backfilled
// from the ticket row.
func (r *Recorder) Record(e Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if e.GroupID == "" && e.Ticket != "" {
			if t, err := r.store.FindTicketByToken(ctx, e.Ticket); err == nil {
				e.GroupID = t.GroupID
				e.UserID = t.UserID
			}
		}

		ua := e.UserAgent
		if len(ua) > 500 {
			ua = ua[:500]
		}

		err := r.store.CreateCallLog(ctx, &models.CallLog{
			ApiKeyID:   e.ApiKeyID,
			Endpoint:   e.Endpoint,
			Method:     e.Method,
			StatusCode: e.StatusCode,
			GroupID:    e.GroupID,
			UserID:     e.UserID,
			Ticket:     e.Ticket,
			Code:       e.Code,
			IP:         e.IP,
			UserAgent:  ua,
			DurationMs: e.Duration.Milliseconds(),
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("call log write failed", "endpoint", e.Endpoint, "error", err)
		}
	}()
}

// bodyParams are the business fields pulled out of a recorded request body.
type bodyParams struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Ticket  string `json:"ticket"`
	Code    string `json:"code"`
}

// Middleware records verify-endpoint calls. It buffers the request body (the
// handler still sees it untouched) so business parameters can be extracted
// after the response goes out.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		var buf []byte
		if req.Body != nil {
			buf, _ = io.ReadAll(io.LimitReader(req.Body, maxBufferedBody))
			req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(buf))
		}

		rec := mw.NewStatusRecorder(w)
		next.ServeHTTP(rec, req)

		var params bodyParams
		if len(buf) > 0 {
			// Best effort; a malformed body is still a loggable call.
			_ = json.Unmarshal(buf, &params)
		}

		keyID, _ := mw.GetKeyID(req)
		r.Record(Entry{
			ApiKeyID:   keyID,
			Endpoint:   req.URL.Path,
			Method:     req.Method,
			StatusCode: rec.Status(),
			GroupID:    params.GroupID,
			UserID:     params.UserID,
			Ticket:     params.Ticket,
			Code:       params.Code,
			IP:         mw.ClientIP(req),
			UserAgent:  req.UserAgent(),
			Duration:   time.Since(start),
		})
	})
}
