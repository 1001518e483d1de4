package server

import (
	"bytes"
	"log"
	"net/http"
	"regexp"
)

// IdempotencyKeyHeader lets clients retry capture requests safely
const IdempotencyKeyHeader = "Idempotency-Key"

// MaxIdempotencyKeyLen bounds the client-supplied key
const MaxIdempotencyKeyLen = 128

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// validIdempotencyKey accepts a conservative charset so keys can be
// stored and logged verbatim.
func validIdempotencyKey(key string) bool {
	return key != "" && len(key) <= MaxIdempotencyKeyLen && idempotencyKeyPattern.MatchString(key)
}

// recordingWriter buffers the response so it can be cached for replay
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// withIdempotency replays a cached response when the client retries
// with the same Idempotency-Key, and records the first response
// otherwise. Requests without the header pass straight through. Only
// successful responses are cached: a failed attempt may be retried.
func (s *Server) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next(w, r)
			return
		}
		if !validIdempotencyKey(key) {
			respondError(w, http.StatusBadRequest, "invalid idempotency key")
			return
		}

		user := userID(r)
		cached, err := s.idempotency.Get(r.Context(), user, key)
		if err != nil {
			log.Printf("Idempotency lookup failed for user %s: %v", user, err)
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(cached.Status)
			w.Write(cached.Body)
			return
		}

		recorder := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		if recorder.status >= 200 && recorder.status < 300 {
			if err := s.idempotency.Put(r.Context(), user, key, recorder.status, recorder.body.Bytes()); err != nil {
				log.Printf("Failed to store idempotency record for user %s: %v", user, err)
			}
		}
	}
}
