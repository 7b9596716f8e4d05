package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Inject adds the lock routes to a route table
func Inject(rt RouteTable, l *Locker) {
	rt[MethodPath{http.MethodGet, "/lock"}] = l.HTTPGet
	rt[MethodPath{http.MethodPost, "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking.
// While it is locked, the protected routes answer 423 (locked).
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// Protect is the list of path suffixes the lock applies to
	Protect []string
}

// NewLocker returns a Locker protecting the protocol run routes
func NewLocker() *Locker {
	return &Locker{Protect: []string{"/run"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = true
}

// TryLock locks the locker if it is free and reports whether it did
func (l *Locker) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isLocked {
		return false
	}
	l.isLocked = true
	return true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = false
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

func (l *Locker) protects(path string) bool {
	for _, str := range l.Protect {
		if strings.HasSuffix(path, str) {
			return true
		}
	}
	return false
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is
// true and the path is protected, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protects(r.URL.Path) {
			http.Error(w, "instrument is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on {"bool": value} in the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := BoolT{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as {"bool": value}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	Reply(w, http.StatusOK, BoolT{Bool: l.Locked()})
}
