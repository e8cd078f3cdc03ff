package cookiejar

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// maxChunkSize is the largest value a single cookie holds before the
// jar splits it into numbered chunks (§4.2). 4093 leaves headroom under
// the common 4096-byte per-cookie limit for the name, attributes, and
// the chunk-count suffix itself.
const maxChunkSize = 4093

// WriteChunked sets value under name, or, when it exceeds maxChunkSize,
// splits it across name.0, name.1, ... plus a name.count cookie holding
// the number of chunks. opts is applied to every
// chunk so attributes (Path, Secure, SameSite, MaxAge) stay consistent.
func WriteChunked(w http.ResponseWriter, name, value string, opts func(*http.Cookie)) {
	if len(value) <= maxChunkSize {
		c := &http.Cookie{Name: name, Value: value}
		if opts != nil {
			opts(c)
		}
		http.SetCookie(w, c)
		return
	}

	var chunks []string
	for len(value) > 0 {
		n := maxChunkSize
		if n > len(value) {
			n = len(value)
		}
		chunks = append(chunks, value[:n])
		value = value[n:]
	}
	for i, chunk := range chunks {
		c := &http.Cookie{Name: fmt.Sprintf("%s.%d", name, i), Value: chunk}
		if opts != nil {
			opts(c)
		}
		http.SetCookie(w, c)
	}
	countCookie := &http.Cookie{Name: name + ".count", Value: strconv.Itoa(len(chunks))}
	if opts != nil {
		opts(countCookie)
	}
	http.SetCookie(w, countCookie)
}

// ReadChunked reassembles a value previously written with WriteChunked.
func ReadChunked(r *http.Request, name string) (string, error) {
	if c, err := r.Cookie(name); err == nil {
		return c.Value, nil
	}
	countCookie, err := r.Cookie(name + ".count")
	if err != nil {
		return "", http.ErrNoCookie
	}
	count, err := strconv.Atoi(countCookie.Value)
	if err != nil || count <= 0 {
		return "", http.ErrNoCookie
	}
	var sb strings.Builder
	for i := 0; i < count; i++ {
		c, err := r.Cookie(fmt.Sprintf("%s.%d", name, i))
		if err != nil {
			return "", http.ErrNoCookie
		}
		sb.WriteString(c.Value)
	}
	return sb.String(), nil
}

// ClearChunked removes every cookie WriteChunked may have set under
// name, used on sign-out so a stale chunk never outlives the session it
// belonged to.
func ClearChunked(w http.ResponseWriter, name string, opts func(*http.Cookie)) {
	clear := func(n string) {
		c := &http.Cookie{Name: n, Value: "", MaxAge: -1}
		if opts != nil {
			opts(c)
		}
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
	clear(name)
	clear(name + ".count")
	for i := 0; i < 16; i++ {
		clear(fmt.Sprintf("%s.%d", name, i))
	}
}
