package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures CORS. An AllowedOrigins entry of "*" admits any
// origin; the request's Origin is still echoed rather than "*".
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	headers   map[string]string
}

func newCORSPolicy(opt CORSOptions) *corsPolicy {
	p := &corsPolicy{origins: make(map[string]struct{})}
	for _, o := range opt.AllowedOrigins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[strings.TrimRight(o, "/")] = struct{}{}
		}
	}

	methods := opt.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := opt.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Accept", "X-Request-ID"}
	}
	maxAge := opt.MaxAgeSeconds
	if maxAge == 0 {
		maxAge = 600
	}

	p.headers = map[string]string{
		"Access-Control-Allow-Methods": strings.Join(methods, ", "),
		"Access-Control-Allow-Headers": strings.Join(headers, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(maxAge),
	}
	if len(opt.ExposedHeaders) > 0 {
		p.headers["Access-Control-Expose-Headers"] = strings.Join(opt.ExposedHeaders, ", ")
	}
	if opt.AllowCredentials {
		p.headers["Access-Control-Allow-Credentials"] = "true"
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS decorates responses to allowed origins and answers every OPTIONS
// request with 204.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	p := newCORSPolicy(opt)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); p.allows(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				for k, v := range p.headers {
					h.Set(k, v)
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
