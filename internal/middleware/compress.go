package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DecompressMiddleware transparently unwraps gzip request bodies. Clients
// submitting large order payloads (item lists with guidelines) may send
// them compressed.
func DecompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "bad gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()

		r.Body = zr
		r.Header.Del("Content-Encoding")
		next.ServeHTTP(w, r)
	})
}

// CompressMiddleware gzips responses for clients that accept it.
func CompressMiddleware(logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Encoding", "gzip")
			cw := &compressedWriter{ResponseWriter: w, zw: gzip.NewWriter(w)}
			defer func() {
				if err := cw.zw.Close(); err != nil {
					logger.Errorf("close gzip writer: %v", err)
				}
			}()

			next.ServeHTTP(cw, r)
		})
	}
}

type compressedWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (w *compressedWriter) Write(b []byte) (int, error) {
	return w.zw.Write(b)
}
