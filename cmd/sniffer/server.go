package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// startServer runs the Gin engine in a background goroutine over a plain
// http.Server so it can be drained with Shutdown once the supervisor has
// finished its own teardown, running non-blocking so main can wait on
// OS signals first.
func startServer(r *gin.Engine, port string) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		log.Printf("sol-sniffer API listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Warning: API server stopped: %v", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Warning: API server shutdown did not complete cleanly: %v", err)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
