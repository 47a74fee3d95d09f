package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"net/http"

	"tlsgate/listener"
	"tlsgate/stats"

	"github.com/zeebo/xxh3"
)

const (
	statHellos      = "hellos"
	statHelloBytes  = "hello_bytes"
	statusBodyLimit = 8
)

// helloLog is the process ClientHello callback: it fingerprints each hello and
// logs one line per TLS connection.
type helloLog struct {
	logger *log.Logger
	stats  *stats.Tracker
}

func newHelloLog(logger *log.Logger, tracker *stats.Tracker) *helloLog {
	if logger == nil {
		logger = log.Default()
	}
	return &helloLog{logger: logger, stats: tracker}
}

// Record matches hellogate.Callback[*http.Request].
func (h *helloLog) Record(r *http.Request, hello []byte) {
	h.stats.Increment(statHellos)
	h.stats.Add(statHelloBytes, uint64(len(hello)))
	var id uint64
	if hc, ok := listener.FromContext(r.Context()); ok {
		id = uint64(hc.ID())
	}
	h.logger.Printf("Hello: conn=%d remote=%s bytes=%d fp=%s", id, r.RemoteAddr, len(hello), helloFingerprint(hello))
}

// helloFingerprint is a stable 64-bit digest of the raw record, rendered as
// 16 hex digits.
func helloFingerprint(hello []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxh3.Hash(hello))
	return fmt.Sprintf("%x", buf)
}

// statusHandler reports what the gate knows about the caller's connection.
func statusHandler(gate interface{ Len() int }) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		hc, ok := listener.FromContext(r.Context())
		if !ok {
			fmt.Fprintf(w, "conn=unknown cached=%d\n", gate.Len())
			return
		}
		hello := hc.ClientHello()
		if hello == nil {
			fmt.Fprintf(w, "conn=%d tls=false cached=%d\n", hc.ID(), gate.Len())
			return
		}
		head := hello
		if len(head) > statusBodyLimit {
			head = head[:statusBodyLimit]
		}
		fmt.Fprintf(w, "conn=%d tls=true hello_bytes=%d fp=%s head=%x cached=%d\n",
			hc.ID(), len(hello), helloFingerprint(hello), head, gate.Len())
	})
}
