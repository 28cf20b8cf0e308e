package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// Sidecar probe for deployments that keep liveness off the main
// listener. It polls the server's /healthz and reports the last
// observed state, so the orchestrator can tell "process up" apart from
// "service serving".

type upstreamState struct {
	Reachable bool   `json:"reachable"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at"`
	LatencyMS int64  `json:"latency_ms"`
}

func main() {
	addr := flag.String("addr", ":8081", "probe listen address")
	upstream := flag.String("upstream", "http://127.0.0.1:8080/healthz", "server health endpoint to poll")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	flag.Parse()

	var last atomic.Value
	last.Store(check(*upstream))
	go func() {
		for range time.Tick(*interval) {
			last.Store(check(*upstream))
		}
	}()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			st := last.Load().(upstreamState)
			code := fasthttp.StatusOK
			if !st.Reachable || st.Status != fasthttp.StatusOK {
				code = fasthttp.StatusServiceUnavailable
			}
			body, _ := json.Marshal(struct {
				Probe    string        `json:"probe"`
				Upstream upstreamState `json:"upstream"`
			}{Probe: "ok", Upstream: st})
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(code)
			_, _ = ctx.Write(body)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health probe on %s, watching %s\n", *addr, *upstream)
	srv := &fasthttp.Server{
		Handler:      h,
		Name:         "commhub-healthprobe",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "health probe exit: %v\n", err)
		os.Exit(1)
	}
}

func check(url string) upstreamState {
	start := time.Now()
	code, _, err := fasthttp.GetTimeout(nil, url, 3*time.Second)
	st := upstreamState{
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Reachable = true
	st.Status = code
	return st
}
