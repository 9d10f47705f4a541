// Loadtest fires concurrent generation requests at a running load balancer
// and reports throughput, latency percentiles and how the requests spread
// over the workers.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080 -concurrency 10 -requests 200
//	go run ./scripts/loadtest -url http://localhost:8080 -batch 20 -requests 10 -out summary.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type summary struct {
	Target        string           `json:"target"`
	Requests      int              `json:"requests"`
	Concurrency   int              `json:"concurrency"`
	Success       int64            `json:"success"`
	Failure       int64            `json:"failure"`
	DurationMs    int64            `json:"duration_ms"`
	ThroughputRPS float64          `json:"throughput_rps"`
	StatusCodes   map[int]int      `json:"status_codes"`
	P50Ms         float64          `json:"p50_ms"`
	P90Ms         float64          `json:"p90_ms"`
	P99Ms         float64          `json:"p99_ms"`
	Workers       map[string]int64 `json:"worker_requests"`
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:8080", "load balancer base URL")
		concurrency = flag.Int("concurrency", 10, "number of concurrent clients")
		requests    = flag.Int("requests", 100, "total number of requests to send")
		batchSize   = flag.Int("batch", 0, "send /v1/batch requests of this many prompts instead of /v1/generate")
		promptText  = flag.String("prompt", "Say hello in one short sentence.", "prompt to send")
		timeout     = flag.Duration("timeout", 5*time.Minute, "per-request timeout")
		outJSON     = flag.String("out", "", "write a JSON summary to this file")
		verbose     = flag.Bool("v", false, "log every request")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	path, body := "/v1/generate", mustJSON(map[string]any{"prompt": *promptText})
	if *batchSize > 0 {
		prompts := make([]string, *batchSize)
		for i := range prompts {
			prompts[i] = fmt.Sprintf("%s (#%d)", *promptText, i)
		}
		path, body = "/v1/batch", mustJSON(map[string]any{"prompts": prompts})
	}

	before, err := workerTotals(client, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read /status: %v\n", err)
		os.Exit(1)
	}

	var (
		success, failure atomic.Int64
		mu               sync.Mutex
		latencies        []time.Duration
		statusCodes      = make(map[int]int)
		wg               sync.WaitGroup
	)

	jobs := make(chan int)
	start := time.Now()

	for c := 0; c < *concurrency; c++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for idx := range jobs {
				began := time.Now()
				resp, err := client.Post(*target+path, "application/json", bytes.NewReader(body))
				dur := time.Since(began)

				if err != nil {
					failure.Add(1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", clientID, idx, err)
					}
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode == http.StatusOK {
					success.Add(1)
				} else {
					failure.Add(1)
				}

				mu.Lock()
				latencies = append(latencies, dur)
				statusCodes[resp.StatusCode]++
				mu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d status=%d dur=%v id=%s\n",
						clientID, idx, resp.StatusCode, dur, resp.Header.Get("X-Request-ID"))
				}
			}
		}(c)
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	after, err := workerTotals(client, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read /status: %v\n", err)
		os.Exit(1)
	}

	s := summary{
		Target:        *target + path,
		Requests:      *requests,
		Concurrency:   *concurrency,
		Success:       success.Load(),
		Failure:       failure.Load(),
		DurationMs:    elapsed.Milliseconds(),
		ThroughputRPS: float64(*requests) / elapsed.Seconds(),
		StatusCodes:   statusCodes,
		Workers:       make(map[string]int64, len(after)),
	}
	for id, n := range after {
		s.Workers[id] = n - before[id]
	}

	slices.Sort(latencies)
	s.P50Ms = pick(latencies, 0.50)
	s.P90Ms = pick(latencies, 0.90)
	s.P99Ms = pick(latencies, 0.99)

	report(s)

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if s.Failure > 0 {
		os.Exit(2)
	}
}

// workerTotals reads the per-worker attempt counters from /status.
func workerTotals(client *http.Client, target string) (map[string]int64, error) {
	resp, err := client.Get(target + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status struct {
		Workers []worker.Status `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(status.Workers))
	for _, w := range status.Workers {
		totals[w.ID] = w.TotalRequests
	}
	return totals, nil
}

func report(s summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", s.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", s.Success, s.Failure)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s\n", s.DurationMs, s.ThroughputRPS)
	fmt.Printf("Latency: p50=%.1fms p90=%.1fms p99=%.1fms\n", s.P50Ms, s.P90Ms, s.P99Ms)

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(s.StatusCodes))
	for k := range s.StatusCodes {
		codes = append(codes, k)
	}
	slices.Sort(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, s.StatusCodes[k])
	}

	fmt.Println("\nWorker distribution (attempts):")
	ids := make([]string, 0, len(s.Workers))
	for id := range s.Workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Printf("  %s -> %d\n", id, s.Workers[id])
	}
}

func pick(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	d := sorted[int(float64(len(sorted)-1)*p)]
	return float64(d.Microseconds()) / 1000.0
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
