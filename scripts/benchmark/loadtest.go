// Load tester for the report stream endpoint. Drives concurrent SSE
// invocations and reports time-to-first-event and whole-stream latency
// percentiles. Point it at a server whose provider is a local stub unless
// you want to pay for real tokens.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type sample struct {
	firstEvent time.Duration
	total      time.Duration
}

type stats struct {
	mu       sync.Mutex
	samples  []sample
	streams  int64
	failures int64
}

func main() {
	duration := flag.Int("duration", 30, "test duration in seconds")
	concurrency := flag.Int("c", 10, "number of concurrent workers")
	rps := flag.Int("rps", 0, "target streams per second (0 = unlimited)")
	url := flag.String("url", "http://localhost:8084/v1/reports/stream", "stream endpoint")
	model := flag.String("model", "", "model to request; empty uses the server default")
	token := flag.String("token", "", "API key for servers with auth enabled")
	flag.Parse()

	fmt.Printf("stream load test url=%s duration=%ds concurrency=%d rps=%d\n\n",
		*url, *duration, *concurrency, *rps)

	payload := map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "Generate a quarterly performance report for Tesla"},
		},
	}
	if *model != "" {
		payload["model"] = *model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("marshal payload: %v\n", err)
		return
	}

	var rateChan <-chan time.Time
	if *rps > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(*rps))
		defer ticker.Stop()
		rateChan = ticker.C
	}

	client := &http.Client{
		// No overall timeout; streams legitimately stay open for a while.
		Transport: &http.Transport{
			MaxIdleConns:        1000,
			MaxIdleConnsPerHost: 1000,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := &stats{}
	done := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if rateChan != nil {
					<-rateChan
				}
				runStream(client, *url, *token, body, st)
			}
		}()
	}

	time.AfterFunc(time.Duration(*duration)*time.Second, func() { close(done) })
	wg.Wait()
	elapsed := time.Since(start).Seconds()

	report(st, elapsed)
}

func runStream(client *http.Client, url, token string, body []byte, st *stats) {
	begin := time.Now()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&st.failures, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&st.failures, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&st.failures, 1)
		return
	}

	var firstEvent time.Duration
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if firstEvent == 0 {
			firstEvent = time.Since(begin)
		}
		if strings.TrimPrefix(line, "data: ") == "[DONE]" {
			sawDone = true
			break
		}
	}
	if !sawDone {
		atomic.AddInt64(&st.failures, 1)
		return
	}

	atomic.AddInt64(&st.streams, 1)
	st.mu.Lock()
	st.samples = append(st.samples, sample{firstEvent: firstEvent, total: time.Since(begin)})
	st.mu.Unlock()
}

func report(st *stats, elapsed float64) {
	firsts := make([]time.Duration, len(st.samples))
	totals := make([]time.Duration, len(st.samples))
	for i, s := range st.samples {
		firsts[i] = s.firstEvent
		totals[i] = s.total
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })
	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })

	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Printf("Completed Streams:  %d\n", st.streams)
	fmt.Printf("Failures:           %d\n", st.failures)
	fmt.Printf("Duration:           %.2f seconds\n", elapsed)
	fmt.Printf("Streams/sec:        %.2f\n", float64(st.streams)/elapsed)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("First event  p50=%s p95=%s p99=%s\n",
		percentile(firsts, 0.50), percentile(firsts, 0.95), percentile(firsts, 0.99))
	fmt.Printf("Whole stream p50=%s p95=%s p99=%s\n",
		percentile(totals, 0.50), percentile(totals, 0.95), percentile(totals, 0.99))
	fmt.Println(line)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
