// loadtest.go
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type submitResult struct {
	statusCode       int
	latency          time.Duration
	err              error
	errorBodySnippet string
}

type jobResult struct {
	JID        uint64 `json:"jid"`
	Code       int    `json:"code"`
	Failed     bool   `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

func main() {
	var (
		server      string
		family      string
		targetURL   string
		method      string
		payload     string
		requests    int
		concurrency int
		timeoutSec  int
		pollEvery   time.Duration
	)
	flag.StringVar(&server, "server", "http://localhost:8080", "httpjobs server base URL")
	flag.StringVar(&family, "family", "bg", "job family (async|bg)")
	flag.StringVar(&targetURL, "url", "http://localhost:8080/healthz", "URL each job requests")
	flag.StringVar(&method, "method", "GET", "HTTP method of each job")
	flag.StringVar(&payload, "payload", "", "request body of each job")
	flag.IntVar(&requests, "requests", 1000, "Total number of jobs to submit")
	flag.IntVar(&concurrency, "concurrency", 50, "Number of concurrent submitters")
	flag.IntVar(&timeoutSec, "timeout", 60, "Seconds to wait for all results")
	flag.DurationVar(&pollEvery, "poll", 10*time.Millisecond, "Result poll interval when none is ready")
	flag.Parse()

	if requests <= 0 || concurrency <= 0 {
		fmt.Println("requests and concurrency must be > 0")
		os.Exit(1)
	}
	if concurrency > requests {
		concurrency = requests
	}

	job, err := json.Marshal(map[string]string{"url": targetURL, "method": method, "body": payload})
	if err != nil {
		fmt.Println("encode job error:", err)
		os.Exit(1)
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        concurrency,
		MaxIdleConnsPerHost: concurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	submitURL := strings.TrimRight(server, "/") + "/v1/jobs/" + family
	resultURL := submitURL + "/result"

	jobs := make(chan int, requests)
	submits := make(chan submitResult, requests)

	var wg sync.WaitGroup
	testStart := time.Now()
	worker := func() {
		defer wg.Done()
		for range jobs {
			start := time.Now()
			resp, err := client.Post(submitURL, "application/json", bytes.NewReader(job))
			lat := time.Since(start)
			if err != nil {
				submits <- submitResult{latency: lat, err: err}
				continue
			}
			var snippet string
			if resp.StatusCode != http.StatusAccepted {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				snippet = strings.TrimSpace(string(b))
			} else {
				io.Copy(io.Discard, resp.Body)
			}
			resp.Body.Close()
			submits <- submitResult{statusCode: resp.StatusCode, latency: lat, errorBodySnippet: snippet}
		}
	}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker()
	}
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	submitElapsed := time.Since(testStart)
	close(submits)

	var (
		submitLatencies []time.Duration
		accepted        int
		errorKinds      = make(map[string]int)
	)
	for r := range submits {
		submitLatencies = append(submitLatencies, r.latency)
		switch {
		case r.err != nil:
			errorKinds[r.err.Error()]++
		case r.statusCode == http.StatusAccepted:
			accepted++
		default:
			key := fmt.Sprintf("HTTP %d", r.statusCode)
			if r.errorBodySnippet != "" {
				key = fmt.Sprintf("%s: %s", key, truncateForPrint(r.errorBodySnippet, 120))
			}
			errorKinds[key]++
		}
	}

	// collect until every accepted job has been polled or the deadline passes
	var (
		jobDurations []time.Duration
		codeCounts   = make(map[int]int)
		failed       int
	)
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	for len(jobDurations) < accepted && time.Now().Before(deadline) {
		resp, err := client.Get(resultURL)
		if err != nil {
			errorKinds["poll: "+err.Error()]++
			time.Sleep(pollEvery)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			time.Sleep(pollEvery)
			continue
		}
		var res jobResult
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		if err != nil {
			errorKinds["poll: "+err.Error()]++
			continue
		}
		codeCounts[res.Code]++
		if res.Failed {
			failed++
		}
		jobDurations = append(jobDurations, time.Duration(res.DurationMs)*time.Millisecond)
	}
	totalElapsed := time.Since(testStart)

	fmt.Println("=== Load Test Summary ===")
	fmt.Printf("Submit URL:     %s\n", submitURL)
	fmt.Printf("Job:            %s %s\n", method, targetURL)
	fmt.Printf("Requests:       %d\n", requests)
	fmt.Printf("Concurrency:    %d\n", concurrency)
	fmt.Printf("Accepted:       %d\n", accepted)
	fmt.Printf("Collected:      %d\n", len(jobDurations))
	fmt.Printf("Failed Jobs:    %d\n", failed)
	fmt.Printf("Submit Elapsed: %v\n", submitElapsed)
	fmt.Printf("Total Elapsed:  %v\n", totalElapsed)
	fmt.Printf("Result Codes:   %v\n", codeCounts)
	printPercentiles("Submit", submitLatencies)
	printPercentiles("Job", jobDurations)

	if len(errorKinds) > 0 {
		type kv struct {
			k string
			v int
		}
		var arr []kv
		for k, v := range errorKinds {
			arr = append(arr, kv{k, v})
		}
		sort.Slice(arr, func(i, j int) bool { return arr[i].v > arr[j].v })
		maxShow := min(10, len(arr))
		fmt.Println("Top Error Kinds:")
		for i := 0; i < maxShow; i++ {
			fmt.Printf("  %d) %s  (count=%d)\n", i+1, arr[i].k, arr[i].v)
		}
	}
}

func printPercentiles(label string, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p := func(percent float64) time.Duration {
		idx := int(percent*float64(len(latencies))) - 1
		idx = max(0, min(idx, len(latencies)-1))
		return latencies[idx]
	}

	var avg time.Duration
	for _, d := range latencies {
		avg += d
	}
	avg /= time.Duration(len(latencies))

	fmt.Printf("%-6s Avg:     %v\n", label, avg)
	fmt.Printf("%-6s P50:     %v\n", label, p(0.50))
	fmt.Printf("%-6s P95:     %v\n", label, p(0.95))
	fmt.Printf("%-6s P99:     %v\n", label, p(0.99))
}

func truncateForPrint(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
