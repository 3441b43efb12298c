package main

import (
	"bytes"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// UserResp represents the response returned by the server after user creation
type UserResp struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// PostReq represents the JSON payload for creating a post
type PostReq struct {
	Text string `json:"text"`
}

// counters are shared by every goroutine of one request class
type counters struct {
	requests  int64
	successes int64
	errors4xx int64
	errors5xx int64
}

func (c *counters) record(resp *http.Response, err error) {
	atomic.AddInt64(&c.requests, 1)
	if err != nil {
		return
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		atomic.AddInt64(&c.successes, 1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		atomic.AddInt64(&c.errors4xx, 1)
	case resp.StatusCode >= 500:
		atomic.AddInt64(&c.errors5xx, 1)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Mixed load: readers hit the cached front page while writers create posts,
// so every write invalidates what the readers are served.
func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var readers int
	var writers int
	var csvFile string
	var trimPercent float64
	var insecure bool

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&readers, "c", 50, "number of concurrent front page readers")
	flag.IntVar(&writers, "writers", 5, "number of concurrent post writers")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save read latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.Parse()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
		Timeout: 10 * time.Second,
	}

	// --- Create one user per writer ---
	fmt.Printf("Creating %d users...\n", writers)
	users := make([]UserResp, writers)
	for i := 0; i < writers; i++ {
		payload := map[string]string{"username": fmt.Sprintf("load-user-%d-%d", i, time.Now().UnixNano())}
		b, _ := json.Marshal(payload)

		resp, err := client.Post(server+"/users", "application/json", bytes.NewReader(b))
		if err != nil {
			panic(fmt.Sprintf("failed to create user: %v", err))
		}

		if err := json.NewDecoder(resp.Body).Decode(&users[i]); err != nil {
			resp.Body.Close()
			panic(fmt.Sprintf("failed to decode user response: %v", err))
		}
		resp.Body.Close()
	}
	fmt.Println("Users created.")

	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup
	var reads, writes counters
	latencySlices := make([][]float64, readers)

	// --- Writers ---
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(user UserResp) {
			defer wg.Done()
			for time.Now().Before(stopTime) {
				b, _ := json.Marshal(PostReq{Text: fmt.Sprintf("load test post %d", time.Now().UnixNano())})
				req, _ := http.NewRequest(http.MethodPost, server+"/posts", bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+user.Token)

				resp, err := client.Do(req)
				writes.record(resp, err)
				if err != nil {
					fmt.Printf("Write error: %v\n", err)
				}
			}
		}(users[i])
	}

	// --- Readers ---
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			var localLatencies []float64
			for time.Now().Before(stopTime) {
				start := time.Now()
				resp, err := client.Get(server + "/")
				localLatencies = append(localLatencies, time.Since(start).Seconds()*1000)
				reads.record(resp, err)
				if err != nil {
					fmt.Printf("Read error: %v\n", err)
				}
			}
			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}
	sort.Float64s(allLatencies)

	// --- Compute statistics ---
	fmt.Printf("Reads:  %d  Successes: %d  4xx: %d  5xx: %d\n", reads.requests, reads.successes, reads.errors4xx, reads.errors5xx)
	fmt.Printf("Writes: %d  Successes: %d  4xx: %d  5xx: %d\n", writes.requests, writes.successes, writes.errors4xx, writes.errors5xx)
	fmt.Printf("Read latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n",
		trimmedMean(allLatencies, trimPercent),
		percentile(allLatencies, 50),
		percentile(allLatencies, 90),
		percentile(allLatencies, 99))

	// --- Save latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, d := range allLatencies {
		w.Write([]string{fmt.Sprintf("%.3f", d)})
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}

// trimmedMean calculates mean latency after trimming top/bottom trimPercent values
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	trimmed := data[trim : len(data)-trim]
	if len(trimmed) == 0 {
		return data[len(data)/2]
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile calculates the p-th percentile from sorted data
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
