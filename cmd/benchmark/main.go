// Benchmark tool for replaying labeled users against Harrier's enforcement gate.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labeled.csv -url http://localhost:8080
//
// The CSV needs a header with user_id, feature and is_fraud columns and may
// carry an action column. This tool:
//  1. Reads the labeled checks
//  2. Sends each one to POST /v1/enforcement/check
//  3. Treats a trust denial as a fraud prediction and compares it with the label
//  4. Reports precision, recall, a confusion matrix and latency percentiles
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/tier"
)

// LabeledCheck is one row of the replay file.
type LabeledCheck struct {
	UserID  string
	Feature domain.Feature
	Action  domain.Action
	IsFraud bool
}

type checkRequest struct {
	UserID  string         `json:"userId"`
	Feature domain.Feature `json:"feature"`
	Action  domain.Action  `json:"action,omitempty"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud denied on trust
	FalsePositives int64 // Legitimate user denied on trust
	TrueNegatives  int64 // Legitimate user allowed
	FalseNegatives int64 // Fraud allowed (missed fraud)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64
	VelocityDenied int64
	Degraded       int64

	mu        sync.Mutex
	latencies []time.Duration
	byTier    map[domain.Tier]int64
	noTier    int64
}

// observe records latency and, when the server knew it, the tier.
func (m *Metrics) observe(d time.Duration, t *domain.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
	if t == nil {
		m.noTier++
		return
	}
	m.byTier[*t]++
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled checks CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	limit := flag.Int("limit", 10000, "Maximum checks to send (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud rows")
	verbose := flag.Bool("verbose", false, "Print each check result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("HARRIER BENCHMARK - enforcement gate replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	checks, err := readChecks(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(checks) == 0 {
		fmt.Println("ERROR: no usable rows in CSV")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d checks\n", len(checks))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(checks, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readChecks(path string, limit int, fraudOnly bool) ([]LabeledCheck, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"user_id", "feature", "is_fraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var checks []LabeledCheck
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := field(record, "is_fraud") == "1" || strings.EqualFold(field(record, "is_fraud"), "true")
		if fraudOnly && !isFraud {
			continue
		}

		feature, err := domain.ParseFeature(field(record, "feature"))
		if err != nil {
			continue
		}
		var action domain.Action
		if raw := field(record, "action"); raw != "" {
			if err := action.UnmarshalText([]byte(raw)); err != nil {
				continue
			}
		}

		checks = append(checks, LabeledCheck{
			UserID:  field(record, "user_id"),
			Feature: feature,
			Action:  action,
			IsFraud: isFraud,
		})
		if limit > 0 && len(checks) >= limit {
			break
		}
	}
	return checks, nil
}

func runBenchmark(checks []LabeledCheck, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{byTier: make(map[domain.Tier]int64)}

	work := make(chan LabeledCheck, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				d, err := check(client, baseURL, c)
				elapsed := time.Since(start)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.UserID, err)
					}
					continue
				}
				metrics.observe(elapsed, d.Tier)

				if c.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}
				if d.Degraded {
					atomic.AddInt64(&metrics.Degraded, 1)
				}
				if d.DenyCode == tier.ReasonVelocityLimit {
					atomic.AddInt64(&metrics.VelocityDenied, 1)
				}

				// Velocity and availability denials say nothing about trust.
				predicted := !d.Allowed && d.DenyCode != tier.ReasonVelocityLimit && d.DenyCode != tier.ReasonServiceUnavailable
				switch {
				case predicted && c.IsFraud:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case c.IsFraud:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				default:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				}

				if verbose {
					mark := "ok"
					if predicted != c.IsFraud {
						mark = "MISS"
					}
					tierName := "-"
					if d.Tier != nil {
						tierName = d.Tier.String()
					}
					fmt.Printf("%-4s %-16s | %-15s | fraud: %-5v | tier: %-6s | allowed: %-5v %s\n",
						mark, c.UserID, c.Feature, c.IsFraud, tierName, d.Allowed, d.DenyCode)
				}
			}
		}()
	}

	for _, c := range checks {
		work <- c
	}
	close(work)
	wg.Wait()

	return metrics
}

func check(client *http.Client, baseURL string, c LabeledCheck) (*enforcement.Decision, error) {
	body, err := json.Marshal(checkRequest{UserID: c.UserID, Feature: c.Feature, Action: c.Action})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/v1/enforcement/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Denials still carry a decision body.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var d enforcement.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Legit:      %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Velocity Denied:  %d\n", m.VelocityDenied)
	fmt.Printf("   Degraded:         %d\n", m.Degraded)

	fmt.Printf("\nTIERS SEEN\n")
	for t := domain.TierGreen; t <= domain.TierBlack; t++ {
		fmt.Printf("   %-8s %d\n", t, m.byTier[t])
	}
	fmt.Printf("   %-8s %d\n", "UNKNOWN", m.noTier)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                    Denied      Allowed")
	fmt.Printf("   Actual  F      %8d     %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF      %8d     %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives, m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	m.mu.Lock()
	lat := slices.Clone(m.latencies)
	m.mu.Unlock()
	slices.Sort(lat)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.2f checks/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Printf("   p50 Latency:      %v\n", percentile(lat, 0.50))
	fmt.Printf("   p95 Latency:      %v\n", percentile(lat, 0.95))
	fmt.Printf("   p99 Latency:      %v\n", percentile(lat, 0.99))
	fmt.Println()
}
