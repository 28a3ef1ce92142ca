package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
	httpserver "github.com/iago/link-collector-back/internal/http"
	"github.com/iago/link-collector-back/internal/http/handlers"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/repository"
	"github.com/iago/link-collector-back/internal/service"
	"github.com/iago/link-collector-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Target         string           `json:"target"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

// cannedExtractor stands in for the network tiers so runs measure the
// queue, the dispatcher and the HTTP surface only.
type cannedExtractor struct {
	delay time.Duration
}

func (c cannedExtractor) Extract(ctx context.Context, pageURL string) domain.ExtractionResult {
	if !c.sleep(ctx) {
		return domain.FailedExtraction()
	}
	return domain.ExtractionResult{Method: domain.MethodStaticFetch, Content: "page body for " + pageURL}
}

func (c cannedExtractor) Process(ctx context.Context, videoURL string) (domain.ExtractionResult, error) {
	if !c.sleep(ctx) {
		return domain.FailedExtraction(), ctx.Err()
	}
	return domain.ExtractionResult{Method: domain.MethodTranscript, Content: "transcript for " + videoURL}, nil
}

func (c cannedExtractor) Summarize(ctx context.Context, text, language string) string {
	return fmt.Sprintf(`{"summary":%q,"language":%q}`, text, language)
}

func (c cannedExtractor) sleep(ctx context.Context) bool {
	if c.delay <= 0 {
		return true
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type benchmarkEnv struct {
	baseURL string
	token   string
	close   func()
}

func main() {
	target := flag.String("target", "", "base URL of a running api; empty starts an in-process server")
	token := flag.String("token", os.Getenv("API_AUTH_TOKEN"), "bearer token for the target api")
	processTotal := flag.Int("process-total", 200, "total process requests")
	processConcurrency := flag.Int("process-concurrency", 24, "concurrency for process requests")
	statusTotal := flag.Int("status-total", 400, "total status requests")
	statusConcurrency := flag.Int("status-concurrency", 32, "concurrency for status requests")
	completionTimeout := flag.Duration("completion-timeout", 30*time.Second, "how long to wait for queued jobs to finish")
	extractDelay := flag.Duration("extract-delay", 5*time.Millisecond, "simulated extraction latency for the in-process server")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env := &benchmarkEnv{baseURL: strings.TrimRight(*target, "/"), token: *token, close: func() {}}
	environment := "remote"
	if env.baseURL == "" {
		env = startBenchmarkEnvironment(*extractDelay)
		environment = "local-httptest"
	}
	defer env.close()

	client := &http.Client{Timeout: 10 * time.Second}

	var jobsMu sync.Mutex
	jobIDs := make([]string, 0, *processTotal)
	processScenario := runScenario("process_enqueue", *processTotal, *processConcurrency, func(index int) error {
		payload := map[string]any{
			"url":      benchmarkURL(index),
			"user_id":  "demo_user",
			"language": "Auto",
		}
		var response struct {
			JobID string `json:"job_id"`
		}
		if err := env.postJSON(client, "/process", payload, http.StatusAccepted, &response); err != nil {
			return err
		}
		jobsMu.Lock()
		jobIDs = append(jobIDs, response.JobID)
		jobsMu.Unlock()
		return nil
	})

	statusScenario := runScenario("status_poll", *statusTotal, *statusConcurrency, func(index int) error {
		jobsMu.Lock()
		count := len(jobIDs)
		var jobID string
		if count > 0 {
			jobID = jobIDs[index%count]
		}
		jobsMu.Unlock()
		if jobID == "" {
			return fmt.Errorf("no job ids collected")
		}
		return env.getJSON(client, "/status/"+jobID, http.StatusOK, nil)
	})

	completion := waitForCompletion(env, client, jobIDs, *completionTimeout)
	results := []scenarioResult{processScenario, statusScenario, completion}

	slo := map[string]bool{
		"process_endpoint_p95_le_500ms":   processScenario.P95MS <= 500,
		"status_endpoint_p95_le_200ms":    statusScenario.P95MS <= 200,
		"all_jobs_reached_terminal_state": completion.Errors == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    environment,
		Target:         env.baseURL,
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func benchmarkURL(index int) string {
	if index%5 == 0 {
		return fmt.Sprintf("https://www.youtube.com/watch?v=bench%06d", index)
	}
	return fmt.Sprintf("https://example.com/articles/%d", index)
}

func startBenchmarkEnvironment(extractDelay time.Duration) *benchmarkEnv {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(4096, logger)
	jobsService := service.NewJobsService(repo, localQueue, logger)

	api := handlers.NewAPI(handlers.APIDependencies{Jobs: jobsService, Logger: logger})
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	extractor := cannedExtractor{delay: extractDelay}
	processor := worker.NewProcessor(worker.Dependencies{
		Consumer:    localQueue,
		Repo:        repo,
		Web:         extractor,
		Video:       extractor,
		Summarizer:  extractor,
		Concurrency: 8,
		Logger:      logger,
	})
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		baseURL: server.URL,
		close: func() {
			cancel()
			server.Close()
		},
	}
}

// waitForCompletion polls every job until it is terminal and reports the
// end-to-end latency distribution measured from the first poll.
func waitForCompletion(env *benchmarkEnv, client *http.Client, jobIDs []string, timeout time.Duration) scenarioResult {
	deadline := time.Now().Add(timeout)
	return runScenario("job_completion", len(jobIDs), 16, func(index int) error {
		for {
			var status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			}
			if err := env.getJSON(client, "/status/"+jobIDs[index], http.StatusOK, &status); err != nil {
				return err
			}
			switch status.Status {
			case string(domain.JobStatusCompleted):
				return nil
			case string(domain.JobStatusFailed):
				return fmt.Errorf("job %s failed: %s", jobIDs[index], status.Error)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("job %s still %s at deadline", jobIDs[index], status.Status)
			}
			time.Sleep(20 * time.Millisecond)
		}
	})
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	indexes := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func (e *benchmarkEnv) postJSON(client *http.Client, path string, payload any, expectedStatus int, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, e.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	return e.do(client, request, expectedStatus, out)
}

func (e *benchmarkEnv) getJSON(client *http.Client, path string, expectedStatus int, out any) error {
	request, err := http.NewRequest(http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return e.do(client, request, expectedStatus, out)
}

func (e *benchmarkEnv) do(client *http.Client, request *http.Request, expectedStatus int, out any) error {
	request.Header.Set("Accept", "application/json")
	if e.token != "" {
		request.Header.Set("Authorization", "Bearer "+e.token)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
