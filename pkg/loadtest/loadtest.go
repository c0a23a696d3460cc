// Package loadtest fires concurrent translation requests at a running server
// and summarizes response times.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL         = "http://127.0.0.1:9527/translation"
	DefaultPayloadSize = 1
	DefaultRequests    = 100
	DefaultInterval    = 50 * time.Millisecond

	sampleID   = "125"
	sampleText = "人生はチョコレートの箱のようなものだ。"
	sampleFrom = "ja"
	sampleTo   = "en"
)

// Options configures a run.
type Options struct {
	URL string
	// PayloadSize is the number of records in each request.
	PayloadSize int
	// Requests is the number of requests to send.
	Requests int
	// Interval is the pause between launching two requests.
	Interval time.Duration
	Timeout  time.Duration
	Logger   *logrus.Logger
}

type record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type requestBody struct {
	Payload struct {
		FromLang string   `json:"fromLang"`
		ToLang   string   `json:"toLang"`
		Records  []record `json:"records"`
	} `json:"payload"`
}

type responseBody struct {
	Result []record `json:"result"`
}

// Report aggregates a run. Durations holds successful requests only.
type Report struct {
	Requests  int
	Succeeded int
	Durations []time.Duration
}

// SuccessRate returns the share of successful requests in percent.
func (r Report) SuccessRate() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Requests) * 100
}

// Average returns the mean successful response time.
func (r Report) Average() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range r.Durations {
		total += d
	}
	return total / time.Duration(len(r.Durations))
}

// Min returns the fastest successful response time.
func (r Report) Min() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	return slices.Min(r.Durations)
}

// Max returns the slowest successful response time.
func (r Report) Max() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	return slices.Max(r.Durations)
}

func (r Report) String() string {
	if r.Succeeded == 0 {
		return fmt.Sprintf("%.2f%% of requests were successful", r.SuccessRate())
	}
	return fmt.Sprintf("%.2f%% of requests were successful with average of %.2fs, minimum of %.2fs and maximum of %.2fs response time",
		r.SuccessRate(), r.Average().Seconds(), r.Min().Seconds(), r.Max().Seconds())
}

func (o *Options) applyDefaults() error {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.PayloadSize == 0 {
		o.PayloadSize = DefaultPayloadSize
	}
	if o.Requests == 0 {
		o.Requests = DefaultRequests
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	var errs []error
	if o.PayloadSize < 0 {
		errs = append(errs, fmt.Errorf("payload size must be positive, got %d", o.PayloadSize))
	}
	if o.Requests < 0 {
		errs = append(errs, fmt.Errorf("request count must be positive, got %d", o.Requests))
	}
	if o.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", o.Interval))
	}
	return errors.Join(errs...)
}

func newBody(size int) requestBody {
	var body requestBody
	body.Payload.FromLang = sampleFrom
	body.Payload.ToLang = sampleTo
	body.Payload.Records = make([]record, size)
	for i := range body.Payload.Records {
		body.Payload.Records[i] = record{ID: sampleID, Text: sampleText}
	}
	return body
}

// Run launches opts.Requests requests, one goroutine each, pausing
// opts.Interval between launches, and waits for all of them.
// A request succeeds on status 200 with one result per record.
func Run(ctx context.Context, opts Options) (Report, error) {
	if err := opts.applyDefaults(); err != nil {
		return Report{}, err
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	body := newBody(opts.PayloadSize)

	report := Report{Requests: opts.Requests}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for n := 0; n < opts.Requests; n++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d, err := send(ctx, client, opts.URL, body, opts.PayloadSize)
			log := opts.Logger.WithField("request", n)
			if err != nil {
				log.WithError(err).Warn("Request failed")
				return
			}
			log.WithField("duration_ms", d.Milliseconds()).Info("Request OK")

			mu.Lock()
			report.Succeeded++
			report.Durations = append(report.Durations, d)
			mu.Unlock()
		}(n)

		if opts.Interval > 0 && n < opts.Requests-1 {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
			}
		}
	}
	wg.Wait()

	return report, ctx.Err()
}

func send(ctx context.Context, client *resty.Client, url string, body requestBody, want int) (time.Duration, error) {
	var out responseBody
	start := time.Now()
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(url)
	elapsed := time.Since(start)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("status %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	if len(out.Result) != want {
		return 0, fmt.Errorf("expected %d results, got %d", want, len(out.Result))
	}
	return elapsed, nil
}
