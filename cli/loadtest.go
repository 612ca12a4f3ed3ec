package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/time/rate"
)

// LoadTestCommandInput contains the input for the loadtest command.
type LoadTestCommandInput struct {
	Target     string
	Credential string
	Header     string
	Rate       float64
	Duration   time.Duration
}

// LoadTestCommandOutput represents the JSON output from the loadtest command.
type LoadTestCommandOutput struct {
	Target       string         `json:"target"`
	Sent         int            `json:"sent"`
	StatusCounts map[string]int `json:"status_counts"`
	Degraded     int            `json:"degraded"`
	Errors       int            `json:"errors"`
	Elapsed      string         `json:"elapsed"`
}

// ConfigureLoadTestCommand sets up the loadtest command with kingpin.
func ConfigureLoadTestCommand(app *kingpin.Application, t *Throttle) {
	input := LoadTestCommandInput{}

	cmd := app.Command("loadtest", "Send paced requests at a running server and report status counts")

	cmd.Arg("target", "URL to request, e.g. http://localhost:8080/api/ping").
		Required().
		StringVar(&input.Target)

	cmd.Flag("credential", "Credential to present").
		StringVar(&input.Credential)

	cmd.Flag("header", "Header carrying the credential").
		Default("X-API-Key").
		StringVar(&input.Header)

	cmd.Flag("rate", "Requests per second").
		Default("10").
		Float64Var(&input.Rate)

	cmd.Flag("duration", "How long to run").
		Default("10s").
		DurationVar(&input.Duration)

	cmd.Action(func(c *kingpin.ParseContext) error {
		err := LoadTestCommand(context.Background(), input)
		app.FatalIfError(err, "loadtest")
		return nil
	})
}

// LoadTestCommand paces requests with a token-bucket limiter and tallies
// response statuses. It observes rather than asserts: reading the tallies
// against the configured tier limits is up to the operator.
func LoadTestCommand(ctx context.Context, input LoadTestCommandInput) error {
	if input.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", input.Rate)
	}

	ctx, cancel := context.WithTimeout(ctx, input.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(input.Rate), 1)
	client := &http.Client{Timeout: 5 * time.Second}

	out := LoadTestCommandOutput{
		Target:       input.Target,
		StatusCounts: map[string]int{},
	}
	start := time.Now()

	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.Target, nil)
		if err != nil {
			return err
		}
		if input.Credential != "" {
			req.Header.Set(input.Header, input.Credential)
		}

		out.Sent++
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				out.Sent--
				break
			}
			out.Errors++
			continue
		}
		out.StatusCounts[fmt.Sprintf("%d", resp.StatusCode)]++
		if resp.Header.Get("X-RateLimit-Degraded") == "true" {
			out.Degraded++
		}
		resp.Body.Close()
	}

	out.Elapsed = time.Since(start).Round(time.Millisecond).String()

	// Stable key order makes repeated runs diffable.
	keys := make([]string, 0, len(out.StatusCounts))
	for k := range out.StatusCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "%s: %d\n", k, out.StatusCounts[k])
	}

	return json.NewEncoder(os.Stdout).Encode(out)
}
