package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zep-us/httpjobs/internal/client"
	"github.com/zep-us/httpjobs/internal/dispatch"
	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// JobFile is the YAML document read by `httpjobs run`
//
//	jobs:
//	  - name: health
//	    url: https://example.com/healthz
//	  - url: https://example.com/upload
//	    method: POST
//	    timeout: 5s
//	    fields:
//	      - {type: file, name: report, value: ./report.csv}
type JobFile struct {
	Jobs []FileJob `yaml:"jobs"`
}

// FileJob is one request in a JobFile. Timeouts use Go duration syntax.
type FileJob struct {
	Name           string               `yaml:"name"`
	URL            string               `yaml:"url"`
	Method         string               `yaml:"method"`
	Headers        []request.Header     `yaml:"headers"`
	ContentType    string               `yaml:"content_type"`
	UserAgent      string               `yaml:"user_agent"`
	Body           string               `yaml:"body"`
	Fields         []request.Field      `yaml:"fields"`
	ConnectTimeout time.Duration        `yaml:"connect_timeout"`
	Timeout        time.Duration        `yaml:"timeout"`
	Auth           request.Auth         `yaml:"auth"`
	TLS            request.TLSOptions   `yaml:"tls"`
	Proxy          request.ProxyOptions `yaml:"proxy"`
}

// Spec converts the entry into a request spec
func (j FileJob) Spec() (*request.Spec, error) {
	method, err := request.ParseMethod(j.Method)
	if err != nil {
		return nil, err
	}
	spec := &request.Spec{
		URL:            j.URL,
		Method:         method,
		Headers:        j.Headers,
		ContentType:    j.ContentType,
		UserAgent:      j.UserAgent,
		Fields:         j.Fields,
		ConnectTimeout: j.ConnectTimeout,
		RequestTimeout: j.Timeout,
		Auth:           j.Auth,
		TLS:            j.TLS,
		Proxy:          j.Proxy,
	}
	if j.Body != "" {
		spec.Body = []byte(j.Body)
	}
	return spec, spec.Validate()
}

// LoadJobFile reads and validates a job file
func LoadJobFile(path string) ([]*request.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var file JobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if len(file.Jobs) == 0 {
		return nil, fmt.Errorf("job file %s has no jobs", path)
	}

	specs := make([]*request.Spec, 0, len(file.Jobs))
	for i, j := range file.Jobs {
		spec, err := j.Spec()
		if err != nil {
			name := j.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildRunCommand(load configLoader) *cobra.Command {
	var (
		file     string
		family   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of requests from a YAML file",
		Long:  "Submit every job in --file to one family, poll until all results are collected and print each one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := dispatch.Strategy(family)
			if strategy != dispatch.StrategyCooperative && strategy != dispatch.StrategyThreaded {
				return fmt.Errorf("unknown family %q (want %s or %s)", family, dispatch.StrategyCooperative, dispatch.StrategyThreaded)
			}
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}

			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			specs, err := LoadJobFile(file)
			if err != nil {
				return err
			}

			c, err := client.New(client.OptionsFromConfig(cfg), client.TransportFromConfig(cfg))
			if err != nil {
				logger.Fatal("Failed to create job client: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runErr := RunBatch(ctx, c, strategy, specs, interval, cmd.OutOrStdout())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
			defer cancel()
			if err := c.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Shutdown did not drain: %v", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "jobs.yaml", "YAML job file")
	cmd.Flags().StringVar(&family, "family", string(dispatch.StrategyThreaded), "job family: async or bg")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "poll interval")

	return cmd
}

// RunBatch submits every spec to one family and polls every interval until each result has been
// printed. A spec the family refuses is reported and skipped. Cancelling ctx stops the wait.
func RunBatch(ctx context.Context, c *client.Client, strategy dispatch.Strategy, specs []*request.Spec, interval time.Duration, out io.Writer) error {
	d, ok := c.Dispatcher(strategy)
	if !ok {
		return fmt.Errorf("unknown family %q", strategy)
	}

	remaining := 0
	for _, spec := range specs {
		id, err := d.Submit(spec)
		if err != nil {
			fmt.Fprintf(out, "job-rejected: %s - %v\n", spec.URL, err)
			continue
		}
		logger.Debug("Submitted job %d %s %s", id, spec.EffectiveMethod(), spec.URL)
		remaining++
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for remaining > 0 {
		for remaining > 0 {
			res, ok := d.Poll()
			if !ok {
				break
			}
			state := dispatch.StateDone
			if res.Failed() {
				state = dispatch.StateFailed
			}
			fmt.Fprintf(out, "job-done: %d - %s (code=%d)\n", res.ID, state, res.Code)
			remaining--
		}
		if remaining == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%d job(s) still outstanding: %w", remaining, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
