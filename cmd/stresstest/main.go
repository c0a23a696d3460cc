package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dasmlab/m2mserve/pkg/loadtest"
)

func main() {
	var (
		url      string
		paySize  int
		numReq   int
		sleep    float64
		timeout  time.Duration
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "stresstest",
		Short: "Send concurrent translation requests and report response times",
		Long: `stresstest launches one request per goroutine against /translation,
pausing between launches, then prints the success rate and the average,
minimum and maximum response time of successful requests.

Examples:
  stresstest
  stresstest --pay-size 8 --num-req 500 --sleep 0.01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: time.RFC3339,
			})
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger.SetLevel(lvl)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := loadtest.Run(ctx, loadtest.Options{
				URL:         url,
				PayloadSize: paySize,
				Requests:    numReq,
				Interval:    time.Duration(sleep * float64(time.Second)),
				Timeout:     timeout,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&url, "url", loadtest.DefaultURL, "Translation endpoint")
	flags.IntVar(&paySize, "pay-size", loadtest.DefaultPayloadSize, "Number of records on each request")
	flags.IntVar(&numReq, "num-req", loadtest.DefaultRequests, "Number of requests to make to the endpoint")
	flags.Float64Var(&sleep, "sleep", loadtest.DefaultInterval.Seconds(), "Seconds to wait between requests")
	flags.DurationVar(&timeout, "timeout", 0, "Per-request timeout, 0 waits indefinitely")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
