package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	heph "github.com/olympus-robotics/hephaestus-go"
	"github.com/olympus-robotics/hephaestus-go/internal/logging"
	"github.com/olympus-robotics/hephaestus-go/reactor"
)

func main() {
	var (
		count   = flag.Int("count", 10, "Number of values to generate before stopping")
		period  = flag.Duration("period", time.Millisecond, "Generator period")
		factor  = flag.Float64("factor", -1, "Time scale factor; negative sweeps a set of factors")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	factors := []float64{0, 0.5, 1.0, 1.5, 2.0}
	if *factor >= 0 {
		factors = []float64{*factor}
	}

	for _, f := range factors {
		elapsed, produced, err := runPipeline(f, *count, *period)
		if err != nil {
			logger.Error("pipeline failed", "factor", f, "error", err)
			os.Exit(1)
		}
		fmt.Printf("factor %.1f: %d pairs in %v\n", f, produced, elapsed.Round(time.Microsecond))
	}
}

// runPipeline wires a counting generator and a label generator into a sink
// awaiting both inputs, runs the graph until the counter reaches max, and
// reports the wall time.
func runPipeline(factor float64, max int, period time.Duration) (time.Duration, int, error) {
	metrics := heph.NewMetrics()
	config := heph.DefaultEngineConfig()
	config.Context.TimeScaleFactor = factor
	config.Observer = metrics

	engine, err := heph.NewEngine(config)
	if err != nil {
		return 0, 0, err
	}
	defer engine.Close()

	count := 0
	numbers := heph.NewGenerator("numbers", period, func() int {
		count++
		if count >= max {
			engine.RequestStop()
		}
		return count
	})
	labels := heph.NewGenerator("labels", period, func() string { return "tick" })

	sink := newPairSink()
	if err := engine.AddNode(numbers); err != nil {
		return 0, 0, err
	}
	if err := engine.AddNode(labels); err != nil {
		return 0, 0, err
	}
	if err := engine.AddNode(sink); err != nil {
		return 0, 0, err
	}
	if err := heph.Connect(engine, numbers.Out, sink.Numbers); err != nil {
		return 0, 0, err
	}
	if err := heph.Connect(engine, labels.Out, sink.Labels); err != nil {
		return 0, 0, err
	}

	begin := time.Now()
	if err := engine.Run(); err != nil {
		return 0, 0, err
	}
	metrics.MarkStopped()

	logging.Debug("pipeline metrics",
		"executions", metrics.Executions.Load(),
		"timer_fires", metrics.TimerFires.Load(),
		"dropped", metrics.ValuesDropped.Load())
	return time.Since(begin), sink.pairs, nil
}

// pairSink consumes one value from each input per execution.
type pairSink struct {
	Numbers *heph.TypedInput[int]
	Labels  *heph.TypedInput[string]
	pairs   int
}

func newPairSink() *pairSink {
	s := &pairSink{}
	s.Numbers = heph.NewInput[int](s, "numbers")
	s.Labels = heph.NewInput[string](s, "labels")
	return s
}

func (s *pairSink) Name() string { return "sink" }

func (s *pairSink) Trigger(c *reactor.Context) reactor.Sender {
	return reactor.WhenAll(s.Numbers.AwaitOne(), s.Labels.AwaitOne())
}

func (s *pairSink) Execute(c *reactor.Context) {
	n, ok1 := s.Numbers.TakeNow()
	l, ok2 := s.Labels.TakeNow()
	if ok1 && ok2 {
		s.pairs++
		logging.Debug("sink", "number", n, "label", l)
	}
}
