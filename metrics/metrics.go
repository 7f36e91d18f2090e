package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

const (
	MetricsNamespace = "dispval"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	// Registry is served by the metrics server
	Registry = opmetrics.NewRegistry()
	factory  = promauto.With(Registry)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	caseResultsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "case_results_total",
		Help:      "Count of executed test cases by result",
	}, []string{
		"case",
		"result",
	})

	caseDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "case_duration_seconds",
		Help:      "Duration of the last run of a test case",
	}, []string{
		"case",
	})

	suiteResult = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_result_code",
		Help:      "Result code of the last suite run",
	}, []string{
		"selector",
	})

	suiteCasesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_cases_total",
		Help:      "Number of cases run by suites, by result",
	}, []string{
		"selector",
		"result",
	})

	suiteDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_duration_seconds",
		Help:      "Duration of the last suite run",
	}, []string{
		"selector",
	})

	suiteAbortsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_aborts_total",
		Help:      "Number of suite runs stopped early by a fatal result",
	}, []string{
		"selector",
	})

	reportWriteErrorsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "report_write_errors_total",
		Help:      "Number of report records that could not be written",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordCase counts one finished case
func RecordCase(caseNumber int, code types.ResultCode, duration time.Duration) {
	code = code.Sanitize()
	caseLabel := strconv.Itoa(caseNumber)
	if Debug {
		log.Debug("metric inc",
			"m", "case_results_total",
			"case", caseLabel,
			"result", code.String())
	}
	caseResultsTotal.WithLabelValues(caseLabel, code.String()).Inc()
	caseDuration.WithLabelValues(caseLabel).Set(duration.Seconds())
}

// RecordSuite records the aggregate of a finished suite run
func RecordSuite(outcome *types.SuiteOutcome) {
	if outcome == nil {
		return
	}
	selector := strings.ToLower(outcome.Selector)
	suiteResult.WithLabelValues(selector).Set(float64(outcome.Code.Sanitize()))
	suiteDuration.WithLabelValues(selector).Set(outcome.Duration.Seconds())
	for code, count := range outcome.Stats() {
		suiteCasesTotal.WithLabelValues(selector, code.Sanitize().String()).Add(float64(count))
	}
	if outcome.Aborted {
		suiteAbortsTotal.WithLabelValues(selector).Inc()
	}
}

// RecordReportWriteError counts a record that could not be appended to the report
func RecordReportWriteError() {
	reportWriteErrorsTotal.Inc()
}
