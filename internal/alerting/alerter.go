// internal/alerting/alerter.go
package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Publisher is satisfied by the SNS client.
type Publisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// Mailer is satisfied by the SES client.
type Mailer interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// Alert is one notification about an evaluation or a template.
type Alert struct {
	Subject string
	Body    string
}

type sendFunc func(ctx context.Context, alert Alert) error

// Alerter raises alerts for slow or failed evaluations and for templates
// whose recent failure rate crosses the configured threshold.
type Alerter struct {
	send   sendFunc
	log    logger.Logger
	window int

	mu    sync.Mutex
	rates map[string]*outcomeWindow
}

type Option func(*Alerter)

// WithWindow sets how many recent evaluations per template feed the error
// rate.
func WithWindow(n int) Option {
	return func(a *Alerter) {
		if n > 0 {
			a.window = n
		}
	}
}

func NewSNSAlerter(pub Publisher, topicARN string, log logger.Logger, opts ...Option) *Alerter {
	send := func(ctx context.Context, alert Alert) error {
		_, err := pub.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(topicARN),
			Subject:  aws.String(truncate(alert.Subject, 100)),
			Message:  aws.String(alert.Body),
		})
		return err
	}
	return newAlerter(send, log, opts...)
}

func NewSESAlerter(mailer Mailer, from string, to []string, log logger.Logger, opts ...Option) *Alerter {
	send := func(ctx context.Context, alert Alert) error {
		_, err := mailer.SendEmail(ctx, &ses.SendEmailInput{
			Source:      aws.String(from),
			Destination: &sestypes.Destination{ToAddresses: to},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(alert.Subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(alert.Body)},
				},
			},
		})
		return err
	}
	return newAlerter(send, log, opts...)
}

func newAlerter(send sendFunc, log logger.Logger, opts ...Option) *Alerter {
	a := &Alerter{
		send:   send,
		log:    log,
		window: 20,
		rates:  make(map[string]*outcomeWindow),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EvaluationFinished implements engine.Listener.
func (a *Alerter) EvaluationFinished(ctx context.Context, report engine.Report) {
	for _, alert := range a.alertsFor(report) {
		if err := a.send(context.WithoutCancel(ctx), alert); err != nil {
			a.log.Warn("failed to send alert", map[string]interface{}{
				logger.CorrelationIDField: report.CorrelationID,
				"subject":                 alert.Subject,
				"error":                   err.Error(),
			})
		}
	}
}

func (a *Alerter) alertsFor(report engine.Report) []Alert {
	var alerts []Alert
	failed := report.Result != nil && report.Result.FailureReason != ""

	if report.Slow() {
		alerts = append(alerts, Alert{
			Subject: fmt.Sprintf("Slow eligibility evaluation %s", label(report)),
			Body: fmt.Sprintf("Evaluation %s took %s (threshold %s).",
				report.CorrelationID, report.Duration, report.SlowThreshold),
		})
	}
	if failed {
		alerts = append(alerts, Alert{
			Subject: fmt.Sprintf("Eligibility evaluation failed %s", label(report)),
			Body:    fmt.Sprintf("Evaluation %s failed: %s", report.CorrelationID, report.Result.FailureReason),
		})
	}
	if rate, crossed := a.track(report, failed); crossed {
		alerts = append(alerts, Alert{
			Subject: fmt.Sprintf("Eligibility error rate high %s", label(report)),
			Body: fmt.Sprintf("%.0f%% of the last evaluations failed (threshold %.0f%%).",
				rate*100, report.ErrorRateThreshold*100),
		})
	}
	return alerts
}

// track records the outcome and reports whether the error rate just moved
// above the threshold. It fires again only after the rate has recovered.
func (a *Alerter) track(report engine.Report, failed bool) (float64, bool) {
	if report.ErrorRateThreshold <= 0 || report.TemplateID == "" {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.rates[report.TemplateID]
	if !ok {
		w = &outcomeWindow{outcomes: make([]bool, a.window)}
		a.rates[report.TemplateID] = w
	}
	w.add(failed)

	rate := w.rate()
	above := w.full() && rate > report.ErrorRateThreshold
	crossed := above && !w.alerting
	w.alerting = above
	return rate, crossed
}

type outcomeWindow struct {
	outcomes []bool
	next     int
	count    int
	failures int
	alerting bool
}

func (w *outcomeWindow) add(failed bool) {
	if w.count == len(w.outcomes) && w.outcomes[w.next] {
		w.failures--
	}
	w.outcomes[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.outcomes)
	if w.count < len(w.outcomes) {
		w.count++
	}
}

func (w *outcomeWindow) full() bool { return w.count == len(w.outcomes) }

func (w *outcomeWindow) rate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

func label(report engine.Report) string {
	if report.TemplateID == "" {
		return fmt.Sprintf("[%s]", report.CorrelationID)
	}
	return fmt.Sprintf("[%s]", report.TemplateID)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n]
}
