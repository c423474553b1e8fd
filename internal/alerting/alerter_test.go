// internal/alerting/alerter_test.go
package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"document-eligibility/internal/common/config"
	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, f.err
}

type fakeMailer struct {
	inputs []*ses.SendEmailInput
}

func (f *fakeMailer) SendEmail(_ context.Context, in *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	return &ses.SendEmailOutput{}, nil
}

func report(templateID string, d time.Duration, failure string) engine.Report {
	return engine.Report{
		TemplateID:    templateID,
		CorrelationID: "corr-1",
		Duration:      d,
		SlowThreshold: time.Second,
		Result:        &engine.EligibilityResult{FailureReason: failure},
	}
}

// ==========================
// Per-evaluation alerts
// ==========================

func TestAlerter_SNS(t *testing.T) {
	tests := []struct {
		name     string
		report   engine.Report
		subjects []string
	}{
		{"fast and successful", report("TPL-1", 100*time.Millisecond, ""), nil},
		{"slow", report("TPL-1", 2*time.Second, ""), []string{"Slow eligibility evaluation [TPL-1]"}},
		{"failed", report("", 10*time.Millisecond, "CONFIG_NOT_FOUND: missing"), []string{"Eligibility evaluation failed [corr-1]"}},
		{
			name:     "slow and failed",
			report:   report("TPL-2", 5*time.Second, "EVALUATION_ERROR: boom"),
			subjects: []string{"Slow eligibility evaluation [TPL-2]", "Eligibility evaluation failed [TPL-2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			a := NewSNSAlerter(pub, "arn:aws:sns:us-east-1:1:alerts", logger.NewTestLogger(t))
			a.EvaluationFinished(context.Background(), tt.report)

			var subjects []string
			for _, in := range pub.inputs {
				assert.Equal(t, "arn:aws:sns:us-east-1:1:alerts", aws.ToString(in.TopicArn))
				subjects = append(subjects, aws.ToString(in.Subject))
			}
			assert.Equal(t, tt.subjects, subjects)
		})
	}
}

func TestAlerter_SES(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewSESAlerter(mailer, "alerts@bank.test", []string{"ops@bank.test"}, logger.NewTestLogger(t))

	a.EvaluationFinished(context.Background(), report("TPL-1", 10*time.Millisecond, "UPSTREAM_TIMEOUT: slow"))

	require.Len(t, mailer.inputs, 1)
	in := mailer.inputs[0]
	assert.Equal(t, "alerts@bank.test", aws.ToString(in.Source))
	assert.Equal(t, []string{"ops@bank.test"}, in.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(in.Message.Body.Text.Data), "UPSTREAM_TIMEOUT: slow")
}

func TestAlerter_SendFailureIsLogged(t *testing.T) {
	log, logs := logger.NewObservedLogger("debug")
	pub := &fakePublisher{err: errors.New("throttled")}
	a := NewSNSAlerter(pub, "arn", log)

	a.EvaluationFinished(context.Background(), report("TPL-1", 2*time.Second, ""))

	assert.Equal(t, 1, logs.FilterMessage("failed to send alert").Len())
}

// ==========================
// Error rate
// ==========================

func TestAlerter_ErrorRateCrossing(t *testing.T) {
	a := newAlerter(nil, logger.NewNoOpLogger(), WithWindow(4))

	outcome := func(failed bool) engine.Report {
		r := engine.Report{TemplateID: "TPL-1", ErrorRateThreshold: 0.5, Result: &engine.EligibilityResult{}}
		if failed {
			r.Result.FailureReason = "x"
		}
		return r
	}
	rateAlerts := func(r engine.Report) int {
		n := 0
		for _, alert := range a.alertsFor(r) {
			if alert.Subject == "Eligibility error rate high [TPL-1]" {
				n++
			}
		}
		return n
	}

	// Window not full yet.
	assert.Equal(t, 0, rateAlerts(outcome(true)))
	assert.Equal(t, 0, rateAlerts(outcome(true)))
	assert.Equal(t, 0, rateAlerts(outcome(true)))
	// 4/4 failed.
	assert.Equal(t, 1, rateAlerts(outcome(true)))
	// Still above; no repeat.
	assert.Equal(t, 0, rateAlerts(outcome(false)))
	// 2/4 failed: recovered.
	assert.Equal(t, 0, rateAlerts(outcome(false)))
	// The two successes leave the window last.
	assert.Equal(t, 0, rateAlerts(outcome(true)))
	assert.Equal(t, 0, rateAlerts(outcome(true)))
	assert.Equal(t, 1, rateAlerts(outcome(true)))
}

func TestOutcomeWindow(t *testing.T) {
	w := &outcomeWindow{outcomes: make([]bool, 3)}
	for _, failed := range []bool{true, false, true, false, false} {
		w.add(failed)
	}
	assert.True(t, w.full())
	// Last three: true, false, false.
	assert.InDelta(t, 1.0/3.0, w.rate(), 1e-9)
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNoOpLogger()

	a, err := FromConfig(ctx, config.AlertingConfig{}, log)
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = FromConfig(ctx, config.AlertingConfig{Enabled: true, Channel: config.ChannelSNS, Region: "us-east-1", TopicARN: "arn"}, log)
	require.NoError(t, err)
	assert.NotNil(t, a)

	_, err = FromConfig(ctx, config.AlertingConfig{Enabled: true, Channel: "pager"}, log)
	assert.EqualError(t, err, `unsupported alert channel "pager"`)
}
