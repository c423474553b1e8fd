// internal/audit/recorder.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine"
	"document-eligibility/internal/engine/orchestrator"
	"document-eligibility/internal/engine/rules"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

// Decision is the document indexed for every evaluation.
type Decision struct {
	ID             string                         `json:"id"`
	TemplateID     string                         `json:"templateId,omitempty"`
	CorrelationID  string                         `json:"correlationId"`
	Included       bool                           `json:"included"`
	FailureReason  string                         `json:"failureReason,omitempty"`
	DurationMs     int64                          `json:"durationMs"`
	Slow           bool                           `json:"slow"`
	Metrics        orchestrator.Metrics           `json:"metrics"`
	RuleEvaluation rules.Evaluation               `json:"ruleEvaluation"`
	SourceStatus   map[string]orchestrator.Status `json:"sourceStatus,omitempty"`
	Timestamp      time.Time                      `json:"@timestamp"`
}

// Recorder writes decisions to an Elasticsearch index. Extracted variables
// are not stored.
type Recorder struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Recorder)

func WithTimeout(d time.Duration) Option { return func(r *Recorder) { r.timeout = d } }

func WithClock(now func() time.Time) Option { return func(r *Recorder) { r.now = now } }

func NewRecorder(client *elasticsearch.Client, index string, log logger.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		client:  client,
		index:   index,
		timeout: 5 * time.Second,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EvaluationFinished implements engine.Listener. Indexing failures are
// logged; they never change the decision.
func (r *Recorder) EvaluationFinished(ctx context.Context, report engine.Report) {
	if err := r.Record(ctx, report); err != nil {
		r.log.Warn("failed to record decision", map[string]interface{}{
			logger.CorrelationIDField: report.CorrelationID,
			"templateId":              report.TemplateID,
			"error":                   err.Error(),
		})
	}
}

func (r *Recorder) Record(ctx context.Context, report engine.Report) error {
	doc := r.decision(report)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	// The evaluation may have been cancelled; the record is still wanted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	res, err := r.client.Index(
		r.index,
		bytes.NewReader(body),
		r.client.Index.WithDocumentID(doc.ID),
		r.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index decision: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index decision: %s", res.Status())
	}
	return nil
}

func (r *Recorder) decision(report engine.Report) Decision {
	doc := Decision{
		ID:            r.newID(),
		TemplateID:    report.TemplateID,
		CorrelationID: report.CorrelationID,
		DurationMs:    report.Duration.Milliseconds(),
		Slow:          report.Slow(),
		Timestamp:     r.now().UTC(),
	}
	if res := report.Result; res != nil {
		doc.Included = res.Included
		doc.FailureReason = res.FailureReason
		doc.Metrics = res.ExecutionMetrics
		doc.RuleEvaluation = res.RuleEvaluation
		doc.SourceStatus = res.SourceStatus
	}
	return doc
}
