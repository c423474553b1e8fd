// internal/workers/eligibility/evaluate-eligibility/handler.go
package evaluateeligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"document-eligibility/internal/common/errors"
	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/common/metrics"
	"document-eligibility/internal/engine"
	"document-eligibility/internal/engine/model"
)

const (
	TaskType = "evaluate-document-eligibility"
)

// ConfigSource resolves a template id to a prepared configuration.
type ConfigSource interface {
	Get(ctx context.Context, templateID string) (*model.ExtractionConfig, error)
}

type Evaluator interface {
	EvaluateTemplate(ctx context.Context, templateID string, cfg *model.ExtractionConfig, seed map[string]any, correlationID string) *engine.EligibilityResult
}

type Handler struct {
	config       *Config
	configs      ConfigSource
	evaluator    Evaluator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, configs ConfigSource, evaluator Evaluator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		configs:      configs,
		evaluator:    evaluator,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

// Handle completes the job with the eligibility result. Only an unusable
// input or an unavailable configuration fails the job; evaluation failures
// are part of the result.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
			return h.completeJob(ctx, client, job, output)
		}
	}

	stdErr := errors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
	return nil
}

// Execute looks up the configuration and evaluates the seed against it.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || strings.TrimSpace(input.TemplateID) == "" {
		return nil, errors.NewInvalidInputError("templateId is required")
	}

	cfg, err := h.configs.Get(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}

	seed := input.Seed
	if seed == nil {
		seed = map[string]any{}
	}
	result := h.evaluator.EvaluateTemplate(ctx, input.TemplateID, cfg, seed, input.CorrelationID)

	return &Output{
		Included:          result.Included,
		MatchingCriteria:  result.MatchingCriteria,
		EligibilityResult: result,
	}, nil
}

// parseInput validates the job variables and decodes numbers exactly.
func parseInput(variables string) (*Input, error) {
	res, err := inputSchema.ValidateBytes([]byte(variables))
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	if !res.Valid {
		return nil, errors.NewInvalidInputError(strings.Join(res.GetErrorMessages(), "; "))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(variables)))
	dec.UseNumber()
	var input Input
	if err := dec.Decode(&input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete job command: %w", err)
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":                  job.Key,
		"included":                output.Included,
		logger.CorrelationIDField: output.EligibilityResult.CorrelationID,
	})
	return nil
}
