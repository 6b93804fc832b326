package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/coverbridge/platform-security/internal/domain/threat"
	"github.com/coverbridge/platform-security/internal/domain/validation"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/cache"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
)

// risk score assigned when validation itself fails unexpectedly: unknown
// failure is treated as suspicious rather than silently passing
const failClosedRiskScore = 10

// MaliciousInputReport asks the incident subsystem to open an incident for a
// blocked input. This is the validator's only dependency on that subsystem.
type MaliciousInputReport struct {
	InputType validation.InputType
	FieldName string
	Threats   []threat.Category
	RiskScore int
	UserID    string
}

// IncidentReporter is implemented by the incident service.
type IncidentReporter interface {
	ReportMaliciousInput(ctx context.Context, report MaliciousInputReport) error
}

// Options carries the optional per-call validation context.
type Options struct {
	Required  bool
	FieldName string
	UserID    string
}

// Service orchestrates structural rules, threat scanning, sanitization and
// result caching. Stateless apart from the bounded cache; safe for
// unsynchronized concurrent use.
type Service struct {
	scanner   *threat.Scanner
	rules     map[validation.InputType]validation.Rule
	cache     *cache.ValidationCache
	sink      audit.Sink
	reporter  IncidentReporter
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	threshold int
}

// NewService wires the validator. reporter may be nil when the incident
// subsystem is not embedded; blocked inputs are then only logged.
func NewService(
	scanner *threat.Scanner,
	resultCache *cache.ValidationCache,
	sink audit.Sink,
	reporter IncidentReporter,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	fieldRiskThreshold int,
) *Service {
	return &Service{
		scanner:   scanner,
		rules:     validation.Rules(),
		cache:     resultCache,
		sink:      sink,
		reporter:  reporter,
		metrics:   metrics,
		logger:    logger,
		threshold: fieldRiskThreshold,
	}
}

// Validate checks one input against its type's rules. Rejections are typed
// results; Validate itself never fails.
func (s *Service) Validate(ctx context.Context, input string, inputType validation.InputType, opts Options) (result validation.Result) {
	s.metrics.InputScans.WithLabelValues(string(inputType)).Inc()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("validation panicked",
				zap.String("input_type", string(inputType)),
				zap.Any("panic", r))
			result = validation.Result{
				IsValid:   false,
				Errors:    []string{"Validation failed"},
				RiskScore: failClosedRiskScore,
			}
		}
	}()

	if input == "" {
		if opts.Required {
			return validation.Result{
				IsValid: false,
				Errors:  []string{"Field is required"},
			}
		}
		return validation.Result{IsValid: true, SanitizedValue: input}
	}

	if cached, ok := s.cache.Get(inputType, input); ok {
		return cached
	}

	result = s.validate(ctx, input, inputType, opts)
	s.cache.Put(inputType, input, result)
	return result
}

func (s *Service) validate(ctx context.Context, input string, inputType validation.InputType, opts Options) validation.Result {
	result := validation.Result{IsValid: true}

	scan := s.scanner.Scan(input)
	result.RiskScore = scan.RiskScore
	result.Warnings = scan.Warnings
	result.Threats = scan.Threats
	for _, cat := range scan.Threats {
		s.metrics.ThreatsDetected.WithLabelValues(string(cat)).Inc()
	}

	if scan.Blocked {
		s.metrics.ValidationBlocked.Inc()
		result.IsValid = false
		result.Errors = append(result.Errors, "Input contains potentially malicious content")
		s.reportBlocked(ctx, inputType, scan, opts)
		return result
	}

	rule, ok := s.rules[inputType]
	if !ok {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown input type %q", inputType))
		return result
	}

	if rule.MinLength > 0 && len(input) < rule.MinLength {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Must be at least %d characters", rule.MinLength))
	}
	if rule.MaxLength > 0 && len(input) > rule.MaxLength {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Must be at most %d characters", rule.MaxLength))
	}
	if rule.Format != nil && !rule.Format.MatchString(input) {
		result.IsValid = false
		result.Errors = append(result.Errors, "Invalid format")
	}
	if result.IsValid && rule.Check != nil {
		if err := rule.Check(input); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if result.IsValid && rule.Sanitize != nil {
		result.SanitizedValue = rule.Sanitize(input)
	}
	return result
}

// ValidateFields validates every named field against its schema entry and
// aggregates the risk. An aggregate above the configured threshold emits an
// audit event naming the failing fields, whether or not any single field was
// individually blocked.
func (s *Service) ValidateFields(ctx context.Context, data map[string]string, schema map[string]validation.FieldSchema, userID string) validation.FieldsResult {
	out := validation.FieldsResult{
		IsValid:       true,
		Results:       make(map[string]validation.Result, len(schema)),
		SanitizedData: make(map[string]string, len(schema)),
	}

	var failed []string
	for field, entry := range schema {
		result := s.Validate(ctx, data[field], entry.Type, Options{
			Required:  entry.Required,
			FieldName: field,
			UserID:    userID,
		})
		out.Results[field] = result
		out.OverallRiskScore += result.RiskScore
		if result.IsValid {
			out.SanitizedData[field] = result.SanitizedValue
		} else {
			out.IsValid = false
			failed = append(failed, field)
		}
	}

	if out.OverallRiskScore > s.threshold {
		sort.Strings(failed)
		if err := s.sink.LogAuditEvent(ctx, "high_risk_submission", "input_validation", userID, map[string]interface{}{
			"overall_risk_score": out.OverallRiskScore,
			"failed_fields":      failed,
			"field_count":        len(schema),
		}); err != nil {
			s.logger.Error("audit sink rejected high-risk submission event", zap.Error(err))
		}
	}
	return out
}

func (s *Service) reportBlocked(ctx context.Context, inputType validation.InputType, scan threat.ScanResult, opts Options) {
	categories := make([]string, 0, len(scan.Threats))
	for _, cat := range scan.Threats {
		categories = append(categories, string(cat))
	}

	if err := s.sink.CaptureSecurityEvent(ctx, audit.SecurityEvent{
		Type:      "malicious_input_blocked",
		Severity:  audit.SeverityHigh,
		Details:   fmt.Sprintf("blocked input on field %q", opts.FieldName),
		Timestamp: time.Now().UTC(),
		UserID:    opts.UserID,
		Metadata: map[string]interface{}{
			"input_type": string(inputType),
			"threats":    categories,
			"risk_score": scan.RiskScore,
		},
	}); err != nil {
		s.logger.Error("audit sink rejected security event", zap.Error(err))
	}

	if s.reporter == nil {
		return
	}
	err := s.reporter.ReportMaliciousInput(ctx, MaliciousInputReport{
		InputType: inputType,
		FieldName: opts.FieldName,
		Threats:   scan.Threats,
		RiskScore: scan.RiskScore,
		UserID:    opts.UserID,
	})
	if err != nil {
		s.logger.Error("failed to open incident for blocked input", zap.Error(err))
	}
}
