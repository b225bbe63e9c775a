package orchestrator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/skill"
)

// VerifyConfig enables verification with a number of verifier backends.
type VerifyConfig struct {
	Enabled   bool
	Verifiers int
}

// ConsensusStatus is the agreement level among verifiers.
type ConsensusStatus string

const (
	Unanimous   ConsensusStatus = "unanimous"
	Majority    ConsensusStatus = "majority"
	NoConsensus ConsensusStatus = "no_consensus"
)

const defaultConfidence = 0.5

// VerificationVerdict is one verifier's judgment of the primary response.
type VerificationVerdict struct {
	Backend                   adapter.BackendType `json:"backend"`
	Agrees                    bool                `json:"agrees"`
	Confidence                float64             `json:"confidence"`
	Concerns                  []string            `json:"concerns"`
	AlternativeInterpretation string              `json:"alternativeInterpretation,omitempty"`
}

// ConsensusResult reduces zero or more verdicts against one primary response.
type ConsensusResult struct {
	Status           ConsensusStatus             `json:"status"`
	Primary          *adapter.GenerationResponse `json:"primary"`
	Verifications    []VerificationVerdict       `json:"verifications"`
	MinorityConcerns []string                    `json:"minorityConcerns,omitempty"`
}

// ExecuteWithVerification runs skillID and, when verification is enabled for
// it, asks other backends to check the result. Verifier failures are logged
// and excluded; only a primary failure is returned.
func (o *Orchestrator) ExecuteWithVerification(ctx context.Context, skillID string, input map[string]any, opts Options) (*ConsensusResult, error) {
	primary, req, err := o.tracedExecute(ctx, skillID, input, opts)
	if err != nil {
		return nil, err
	}
	rawData := req.Prompt

	cfg := o.verificationFor(skillID, opts.Verify)
	if !cfg.Enabled || cfg.Verifiers <= 0 {
		return Reduce(primary, nil), nil
	}

	log := o.log.WithFields(logrus.Fields{"skill": skillID, "backend": primary.Provider})
	verifiers := o.pickVerifiers(primary.Provider, cfg.Verifiers)
	if len(verifiers) == 0 {
		log.Warn("verification enabled but no other backend is registered")
		return Reduce(primary, nil), nil
	}

	verdicts, err := o.verify(ctx, primary, rawData, verifiers, log)
	if err != nil {
		return nil, err
	}
	if len(verdicts) == 0 {
		log.Warn("every verifier failed; reporting primary-only consensus")
	}

	result := Reduce(primary, verdicts)
	o.metrics.Consensus(string(result.Status))
	log.WithFields(logrus.Fields{
		"status":    result.Status,
		"verifiers": len(verdicts),
	}).Info("verification complete")
	return result, nil
}

func (o *Orchestrator) verificationFor(skillID string, override *VerifyConfig) VerifyConfig {
	if override != nil {
		return *override
	}
	return o.verification[skillID]
}

// pickVerifiers returns up to n registered backends other than exclude, in
// registration order. Health is not consulted.
func (o *Orchestrator) pickVerifiers(exclude adapter.BackendType, n int) []adapter.BackendType {
	var picked []adapter.BackendType
	for _, b := range o.backends.Types() {
		if b == exclude {
			continue
		}
		picked = append(picked, b)
		if len(picked) == n {
			break
		}
	}
	return picked
}

// verify fans the verify-analysis skill out to every verifier and waits for
// all of them to settle.
func (o *Orchestrator) verify(ctx context.Context, primary *adapter.GenerationResponse, rawData string, verifiers []adapter.BackendType, log logrus.FieldLogger) ([]VerificationVerdict, error) {
	vs, err := o.skills.Get(skill.VerifyAnalysis)
	if err != nil {
		return nil, err
	}
	req := vs.Request(map[string]any{
		"originalAnalysis": primary.Text,
		"rawData":          rawData,
	})

	ctx, span := o.tracer.Start(ctx, "orchestrator.Verify", trace.WithAttributes(
		attribute.String("backend", string(primary.Provider)),
		attribute.Int("verifiers", len(verifiers)),
	))
	defer span.End()

	results := make([]*VerificationVerdict, len(verifiers))
	var wg sync.WaitGroup
	for i, backend := range verifiers {
		wg.Add(1)
		go func(i int, backend adapter.BackendType) {
			defer wg.Done()
			a, err := o.backends.Get(backend)
			if err != nil {
				log.WithField("verifier", backend).WithError(err).Warn("verifier unavailable")
				return
			}
			resp, err := o.invoke(ctx, backend, a, req)
			if err != nil {
				log.WithField("verifier", backend).WithError(err).Warn("verifier failed")
				return
			}
			verdict := parseVerdict(backend, resp)
			results[i] = &verdict
		}(i, backend)
	}
	wg.Wait()

	verdicts := make([]VerificationVerdict, 0, len(results))
	for _, v := range results {
		if v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts, nil
}

type verdictPayload struct {
	Agrees                    *bool    `json:"agrees"`
	Confidence                *float64 `json:"confidence"`
	Concerns                  []string `json:"concerns"`
	AlternativeInterpretation string   `json:"alternativeInterpretation"`
}

// parseVerdict reads a verdict from structured output. Missing fields default
// to agrees=false and confidence=0.5.
func parseVerdict(backend adapter.BackendType, resp *adapter.GenerationResponse) VerificationVerdict {
	verdict := VerificationVerdict{Backend: backend, Confidence: defaultConfidence, Concerns: []string{}}

	var payload verdictPayload
	if err := resp.DecodeParsed(&payload); err != nil {
		return verdict
	}
	if payload.Agrees != nil {
		verdict.Agrees = *payload.Agrees
	}
	if payload.Confidence != nil {
		verdict.Confidence = clamp01(*payload.Confidence)
	}
	if payload.Concerns != nil {
		verdict.Concerns = payload.Concerns
	}
	verdict.AlternativeInterpretation = payload.AlternativeInterpretation
	return verdict
}

// Reduce computes the consensus over verdicts. No verdicts is unanimous. At
// least half agreeing, with one or more agreeing, is a majority; dissenters'
// concerns are collected into MinorityConcerns.
func Reduce(primary *adapter.GenerationResponse, verdicts []VerificationVerdict) *ConsensusResult {
	result := &ConsensusResult{
		Status:        Unanimous,
		Primary:       primary,
		Verifications: append([]VerificationVerdict{}, verdicts...),
	}
	if len(verdicts) == 0 {
		return result
	}

	agree := 0
	for _, v := range verdicts {
		if v.Agrees {
			agree++
		}
	}

	switch {
	case agree == len(verdicts):
		result.Status = Unanimous
	case agree > 0 && agree*2 >= len(verdicts):
		result.Status = Majority
		for _, v := range verdicts {
			if !v.Agrees {
				result.MinorityConcerns = append(result.MinorityConcerns, v.Concerns...)
			}
		}
	default:
		result.Status = NoConsensus
	}
	return result
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
