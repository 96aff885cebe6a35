// Package analyzer produces the analysis report for a repository. The report
// schema belongs to this package alone; the dispatch core stores and serves
// it as an opaque payload.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Report is the payload attached to a Complete job.
type Report struct {
	Security   SecurityReport   `json:"security"`
	Complexity ComplexityReport `json:"complexity"`
	AnalyzedAt time.Time        `json:"analyzedAt"`
}

// SecurityReport summarizes the dependency vulnerability scan.
type SecurityReport struct {
	VulnerabilitiesFound int       `json:"vulnerabilitiesFound"`
	Details              []Finding `json:"details"`
}

// Finding is one reported vulnerability.
type Finding struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Package  string `json:"package"`
}

// ComplexityReport summarizes the code complexity metrics.
type ComplexityReport struct {
	Cyclomatic      int `json:"cyclomatic"`
	Maintainability int `json:"maintainability"`
}

// Pipeline runs the analysis stages in order: validate the repository
// location, scan for vulnerable dependencies, then measure complexity. Both
// scans are currently simulated; a real deployment would shell out to tools
// like osv-scanner and lizard here.
type Pipeline struct {
	logger *slog.Logger

	// stage delays simulate the cost of the real tools; zero in tests
	scanDelay     time.Duration
	analysisDelay time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStageDelays overrides the simulated stage durations
func WithStageDelays(scan, analysis time.Duration) Option {
	return func(p *Pipeline) {
		p.scanDelay = scan
		p.analysisDelay = analysis
	}
}

// NewPipeline creates the analysis pipeline
func NewPipeline(logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:        logger,
		scanDelay:     5 * time.Second,
		analysisDelay: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze runs all stages against the repository and returns the encoded
// report. Respects ctx for cancellation and the per-job timeout.
func (p *Pipeline) Analyze(ctx context.Context, repoURL string) ([]byte, error) {
	if err := validateRepoURL(repoURL); err != nil {
		return nil, err
	}

	p.logger.Info("Starting security scan",
		slog.String("repo_url", repoURL),
	)
	security, err := p.securityScan(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("security scan failed: %w", err)
	}

	p.logger.Info("Starting complexity analysis",
		slog.String("repo_url", repoURL),
	)
	complexity, err := p.complexityAnalysis(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("complexity analysis failed: %w", err)
	}

	report := Report{
		Security:   security,
		Complexity: complexity,
		AnalyzedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return body, nil
}

// validateRepoURL is the stand-in for the clone stage: a repository we could
// not clone fails the job. Submissions are accepted with any URL, so this is
// where malformed ones surface as job errors.
func validateRepoURL(repoURL string) error {
	u, err := url.ParseRequestURI(repoURL)
	if err != nil {
		return fmt.Errorf("cannot clone repository %q: %v", repoURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("cannot clone repository %q: missing scheme or host", repoURL)
	}
	return nil
}

func (p *Pipeline) securityScan(ctx context.Context, repoURL string) (SecurityReport, error) {
	if err := p.wait(ctx, p.scanDelay); err != nil {
		return SecurityReport{}, err
	}

	findings := []Finding{
		{ID: "CVE-2023-1234", Severity: "High", Package: "left-pad"},
		{ID: "CVE-2023-5678", Severity: "Medium", Package: "express"},
	}

	return SecurityReport{
		VulnerabilitiesFound: len(findings),
		Details:              findings,
	}, nil
}

func (p *Pipeline) complexityAnalysis(ctx context.Context, repoURL string) (ComplexityReport, error) {
	if err := p.wait(ctx, p.analysisDelay); err != nil {
		return ComplexityReport{}, err
	}

	return ComplexityReport{
		Cyclomatic:      12,
		Maintainability: 85,
	}, nil
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
