// assess-planner runs a set of labelled questions through the configured
// planner and scores how many plans match their expectations.
//
// Each case names the question and either the expected explore and fields or
// the expected refusal kind. Every generated statement is also run through
// the guardrail's static checks. A score of 100 means every case matched.
//
// Usage: go run ./scripts/assess-planner <model.yaml> <cases.yaml> [catalog.yaml]
//
// Planner selection and generator settings come from config.yaml and the
// usual environment variables (QUERY_PLANNER, LLM_*).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	"github.com/ekaya-inc/ekaya-grounding/pkg/services"
	sqlguard "github.com/ekaya-inc/ekaya-grounding/pkg/sql"
)

// Case is one labelled question.
type Case struct {
	Question  string   `yaml:"question"`
	Limit     *int     `yaml:"limit"`
	Explore   string   `yaml:"explore"`
	Fields    []string `yaml:"fields"`
	Joins     []string `yaml:"joins"`
	ErrorKind string   `yaml:"error_kind"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Question  string   `json:"question"`
	Passed    bool     `json:"passed"`
	Explore   string   `json:"explore,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	SQL       string   `json:"sql,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

// AssessmentResult contains the full assessment output.
type AssessmentResult struct {
	CommitInfo string       `json:"commit_info"`
	ModelPath  string       `json:"model_path"`
	Planner    string       `json:"planner"`
	Cases      []CaseResult `json:"cases"`
	Passed     int          `json:"passed"`
	FinalScore int          `json:"final_score"` // 0-100
	Summary    string       `json:"summary"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <model.yaml> <cases.yaml> [catalog.yaml]\n", os.Args[0])
		os.Exit(1)
	}
	modelPath, casesPath := os.Args[1], os.Args[2]

	cfg, err := config.Load("assess")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	cases, err := loadCases(casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load cases: %v\n", err)
		os.Exit(1)
	}

	var source catalog.Source
	if len(os.Args) > 3 {
		source = catalog.NewFileSource(os.Args[3])
	}

	logger := zap.NewNop()
	planner, err := services.BuildPlanner(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure planner: %v\n", err)
		os.Exit(1)
	}
	svc, err := services.NewTextToSQLService(&cfg.Generator, source, planner, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create service: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := svc.LoadModel(ctx, modelPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load model: %v\n", err)
		os.Exit(1)
	}

	result := AssessmentResult{
		CommitInfo: getCommitInfo(),
		ModelPath:  modelPath,
		Planner:    planner.Name(),
	}
	for _, c := range cases {
		cr := assessCase(c, svc.Generate(ctx, services.GenerateRequest{Question: c.Question, Limit: c.Limit}))
		if cr.Passed {
			result.Passed++
		}
		result.Cases = append(result.Cases, cr)
	}

	if len(cases) > 0 {
		result.FinalScore = result.Passed * 100 / len(cases)
	}
	result.Summary = fmt.Sprintf("%d of %d cases matched with the %s planner", result.Passed, len(cases), result.Planner)

	output, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(output))
}

func loadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cases, nil
}

func assessCase(c Case, res *models.Result) CaseResult {
	cr := CaseResult{Question: c.Question, ErrorKind: res.ErrorKind, SQL: res.SQL}
	if res.Plan != nil {
		cr.Explore = res.Plan.Explore
		cr.Fields = res.Plan.FieldNames()
	}

	if c.ErrorKind != "" {
		if res.ErrorKind != c.ErrorKind {
			cr.Issues = append(cr.Issues, fmt.Sprintf("expected refusal %s, got %q", c.ErrorKind, res.ErrorKind))
		}
		cr.Passed = len(cr.Issues) == 0
		return cr
	}

	if !res.OK() {
		cr.Issues = append(cr.Issues, fmt.Sprintf("refused with %s: %s", res.ErrorKind, res.Message))
		return cr
	}
	if c.Explore != "" && res.Plan.Explore != c.Explore {
		cr.Issues = append(cr.Issues, fmt.Sprintf("expected explore %s, got %s", c.Explore, res.Plan.Explore))
	}
	if c.Fields != nil && !sameSet(c.Fields, cr.Fields) {
		cr.Issues = append(cr.Issues, fmt.Sprintf("expected fields %v, got %v", c.Fields, cr.Fields))
	}
	if c.Joins != nil {
		var joins []string
		for _, j := range res.Plan.JoinPath {
			joins = append(joins, j.View)
		}
		if !sameSet(c.Joins, joins) {
			cr.Issues = append(cr.Issues, fmt.Sprintf("expected joins %v, got %v", c.Joins, joins))
		}
	}
	if tag, detail := sqlguard.CheckStatic(res.SQL); tag != "" {
		cr.Issues = append(cr.Issues, fmt.Sprintf("guardrail %s: %s", tag, detail))
	}

	cr.Passed = len(cr.Issues) == 0
	return cr
}

func sameSet(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	w := slices.Clone(want)
	g := slices.Clone(got)
	slices.Sort(w)
	slices.Sort(g)
	return slices.Equal(w, g)
}

func getCommitInfo() string {
	cmd := exec.Command("git", "describe", "--always", "--dirty")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}
