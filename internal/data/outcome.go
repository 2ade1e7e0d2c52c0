package data

// Strategy names the mechanism that persisted a commit.
type Strategy string

const (
	StrategyAPI   Strategy = "api"
	StrategyLocal Strategy = "local"
)

// Severity is the coarse risk level derived from a verdict.
type Severity string

const (
	SeverityNone    Severity = "none"
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// RiskVerdict is the single advisory assessment for a run.
type RiskVerdict struct {
	Summary  string
	Severity Severity

	// Assessed is false when the verdict is a short-circuit or fallback.
	Assessed bool
}

// CommitOutcome is the terminal result of committing one StaleMatch.
type CommitOutcome struct {
	Repo     string
	File     string
	Package  string
	SHA      string
	Strategy Strategy
	Err      error
}

func (o CommitOutcome) Succeeded() bool {
	return o.Err == nil && o.SHA != ""
}

// Stage tags where in a run an error was recorded.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageScan    Stage = "scan"
	StageGate    Stage = "gate"
	StagePatch   Stage = "patch"
	StageCommit  Stage = "commit"
	StageNotify  Stage = "notify"
)

// ErrorEntry is one recovered failure surfaced in the report.
type ErrorEntry struct {
	Stage   Stage  `json:"stage"`
	Repo    string `json:"repo"`
	File    string `json:"file,omitempty"`
	Package string `json:"package,omitempty"`
	Message string `json:"message"`
}
