package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// LeaderEnv names the environment variable through which a leader process
// learns the descriptor carrying its Plan.
const LeaderEnv = "MUSH_LEADER_FD"

// leaderFD is the descriptor number of ExtraFiles[0] in the leader.
const leaderFD = 3

// Exit codes of processes which could not do their work.
const (
	ExitRedirectFailed = 5
	ExitSetupFailed    = 6
	ExitPipeFailed     = 7
	ExitExecFailed     = 8
	ExitAborted        = 128 + 6 // leader which failed to die from SIGABRT
)

// Plan is a compiled pipeline as sent to the leader process: every argument
// already evaluated, every redirection resolved to a path.
type Plan struct {
	Run     uuid.UUID  `json:"run"`
	Verbose bool       `json:"verbose,omitempty"`
	Stages  [][]string `json:"stages"`
	Input   string     `json:"input,omitempty"`
	Output  string     `json:"output,omitempty"`
	Capture bool       `json:"capture,omitempty"`
}

func (p Plan) Validate() error {
	if len(p.Stages) == 0 {
		return errors.New("plan has no stages")
	}
	for i, argv := range p.Stages {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("stage %d has no command", i)
		}
	}
	return nil
}

func (p Plan) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(p)
}

func DecodePlan(r io.Reader) (Plan, error) {
	var p Plan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("decoding pipeline plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}
