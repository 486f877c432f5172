package runstate

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes a run for persistence. The format is private to this
// package and the orchestrator.
func Marshal(rs *RunState) ([]byte, error) {
	if rs.Version == 0 {
		rs.Version = CurrentVersion
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal run state: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal reconstructs a run from Marshal output and checks that it is
// internally consistent.
func Unmarshal(data []byte) (*RunState, error) {
	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	if rs.Results == nil {
		rs.Results = []StageResult{}
	}
	return &rs, nil
}

func (rs *RunState) validate() error {
	if rs.Version > CurrentVersion {
		return fmt.Errorf("run state version %d is newer than supported version %d", rs.Version, CurrentVersion)
	}
	if rs.ID == "" {
		return fmt.Errorf("run state has no id")
	}
	if !rs.State.Valid() {
		return fmt.Errorf("run %s has unknown state %q", rs.ID, rs.State)
	}
	if rs.State == StateAwaitingHuman && rs.Interrupt == nil {
		return fmt.Errorf("run %s is awaiting input but has no interrupt", rs.ID)
	}
	if rs.Interrupt != nil && rs.State != StateAwaitingHuman {
		return fmt.Errorf("run %s has a pending interrupt in state %s", rs.ID, rs.State)
	}
	return nil
}
