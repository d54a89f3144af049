package tcldis

import "fmt"

// Stage identifies which pipeline stage failed. The ordinal doubles as
// the numeric suffix of the legacy sentinel strings.
type Stage int

const (
	StageSourceEncoding Stage = iota
	StageEvaluation
	StageBytecodeRetrieval
	StageDecompilation
	StageSerialization
)

func (s Stage) String() string {
	switch s {
	case StageSourceEncoding:
		return "source encoding"
	case StageEvaluation:
		return "evaluation"
	case StageBytecodeRetrieval:
		return "bytecode retrieval"
	case StageDecompilation:
		return "decompilation"
	case StageSerialization:
		return "serialization"
	default:
		return fmt.Sprintf("stage %d", int(s))
	}
}

// StageError wraps a collaborator failure with the pipeline stage it
// occurred in. Every stage failure is terminal for that call.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Sentinel returns the legacy sentinel for the stage: the literal text
// ERROR #N wrapped in double quotes, making it a valid JSON string.
func (e *StageError) Sentinel() string {
	return fmt.Sprintf("%q", fmt.Sprintf("ERROR #%d", int(e.Stage)))
}
