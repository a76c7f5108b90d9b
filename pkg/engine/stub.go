package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seezatnap/swarm-hug/pkg/gitutil"
	"github.com/seezatnap/swarm-hug/pkg/swarmerr"
)

// Stub never invokes a subprocess. It writes a deterministic marker file
// into the working directory and reports success, for offline testing of
// everything above the engine layer (planner, runner, merge protocol)
// without a real CLI or network access. Output is a pure function of
// prompt and workingDir: identical inputs always produce an identical
// file, satisfying the engine contract's byte-identical requirement.
type Stub struct{}

// NewStub constructs the stub engine.
func NewStub() *Stub {
	return &Stub{}
}

// Name returns "stub".
func (s *Stub) Name() string {
	return "stub"
}

// Execute writes .swarm-hug-stub-output to workingDir containing a hash of
// the prompt, commits it (a real engine commits its own work; the stub
// stands in for that so the agent-to-sprint merge has something to merge),
// and returns a successful Result.
func (s *Stub) Execute(ctx context.Context, prompt, workingDir string, timeout time.Duration) (*Result, error) {
	sum := sha256.Sum256([]byte(prompt))
	digest := hex.EncodeToString(sum[:])

	path := filepath.Join(workingDir, ".swarm-hug-stub-output")
	content := fmt.Sprintf("stub-engine-output\nprompt-sha256=%s\n", digest)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "stub engine write output")
	}

	if gitutil.IsGitRepo(workingDir) {
		if err := gitutil.New(workingDir).Commit(ctx, "stub engine: "+digest[:12]); err != nil {
			return nil, swarmerr.Wrap(err, swarmerr.CodeExternalCommand, "stub engine commit output")
		}
	}

	return &Result{Success: true, ExitCode: 0, Stdout: content, Stderr: ""}, nil
}
