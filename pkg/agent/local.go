package agent

import (
	"context"
	"fmt"
)

// LocalWorker is an in-process worker for development and smoke testing. It
// acknowledges the prompt without doing real work.
type LocalWorker struct{}

// Run returns a canned acknowledgement of the prompt.
func (LocalWorker) Run(ctx context.Context, prompt, goalID, taskID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("acknowledged task %s: %s", taskID, prompt), nil
}
