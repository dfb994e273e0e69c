package completion

import (
	"context"
	"sync"
)

// ScriptedClient returns canned responses in order. Tests use it to drive
// classification and generation without a live service.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	Calls     []Request
}

// NewScriptedClient creates a client that replays the given response
// contents, one per Complete call.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Fail makes every subsequent Complete call return err.
func (c *ScriptedClient) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *ScriptedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &Response{Content: "{}"}, nil
	}
	content := c.responses[0]
	c.responses = c.responses[1:]
	return &Response{Content: content, Model: "scripted"}, nil
}
