package policy

// ScriptedClient is an in-process policy used by tests and by programmatic
// embeddings: every invocation is handed to Handle and the requests are
// recorded in order.
type ScriptedClient struct {
	// Handle produces the decision for one invocation. A nil Handle answers
	// every invocation with an empty decision set.
	Handle func(request *Request) (*Reply, error)

	Requests  []*Request
	Finalized bool
}

func (c *ScriptedClient) Init() error {
	return nil
}

func (c *ScriptedClient) Schedule(request *Request) (*Reply, error) {
	request.Code = RequestCode
	c.Requests = append(c.Requests, request)
	if c.Handle == nil {
		return &Reply{Code: ReplyCode}, nil
	}
	reply, err := c.Handle(request)
	if err != nil {
		return nil, err
	}
	if reply.Code == 0 {
		reply.Code = ReplyCode
	}
	return reply, nil
}

func (c *ScriptedClient) Finalize() error {
	c.Finalized = true
	return nil
}
