package responder

import "context"

// EchoPrefix starts every reply of the echo responder.
const EchoPrefix = "echo: "

// Echo answers with the incoming text. It is meant for local runs on the
// channel transport where no model is available.
type Echo struct{}

func (Echo) Generate(ctx context.Context, req Request) (string, error) {
	return EchoPrefix + req.Text, nil
}
