package policy

import (
	"context"
	"encoding/json"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
)

// ZmqClient talks to the policy process over a ZeroMQ PAIR socket bound at
// simulator start.
type ZmqClient struct {
	url    string
	socket zmq4.Socket
}

func NewZmqClient(url string) *ZmqClient {
	return &ZmqClient{url: url}
}

func (c *ZmqClient) Init() error {
	c.socket = zmq4.NewPair(context.Background())
	if err := c.socket.Listen(c.url); err != nil {
		return errors.Wrapf(err, "binding policy gateway to %s", c.url)
	}
	return nil
}

func (c *ZmqClient) Schedule(request *Request) (*Reply, error) {
	request.Code = RequestCode
	data, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "encoding scheduling request")
	}
	if err := c.socket.Send(zmq4.NewMsg(data)); err != nil {
		return nil, errors.Wrap(err, "sending scheduling request")
	}
	msg, err := c.socket.Recv()
	if err != nil {
		return nil, errors.Wrap(err, "receiving scheduling decision")
	}
	var reply Reply
	if err := json.Unmarshal(msg.Bytes(), &reply); err != nil {
		return nil, errors.Wrap(err, "decoding scheduling decision")
	}
	if reply.Code != ReplyCode {
		return nil, errors.Errorf("unknown message code %#x from scheduling algorithm", reply.Code)
	}
	return &reply, nil
}

func (c *ZmqClient) Finalize() error {
	data, err := json.Marshal(shutdownFrame{Code: ShutdownCode})
	if err != nil {
		return errors.Wrap(err, "encoding shutdown frame")
	}
	if err := c.socket.Send(zmq4.NewMsg(data)); err != nil {
		return errors.Wrap(err, "sending shutdown frame")
	}
	return c.socket.Close()
}
