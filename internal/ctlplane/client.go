package ctlplane

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
)

// Client is the RPC client the CLI uses to talk to the daemon.
type Client struct {
	socketPath string
	client     *rpc.Client
	mu         sync.RWMutex
}

// NewClient connects to the daemon's control socket.
func NewClient(socketPath string) (*Client, error) {
	client, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane at %s (is the daemon running?): %w", socketPath, err)
	}
	return &Client{socketPath: socketPath, client: client}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// call wraps the RPC call with one reconnection attempt, covering the
// daemon restarting between CLI invocations on a long-lived client.
func (c *Client) call(method string, args any, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	err := client.Call(ServiceName+"."+method, args, reply)
	if err == nil {
		return nil
	}

	if errors.Is(err, rpc.ErrShutdown) || isNetworkError(err) {
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		return client.Call(ServiceName+"."+method, args, reply)
	}
	return err
}

func (c *Client) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Someone else may have reconnected while we waited for the lock.
	if c.client != oldClient && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}
	client, err := rpc.Dial("unix", c.socketPath)
	if err != nil {
		c.client = nil
		return err
	}
	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Apply sends a policy document for validation and apply.
func (c *Client) Apply(raw []byte, format string) (*ApplyReply, error) {
	var reply ApplyReply
	if err := c.call("Apply", &ApplyArgs{Policy: raw, Format: format}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Plan asks what applying a document would change.
func (c *Client) Plan(raw []byte, format string) (*PlanReply, error) {
	var reply PlanReply
	if err := c.call("Plan", &PlanArgs{Policy: raw, Format: format}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Rollback removes every filter the daemon owns.
func (c *Client) Rollback() (*RollbackReply, error) {
	var reply RollbackReply
	if err := c.call("Rollback", &RollbackArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// LKGShow fetches the persisted baseline.
func (c *Client) LKGShow() (*LKGShowReply, error) {
	var reply LKGShowReply
	if err := c.call("LKGShow", &LKGShowArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// LKGRevert re-applies the persisted baseline.
func (c *Client) LKGRevert() (*LKGRevertReply, error) {
	var reply LKGRevertReply
	if err := c.call("LKGRevert", &LKGRevertArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Status fetches a daemon status snapshot.
func (c *Client) Status() (*StatusReply, error) {
	var reply StatusReply
	if err := c.call("Status", &StatusArgs{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
