package telephony

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/sirupsen/logrus"
)

// Client implements Capability on top of a gosip server.
type Client struct {
	srv    gosip.Server
	expiry time.Duration
	log    *logrus.Entry

	mu    sync.Mutex
	reg   *registrarBinding
	calls map[string]*outboundCall
}

// registrarBinding tracks the refresh loop for the current account.
type registrarBinding struct {
	identity Identity
	cancel   context.CancelFunc
}

// NewClient wraps srv and hooks the BYE handler for remote hangups.
func NewClient(srv gosip.Server, expiry time.Duration, log *logrus.Entry) (*Client, error) {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logrus.NewEntry(logger)
	}
	c := &Client{
		srv:    srv,
		expiry: expiry,
		log:    log,
		calls:  make(map[string]*outboundCall),
	}
	if err := srv.OnRequest(sip.BYE, c.handleBye); err != nil {
		return nil, err
	}
	return c, nil
}

// Open starts registering identity. Events are delivered on listener;
// the registration is refreshed at half the configured expiry until
// Close is called or the registrar rejects it.
func (c *Client) Open(identity Identity, listener RegistrationListener) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.reg != nil {
		c.reg.cancel()
	}
	c.reg = &registrarBinding{identity: identity, cancel: cancel}
	c.mu.Unlock()

	listener.OnRegistering()
	go c.registerLoop(ctx, identity, listener)
	return nil
}

func (c *Client) registerLoop(ctx context.Context, identity Identity, listener RegistrationListener) {
	auth := authorizerFor(identity)
	interval := c.expiry / 2
	if interval < time.Minute {
		interval = c.expiry
	}
	first := true
	for {
		req, err := c.buildRegister(identity, c.expiry)
		if err != nil {
			c.log.Warnf("build REGISTER: %v", err)
			if first {
				listener.OnRegistrationFailed(0, err.Error())
			}
			return
		}

		rctx, rcancel := context.WithTimeout(ctx, 30*time.Second)
		res, err := c.srv.RequestWithContext(rctx, req, gosip.WithAuthorizer(auth))
		rcancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			code, reason := 0, err.Error()
			if res != nil {
				code, reason = int(res.StatusCode()), res.Reason()
			}
			c.log.Warnf("registration failed: %d %s", code, reason)
			listener.OnRegistrationFailed(code, reason)
			return
		}
		if first {
			c.log.Infof("registered %s", identity.URI())
			listener.OnRegistered()
			first = false
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Close stops the refresh loop and deregisters with expires=0. The
// local binding is gone either way; the returned error only reports
// whether the registrar acknowledged.
func (c *Client) Close(identity Identity) error {
	c.mu.Lock()
	if c.reg != nil {
		c.reg.cancel()
		c.reg = nil
	}
	c.mu.Unlock()

	req, err := c.buildRegister(identity, 0)
	if err != nil {
		return fmt.Errorf("build REGISTER: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.srv.RequestWithContext(ctx, req, gosip.WithAuthorizer(authorizerFor(identity))); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return nil
}

// MakeCall sends an INVITE to destination and reports establishment and
// teardown on listener. The returned handle cancels setup or sends BYE.
func (c *Client) MakeCall(identity Identity, destination string, listener CallListener, timeout time.Duration) (Call, error) {
	toURI, err := parser.ParseUri("sip:" + destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination uri: %w", err)
	}
	fromURI, err := parser.ParseUri(identity.URI())
	if err != nil {
		return nil, fmt.Errorf("parse from uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: fromURI, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: toURI}
	contactAddr := &sip.Address{Uri: fromURI.Clone()}

	req, err := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(toURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build invite: %w", err)
	}

	callID := ""
	if cid, ok := req.CallID(); ok {
		callID = string(*cid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	call := &outboundCall{
		client:      c,
		identity:    identity,
		callID:      callID,
		localAddr:   fromAddr,
		remoteAddr:  toAddr,
		cseq:        1,
		listener:    listener,
		cancelSetup: cancel,
	}

	c.mu.Lock()
	c.calls[callID] = call
	c.mu.Unlock()

	c.log.Infof("SIP dial %s -> %s", identity.URI(), destination)
	go c.inviteLoop(ctx, call, req)
	return call, nil
}

func (c *Client) inviteLoop(ctx context.Context, call *outboundCall, req sip.Request) {
	// RequestWithContext follows the authorization challenge and ACKs
	// the final 2xx itself; a canceled context turns into CANCEL.
	res, err := c.srv.RequestWithContext(ctx, req, gosip.WithAuthorizer(authorizerFor(call.identity)))
	if err != nil {
		if res != nil {
			c.log.Infof("call %s rejected: %d %s", call.callID, res.StatusCode(), res.Reason())
		} else {
			c.log.Infof("call %s failed: %v", call.callID, err)
		}
		c.finish(call)
		return
	}

	call.mu.Lock()
	if toHdr, ok := res.To(); ok && toHdr.Params != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			call.remoteAddr.Params = sip.NewParams().Add("tag", tag)
		}
	}
	call.established = true
	call.mu.Unlock()

	c.log.Infof("call %s established", call.callID)
	call.listener.OnEstablished()
}

// handleBye tears down the matching call when the far side hangs up.
func (c *Client) handleBye(req sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid, ok := req.CallID(); ok {
		callID = string(*cid)
	}
	c.log.Infof("received SIP BYE: %s", callID)

	c.mu.Lock()
	call := c.calls[callID]
	c.mu.Unlock()

	if tx != nil {
		c.srv.RespondOnRequest(req, 200, "OK", "", nil)
	}
	if call != nil {
		c.finish(call)
	}
}

// finish removes the call and reports Ended exactly once.
func (c *Client) finish(call *outboundCall) {
	c.mu.Lock()
	delete(c.calls, call.callID)
	c.mu.Unlock()

	call.mu.Lock()
	done := call.done
	call.done = true
	call.mu.Unlock()
	if !done {
		call.listener.OnEnded()
	}
}

func (c *Client) sendBye(call *outboundCall) error {
	call.mu.Lock()
	call.cseq++
	cseq := call.cseq
	localAddr, remoteAddr := call.localAddr, call.remoteAddr
	call.mu.Unlock()

	cid := sip.CallID(call.callID)
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(remoteAddr.Uri).
		SetFrom(localAddr).
		SetTo(remoteAddr).
		SetContact(localAddr).
		SetCallID(&cid).
		SetSeqNo(cseq).
		Build()
	if err != nil {
		return fmt.Errorf("build BYE: %w", err)
	}
	if _, err := c.srv.Request(req); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	return nil
}

func (c *Client) buildRegister(identity Identity, expiry time.Duration) (sip.Request, error) {
	registrarURI, err := parser.ParseUri("sip:" + identity.Domain)
	if err != nil {
		return nil, fmt.Errorf("parse registrar uri: %w", err)
	}
	aorURI, err := parser.ParseUri(identity.URI())
	if err != nil {
		return nil, fmt.Errorf("parse aor uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: aorURI, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: aorURI.Clone()}
	contactAddr := &sip.Address{Uri: aorURI.Clone()}
	expires := sip.Expires(expiry / time.Second)

	return sip.NewRequestBuilder().
		SetMethod(sip.REGISTER).
		SetRecipient(registrarURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		SetExpires(&expires).
		Build()
}

func authorizerFor(identity Identity) sip.Authorizer {
	return &sip.DefaultAuthorizer{
		User:     sip.String{Str: identity.Username},
		Password: sip.String{Str: identity.Password},
	}
}

// outboundCall is a single placed call.
type outboundCall struct {
	client      *Client
	identity    Identity
	callID      string
	listener    CallListener
	cancelSetup context.CancelFunc

	mu          sync.Mutex
	localAddr   *sip.Address
	remoteAddr  *sip.Address
	cseq        uint
	established bool
	done        bool
}

// End terminates the call. During setup it cancels the INVITE; once
// established it sends BYE and reports Ended.
func (a *outboundCall) End() error {
	a.mu.Lock()
	established, done := a.established, a.done
	a.mu.Unlock()
	if done {
		return nil
	}
	if !established {
		a.cancelSetup()
		return nil
	}
	if err := a.client.sendBye(a); err != nil {
		return err
	}
	a.client.finish(a)
	return nil
}
