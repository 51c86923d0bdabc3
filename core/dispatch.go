package core

import (
	"fmt"

	"github.com/toxgo/toxgo/onion"
	"github.com/toxgo/toxgo/wire"
)

// registerHandlers installs every packet tag this process understands
// into the socket's dispatch table: DHT
// ping/nodes, net-crypto cookie/handshake/data, onion send/return,
// LAN discovery, and the bootstrap-info responder.
func (c *Core) registerHandlers() {
	c.Socket.RegisterHandler(wire.TagPingRequest, c.DHT.HandlePingRequest)
	c.Socket.RegisterHandler(wire.TagPingResponse, c.DHT.HandlePingResponse)
	c.Socket.RegisterHandler(wire.TagNodesRequest, c.DHT.HandleNodesRequest)
	c.Socket.RegisterHandler(wire.TagNodesResponse, c.DHT.HandleNodesResponse)

	c.Socket.RegisterHandler(wire.TagCookieRequest, c.Friends.HandleCookieRequest)
	c.Socket.RegisterHandler(wire.TagCookieResponse, c.handleCookieResponse)
	c.Socket.RegisterHandler(wire.TagHandshake, c.handleHandshake)
	c.Socket.RegisterHandler(wire.TagCryptoData, c.handleSessionData)

	c.Socket.RegisterHandler(onion.TagSend1, c.handleOnionSend)
	c.Socket.RegisterHandler(onion.TagSend2, c.handleOnionSend)
	c.Socket.RegisterHandler(onion.TagSend3, c.handleOnionSend)
	c.Socket.RegisterHandler(onion.TagOnionRecv, c.handleOnionRecv)

	c.Socket.RegisterHandler(wire.TagLANDiscovery, c.LAN.HandleBroadcast)
	c.Socket.RegisterHandler(wire.TagBootstrapInfo, c.handleBootstrapInfo)
}

// handleCookieResponse resolves the sender's real public key from its
// address (net-crypto packets carry no cleartext sender identity of
// their own) before completing the cookie round trip.
func (c *Core) handleCookieResponse(from wire.IPPort, pkt wire.Packet) error {
	pk, ok := c.Friends.ResolveByAddr(from)
	if !ok {
		return fmt.Errorf("core: cookie response from unrecognized address %v", from)
	}
	return c.Friends.HandleCookieResponse(pk, from, pkt)
}

func (c *Core) handleHandshake(from wire.IPPort, pkt wire.Packet) error {
	pk, ok := c.Friends.ResolveByAddr(from)
	if !ok {
		return fmt.Errorf("core: handshake from unrecognized address %v", from)
	}
	return c.Friends.HandleHandshake(pk, from, pkt)
}

func (c *Core) handleSessionData(from wire.IPPort, pkt wire.Packet) error {
	pk, ok := c.Friends.ResolveByAddr(from)
	if !ok {
		return fmt.Errorf("core: session data from unrecognized address %v", from)
	}
	return c.Friends.HandleSessionData(pk, pkt)
}

// handleOnionSend peels one onion send layer. A non-exit result is
// forwarded one hop closer to the destination; an exit result is a
// request addressed to this node, answered locally.
func (c *Core) handleOnionSend(from wire.IPPort, pkt wire.Packet) error {
	next, forward, isExit, err := c.OnionSrv.HandleSend(from, pkt)
	if err != nil {
		return fmt.Errorf("onion send: %w", err)
	}
	if !isExit {
		return c.Socket.Send(next, forward)
	}
	return c.handleOnionExit(from, forward)
}

// handleOnionExit answers an announce or data-search request delivered
// to this node as the exit hop of someone else's onion circuit, then
// routes the response back down the accumulated return-stub chain via
// the same HandleReturn peel every intermediate hop uses.
func (c *Core) handleOnionExit(from wire.IPPort, exitPkt wire.Packet) error {
	stubs, inner, err := onion.DecodeExit(exitPkt)
	if err != nil {
		return fmt.Errorf("decode onion exit: %w", err)
	}
	tag, err := inner.Tag()
	if err != nil {
		return err
	}

	var respPkt wire.Packet
	switch tag {
	case wire.TagOnionAnnounce:
		req, err := onion.ParseAnnounceRequest(inner.Body())
		if err != nil {
			return fmt.Errorf("parse announce request: %w", err)
		}
		resp := onion.HandleAnnounceRequest(c.Store, c.nodeSecret, stubs, req, c.Clock.Now())
		respPkt, err = onion.BuildAnnounceResponsePacket(resp)
		if err != nil {
			return fmt.Errorf("build announce response: %w", err)
		}
	case wire.TagDataSearch:
		req, err := onion.ParseDataSearchRequest(inner.Body())
		if err != nil {
			return fmt.Errorf("parse data search request: %w", err)
		}
		resp := onion.HandleDataSearchRequest(c.Store, req, c.Clock.Now())
		respPkt, err = onion.BuildDataSearchResponsePacket(resp)
		if err != nil {
			return fmt.Errorf("build data search response: %w", err)
		}
	default:
		return fmt.Errorf("core: unknown onion exit tag %#x", tag)
	}

	returnPkt := onion.BuildReturn(stubs, respPkt)
	prevAddr, fwd, isFinal, err := c.OnionSrv.HandleReturn(from, returnPkt)
	if err != nil {
		return fmt.Errorf("peel own return stub: %w", err)
	}
	if isFinal {
		// Only reachable when this node's own stub was the whole chain
		// (the request came straight from its sender, not via relays);
		// the response is dropped.
		return nil
	}
	return c.Socket.Send(prevAddr, fwd)
}

// handleOnionRecv peels one layer of a return-path packet, forwarding it
// one hop closer to the original sender, or delivering it locally once
// the stub chain is exhausted.
func (c *Core) handleOnionRecv(from wire.IPPort, pkt wire.Packet) error {
	prevAddr, forward, isFinal, err := c.OnionSrv.HandleReturn(from, pkt)
	if err != nil {
		return fmt.Errorf("onion return: %w", err)
	}
	if !isFinal {
		return c.Socket.Send(prevAddr, forward)
	}
	return c.handleOnionResponse(forward)
}

// handleOnionResponse ingests a response payload whose return path has
// fully unwound back to us: either an answer to one of our friends'
// data-search lookups, or to our own self-announce.
func (c *Core) handleOnionResponse(payload wire.Packet) error {
	tag, err := payload.Tag()
	if err != nil {
		return err
	}
	switch tag {
	case wire.TagDataSearch:
		resp, err := c.Friends.Onion.HandleLookupResponse(payload)
		if err != nil {
			return err
		}
		return c.Friends.HandleLookupResult(resp.Target, resp)
	case wire.TagOnionAnnounce:
		_, err := c.announceClient.HandleAnnounceResponse(c.lastAnnounceDestPK, payload)
		return err
	default:
		return fmt.Errorf("core: unknown onion response tag %#x", tag)
	}
}

func (c *Core) handleBootstrapInfo(from wire.IPPort, pkt wire.Packet) error {
	if len(pkt.Body()) != 0 {
		return nil
	}
	return c.Socket.Send(from, c.bootstrapInfo.BuildBootstrapInfoResponse())
}
