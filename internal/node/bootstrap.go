package node

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"dgrid/internal/config"
	"dgrid/internal/network"
)

// Bootstrap performs the own-identity bootstrap sequence from spec
// section 4.1: discover or read this node's public endpoint, hand its
// identity to every bootstrap registry, then enable itself on every known
// registry so gossip carries the freshened address. Returns the upnp
// Service so the caller can remove the mapping on shutdown (nil if UPnP
// was not used).
func Bootstrap(ctx context.Context, cfg *config.Config, registry *Registry) (*network.Service, error) {
	var upnpSvc *network.Service

	if cfg.UseUPnP {
		localIP, err := network.LocalIP()
		if err != nil {
			return nil, err
		}
		svc, err := network.Discover(ctx)
		if err != nil {
			return nil, err
		}
		upnpSvc = svc

		publicIP, err := svc.PublicIP()
		if err != nil {
			return nil, err
		}
		publicPort, err := svc.FreePublicPort()
		if err != nil {
			return nil, err
		}
		_, portStr, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("parse listen address %q: %w", cfg.ListenAddr, err)
		}
		localPort, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("parse listen port %q: %w", portStr, err)
		}
		if err := svc.AddPortMapping(localIP, localPort, publicPort); err != nil {
			return nil, err
		}
		if err := cfg.SetEndpoint(publicIP, publicPort); err != nil {
			return nil, err
		}
		registry.SetSelfEndpoint(publicIP, publicPort)
	} else {
		registry.SetSelfEndpoint(cfg.PublicIP, cfg.PublicPort)
	}

	self := registry.Self()
	for _, reg := range cfg.Registries {
		addr := reg.IPv4Address
		client := NewClient(nodeAddr(addr, reg.Port))
		if peer, ok := client.Handshake(ctx, self); ok {
			peer.Status = StatusActive
			peer.LastPing = time.Now()
			if err := registry.store.Upsert(peer); err != nil {
				log.Printf("node: bootstrap upsert registry %s failed: %v", peer.NodeUID, err)
			}
			continue
		}
		log.Printf("node: bootstrap registry %s:%d unreachable", reg.IPv4Address, reg.Port)
	}

	registries, err := registry.Registries()
	if err != nil {
		log.Printf("node: bootstrap enable: listing registries failed: %v", err)
		return upnpSvc, nil
	}
	for _, reg := range registries {
		if !NewClient(reg.Addr()).Enable(ctx, registry.Self()) {
			log.Printf("node: enable on registry %s failed (unreachable)", reg.NodeUID)
		}
	}

	return upnpSvc, nil
}

func nodeAddr(ip string, port int) string {
	return (Node{IPv4Address: ip, Port: port}).Addr()
}

// Shutdown removes the UPnP port mapping installed during bootstrap, if
// any. Safe to call with a nil svc (use_upnp disabled).
func Shutdown(svc *network.Service, publicPort int) {
	if svc == nil {
		return
	}
	if err := svc.RemovePortMapping(publicPort); err != nil {
		log.Printf("node: failed to remove port mapping: %v", err)
	}
}
