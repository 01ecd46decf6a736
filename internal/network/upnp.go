// Package network wraps the UPnP IGD device: public endpoint discovery and
// port mapping, spec section 4.1 step 2. This is a leaf the core consumes
// only through the Service interface below — the IGD device itself is an
// external collaborator (spec section 1).
package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
)

// MinPublicPort and MaxPublicPort bound the range this node requests a
// mapping in, matching the original service's fixed window.
const (
	MinPublicPort = 50000
	MaxPublicPort = 51000

	leaseDuration = 24 * time.Hour
	mappingDesc   = "dgrid port mapping"
)

// Service discovers the local gateway's public IP and manages one TCP
// port mapping for this node's advertised endpoint.
type Service struct {
	conn *internetgateway2.WANIPConnection1
}

// Discover finds the first IGD1 WANIPConnection service on the LAN. Call
// once at startup; returns an error if use_upnp is enabled but no device
// answers.
func Discover(ctx context.Context) (*Service, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("upnp discovery: %w", err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("upnp discovery: no WANIPConnection1 device found")
	}
	return &Service{conn: clients[0]}, nil
}

// PublicIP returns the gateway's external IPv4 address.
func (s *Service) PublicIP() (string, error) {
	ip, err := s.conn.GetExternalIPAddress()
	if err != nil {
		return "", fmt.Errorf("get external ip: %w", err)
	}
	return ip, nil
}

// LocalIP returns the outbound interface address used to reach the
// public internet, via the UDP-connect trick (no packets are actually
// sent — this only resolves local routing).
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("resolve local ip: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// existingMappings returns externalPort -> "internalIP:internalPort" for
// every rule currently installed on the device.
func (s *Service) existingMappings() (map[uint16]string, error) {
	mappings := map[uint16]string{}
	for i := uint16(0); ; i++ {
		_, extPort, _, intPort, intClient, _, _, _, err := s.conn.GetGenericPortMappingEntry(i)
		if err != nil {
			break
		}
		mappings[extPort] = fmt.Sprintf("%s:%d", intClient, intPort)
	}
	return mappings, nil
}

// FreePublicPort returns the first port in [MinPublicPort, MaxPublicPort)
// that has no mapping on the device yet.
func (s *Service) FreePublicPort() (int, error) {
	mappings, err := s.existingMappings()
	if err != nil {
		return 0, err
	}
	for port := MinPublicPort; port < MaxPublicPort; port++ {
		if _, taken := mappings[uint16(port)]; !taken {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in [%d, %d)", MinPublicPort, MaxPublicPort)
}

// AddPortMapping installs a TCP mapping localIP:localPort -> publicPort
// with a 24h lease, matching spec section 4.1 step 2.
func (s *Service) AddPortMapping(localIP string, localPort, publicPort int) error {
	err := s.conn.AddPortMapping(
		"",
		uint16(publicPort),
		"TCP",
		uint16(localPort),
		localIP,
		true,
		mappingDesc,
		uint32(leaseDuration.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("add port mapping %d->%s:%d: %w", publicPort, localIP, localPort, err)
	}
	return nil
}

// RemovePortMapping tears down a previously installed mapping. Called on
// shutdown.
func (s *Service) RemovePortMapping(publicPort int) error {
	if err := s.conn.DeletePortMapping("", uint16(publicPort), "TCP"); err != nil {
		return fmt.Errorf("remove port mapping %d: %w", publicPort, err)
	}
	return nil
}

// AcquireEndpoint discovers the gateway, picks a free public port in
// range, and installs the mapping, returning (publicIP, publicPort).
func AcquireEndpoint(localIP string, localPort int) (string, int, error) {
	svc, err := Discover(context.Background())
	if err != nil {
		return "", 0, err
	}
	publicIP, err := svc.PublicIP()
	if err != nil {
		return "", 0, err
	}
	publicPort, err := svc.FreePublicPort()
	if err != nil {
		return "", 0, err
	}
	if err := svc.AddPortMapping(localIP, localPort, publicPort); err != nil {
		return "", 0, err
	}
	return publicIP, publicPort, nil
}
