// Package discovery advertises the daemon on the LAN over mDNS so phone
// companions can find the push endpoint without typing an address.
package discovery

import (
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	serviceType   = "_physical-mcp._tcp"
	serviceDomain = "local."
)

// Advertiser wraps one registered mDNS service.
type Advertiser struct {
	server *zeroconf.Server
	log    *logrus.Logger
}

// Advertise registers the service on all interfaces. The TXT record
// carries the dashboard path so clients can build a URL from host+port.
func Advertise(port int, log *logrus.Logger) (*Advertiser, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "physical-mcp"
	}
	instance := fmt.Sprintf("physical-mcp on %s", host)

	server, err := zeroconf.Register(instance, serviceType, serviceDomain, port,
		[]string{"path=/dashboard", "api=v1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	log.WithFields(logrus.Fields{
		"service": serviceType,
		"port":    port,
	}).Info("advertising on LAN via mDNS")
	return &Advertiser{server: server, log: log}, nil
}

// Shutdown unregisters the service. Safe to call on a nil receiver so
// callers can defer it unconditionally.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.log.Debug("mdns advertisement withdrawn")
}
