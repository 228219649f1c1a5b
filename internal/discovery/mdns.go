// ABOUTME: mDNS advertisement and browsing for playd instances
// ABOUTME: Publishes the HTTP port with the instance ID and endpoint paths in TXT records
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD type of the daemon
const ServiceType = "_playd._tcp"

// Config holds discovery configuration
type Config struct {
	// InstanceName is the user visible name
	InstanceName string
	// ID is the stable instance UUID
	ID   string
	Port int
	// Streams lists the names of stream outputs
	Streams []string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	server *mdns.Server
}

// Instance describes a discovered daemon
type Instance struct {
	Name string
	ID   string
	Host string
	Port int
	// Streams holds the stream output names it announced
	Streams []string
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// TXT returns the TXT records advertised for cfg
func TXT(cfg Config) []string {
	txt := []string{"id=" + cfg.ID, "idle=/idle", "metrics=/metrics"}
	if len(cfg.Streams) > 0 {
		txt = append(txt, "streams="+strings.Join(cfg.Streams, ","))
	}
	return txt
}

// Advertise publishes the daemon until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.InstanceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		TXT(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Info().Str("name", m.config.InstanceName).Int("port", m.config.Port).Msg("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Browse queries the network once for other daemons
func Browse(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Instance
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			inst := parseEntry(entry)
			log.Debug().Str("name", inst.Name).Str("host", inst.Host).Int("port", inst.Port).Msg("discovered instance")
			found = append(found, inst)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	errc := make(chan error, 1)
	go func() { errc <- mdns.Query(params) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
		// Query returns after its timeout; let it finish writing
		<-errc
	}
	close(entries)
	<-done

	if err != nil {
		return found, fmt.Errorf("mdns query failed: %w", err)
	}
	return found, nil
}

func parseEntry(e *mdns.ServiceEntry) Instance {
	inst := Instance{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Port: e.Port,
	}
	if e.AddrV4 != nil {
		inst.Host = e.AddrV4.String()
	} else {
		inst.Host = e.Host
	}
	for _, f := range e.InfoFields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "id":
			inst.ID = v
		case "streams":
			inst.Streams = strings.Split(v, ",")
		}
	}
	return inst
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
