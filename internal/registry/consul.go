package registry

// Registry announces a chat server to Consul so the edge proxy can route
// WebSocket sessions and clients can locate the prekey directory. Liveness
// is reported by the server itself through a TTL check: a server that can
// no longer heartbeat (wedged hub, partitioned Redis) drops out of rotation
// even while its HTTP listener still answers.

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/taiidzy/ren/sdk/ratchet"
)

const (
	// serviceName is shared by every chat server; consumers discover the
	// fleet by this name.
	serviceName = "ren-chat"

	// checkTTL is the heartbeat deadline. Missing it marks the instance
	// critical; staying critical past the dereg window removes it.
	checkTTL   = 15 * time.Second
	deregAfter = time.Minute
)

// Registry keeps one server's Consul registration alive.
type Registry struct {
	client    *api.Client
	serviceID string
	serverID  string
	address   string
	port      int

	stopOnce sync.Once
	stop     chan struct{}
	logger   *log.Logger
}

// New creates a registry handle for this server. The advertised address
// comes from REN_ADVERTISE_ADDR when set (needed behind NAT), otherwise the
// hostname.
func New(consulAddr, serverID, serverPort string) (*Registry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = consulAddr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	port, err := strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("server port %q: %w", serverPort, err)
	}

	address := os.Getenv("REN_ADVERTISE_ADDR")
	if address == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Printf("Warning: failed to resolve hostname, advertising localhost: %v", err)
			hostname = "localhost"
		}
		address = hostname
	}

	return &Registry{
		client:    client,
		serviceID: serviceName + "-" + serverID,
		serverID:  serverID,
		address:   address,
		port:      port,
		stop:      make(chan struct{}),
		logger:    log.New(os.Stdout, "[REGISTRY] ", log.Ldate|log.Ltime|log.LUTC),
	}, nil
}

// Register announces the server and starts the heartbeat. The metadata
// carries the protocol versions clients and siblings key on: a client whose
// persisted sessions use a different snapshot version must not be routed
// here after a fleet upgrade.
func (r *Registry) Register() error {
	registration := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    serviceName,
		Address: r.address,
		Port:    r.port,
		Tags:    []string{"chat", "websocket", "prekeys", "media"},
		Meta: map[string]string{
			"server_id":             r.serverID,
			"session_state_version": strconv.Itoa(ratchet.StateVersion),
			"max_skipped_keys":      strconv.Itoa(ratchet.MaxSkippedKeys),
			"prekey_api":            "v1",
		},
		Check: &api.AgentServiceCheck{
			CheckID:                        r.checkID(),
			TTL:                            checkTTL.String(),
			DeregisterCriticalServiceAfter: deregAfter.String(),
		},
	}

	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register %s: %w", r.serviceID, err)
	}

	// Pass the check immediately so the instance doesn't sit critical for
	// a full heartbeat interval after startup.
	if err := r.client.Agent().UpdateTTL(r.checkID(), "startup", api.HealthPassing); err != nil {
		r.logger.Printf("initial TTL update failed: %v", err)
	}
	go r.heartbeat()

	r.logger.Printf("registered %s at %s:%d (state v%d)", r.serviceID, r.address, r.port, ratchet.StateVersion)
	return nil
}

func (r *Registry) checkID() string {
	return "ttl:" + r.serviceID
}

// heartbeat renews the TTL check until Deregister.
func (r *Registry) heartbeat() {
	ticker := time.NewTicker(checkTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.client.Agent().UpdateTTL(r.checkID(), "ok", api.HealthPassing); err != nil {
				r.logger.Printf("heartbeat failed: %v", err)
			}
		case <-r.stop:
			return
		}
	}
}

// Deregister stops the heartbeat and removes the instance from the fleet.
// Called first during shutdown so the proxy drains before sockets close.
func (r *Registry) Deregister() error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})

	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return fmt.Errorf("deregister %s: %w", r.serviceID, err)
	}
	r.logger.Printf("deregistered %s", r.serviceID)
	return nil
}

// HealthyPeers lists the other live chat servers as host:port, for presence
// reconciliation jobs that walk the fleet.
func (r *Registry) HealthyPeers() ([]string, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, err
	}

	peers := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Service.ID == r.serviceID {
			continue
		}
		peers = append(peers, fmt.Sprintf("%s:%d", entry.Service.Address, entry.Service.Port))
	}
	return peers, nil
}

// WatchPeers invokes callback with the healthy peer set whenever it
// changes, using Consul blocking queries.
func (r *Registry) WatchPeers(callback func([]string)) {
	var lastIndex uint64

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		entries, meta, err := r.client.Health().Service(serviceName, "", true, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		})
		if err != nil {
			r.logger.Printf("peer watch error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if meta.LastIndex == lastIndex {
			continue
		}
		lastIndex = meta.LastIndex

		peers := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.Service.ID == r.serviceID {
				continue
			}
			peers = append(peers, fmt.Sprintf("%s:%d", entry.Service.Address, entry.Service.Port))
		}
		callback(peers)
	}
}
