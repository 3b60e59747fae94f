// Package ice implements IceConfigProvider: a pure function of
// configuration that returns the STUN/TURN servers clients should use to
// establish peer-to-peer WebRTC connections. It holds no state of its own
// and has no failure mode beyond misconfiguration caught at startup.
package ice

// Server is one ICE server entry as handed to WebRTC clients.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config is the subset of application configuration IceConfigProvider reads.
type Config struct {
	StunServers    []string
	TurnURL        string
	TurnUser       string
	TurnCredential string
}

// Provider returns the ICE server list for clients.
type Provider struct {
	cfg Config
}

// New creates a Provider over cfg. Panics if cfg has no STUN server, since
// that is a startup misconfiguration rather than a runtime condition.
func New(cfg Config) *Provider {
	if len(cfg.StunServers) == 0 {
		panic("ice: at least one STUN server must be configured")
	}
	return &Provider{cfg: cfg}
}

// Servers returns the ICE server list: the configured STUN servers, plus a
// TURN entry when one is configured.
func (p *Provider) Servers() []Server {
	servers := make([]Server, 0, len(p.cfg.StunServers)+1)
	for _, s := range p.cfg.StunServers {
		servers = append(servers, Server{URLs: []string{s}})
	}
	if p.cfg.TurnURL != "" {
		servers = append(servers, Server{
			URLs:       []string{p.cfg.TurnURL},
			Username:   p.cfg.TurnUser,
			Credential: p.cfg.TurnCredential,
		})
	}
	return servers
}
