// Package discovery registers the service with Consul.
package discovery

import (
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

// Registration describes this instance.
type Registration struct {
	Name string
	Host string
	Port string
}

// ID is unique per host and port.
func (r Registration) ID() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Host, r.Port)
}

func (r Registration) agentService() (*consulapi.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(r.Port)
	if err != nil {
		return nil, fmt.Errorf("port %q: %w", r.Port, err)
	}
	return &consulapi.AgentServiceRegistration{
		ID:      r.ID(),
		Name:    r.Name,
		Address: r.Host,
		Port:    port,
		Tags:    []string{"http", "api/v1"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/api/v1/ping", r.Host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}, nil
}

// Register registers the instance and returns a function that deregisters it.
func Register(addr string, r Registration) (func() error, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	reg, err := r.agentService()
	if err != nil {
		return nil, err
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return nil, fmt.Errorf("consul register: %w", err)
	}
	return func() error { return client.Agent().ServiceDeregister(reg.ID) }, nil
}
