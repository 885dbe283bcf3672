package discovery

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

// CheckKind 健康检查类型
type CheckKind string

const (
	CheckGRPC CheckKind = "grpc" // gRPC health check（sync-service 用）
	CheckHTTP CheckKind = "http" // HTTP /healthz check（gateway 用）
)

// ServiceRegistry Consul服务注册
type ServiceRegistry struct {
	client    *api.Client
	serviceID string
	service   string
	address   string
	port      int
	tags      []string
	check     *api.AgentServiceCheck
}

// NewServiceRegistry 创建服务注册器。kind 决定 Consul 探活方式：
// CheckGRPC 探 checkPort 上的 gRPC health 服务，CheckHTTP 探 /healthz。
func NewServiceRegistry(client *api.Client, serviceID, service, address string, port, checkPort int, kind CheckKind, tags []string) *ServiceRegistry {
	check := &api.AgentServiceCheck{
		Interval:                       "10s",
		Timeout:                        "5s",
		DeregisterCriticalServiceAfter: "30s",
	}
	switch kind {
	case CheckHTTP:
		check.HTTP = fmt.Sprintf("http://%s:%d/healthz", address, checkPort)
	default:
		check.GRPC = fmt.Sprintf("%s:%d", address, checkPort)
	}

	return &ServiceRegistry{
		client:    client,
		serviceID: serviceID,
		service:   service,
		address:   address,
		port:      port,
		tags:      tags,
		check:     check,
	}
}

// Register 注册服务
func (r *ServiceRegistry) Register() error {
	registration := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    r.service,
		Tags:    r.tags,
		Address: r.address,
		Port:    r.port,
		Check:   r.check,
	}

	return r.client.Agent().ServiceRegister(registration)
}

// Deregister 注销服务
func (r *ServiceRegistry) Deregister() error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

// ResolveService 从 Consul 取服务的一个健康实例地址（host:port）。
// gateway 转发上游时使用。
func ResolveService(client *api.Client, service string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("consul client is nil")
	}
	entries, _, err := client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instance of %s", service)
	}
	entry := entries[0]
	addr := entry.Service.Address
	if addr == "" {
		addr = entry.Node.Address
	}
	return fmt.Sprintf("%s:%d", addr, entry.Service.Port), nil
}

// NewConsulClient 创建Consul客户端
func NewConsulClient(host string, port int) (*api.Client, error) {
	config := api.DefaultConfig()
	config.Address = fmt.Sprintf("%s:%d", host, port)
	return api.NewClient(config)
}
