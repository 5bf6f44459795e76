package models

// ContainerRecord describes a per-user container as reported by the runtime.
// It is derived live on every provisioning and never stored by the gateway.
type ContainerRecord struct {
	Name             string `json:"name"`
	HostPort         int    `json:"host_port"`
	ConnectionSecret string `json:"-"`
}
