package api

// Profile is the identity record behind a bearer token.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// InstanceType is one entry of the control plane's instance-type catalog.
type InstanceType struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	VCPUs    int    `json:"vcpus"`
	MemoryMB int    `json:"memory"`
	GPUs     int    `json:"gpus"`
	Price    Price  `json:"price"`
}

// Price holds the hourly and monthly cost of an instance type.
type Price struct {
	Hourly  float64 `json:"hourly"`
	Monthly float64 `json:"monthly"`
}

// Region is one entry of the control plane's region catalog.
type Region struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AvailabilityRecord states whether one plan can currently be created in
// one region.
type AvailabilityRecord struct {
	Region    string `json:"region"`
	Plan      string `json:"plan"`
	Available bool   `json:"available"`
}

// Instance is a provisioned compute instance as reported by the control
// plane.
type Instance struct {
	ID     int      `json:"id"`
	Label  string   `json:"label"`
	Status string   `json:"status"`
	IPv4   []string `json:"ipv4"`
	Type   string   `json:"type"`
	Region string   `json:"region"`
}

// CreateInstanceRequest is the provisioning request payload.
type CreateInstanceRequest struct {
	Label          string    `json:"label"`
	Region         string    `json:"region"`
	Type           string    `json:"type"`
	Image          string    `json:"image"`
	RootPass       string    `json:"root_pass"`
	AuthorizedKeys []string  `json:"authorized_keys,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	Booted         bool      `json:"booted"`
}

// Metadata carries the base64-encoded cloud-init user data.
type Metadata struct {
	UserData string `json:"user_data"`
}

// page is the envelope common to all paginated list endpoints.
type page[T any] struct {
	Data    []T `json:"data"`
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Results int `json:"results"`
}
