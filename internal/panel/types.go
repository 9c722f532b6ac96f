package panel

// Limits are the build limits of a server. Memory, Swap and Disk are in MiB,
// CPU is a percentage of one core.
type Limits struct {
	Memory      int64   `json:"memory"`
	Swap        int64   `json:"swap"`
	Disk        int64   `json:"disk"`
	IO          int64   `json:"io"`
	CPU         int64   `json:"cpu"`
	Threads     *string `json:"threads"`
	OOMDisabled bool    `json:"oom_disabled"`
}

// FeatureLimits caps the databases, allocations and backups of a server
type FeatureLimits struct {
	Databases   int64 `json:"databases"`
	Allocations int64 `json:"allocations"`
	Backups     int64 `json:"backups"`
}

// Container holds the runtime settings of a server
type Container struct {
	StartupCommand string            `json:"startup_command"`
	Image          string            `json:"image"`
	Installed      int               `json:"installed"`
	Environment    map[string]string `json:"environment"`
}

// RemoteServer is a snapshot of a server as the panel reports it. It is
// never cached; callers fetch a fresh one whenever limits matter.
type RemoteServer struct {
	ID            int           `json:"id"`
	ExternalID    *string       `json:"external_id"`
	UUID          string        `json:"uuid"`
	Identifier    string        `json:"identifier"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Status        *string       `json:"status"`
	Suspended     bool          `json:"suspended"`
	Limits        Limits        `json:"limits"`
	FeatureLimits FeatureLimits `json:"feature_limits"`
	User          int           `json:"user"`
	Node          int           `json:"node"`
	Allocation    int           `json:"allocation"`
	Nest          int           `json:"nest"`
	Egg           int           `json:"egg"`
	Container     Container     `json:"container"`

	Relationships struct {
		Allocations list[Allocation]     `json:"allocations"`
		Variables   list[ServerVariable] `json:"variables"`
	} `json:"relationships"`
}

// Allocations returns the included allocation relationship
func (s *RemoteServer) Allocations() []Allocation {
	return s.Relationships.Allocations.items()
}

// Variables returns the included variable relationship
func (s *RemoteServer) Variables() []ServerVariable {
	return s.Relationships.Variables.items()
}

// Allocation is an ip:port pair on a node
type Allocation struct {
	ID       int     `json:"id"`
	IP       string  `json:"ip"`
	Alias    *string `json:"alias"`
	Port     int     `json:"port"`
	Notes    *string `json:"notes"`
	Assigned bool    `json:"assigned"`
}

// ServerVariable is the value of an egg variable on a server
type ServerVariable struct {
	ID           int    `json:"id"`
	EggID        int    `json:"egg_id"`
	Name         string `json:"name"`
	EnvVariable  string `json:"env_variable"`
	DefaultValue string `json:"default_value"`
	ServerValue  string `json:"server_value"`
}

// Nest is a collection of eggs
type Nest struct {
	ID          int    `json:"id"`
	UUID        string `json:"uuid"`
	Author      string `json:"author"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Egg is a server template: image, startup command and declared variables
type Egg struct {
	ID          int    `json:"id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Nest        int    `json:"nest"`
	Author      string `json:"author"`
	Description string `json:"description"`
	DockerImage string `json:"docker_image"`
	Startup     string `json:"startup"`

	Relationships struct {
		Variables list[EggVariable] `json:"variables"`
	} `json:"relationships"`
}

// Variables returns the egg's declared variables
func (e *Egg) Variables() []EggVariable {
	return e.Relationships.Variables.items()
}

// Environment builds a server environment from the default value of every
// declared variable
func (e *Egg) Environment() map[string]string {
	env := make(map[string]string)
	for _, v := range e.Variables() {
		env[v.EnvVariable] = v.DefaultValue
	}
	return env
}

// EggVariable is a variable declared by an egg
type EggVariable struct {
	ID           int    `json:"id"`
	EggID        int    `json:"egg_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	EnvVariable  string `json:"env_variable"`
	DefaultValue string `json:"default_value"`
	UserViewable bool   `json:"user_viewable"`
	UserEditable bool   `json:"user_editable"`
	Rules        string `json:"rules"`
}

// Node is a daemon host servers are placed on
type Node struct {
	ID              int    `json:"id"`
	UUID            string `json:"uuid"`
	Public          bool   `json:"public"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	LocationID      int    `json:"location_id"`
	FQDN            string `json:"fqdn"`
	Memory          int64  `json:"memory"`
	Disk            int64  `json:"disk"`
	MaintenanceMode bool   `json:"maintenance_mode"`
}

// CreateServerRequest is the body of a server creation
type CreateServerRequest struct {
	ExternalID    string             `json:"external_id,omitempty"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	User          int                `json:"user"`
	Egg           int                `json:"egg"`
	DockerImage   string             `json:"docker_image"`
	Startup       string             `json:"startup"`
	Environment   map[string]string  `json:"environment"`
	Limits        Limits             `json:"limits"`
	FeatureLimits FeatureLimits      `json:"feature_limits"`
	Allocation    AllocationSelector `json:"allocation"`
}

// AllocationSelector picks the primary allocation of a new server
type AllocationSelector struct {
	Default int `json:"default"`
}

// BuildRequest replaces the build limits of a server
type BuildRequest struct {
	Allocation    int           `json:"allocation"`
	Memory        int64         `json:"memory"`
	Swap          int64         `json:"swap"`
	Disk          int64         `json:"disk"`
	IO            int64         `json:"io"`
	CPU           int64         `json:"cpu"`
	Threads       *string       `json:"threads"`
	FeatureLimits FeatureLimits `json:"feature_limits"`
}

// DetailsRequest replaces the descriptive fields of a server
type DetailsRequest struct {
	Name        string  `json:"name"`
	User        int     `json:"user"`
	ExternalID  *string `json:"external_id"`
	Description string  `json:"description"`
}

// BuildFrom returns a BuildRequest that keeps every current limit of s
func BuildFrom(s *RemoteServer) BuildRequest {
	return BuildRequest{
		Allocation:    s.Allocation,
		Memory:        s.Limits.Memory,
		Swap:          s.Limits.Swap,
		Disk:          s.Limits.Disk,
		IO:            s.Limits.IO,
		CPU:           s.Limits.CPU,
		Threads:       s.Limits.Threads,
		FeatureLimits: s.FeatureLimits,
	}
}

// DetailsFrom returns a DetailsRequest that keeps every current detail of s
func DetailsFrom(s *RemoteServer) DetailsRequest {
	return DetailsRequest{
		Name:        s.Name,
		User:        s.User,
		ExternalID:  s.ExternalID,
		Description: s.Description,
	}
}

// object and list mirror the panel's response envelopes
type object[T any] struct {
	Object     string `json:"object"`
	Attributes T      `json:"attributes"`
}

type list[T any] struct {
	Object string      `json:"object"`
	Data   []object[T] `json:"data"`
	Meta   struct {
		Pagination pagination `json:"pagination"`
	} `json:"meta"`
}

type pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

func (l list[T]) items() []T {
	out := make([]T, 0, len(l.Data))
	for _, o := range l.Data {
		out = append(out, o.Attributes)
	}
	return out
}
