package types

// CreateServerRequest is the input of the create saga
type CreateServerRequest struct {
	OwnerID           string
	Name              string
	Description       string
	RAM               int64
	Disk              int64
	CPU               int64
	Allocations       int64
	Databases         int64
	NodeID            int
	EggID             int
	SkipResourceCheck bool
}

// Resources returns the quota the request consumes, including one slot
func (r *CreateServerRequest) Resources() Resources {
	return Resources{
		RAM:         r.RAM,
		Disk:        r.Disk,
		CPU:         r.CPU,
		Allocations: r.Allocations,
		Databases:   r.Databases,
		Slots:       1,
	}
}

// UpdateServerRequest is the input of the resize saga. Nil fields keep the
// server's current value.
type UpdateServerRequest struct {
	ServerRecordID    string
	OwnerID           string
	AsAdmin           bool
	RAM               *int64
	Disk              *int64
	CPU               *int64
	Databases         *int64
	Allocations       *int64
	Name              *string
	Description       *string
	SkipResourceCheck bool
}

// DeleteServerRequest is the input of the delete saga
type DeleteServerRequest struct {
	ServerRecordID string
	OwnerID        string
	AsAdmin        bool
	Reason         string
}
