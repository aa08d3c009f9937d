package featurestore

// Status is the lifecycle state of a feature group.
type Status string

const (
	StatusCreating Status = "Creating"
	StatusCreated  Status = "Created"
	StatusFailed   Status = "Failed"
	StatusDeleting Status = "Deleting"
)

// ParseStatus maps a service status onto Status. Every failure variant the
// service reports collapses into StatusFailed.
func ParseStatus(status string) Status {
	switch status {
	case "Creating":
		return StatusCreating
	case "Created":
		return StatusCreated
	case "Deleting":
		return StatusDeleting
	case "Failed", "CreateFailed", "DeleteFailed":
		return StatusFailed
	}
	return Status(status)
}

// Terminal reports whether polling can stop.
func (status Status) Terminal() bool {
	return status != StatusCreating
}
