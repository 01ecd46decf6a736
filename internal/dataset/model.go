// Package dataset is the shared Dataset model owned by the Data
// Controller and consumed read-only by the Task Executor and Task
// Controller while a publish or download is in flight.
package dataset

import "fmt"

type Status string

const (
	StatusCreating   Status = "creating"
	StatusPublishing Status = "publishing"
	StatusDownloading Status = "downloading"
	StatusAvailable  Status = "available"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCreating, StatusPublishing, StatusDownloading, StatusAvailable:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown dataset status %q", s)
	}
}

func (s Status) Terminal() bool {
	return s == StatusAvailable
}

// Dataset is a named blob distributed over the swarm. MagnetLink is empty
// until the publisher's torrent metadata is known.
type Dataset struct {
	DatasetUID string
	MagnetLink string
	Path       string
	Status     Status
}

type Wire struct {
	DatasetUID string `json:"dataset_uid"`
	MagnetLink string `json:"magnet_link,omitempty"`
	Path       string `json:"path,omitempty"`
	Status     string `json:"status"`
}

func (d Dataset) ToWire() Wire {
	return Wire{DatasetUID: d.DatasetUID, MagnetLink: d.MagnetLink, Path: d.Path, Status: string(d.Status)}
}

func FromWire(w Wire) (Dataset, error) {
	status, err := ParseStatus(w.Status)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{DatasetUID: w.DatasetUID, MagnetLink: w.MagnetLink, Path: w.Path, Status: status}, nil
}
