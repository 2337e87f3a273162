package models

import "time"

// TransferStatus is the chunked transfer state machine. Finalized, cancelled
// and expired are terminal.
type TransferStatus string

const (
	TransferInitiated  TransferStatus = "initiated"
	TransferReceiving  TransferStatus = "receiving"
	TransferAssembling TransferStatus = "assembling"
	TransferFinalized  TransferStatus = "finalized"
	TransferCancelled  TransferStatus = "cancelled"
	TransferExpired    TransferStatus = "expired"
)

// Terminal reports whether no further chunk activity is allowed.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferFinalized, TransferCancelled, TransferExpired:
		return true
	}
	return false
}

// PendingTransfer is the durable state of an in-progress chunked upload.
type PendingTransfer struct {
	ID          string
	PrincipalID string
	DeviceID    string
	FilePath    string
	TotalSize   int64
	ChunkSize   int64
	ChunkCount  int64
	// TargetChecksum is the declared SHA-256 of the fully assembled payload.
	TargetChecksum string
	ResumeToken    string
	Status         TransferStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransferChunk records one completed chunk of a transfer.
type TransferChunk struct {
	TransferID string
	Index      int64
	Checksum   string
	Size       int64
}

// TransferProgress is returned to polling clients so they can resume by
// re-submitting only the missing indices.
type TransferProgress struct {
	TransferID string  `json:"transfer_id"`
	Completed  int64   `json:"completed"`
	Total      int64   `json:"total"`
	Missing    []int64 `json:"missing"`
	Status     string  `json:"status"`
}
