package storage

type Storage interface {
	// operation journal
	CreateOperation(record *OperationRecord) error
	UpdateOperationStatus(signature string, status OperationStatus, slot uint64, failure string) error
	GetOperationsByMint(mint string) ([]*OperationRecord, error)
	GetOperationsByStatus(status OperationStatus) ([]*OperationRecord, error)

	// watched raffles
	UpdateRaffleStatus(status *RaffleStatus) error
	GetRaffleStatus(raffle string) (*RaffleStatus, error)
	GetExpiredRaffles(now int64) ([]*RaffleStatus, error)

	Close() error
}

type OperationType = string

type OperationStatus = string

const (
	PendingOperationStatus   OperationStatus = "pending"
	ConfirmedOperationStatus OperationStatus = "confirmed"
	FailedOperationStatus    OperationStatus = "failed"
)
