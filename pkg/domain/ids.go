// Package domain holds the typed identifiers shared across payroll packages.
// Wrapping uuid.UUID keeps worker and payment IDs from being mixed up at
// compile time.
package domain

import "github.com/google/uuid"

// WorkerID identifies a worker in the worker directory.
type WorkerID uuid.UUID

// PaymentID identifies a payment request in the ledger.
type PaymentID uuid.UUID

// AdminID identifies an authorized administrator. It is a string because the
// identity arrives from the authentication collaborator (JWT subject) and is
// not minted by this system.
type AdminID string

// Actor identities recorded on system-initiated audit entries.
const (
	ActorScheduler AdminID = "scheduler"
	ActorExecutor  AdminID = "executor"
	ActorSystem    AdminID = "system"
)

func NewWorkerID() WorkerID   { return WorkerID(uuid.New()) }
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

func (id WorkerID) String() string  { return uuid.UUID(id).String() }
func (id PaymentID) String() string { return uuid.UUID(id).String() }

func (id WorkerID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id AdminID) IsZero() bool { return id == "" }

// ParseWorkerID parses the canonical string form of a WorkerID.
func ParseWorkerID(s string) (WorkerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WorkerID{}, err
	}
	return WorkerID(u), nil
}

// ParsePaymentID parses the canonical string form of a PaymentID.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PaymentID{}, err
	}
	return PaymentID(u), nil
}
