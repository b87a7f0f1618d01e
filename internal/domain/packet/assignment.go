package packet

import (
	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/assignment"
)

// RequestAssignment is sent by an idle assignment client asking for work.
type RequestAssignment struct {
	Type assignment.Type
	Pool string
}

// AssignmentDeploy hands an assignment to a requesting client.
type AssignmentDeploy struct {
	ID      uuid.UUID
	Type    assignment.Type
	Pool    string
	Payload []byte
}

// CreateAssignment submits dynamic work to the queue.
type CreateAssignment struct {
	Type    assignment.Type
	Pool    string
	Payload []byte
}

// AssignmentCreated acknowledges a CreateAssignment with the queued UUID.
type AssignmentCreated struct {
	ID uuid.UUID
}

func EncodeRequestAssignment(p RequestAssignment) ([]byte, error) {
	w := newWriter(TypeRequestAssignment, 2+len(p.Pool))
	w.u8(byte(p.Type))
	w.str(p.Pool)
	return w.bytes()
}

func DecodeRequestAssignment(data []byte) (RequestAssignment, error) {
	r, err := newReader(data, TypeRequestAssignment)
	if err != nil {
		return RequestAssignment{}, err
	}
	var p RequestAssignment
	p.Type = r.assignmentType()
	p.Pool = r.str()
	if err := r.done(); err != nil {
		return RequestAssignment{}, err
	}
	return p, nil
}

func EncodeAssignmentDeploy(p AssignmentDeploy) ([]byte, error) {
	w := newWriter(TypeAssignmentDeploy, 20+len(p.Pool)+len(p.Payload))
	w.uuid(p.ID)
	w.u8(byte(p.Type))
	w.str(p.Pool)
	w.blob(p.Payload)
	return w.bytes()
}

func DecodeAssignmentDeploy(data []byte) (AssignmentDeploy, error) {
	r, err := newReader(data, TypeAssignmentDeploy)
	if err != nil {
		return AssignmentDeploy{}, err
	}
	var p AssignmentDeploy
	p.ID = r.uuid()
	p.Type = r.assignmentType()
	p.Pool = r.str()
	p.Payload = r.blob()
	if err := r.done(); err != nil {
		return AssignmentDeploy{}, err
	}
	return p, nil
}

func EncodeCreateAssignment(p CreateAssignment) ([]byte, error) {
	w := newWriter(TypeCreateAssignment, 4+len(p.Pool)+len(p.Payload))
	w.u8(byte(p.Type))
	w.str(p.Pool)
	w.blob(p.Payload)
	return w.bytes()
}

func DecodeCreateAssignment(data []byte) (CreateAssignment, error) {
	r, err := newReader(data, TypeCreateAssignment)
	if err != nil {
		return CreateAssignment{}, err
	}
	var p CreateAssignment
	p.Type = r.assignmentType()
	p.Pool = r.str()
	p.Payload = r.blob()
	if err := r.done(); err != nil {
		return CreateAssignment{}, err
	}
	return p, nil
}

func EncodeAssignmentCreated(p AssignmentCreated) ([]byte, error) {
	w := newWriter(TypeAssignmentCreated, 16)
	w.uuid(p.ID)
	return w.bytes()
}

func DecodeAssignmentCreated(data []byte) (AssignmentCreated, error) {
	r, err := newReader(data, TypeAssignmentCreated)
	if err != nil {
		return AssignmentCreated{}, err
	}
	p := AssignmentCreated{ID: r.uuid()}
	if err := r.done(); err != nil {
		return AssignmentCreated{}, err
	}
	return p, nil
}
