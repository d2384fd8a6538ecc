package dispatcher

import "github.com/sheratan/mesh/pkg/model"

// WorkerSelector resolves the candidate set of workers eligible to
// execute a job kind. RegistrySelector is the only shipped implementation:
// it asks the in-process worker Registry directly. Broker/auction-based
// dispatch (workers announce to a broker, the broker routes jobs) is an
// alternative backend behind this same interface; the seam exists so one
// could be swapped in without touching Dispatcher.dispatchOne.
type WorkerSelector interface {
	Eligible(kind model.JobKind) []*model.Worker
}

// RegistrySelector adapts *registry.Registry to WorkerSelector.
type RegistrySelector struct {
	reg interface {
		Eligible(kind model.JobKind) []*model.Worker
	}
}

// NewRegistrySelector wraps reg as a WorkerSelector.
func NewRegistrySelector(reg interface {
	Eligible(kind model.JobKind) []*model.Worker
}) *RegistrySelector {
	return &RegistrySelector{reg: reg}
}

func (s *RegistrySelector) Eligible(kind model.JobKind) []*model.Worker {
	return s.reg.Eligible(kind)
}
