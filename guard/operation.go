package guard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-call-guard/policy"
)

// Operation is a protected call and the policies attached to it. Either
// policy may be nil.
type Operation struct {
	ID       string
	Throttle *policy.ThrottlePolicy
	Cache    *policy.CachePolicy
}

// Validate checks the id and every attached policy.
func (o Operation) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return ErrEmptyOperationID
	}
	if o.Throttle != nil {
		if err := o.Throttle.Validate(); err != nil {
			return fmt.Errorf("operation %q: %w", o.ID, err)
		}
	}
	if o.Cache != nil {
		if err := o.Cache.Validate(); err != nil {
			return fmt.Errorf("operation %q: %w", o.ID, err)
		}
	}
	return nil
}

// Registry maps operation ids to their policies. Policies are validated on
// registration so invalid configuration fails at startup, not per call.
type Registry struct {
	ops *xsync.MapOf[string, Operation]
}

func NewRegistry() *Registry {
	return &Registry{ops: xsync.NewMapOf[string, Operation]()}
}

// Register adds op. Ids are unique.
func (r *Registry) Register(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	if _, loaded := r.ops.LoadOrStore(op.ID, op); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
	}
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(ops ...Operation) *Registry {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Lookup(id string) (Operation, bool) {
	return r.ops.Load(id)
}

// Operations returns the registered operations sorted by id.
func (r *Registry) Operations() []Operation {
	out := make([]Operation, 0, r.ops.Size())
	r.ops.Range(func(_ string, op Operation) bool {
		out = append(out, op)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
