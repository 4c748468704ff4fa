package faktory

import "context"

// MutationTarget names which server-side set a MUTATE command operates on.
type MutationTarget string

const (
	TargetRetries   MutationTarget = "retries"
	TargetScheduled MutationTarget = "scheduled"
	TargetDead      MutationTarget = "dead"
)

// MutationFilter narrows a MUTATE command to a subset of jobs in its target
// set. All fields are optional; an empty filter matches everything in the
// target.
type MutationFilter struct {
	Jids    []string `json:"jids,omitempty"`
	JobType string   `json:"jobtype,omitempty"`
}

func (f MutationFilter) toMap() map[string]interface{} {
	m := map[string]interface{}{}
	if len(f.Jids) > 0 {
		m["jids"] = f.Jids
	}
	if f.JobType != "" {
		m["jobtype"] = f.JobType
	}
	return m
}

// These thin constructors are convenience wrappers over the single generic
// wire MUTATE call in client.go; they add no new wire behavior.

// MutateClear discards every job matching filter from target.
func (c *Client) MutateClear(ctx context.Context, target MutationTarget, filter MutationFilter) error {
	return c.Mutate(ctx, map[string]interface{}{"cmd": "clear", "target": string(target), "filter": filter.toMap()})
}

// MutateKill moves every job matching filter from target into the dead set.
func (c *Client) MutateKill(ctx context.Context, target MutationTarget, filter MutationFilter) error {
	return c.Mutate(ctx, map[string]interface{}{"cmd": "kill", "target": string(target), "filter": filter.toMap()})
}

// MutateDiscard permanently deletes every job matching filter from target.
func (c *Client) MutateDiscard(ctx context.Context, target MutationTarget, filter MutationFilter) error {
	return c.Mutate(ctx, map[string]interface{}{"cmd": "discard", "target": string(target), "filter": filter.toMap()})
}

// MutateRequeue returns every job matching filter from target to its
// original queue for immediate reprocessing.
func (c *Client) MutateRequeue(ctx context.Context, target MutationTarget, filter MutationFilter) error {
	return c.Mutate(ctx, map[string]interface{}{"cmd": "requeue", "target": string(target), "filter": filter.toMap()})
}
