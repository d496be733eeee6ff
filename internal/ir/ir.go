// Package ir defines the operation request accepted by the engine and the
// schema validation applied before any store access.
package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
)

// Request is one validated memory operation.
type Request struct {
	Stage  model.Stage `json:"stage"`
	Op     model.Op    `json:"op"`
	Target *Target     `json:"target,omitempty"`
	Args   Args        `json:"args,omitempty"`
	Meta   Meta        `json:"meta,omitempty"`
}

// Meta carries per-request execution options.
type Meta struct {
	Actor        string     `json:"actor,omitempty"`
	Lang         string     `json:"lang,omitempty"`
	TraceID      string     `json:"trace_id,omitempty"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
	DryRun       bool       `json:"dry_run,omitempty"`
	Confirmation bool       `json:"confirmation,omitempty"`
}

// Now returns the evaluation instant: meta.timestamp if set, else fallback.
func (m Meta) Now(fallback time.Time) time.Time {
	if m.Timestamp != nil {
		return m.Timestamp.Time
	}
	return fallback.UTC()
}

type rawRequest struct {
	Stage  model.Stage     `json:"stage"`
	Op     model.Op        `json:"op"`
	Target *Target         `json:"target"`
	Args   json.RawMessage `json:"args"`
	Meta   Meta            `json:"meta"`
}

// Parse decodes and validates a JSON request. Every failure is a
// ValidationError.
func Parse(b []byte) (*Request, error) {
	var raw rawRequest
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, memerr.Validation("malformed request").WithCause(err)
	}
	if !raw.Op.Valid() {
		return nil, memerr.Validation("unknown op %q", raw.Op)
	}
	args, err := DecodeArgs(raw.Op, raw.Args)
	if err != nil {
		return nil, memerr.Validation("invalid args for %s", raw.Op).WithCause(err)
	}
	req := &Request{
		Stage:  raw.Stage,
		Op:     raw.Op,
		Target: raw.Target,
		Args:   args,
		Meta:   raw.Meta,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the structural rules that do not need the store:
// the stage guard, the target shape and the args variant.
func (r *Request) Validate() error {
	if !r.Op.Valid() {
		return memerr.Validation("unknown op %q", r.Op)
	}
	if r.Stage != r.Op.Stage() {
		return memerr.Validation("op %s must run in stage %s, got %q", r.Op, r.Op.Stage(), r.Stage)
	}
	if r.Args == nil {
		args, err := DecodeArgs(r.Op, nil)
		if err != nil {
			return memerr.Validation("invalid args for %s", r.Op).WithCause(err)
		}
		r.Args = args
	}
	if r.Args.Op() != r.Op {
		return memerr.Validation("args for %s supplied to %s", r.Args.Op(), r.Op)
	}
	if err := r.Args.Validate(); err != nil {
		return memerr.Validation("invalid args for %s", r.Op).WithCause(err)
	}
	if r.Op == model.OpEncode {
		// Encode creates a record and has nothing to resolve.
		return nil
	}
	if r.Target == nil {
		return memerr.Validation("op %s requires a target", r.Op)
	}
	if err := r.Target.Validate(); err != nil {
		return memerr.Validation("invalid target").WithCause(err)
	}
	return nil
}

// MarshalJSON renders the request with its args inline.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage  model.Stage `json:"stage"`
		Op     model.Op    `json:"op"`
		Target *Target     `json:"target,omitempty"`
		Args   Args        `json:"args,omitempty"`
		Meta   Meta        `json:"meta"`
	}{r.Stage, r.Op, r.Target, r.Args, r.Meta})
}

// String is a short description for logs.
func (r *Request) String() string {
	mode := "-"
	if r.Target != nil && r.Op != model.OpEncode {
		mode = string(r.Target.Mode())
	}
	return fmt.Sprintf("%s/%s target=%s", r.Stage, r.Op, mode)
}
