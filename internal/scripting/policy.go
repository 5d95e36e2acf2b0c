// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// chooseFunc is the global function a policy script must define.
const chooseFunc = "choose"

// Policy is a resolver.FormatPolicy backed by a script defining
//
//	function choose(formats) { ... }
//
// formats is an array of format tokens ("openpgpmime", "smime", ...). The
// function returns one of them, or null to leave the choice to the approver.
type Policy struct {
	mu     sync.Mutex
	runner Runner
}

var _ resolver.FormatPolicy = (*Policy)(nil)

// NewPolicy evaluates source in a Goja runtime and checks that it defines
// choose.
func NewPolicy(source string) (*Policy, error) {
	return NewPolicyWith(NewGojaRunner(), source)
}

// NewPolicyWith evaluates source in r.
func NewPolicyWith(r Runner, source string) (*Policy, error) {
	r.SetOutput(func(s string) { util.Log().Info("format policy", "output", s) })
	if _, err := r.Run(source); err != nil {
		return nil, fmt.Errorf("failed to load format policy: %w", err)
	}
	if !r.HasFunction(chooseFunc) {
		return nil, &ScriptError{Message: "format policy does not define choose(formats)"}
	}
	return &Policy{runner: r}, nil
}

// LoadPolicy reads a policy script from path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read format policy: %w", err)
	}
	return NewPolicy(string(data))
}

// Choose implements resolver.FormatPolicy. The script is interrupted when
// ctx is done.
func (p *Policy) Choose(ctx context.Context, candidates []format.Format) (format.Format, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tokens := make([]interface{}, len(candidates))
	for i, c := range candidates {
		tokens[i] = c.Token()
	}

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		p.runner.Interrupt()
	})
	res, err := p.runner.Call(chooseFunc, tokens)
	if !stop() {
		<-interrupted
		p.runner.Reset()
	}
	if err != nil {
		return 0, false, err
	}
	if res.IsEmpty {
		return 0, false, nil
	}

	token, ok := res.Value.(string)
	if !ok {
		return 0, false, &ScriptError{Message: fmt.Sprintf("choose returned %T, want a format token", res.Value)}
	}
	f, err := format.Parse(token)
	if err != nil {
		return 0, false, err
	}
	for _, c := range candidates {
		if c == f {
			return f, true, nil
		}
	}
	return 0, false, &ScriptError{Message: fmt.Sprintf("choose returned %q, which is not a candidate", token)}
}
