// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package resolver decides which keys protect an outgoing message.
//
// An Engine is configured with a sender, visible and hidden recipients and
// optional overrides, then started once. It discovers keys for every
// participant in every eligible format, classifies the outcome, picks a
// single format when it can and escalates to an Approver when it cannot.
// Completion is delivered on the Done channel.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/keysource"
	"github.com/aplane-algo/keyresolver/internal/overrides"
	"github.com/aplane-algo/keyresolver/internal/util"
)

// State is the engine lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateResolved
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateResolved:
		return "resolved"
	case StateCanceled:
		return "canceled"
	default:
		return "failed"
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s >= StateResolved
}

var (
	// ErrNotIdle is returned by setters and Start once the engine has started.
	ErrNotIdle = errors.New("resolver already started")
	// ErrNoRecipients: encryption requested without any recipient.
	ErrNoRecipients = errors.New("no recipients to encrypt to")
	// ErrNoSender: signing requested without a sender.
	ErrNoSender = errors.New("no sender to sign as")
	// ErrNothingToDo: neither signing nor encryption requested.
	ErrNothingToDo = errors.New("neither signing nor encryption requested")
	// ErrInvalidMailbox: a configured address is not a mailbox.
	ErrInvalidMailbox = errors.New("invalid mailbox")
	// ErrUnresolved: the confirmed assignment leaves a participant without keys.
	ErrUnresolved = errors.New("participants without keys")
	// ErrCanceled: the approver canceled.
	ErrCanceled = errors.New("resolution canceled")
)

// Completion is delivered once when the engine reaches a terminal state.
type Completion struct {
	Success         bool
	SendUnencrypted bool
	State           State
	Err             error
}

// Options configure an Engine. Start from DefaultOptions.
type Options struct {
	Encrypt bool
	Sign    bool

	// Formats restricts the formats considered. Zero means Auto.
	Formats format.Format
	// Preference orders formats for proposals and Auto discovery.
	Preference PreferenceOrder
	// FormatPolicy settles ambiguity. Defaults to Preference.
	FormatPolicy FormatPolicy
	// KeyPolicy decides key usability. Defaults to marginal validity.
	KeyPolicy keys.Policy
	// Approver handles escalation. Without one, escalation cancels.
	Approver Approver
	Logger   *slog.Logger
	// Concurrency bounds parallel key queries.
	Concurrency int
	// SigningKeys are explicit signing fingerprints bypassing discovery.
	SigningKeys []string
}

// DefaultOptions encrypts with automatic format selection.
func DefaultOptions() Options {
	return Options{
		Encrypt:     true,
		Formats:     format.Auto,
		Preference:  DefaultPreference,
		KeyPolicy:   keys.DefaultPolicy(keys.ValidityMarginal),
		Concurrency: 4,
	}
}

// Engine resolves the keys for one message. It is started at most once.
type Engine struct {
	src      keysource.Source
	opts     Options
	resolver *FormatResolver
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	sender     keys.Mailbox
	recipients []keys.Mailbox
	hidden     []keys.Mailbox
	table      overrides.Table
	result     *Result
	report     *Report
	completion Completion

	done chan Completion
}

// New creates an idle engine querying src.
func New(src keysource.Source, opts Options) *Engine {
	if opts.Formats == 0 {
		opts.Formats = format.Auto
	}
	if len(opts.Preference) == 0 {
		opts.Preference = DefaultPreference
	}
	if opts.FormatPolicy == nil {
		opts.FormatPolicy = opts.Preference
	}
	if opts.KeyPolicy == nil {
		opts.KeyPolicy = keys.DefaultPolicy(keys.ValidityMarginal)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = util.Log()
	}
	opts.SigningKeys = append([]string(nil), opts.SigningKeys...)

	return &Engine{
		src:  src,
		opts: opts,
		resolver: &FormatResolver{
			Source:     src,
			Policy:     opts.KeyPolicy,
			Preference: opts.Preference,
		},
		log:   opts.Logger,
		table: overrides.Table{},
		done:  make(chan Completion, 1),
	}
}

func (e *Engine) configure(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrNotIdle
	}
	fn()
	return nil
}

// SetSender sets the signing mailbox.
func (e *Engine) SetSender(mailbox string) error {
	return e.configure(func() { e.sender = keys.NormalizeMailbox(mailbox) })
}

// SetRecipients sets the visible recipients.
func (e *Engine) SetRecipients(mailboxes []string) error {
	return e.configure(func() { e.recipients = keys.NormalizeMailboxes(mailboxes) })
}

// SetHiddenRecipients sets the blind-copy recipients.
func (e *Engine) SetHiddenRecipients(mailboxes []string) error {
	return e.configure(func() { e.hidden = keys.NormalizeMailboxes(mailboxes) })
}

// SetOverrides sets the forced key assignments. The table is copied.
func (e *Engine) SetOverrides(t overrides.Table) error {
	return e.configure(func() { e.table = t.Clone() })
}

// SetSigningRequired switches signing on or off.
func (e *Engine) SetSigningRequired(sign bool) error {
	return e.configure(func() { e.opts.Sign = sign })
}

// SetEncryptionRequired switches encryption on or off.
func (e *Engine) SetEncryptionRequired(encrypt bool) error {
	return e.configure(func() { e.opts.Encrypt = encrypt })
}

// SetSigningKeys sets explicit signing fingerprints.
func (e *Engine) SetSigningKeys(fingerprints []string) error {
	return e.configure(func() { e.opts.SigningKeys = append([]string(nil), fingerprints...) })
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done delivers the completion once, then is closed.
func (e *Engine) Done() <-chan Completion {
	return e.done
}

// Wait blocks until completion or ctx is done.
func (e *Engine) Wait(ctx context.Context) (Completion, error) {
	select {
	case c, ok := <-e.done:
		if !ok {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.completion, nil
		}
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

func (e *Engine) validateLocked() error {
	if !e.opts.Sign && !e.opts.Encrypt {
		return ErrNothingToDo
	}
	if e.opts.Sign && e.sender == "" {
		return ErrNoSender
	}
	if e.opts.Encrypt && len(e.recipients) == 0 && len(e.hidden) == 0 {
		return ErrNoRecipients
	}
	all := append(append([]keys.Mailbox{e.sender}, e.recipients...), e.hidden...)
	for _, m := range all {
		if m != "" && !m.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidMailbox, m)
		}
	}
	return nil
}

// Start validates the configuration and begins resolution in the
// background. A configuration error fails the engine, is delivered as the
// completion and is also returned.
func (e *Engine) Start(ctx context.Context, forceApproval bool) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrNotIdle
	}
	if err := e.validateLocked(); err != nil {
		e.log.Debug("resolver configuration rejected", "error", err)
		e.finishLocked(StateFailed, nil, err)
		e.mu.Unlock()
		return err
	}
	e.state = StateRunning
	j := &job{
		participants: e.participantsLocked(),
		table:        e.table,
		signingKeys:  e.opts.SigningKeys,
		sign:         e.opts.Sign,
		encrypt:      e.opts.Encrypt,
		force:        forceApproval,
	}
	e.mu.Unlock()

	go e.run(ctx, j)
	return nil
}

// finishLocked moves to a terminal state and delivers the completion.
func (e *Engine) finishLocked(state State, result *Result, err error) {
	if e.state.Terminal() {
		return
	}
	e.state = state
	c := Completion{State: state, Err: err}
	if state == StateResolved {
		e.result = result
		c.Success = true
		c.SendUnencrypted = result.SendUnencrypted
	}
	e.completion = c
	e.done <- c
	close(e.done)
}

func (e *Engine) finish(state State, result *Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Debug("resolution finished", "state", state, "error", err)
	e.finishLocked(state, result, err)
}

// participantsLocked lists sender, visible and hidden recipients. A
// mailbox listed as both visible and hidden stays visible only.
func (e *Engine) participantsLocked() []Participant {
	var out []Participant
	if e.opts.Sign {
		out = append(out, Participant{Mailbox: e.sender, Role: RoleSender})
	}
	if !e.opts.Encrypt {
		return out
	}
	visible := make(map[keys.Mailbox]bool, len(e.recipients))
	for _, m := range e.recipients {
		visible[m] = true
		out = append(out, Participant{Mailbox: m, Role: RoleRecipient})
	}
	for _, m := range e.hidden {
		if visible[m] {
			continue
		}
		out = append(out, Participant{Mailbox: m, Role: RoleHidden})
	}
	return out
}

// job is the configuration snapshot taken by Start.
type job struct {
	participants []Participant
	table        overrides.Table
	signingKeys  []string
	sign         bool
	encrypt      bool
	force        bool
}

func (e *Engine) run(ctx context.Context, j *job) {
	report, err := e.discover(ctx, j)
	if err != nil {
		e.finish(StateCanceled, nil, err)
		return
	}

	e.decide(ctx, j, report)
	proposal := e.propose(report)

	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	decision := Confirm()
	if report.Escalated() {
		e.log.Debug("escalating resolution", "reasons", fmt.Sprint(report.Reasons))
		if e.opts.Approver == nil {
			e.finish(StateCanceled, nil, fmt.Errorf("%w: no approver for escalation", ErrCanceled))
			return
		}
		decision, err = e.opts.Approver.Approve(ctx, &ApprovalRequest{
			Report:   report,
			Proposal: proposal.Clone(),
			Sign:     j.sign,
			Encrypt:  j.encrypt,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.finish(StateCanceled, nil, ctx.Err())
				return
			}
			e.finish(StateFailed, nil, fmt.Errorf("approval failed: %w", err))
			return
		}
		if decision.Action == DecisionCancel {
			e.finish(StateCanceled, nil, ErrCanceled)
			return
		}
	}

	if err := ctx.Err(); err != nil {
		e.finish(StateCanceled, nil, err)
		return
	}

	result, err := finalize(j, proposal, decision)
	if err != nil {
		e.finish(StateFailed, nil, err)
		return
	}
	e.finish(StateResolved, result, nil)
}

// discover queries keys for every participant and format family with
// bounded parallelism, then classifies the outcome. Query failures are
// recorded per assignment; only cancellation aborts.
func (e *Engine) discover(ctx context.Context, j *job) (*Report, error) {
	formats := e.opts.Formats.Expand()
	parts := make([]ParticipantReport, len(j.participants))
	for i, p := range j.participants {
		parts[i] = ParticipantReport{Participant: p, Assignments: make([]Assignment, len(formats))}
		for k, f := range formats {
			parts[i].Assignments[k] = Assignment{Format: f}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for i := range parts {
		for _, family := range e.opts.Formats.Families() {
			pr := &parts[i]
			familyFormats := e.opts.Formats & familyMask(family)
			g.Go(func() error {
				return e.resolveFamily(gctx, j, pr, familyFormats)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range parts {
		classify(&parts[i])
		for _, a := range parts[i].Assignments {
			e.log.Debug("classified",
				"mailbox", parts[i].Mailbox,
				"role", parts[i].Role,
				"format", a.Format,
				"status", a.Status,
				"keys", len(a.Keys),
				"overridden", a.Overridden)
		}
	}

	return &Report{
		Participants: parts,
		Formats:      formats,
		Resolvable:   fullyResolvable(parts, formats),
	}, nil
}

func familyMask(p keys.Protocol) format.Format {
	if p == keys.CMS {
		return format.AnySMIME
	}
	return format.AnyOpenPGP
}

// resolveFamily fills the participant's assignments for the formats of one
// key family. Writes touch only those assignments.
func (e *Engine) resolveFamily(ctx context.Context, j *job, pr *ParticipantReport, familyFormats format.Format) error {
	usage := pr.Usage()

	var (
		candidates []Candidate
		err        error
		explicit   []keys.Key
	)
	useExplicit := pr.Role == RoleSender && len(j.signingKeys) > 0
	if useExplicit {
		explicit, err = e.lookupAll(ctx, j.signingKeys)
	} else {
		candidates, err = e.resolver.ResolveCandidates(ctx, pr.Mailbox, familyFormats, usage)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	for i := range pr.Assignments {
		a := &pr.Assignments[i]
		if familyFormats&a.Format == 0 {
			continue
		}
		if err != nil {
			e.log.Debug("key query failed", "mailbox", pr.Mailbox, "format", a.Format, "error", err)
			a.Err = err
			continue
		}
		if useExplicit {
			for _, k := range explicit {
				if k.Protocol == a.Format.Family() {
					a.Keys = append(a.Keys, k)
				}
			}
			a.Overridden = true
			continue
		}

		ks, applied, aerr := overrides.Apply(ctx, j.table, e.src.Lookup, a.Format, pr.Mailbox, candidateKeys(candidates, a.Format))
		if aerr != nil {
			e.log.Debug("override lookup failed", "mailbox", pr.Mailbox, "format", a.Format, "error", aerr)
			a.Err = aerr
			continue
		}
		a.Keys = ks
		a.Overridden = applied
	}
	return nil
}

// lookupAll resolves fingerprints in order, skipping unknown ones.
func (e *Engine) lookupAll(ctx context.Context, fprs []string) ([]keys.Key, error) {
	var out []keys.Key
	for _, fpr := range fprs {
		k, ok, err := e.src.Lookup(ctx, fpr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		} else {
			e.log.Warn("signing key not found", "fingerprint", fpr)
		}
	}
	return out, nil
}

// decide picks a format or records why approval is needed.
func (e *Engine) decide(ctx context.Context, j *job, report *Report) {
	if j.force {
		report.Reasons = append(report.Reasons, ReasonForced)
	}
	switch len(report.Resolvable) {
	case 0:
		report.Reasons = append(report.Reasons, ReasonIncomplete)
	case 1:
		report.Chosen = report.Resolvable[0]
	default:
		chosen, ok, err := e.opts.FormatPolicy.Choose(ctx, report.Resolvable)
		if err != nil {
			e.log.Warn("format policy failed", "error", err)
			ok = false
		}
		if ok && containsFormat(report.Resolvable, chosen) {
			report.Chosen = chosen
		} else {
			report.Reasons = append(report.Reasons, ReasonAmbiguous)
		}
	}
}

func containsFormat(fs []format.Format, f format.Format) bool {
	for _, c := range fs {
		if c == f {
			return true
		}
	}
	return false
}

// propose builds the assignment to finalize or show the approver. With a
// chosen format every participant uses it. Otherwise each recipient takes
// its most preferred resolved format and the sender signs in every format
// the recipients use, falling back to its own most preferred one.
func (e *Engine) propose(report *Report) *Result {
	res := NewResult()
	ranked := e.opts.Preference.Rank(report.Formats)

	if report.Chosen != 0 {
		for _, p := range report.Participants {
			a, _ := p.Assignment(report.Chosen)
			addAssignment(res, p.Participant, report.Chosen, a.Keys)
		}
		res.normalize()
		return res
	}

	used := make(map[format.Format]bool)
	var sender *ParticipantReport
	for i, p := range report.Participants {
		if p.Role == RoleSender {
			sender = &report.Participants[i]
			continue
		}
		for _, f := range ranked {
			if a, _ := p.Assignment(f); a.Status == StatusResolved {
				addAssignment(res, p.Participant, f, a.Keys)
				used[f] = true
				break
			}
		}
	}

	if sender != nil {
		signed := false
		for _, f := range ranked {
			if a, _ := sender.Assignment(f); used[f] && a.Status == StatusResolved {
				res.AddSigning(f, a.Keys...)
				signed = true
			}
		}
		if !signed {
			for _, f := range ranked {
				if a, _ := sender.Assignment(f); a.Status == StatusResolved {
					res.AddSigning(f, a.Keys...)
					break
				}
			}
		}
	}

	res.normalize()
	return res
}

func addAssignment(res *Result, p Participant, f format.Format, ks []keys.Key) {
	if len(ks) == 0 {
		return
	}
	switch p.Role {
	case RoleSender:
		res.AddSigning(f, ks...)
	case RoleHidden:
		res.AddEncryption(f, p.Mailbox, true, ks...)
	default:
		res.AddEncryption(f, p.Mailbox, false, ks...)
	}
}

// finalize applies the decision to the proposal and checks that every
// participant is covered.
func finalize(j *job, proposal *Result, d Decision) (*Result, error) {
	res := proposal
	if d.Result != nil {
		res = d.Result.Clone()
	}
	res.normalize()

	accepted := make(map[keys.Mailbox]bool, len(d.Unencrypted))
	for _, m := range d.Unencrypted {
		accepted[keys.NormalizeMailbox(string(m))] = true
	}

	res.SendUnencrypted = false
	var missing []string
	for _, p := range j.participants {
		switch p.Role {
		case RoleSender:
			if d.Unsigned {
				res.SigningKeys = make(map[format.Format][]keys.Key)
			} else if !res.HasSigningKeys() {
				missing = append(missing, "sender "+string(p.Mailbox))
			}
		default:
			if accepted[p.Mailbox] {
				res.dropRecipient(p.Mailbox)
				res.SendUnencrypted = true
				continue
			}
			if !res.HasEncryptionKeys(p.Mailbox, p.Role == RoleHidden) {
				missing = append(missing, p.Role.String()+" "+string(p.Mailbox))
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnresolved, missing)
	}

	res.normalize()
	return res, nil
}

// SigningKeys returns the signing keys per format. It is empty unless the
// engine resolved.
func (e *Engine) SigningKeys() map[format.Format][]keys.Key {
	return e.resultCopy().SigningKeys
}

// EncryptionKeys returns the visible recipients' keys per format.
func (e *Engine) EncryptionKeys() map[format.Format]map[keys.Mailbox][]keys.Key {
	return e.resultCopy().EncryptionKeys
}

// HiddenKeys returns the hidden recipients' keys per format.
func (e *Engine) HiddenKeys() map[format.Format]map[keys.Mailbox][]keys.Key {
	return e.resultCopy().HiddenKeys
}

// Result returns a copy of the final result, empty unless resolved.
func (e *Engine) Result() *Result {
	return e.resultCopy()
}

func (e *Engine) resultCopy() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateResolved {
		return NewResult()
	}
	return e.result.Clone()
}

// Report returns the classification of the last run, or nil before one.
func (e *Engine) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}
