// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package approval

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/chzyer/readline"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/testutil"
)

// request builds an escalation with a resolved recipient b, a recipient c
// without keys and, when sign is set, a sender a without signing keys.
func request(sign bool) *resolver.ApprovalRequest {
	keyB := testutil.OpenPGPKey("00000000000000000000BBBBBBBBBBBBBBBBBBBB", "b@example.org")
	rep := &resolver.Report{
		Formats: []format.Format{format.OpenPGPMIME},
		Reasons: []resolver.Reason{resolver.ReasonIncomplete},
		Participants: []resolver.ParticipantReport{
			{
				Participant: resolver.Participant{Mailbox: "b@example.org", Role: resolver.RoleRecipient},
				Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusResolved, Keys: []keys.Key{keyB}}},
			},
			{
				Participant: resolver.Participant{Mailbox: "c@example.org", Role: resolver.RoleRecipient},
				Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusNoFormat}},
			},
		},
	}
	if sign {
		rep.Participants = append(rep.Participants, resolver.ParticipantReport{
			Participant: resolver.Participant{Mailbox: "a@example.org", Role: resolver.RoleSender},
			Assignments: []resolver.Assignment{{Format: format.OpenPGPMIME, Status: resolver.StatusNoFormat}},
		})
	}
	proposal := resolver.NewResult()
	proposal.AddEncryption(format.OpenPGPMIME, "b@example.org", false, keyB)
	return &resolver.ApprovalRequest{Report: rep, Proposal: proposal, Sign: sign, Encrypt: true}
}

func TestAuto(t *testing.T) {
	tests := []struct {
		name        string
		auto        Auto
		sign        bool
		wantAction  resolver.DecisionAction
		unencrypted []keys.Mailbox
		unsigned    bool
	}{
		{"strict cancels", Auto{}, false, resolver.DecisionCancel, nil, false},
		{"accept unencrypted", Auto{AcceptUnencrypted: true}, false, resolver.DecisionConfirm, []keys.Mailbox{"c@example.org"}, false},
		{"unsigned not allowed", Auto{AcceptUnencrypted: true}, true, resolver.DecisionCancel, nil, false},
		{"lenient", Auto{AcceptUnencrypted: true, AllowUnsigned: true}, true, resolver.DecisionConfirm, []keys.Mailbox{"c@example.org"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.auto.Approve(context.Background(), request(tt.sign))
			if err != nil {
				t.Fatal(err)
			}
			if d.Action != tt.wantAction || !reflect.DeepEqual(d.Unencrypted, tt.unencrypted) || d.Unsigned != tt.unsigned {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestAutoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Auto{}).Approve(ctx, request(false)); err == nil {
		t.Error("expected context error")
	}
}

// scripted returns a prompt answering with answers, then EOF.
func scripted(answers ...string) (*Prompt, *bytes.Buffer) {
	var out bytes.Buffer
	i := 0
	return &Prompt{
		Out: &out,
		LineReader: func() (string, error) {
			if i >= len(answers) {
				return "", io.EOF
			}
			i++
			return answers[i-1], nil
		},
	}, &out
}

func TestPromptAccepts(t *testing.T) {
	p, out := scripted("y", "maybe", "yes", "")
	d, err := p.Approve(context.Background(), request(true))
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != resolver.DecisionConfirm || !d.Unsigned {
		t.Errorf("decision = %+v", d)
	}
	if !reflect.DeepEqual(d.Unencrypted, []keys.Mailbox{"c@example.org"}) {
		t.Errorf("Unencrypted = %v", d.Unencrypted)
	}
	text := out.String()
	for _, want := range []string{"not every participant has a key", "recipient c@example.org", "BBBBBBBBBBBBBBBB", "Please answer y or n."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPromptDeclines(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
	}{
		{"refuse unencrypted", []string{"n"}},
		{"empty defaults to no", []string{""}},
		{"end of input", nil},
		{"reject proposal", []string{"y", "n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := scripted(tt.answers...)
			d, err := p.Approve(context.Background(), request(false))
			if err != nil || d.Action != resolver.DecisionCancel {
				t.Errorf("decision = %+v, err %v; want cancel", d, err)
			}
		})
	}
}

func TestPromptInterrupt(t *testing.T) {
	p := &Prompt{
		Out:        io.Discard,
		LineReader: func() (string, error) { return "", readline.ErrInterrupt },
	}
	d, err := p.Approve(context.Background(), request(false))
	if err != nil || d.Action != resolver.DecisionCancel {
		t.Errorf("decision = %+v, err %v; want cancel", d, err)
	}
}

func TestDescribe(t *testing.T) {
	text := Describe(request(false))
	if !strings.Contains(text, "proposed: OpenPGP/MIME [BBBBBBBBBBBBBBBB]") {
		t.Errorf("proposal missing:\n%s", text)
	}
	if !strings.Contains(text, "no format available") {
		t.Errorf("status missing:\n%s", text)
	}
}
