// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Command keyresolve resolves the signing and encryption keys for a message
// and prints them grouped by format.
//
//	keyresolve [flags] recipient...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/overrides"
	"github.com/aplane-algo/keyresolver/internal/resolver"
	"github.com/aplane-algo/keyresolver/internal/util"
	"github.com/aplane-algo/keyresolver/internal/version"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var overrideFlags, hidden, sigKeys stringList

	printVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("d", "", "Data directory (default: ~/.keyresolve or KEYRESOLVE_DATA)")
	sender := flag.String("s", "", "Mailbox of the sender")
	encryptOnly := flag.Bool("e", false, "Only select encryption keys")
	forceApproval := flag.Bool("a", false, "Always ask for approval")
	approvalMode := flag.String("approval", "", "Approval collaborator: auto, prompt or tui (overrides config)")
	query := flag.String("query", "", "Send a raw command to the backend, print data and status, and exit")
	queryFamily := flag.String("query-family", "openpgp", "Backend for -query: openpgp or cms")
	flag.Var(&overrideFlags, "o", "Override `mailbox:fpr,fpr,..[:format]`; format is one of inlineopenpgp, openpgpmime, smime, smimeopaque, anyopenpgp, anysmime, auto (repeatable)")
	flag.Var(&hidden, "hidden", "Hidden (bcc) recipient (repeatable)")
	flag.Var(&sigKeys, "k", "Explicit signing key fingerprint (repeatable)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] recipient...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *printVersion {
		fmt.Printf("keyresolve %s\n", version.String())
		os.Exit(0)
	}

	util.InitLogger()

	resolvedDataDir := util.GetDataDir(*dataDir)
	config, err := util.LoadConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *approvalMode != "" {
		config.Approval = *approvalMode
		if err := config.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *query != "" {
		os.Exit(runQuery(ctx, config, *queryFamily, *query))
	}

	recipients := flag.Args()
	if len(recipients) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	table, err := overrides.Parse(overrideFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	sign := !*encryptOnly
	if sign && *sender == "" {
		fmt.Fprintln(os.Stderr, "Error: signing needs a sender (-s), or use -e to only encrypt")
		os.Exit(2)
	}

	os.Exit(run(ctx, config, request{
		sender:        *sender,
		recipients:    recipients,
		hidden:        hidden,
		sigKeys:       sigKeys,
		overrides:     table,
		sign:          sign,
		forceApproval: *forceApproval,
	}))
}

// request is one resolution as given on the command line.
type request struct {
	sender        string
	recipients    []string
	hidden        []string
	sigKeys       []string
	overrides     overrides.Table
	sign          bool
	forceApproval bool
}

// run resolves req and prints the result. It returns the exit code.
func run(ctx context.Context, config util.Config, req request) int {
	env, err := newEnvironment(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer env.Close()

	opts, err := engineOptions(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	opts.Sign = req.sign
	opts.Encrypt = true
	opts.SigningKeys = req.sigKeys

	engine := resolver.New(env.source, opts)
	for _, err := range []error{
		engine.SetSender(req.sender),
		engine.SetRecipients(req.recipients),
		engine.SetHiddenRecipients(req.hidden),
		engine.SetOverrides(req.overrides),
	} {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if err := engine.Start(ctx, req.forceApproval); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	done, err := engine.Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !done.Success {
		if errors.Is(done.Err, resolver.ErrCanceled) || done.State == resolver.StateCanceled {
			fmt.Println("Canceled")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", done.Err)
		}
		return 1
	}

	writeResult(os.Stdout, engine.Result())
	return 0
}

// runQuery sends one raw command to a backend. It returns the exit code.
func runQuery(ctx context.Context, config util.Config, family, command string) int {
	protocol, err := keys.ParseProtocol(family)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	agent := newAgent(config)
	if agent == nil {
		fmt.Fprintln(os.Stderr, "Error: no backend socket configured (gpg_socket, gpgsm_socket)")
		return 1
	}
	defer agent.Close()

	data, status, err := agent.Query(ctx, protocol, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if data != "" {
		fmt.Println(data)
	}
	if status != "" {
		fmt.Printf("Status: %s\n", status)
	}
	return 0
}
