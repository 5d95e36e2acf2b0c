// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/aplane-algo/keyresolver/internal/format"
	"github.com/aplane-algo/keyresolver/internal/keys"
	"github.com/aplane-algo/keyresolver/internal/resolver"
)

// writeResult prints signing, encryption and hidden keys grouped by format.
func writeResult(w io.Writer, r *resolver.Result) {
	fmt.Fprintln(w, "Resolved Signing keys:")
	for _, f := range format.Concrete {
		ks := r.SigningKeys[f]
		if len(ks) == 0 {
			continue
		}
		fmt.Fprintf(w, "Format: %s (%s)\n", f, f.Token())
		writeKeys(w, ks)
	}

	fmt.Fprintln(w, "Resolved Encryption keys:")
	writeRecipientKeys(w, r.EncryptionKeys)

	fmt.Fprintln(w, "Resolved Hidden keys:")
	writeRecipientKeys(w, r.HiddenKeys)

	fmt.Fprintf(w, "Send Unencrypted: %t\n", r.SendUnencrypted)
}

func writeRecipientKeys(w io.Writer, m map[format.Format]map[keys.Mailbox][]keys.Key) {
	for _, f := range format.Concrete {
		byMailbox := m[f]
		if len(byMailbox) == 0 {
			continue
		}
		fmt.Fprintf(w, "Format: %s (%s)\n", f, f.Token())

		mailboxes := make([]keys.Mailbox, 0, len(byMailbox))
		for mb := range byMailbox {
			mailboxes = append(mailboxes, mb)
		}
		sort.Slice(mailboxes, func(i, j int) bool { return mailboxes[i] < mailboxes[j] })

		for _, mb := range mailboxes {
			fmt.Fprintf(w, "Address: %s\n", mb)
			writeKeys(w, byMailbox[mb])
		}
	}
}

func writeKeys(w io.Writer, ks []keys.Key) {
	fmt.Fprintln(w, "Keys:")
	for _, k := range ks {
		fmt.Fprintf(w, "  %s\n", k.Fingerprint)
	}
}
